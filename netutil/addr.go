// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package netutil parses the endpoint strings the CLI binaries accept.
package netutil

import (
	"net"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// PortRange is a host plus an inclusive [Min,Max] port span, for operating
// a listener across more than one port (e.g. when a single port is
// firewalled). A single-port address parses with Min==Max.
type PortRange struct {
	Host string
	Min  int
	Max  int
}

var portRangeMatcher = regexp.MustCompile(`^(.*):([0-9]{1,5})-?([0-9]{1,5})?$`)

// ParsePortRange parses "host:port" or "host:minport-maxport", the same
// syntax a multi-port listener flag accepts.
func ParsePortRange(addr string) (PortRange, error) {
	matches := portRangeMatcher.FindStringSubmatch(addr)
	if len(matches) < 3 {
		return PortRange{}, errors.Errorf("netutil: malformed address: %v", addr)
	}

	minPort, err := strconv.Atoi(matches[2])
	if err != nil {
		return PortRange{}, errors.Wrap(err, "netutil: parsing min port")
	}
	maxPort := minPort
	if matches[3] != "" {
		maxPort, err = strconv.Atoi(matches[3])
		if err != nil {
			return PortRange{}, errors.Wrap(err, "netutil: parsing max port")
		}
	}

	if minPort == 0 || maxPort == 0 || minPort > maxPort || maxPort > 65535 {
		return PortRange{}, errors.Errorf("netutil: invalid port range %d-%d", minPort, maxPort)
	}

	return PortRange{Host: matches[1], Min: minPort, Max: maxPort}, nil
}

// ParseEndpoint parses a single "host:port" pair into a *net.UDPAddr,
// resolving host to its IPv4 address.
func ParseEndpoint(addr string) (*net.UDPAddr, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.Wrap(err, "netutil: split host port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, errors.Wrap(err, "netutil: parsing port")
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, errors.Wrapf(err, "netutil: resolving %q", host)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return &net.UDPAddr{IP: v4, Port: port}, nil
		}
	}
	return nil, errors.Errorf("netutil: %q has no IPv4 address", host)
}
