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

// Package transport abstracts the bound UDP socket the punch state machine
// drives. Non-blocking semantics emerge entirely from per-call deadlines,
// never from an event loop, so the interface stays usable from a single
// session goroutine with no extra synchronization.
package transport

import (
	"net"
	"time"
)

// Transport is the four operations the punch state machine needs from a
// bound UDP socket (Bind, SendTo, ReceiveFrom, Close), plus LocalAddr. Implementations must not buffer across calls and must
// only ever be driven from one goroutine at a time.
type Transport interface {
	// Bind binds the local endpoint. local may have port 0 to request an
	// ephemeral port.
	Bind(local *net.UDPAddr) error

	// SendTo attempts to send buf to remote within timeout, returning the
	// number of bytes written. A fully sent datagram returns len(buf).
	SendTo(buf []byte, timeout time.Duration, remote *net.UDPAddr) (int, error)

	// ReceiveFrom blocks up to timeout for one datagram. On timeout it
	// returns (0, nil, nil): distinguishable from a genuine zero-length
	// receive, which never occurs for this protocol since every valid
	// datagram is exactly wire.Size bytes.
	ReceiveFrom(buf []byte, timeout time.Duration) (n int, remote *net.UDPAddr, err error)

	// LocalAddr reports the bound local address, or nil before Bind.
	LocalAddr() *net.UDPAddr

	// Close releases the socket. Idempotent.
	Close() error
}
