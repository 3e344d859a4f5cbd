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

// Package rendezvous is a thin, replaceable reference implementation of the
// server side of the protocol: routine socket bookkeeping that pairs a
// Connector's declared target with a registered Listener and emits the
// ConnectTo/Error datagrams package wire defines. The core punching algorithm
// lives entirely in package punch; this package is only here so the repo
// is runnable end-to-end without a second project supplying the broker.
package rendezvous

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/xtaci/nat-punch/transport"
	"github.com/xtaci/nat-punch/wire"
)

// DefaultGrace is how long a Connector's registration waits for a matching
// Listener before the server gives up and reports ClientNotFound.
const DefaultGrace = 10 * time.Second

const pollTimeout = 250 * time.Millisecond
const graceCheckPeriod = time.Second

type listenerEntry struct {
	addr *net.UDPAddr
}

type pendingConnector struct {
	addr      *net.UDPAddr
	target    net.IP
	token     []byte
	expiresAt time.Time
}

// Server pairs registered peers and emits ConnectTo/Error. It owns one
// bound Transport and is driven entirely from its own goroutine plus one
// grace-period ticker goroutine; both only ever touch the guarded maps
// below, never session state (the server never forwards punch traffic).
type Server struct {
	t     transport.Transport
	grace time.Duration

	mu        sync.Mutex
	listeners map[string]*listenerEntry    // key: listener IPv4 string
	pending   map[string]*pendingConnector // key: connector addr string
	running   bool
}

// New constructs a Server. It does not bind until Run is called.
func New(t transport.Transport, grace time.Duration) *Server {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Server{
		t:         t,
		grace:     grace,
		listeners: make(map[string]*listenerEntry),
		pending:   make(map[string]*pendingConnector),
	}
}

// Run binds local and serves until Close is called (from another
// goroutine) or a transport error occurs.
func (s *Server) Run(local *net.UDPAddr) error {
	if err := s.t.Bind(local); err != nil {
		return errors.Wrap(err, "rendezvous: bind")
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	go s.expireLoop()

	buf := make([]byte, wire.Size+1)
	for {
		if !s.isRunning() {
			return nil
		}
		n, from, err := s.t.ReceiveFrom(buf, pollTimeout)
		if err != nil {
			return errors.Wrap(err, "rendezvous: receive")
		}
		if n != wire.Size {
			continue
		}
		kind, ok := wire.PeekKind(buf[:n])
		if !ok {
			continue
		}
		switch kind {
		case wire.KindRegister:
			s.handleRegister(buf[:n], from)
		default:
			// Punch/PunchSuccess and anything else are peer-to-peer
			// only; the server never inspects or forwards them.
		}
	}
}

// Close stops Run and releases the socket. Idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return s.t.Close()
}

func (s *Server) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) handleRegister(buf []byte, from *net.UDPAddr) {
	msg, err := wire.DecodeRegister(buf)
	if err != nil {
		return
	}

	switch msg.Role {
	case wire.RoleListener:
		s.registerListener(from)
	case wire.RoleConnector:
		s.registerConnector(from, net.IPv4(msg.Target[0], msg.Target[1], msg.Target[2], msg.Target[3]), msg.Token)
	}
}

func (s *Server) registerListener(from *net.UDPAddr) {
	ip := from.IP.String()

	s.mu.Lock()
	s.listeners[ip] = &listenerEntry{addr: from}
	var match *pendingConnector
	for key, p := range s.pending {
		if p.target.Equal(from.IP) {
			match = p
			delete(s.pending, key)
			break
		}
	}
	s.mu.Unlock()

	log.Println("rendezvous: listener registered:", from)

	if match != nil {
		s.pair(match, from)
	}
}

func (s *Server) registerConnector(from *net.UDPAddr, target net.IP, token []byte) {
	s.mu.Lock()
	listener, found := s.listeners[target.String()]
	var listenerAddr *net.UDPAddr
	if found {
		listenerAddr = listener.addr
	} else {
		s.pending[from.String()] = &pendingConnector{
			addr:      from,
			target:    target,
			token:     token,
			expiresAt: time.Now().Add(s.grace),
		}
	}
	s.mu.Unlock()

	log.Println("rendezvous: connector registered:", from, "-> target", target)

	if found {
		s.pair(&pendingConnector{addr: from, target: target, token: token}, listenerAddr)
	}
}

func (s *Server) pair(connector *pendingConnector, listener *net.UDPAddr) {
	toConnector, err := wire.EncodeConnectTo(wire.ConnectTo{
		Peer:   ipv4Bytes(listener.IP),
		Anchor: uint16(listener.Port),
		Token:  connector.token,
	})
	if err == nil {
		s.t.SendTo(toConnector, 2*time.Second, connector.addr)
	}

	toListener, err := wire.EncodeConnectTo(wire.ConnectTo{
		Peer:   ipv4Bytes(connector.addr.IP),
		Anchor: uint16(connector.addr.Port),
		Token:  connector.token,
	})
	if err == nil {
		s.t.SendTo(toListener, 2*time.Second, listener)
	}

	log.Println("rendezvous: paired", connector.addr, "<->", listener)
}

func (s *Server) expireLoop() {
	ticker := time.NewTicker(graceCheckPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if !s.isRunning() {
			return
		}
		now := time.Now()

		s.mu.Lock()
		var expired []*pendingConnector
		for key, p := range s.pending {
			if now.After(p.expiresAt) {
				expired = append(expired, p)
				delete(s.pending, key)
			}
		}
		s.mu.Unlock()

		for _, p := range expired {
			buf := wire.EncodeError(wire.Error{Code: wire.ClientNotFound})
			s.t.SendTo(buf, 2*time.Second, p.addr)
			log.Println("rendezvous: ClientNotFound ->", p.addr, "(target", p.target, "never registered)")
		}
	}
}

func ipv4Bytes(ip net.IP) [4]byte {
	v4 := ip.To4()
	return [4]byte{v4[0], v4[1], v4[2], v4[3]}
}
