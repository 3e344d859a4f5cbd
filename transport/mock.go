package transport

import (
	"net"
	"time"
)

// Datagram is one inbound unit fed to a Mock transport: a payload together
// with the address it is reported as arriving from.
type Datagram struct {
	Payload []byte
	From    *net.UDPAddr
}

// Sent records one outbound call observed by a Mock transport, for test
// assertions about what the state machine transmitted and to where.
type Sent struct {
	Payload []byte
	To      *net.UDPAddr
}

// Mock is a single-threaded, channel-free Transport double for exercising
// the punch state machine against deterministic fixtures without opening
// real sockets. Inbound datagrams are queued with Feed and consumed in
// order by ReceiveFrom; outbound sends are appended to Sent.
type Mock struct {
	local *net.UDPAddr
	inbox []Datagram
	Sent  []Sent
	// SendErr, if set, is returned by every SendTo call; used to exercise
	// the "send errors are not fatal" behavior of the burst phase.
	SendErr error
}

// NewMock returns an unbound Mock transport.
func NewMock() *Mock {
	return &Mock{}
}

// Bind records the local address. A zero port is resolved to a fixed
// deterministic ephemeral-looking port so tests can assert on it.
func (m *Mock) Bind(local *net.UDPAddr) error {
	addr := *local
	if addr.Port == 0 {
		addr.Port = 50000
	}
	m.local = &addr
	return nil
}

// Feed appends a datagram to the inbound queue, to be returned by a future
// ReceiveFrom call.
func (m *Mock) Feed(payload []byte, from *net.UDPAddr) {
	m.inbox = append(m.inbox, Datagram{Payload: payload, From: from})
}

// SendTo records the send and returns len(buf), or m.SendErr if set.
func (m *Mock) SendTo(buf []byte, timeout time.Duration, remote *net.UDPAddr) (int, error) {
	cp := append([]byte(nil), buf...)
	m.Sent = append(m.Sent, Sent{Payload: cp, To: remote})
	if m.SendErr != nil {
		return 0, m.SendErr
	}
	return len(buf), nil
}

// ReceiveFrom pops the next queued datagram and copies it into buf,
// truncated to len(buf). An empty queue reports a timeout: (0, nil, nil), exactly like the real UDP
// transport's deadline expiry.
func (m *Mock) ReceiveFrom(buf []byte, timeout time.Duration) (int, *net.UDPAddr, error) {
	if len(m.inbox) == 0 {
		return 0, nil, nil
	}
	d := m.inbox[0]
	m.inbox = m.inbox[1:]
	n := copy(buf, d.Payload)
	return n, d.From, nil
}

// LocalAddr reports the bound address, or nil before Bind.
func (m *Mock) LocalAddr() *net.UDPAddr {
	return m.local
}

// Close is a no-op; idempotent by construction.
func (m *Mock) Close() error {
	return nil
}

var _ Transport = (*Mock)(nil)
var _ Transport = (*UDPTransport)(nil)
