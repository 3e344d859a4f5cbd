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

package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// SockBuf is the default per-socket read/write buffer size. It is sized
// down from a stream-oriented tunnel's buffer since a punch session only
// ever has a handful of 64-byte datagrams in flight at once.
const SockBuf = 65536

// UDPTransport is the concrete Transport backed by a real net.UDPConn.
type UDPTransport struct {
	mu   sync.Mutex
	conn *net.UDPConn
}

// NewUDPTransport returns an unbound UDPTransport.
func NewUDPTransport() *UDPTransport {
	return &UDPTransport{}
}

// Bind binds the local socket and tunes its buffers. local.Port == 0
// requests an ephemeral port, the Connector's default.
func (t *UDPTransport) Bind(local *net.UDPAddr) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return errors.New("transport: already bound")
	}

	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return errors.Wrap(err, "transport: ListenUDP")
	}
	if err := conn.SetReadBuffer(SockBuf); err != nil {
		// Non-fatal: the OS default buffer still works, just with more
		// risk of drops under load.
		_ = err
	}
	if err := conn.SetWriteBuffer(SockBuf); err != nil {
		_ = err
	}
	t.conn = conn
	return nil
}

// SendTo sends buf to remote, honoring timeout as a write deadline.
func (t *UDPTransport) SendTo(buf []byte, timeout time.Duration, remote *net.UDPAddr) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0, errors.New("transport: not bound")
	}

	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return 0, errors.Wrap(err, "transport: SetWriteDeadline")
		}
	}
	n, err := conn.WriteToUDP(buf, remote)
	if err != nil {
		return n, errors.Wrap(err, "transport: WriteToUDP")
	}
	return n, nil
}

// ReceiveFrom blocks up to timeout for one datagram. A read deadline
// timeout is reported as (0, nil, nil), never as an error, so the caller
// can treat it identically to "nothing arrived this tick".
func (t *UDPTransport) ReceiveFrom(buf []byte, timeout time.Duration) (int, *net.UDPAddr, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0, nil, errors.New("transport: not bound")
	}

	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, nil, errors.Wrap(err, "transport: SetReadDeadline")
		}
	}
	n, remote, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, nil
		}
		return 0, nil, errors.Wrap(err, "transport: ReadFromUDP")
	}
	return n, remote, nil
}

// LocalAddr reports the bound address, or nil before Bind.
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the socket. Idempotent: closing twice, or closing before
// Bind, both return nil.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	if err != nil {
		return errors.Wrap(err, "transport: Close")
	}
	return nil
}
