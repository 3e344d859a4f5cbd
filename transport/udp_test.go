package transport

import (
	"net"
	"testing"
	"time"
)

func TestUDPTransportSendReceiveRoundTrip(t *testing.T) {
	a := NewUDPTransport()
	if err := a.Bind(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}); err != nil {
		t.Fatalf("bind a: %v", err)
	}
	defer a.Close()

	b := NewUDPTransport()
	if err := b.Bind(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}); err != nil {
		t.Fatalf("bind b: %v", err)
	}
	defer b.Close()

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}

	n, err := a.SendTo(payload, time.Second, b.LocalAddr())
	if err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("SendTo returned %d, want %d", n, len(payload))
	}

	buf := make([]byte, 64)
	rn, from, err := b.ReceiveFrom(buf, time.Second)
	if err != nil {
		t.Fatalf("ReceiveFrom: %v", err)
	}
	if rn != len(payload) {
		t.Fatalf("ReceiveFrom n = %d, want %d", rn, len(payload))
	}
	if from.IP.String() != "127.0.0.1" {
		t.Fatalf("from = %v, want 127.0.0.1", from)
	}
}

func TestUDPTransportReceiveTimeout(t *testing.T) {
	a := NewUDPTransport()
	if err := a.Bind(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer a.Close()

	buf := make([]byte, 64)
	n, from, err := a.ReceiveFrom(buf, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("ReceiveFrom: %v", err)
	}
	if n != 0 || from != nil {
		t.Fatalf("expected timeout result (0, nil), got (%d, %v)", n, from)
	}
}

func TestUDPTransportCloseIdempotent(t *testing.T) {
	a := NewUDPTransport()
	if err := a.Bind(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestUDPTransportDoubleBindRejected(t *testing.T) {
	a := NewUDPTransport()
	if err := a.Bind(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer a.Close()
	if err := a.Bind(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}); err == nil {
		t.Fatal("expected error binding an already-bound transport")
	}
}
