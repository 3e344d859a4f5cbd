package rendezvous

import (
	"net"
	"testing"
	"time"

	"github.com/xtaci/nat-punch/transport"
	"github.com/xtaci/nat-punch/wire"
)

func TestPairsConnectorToAlreadyRegisteredListener(t *testing.T) {
	mt := transport.NewMock()
	s := New(mt, time.Second)

	listenerAddr := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 40000}
	reg, _ := wire.EncodeRegister(wire.Register{Role: wire.RoleListener})
	mt.Feed(reg, listenerAddr)

	connectorAddr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 55000}
	token := []byte{0xAA, 0xBB}
	connReg, _ := wire.EncodeRegister(wire.Register{Role: wire.RoleConnector, Target: [4]byte{10, 0, 0, 2}, Token: token})
	mt.Feed(connReg, connectorAddr)

	if err := mt.Bind(&net.UDPAddr{}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	s.handleRegister(reg, listenerAddr)
	s.handleRegister(connReg, connectorAddr)

	if len(mt.Sent) != 2 {
		t.Fatalf("expected 2 ConnectTo datagrams, got %d", len(mt.Sent))
	}

	var toConnector, toListener wire.ConnectTo
	for _, snt := range mt.Sent {
		m, err := wire.DecodeConnectTo(snt.Payload)
		if err != nil {
			t.Fatalf("DecodeConnectTo: %v", err)
		}
		if snt.To.String() == connectorAddr.String() {
			toConnector = m
		} else if snt.To.String() == listenerAddr.String() {
			toListener = m
		}
	}

	if toConnector.Anchor != uint16(listenerAddr.Port) {
		t.Fatalf("connector's ConnectTo anchor = %d, want %d", toConnector.Anchor, listenerAddr.Port)
	}
	if toListener.Anchor != uint16(connectorAddr.Port) {
		t.Fatalf("listener's ConnectTo anchor = %d, want %d", toListener.Anchor, connectorAddr.Port)
	}
	if string(toConnector.Token) != string(token) || string(toListener.Token) != string(token) {
		t.Fatal("both ConnectTo datagrams must carry the connector's token")
	}
}

func TestConnectorBeforeListenerWaitsThenPairs(t *testing.T) {
	mt := transport.NewMock()
	s := New(mt, time.Second)

	connectorAddr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 55000}
	token := []byte{0x01}
	connReg, _ := wire.EncodeRegister(wire.Register{Role: wire.RoleConnector, Target: [4]byte{10, 0, 0, 2}, Token: token})
	s.handleRegister(connReg, connectorAddr)

	if len(mt.Sent) != 0 {
		t.Fatalf("no ConnectTo should be sent before a matching listener registers, got %d", len(mt.Sent))
	}

	listenerAddr := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 40000}
	reg, _ := wire.EncodeRegister(wire.Register{Role: wire.RoleListener})
	s.handleRegister(reg, listenerAddr)

	if len(mt.Sent) != 2 {
		t.Fatalf("expected pairing once the listener registers, got %d datagrams", len(mt.Sent))
	}
}

func TestExpiredPendingConnectorGetsClientNotFound(t *testing.T) {
	mt := transport.NewMock()
	s := New(mt, 10*time.Millisecond)

	connectorAddr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 55000}
	connReg, _ := wire.EncodeRegister(wire.Register{Role: wire.RoleConnector, Target: [4]byte{10, 0, 0, 2}, Token: []byte{0x01}})
	s.handleRegister(connReg, connectorAddr)

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	now := time.Now()
	var expired []*pendingConnector
	for key, p := range s.pending {
		if now.After(p.expiresAt) {
			expired = append(expired, p)
			delete(s.pending, key)
		}
	}
	s.mu.Unlock()

	if len(expired) != 1 {
		t.Fatalf("expected one expired pending connector, got %d", len(expired))
	}

	for _, p := range expired {
		buf := wire.EncodeError(wire.Error{Code: wire.ClientNotFound})
		mt.SendTo(buf, time.Second, p.addr)
	}

	if len(mt.Sent) != 1 {
		t.Fatalf("expected one Error datagram, got %d", len(mt.Sent))
	}
	errMsg, err := wire.DecodeError(mt.Sent[0].Payload)
	if err != nil {
		t.Fatalf("DecodeError: %v", err)
	}
	if errMsg.Code != wire.ClientNotFound {
		t.Fatalf("code = %v, want ClientNotFound", errMsg.Code)
	}
}
