package wire

import (
	"bytes"
	"testing"
)

func TestRegisterRoundTripConnector(t *testing.T) {
	token := []byte{0xA1, 0xA2, 0xA3, 0xA4}
	buf, err := EncodeRegister(Register{Role: RoleConnector, Target: [4]byte{10, 0, 0, 2}, Token: token})
	if err != nil {
		t.Fatalf("EncodeRegister: %v", err)
	}
	if len(buf) != Size {
		t.Fatalf("encoded length = %d, want %d", len(buf), Size)
	}
	if buf[0] != byte(KindRegister) {
		t.Fatalf("byte 0 = %#x, want KindRegister", buf[0])
	}
	if buf[6] != byte(len(token)) {
		t.Fatalf("byte 6 = %d, want token length %d", buf[6], len(token))
	}
	if !bytes.Equal(buf[7:7+len(token)], token) {
		t.Fatalf("token bytes not at offset 7: %x", buf[7:7+len(token)])
	}

	got, err := DecodeRegister(buf)
	if err != nil {
		t.Fatalf("DecodeRegister: %v", err)
	}
	if got.Role != RoleConnector || got.Target != [4]byte{10, 0, 0, 2} || !bytes.Equal(got.Token, token) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestRegisterRoundTripListener(t *testing.T) {
	buf, err := EncodeRegister(Register{Role: RoleListener})
	if err != nil {
		t.Fatalf("EncodeRegister: %v", err)
	}
	got, err := DecodeRegister(buf)
	if err != nil {
		t.Fatalf("DecodeRegister: %v", err)
	}
	if got.Role != RoleListener || got.Token != nil {
		t.Fatalf("unexpected listener decode: %+v", got)
	}
}

func TestRegisterTokenLengthBoundaries(t *testing.T) {
	if _, err := EncodeRegister(Register{Role: RoleConnector, Token: []byte{}}); err == nil {
		t.Fatal("expected error for zero-length connector token")
	}
	if _, err := EncodeRegister(Register{Role: RoleConnector, Token: make([]byte, 33)}); err == nil {
		t.Fatal("expected error for 33-byte connector token")
	}
	for _, l := range []int{1, 32} {
		buf, err := EncodeRegister(Register{Role: RoleConnector, Token: make([]byte, l)})
		if err != nil {
			t.Fatalf("token length %d: %v", l, err)
		}
		if _, err := DecodeRegister(buf); err != nil {
			t.Fatalf("token length %d failed to decode: %v", l, err)
		}
	}
}

func TestConnectToRoundTrip(t *testing.T) {
	token := []byte{0x11, 0x22, 0x33}
	buf, err := EncodeConnectTo(ConnectTo{Peer: [4]byte{10, 0, 0, 2}, Anchor: 40000, Token: token})
	if err != nil {
		t.Fatalf("EncodeConnectTo: %v", err)
	}
	// anchor port is little-endian: 40000 = 0x9C40
	if buf[5] != 0x40 || buf[6] != 0x9C {
		t.Fatalf("anchor port not little-endian: %x %x", buf[5], buf[6])
	}
	got, err := DecodeConnectTo(buf)
	if err != nil {
		t.Fatalf("DecodeConnectTo: %v", err)
	}
	if got.Peer != [4]byte{10, 0, 0, 2} || got.Anchor != 40000 || !bytes.Equal(got.Token, token) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestConnectToOverflowingTokenLengthDiscarded(t *testing.T) {
	buf := make([]byte, Size)
	buf[0] = byte(KindConnectTo)
	buf[7] = 57 // L+8 = 65 > 64
	if _, err := DecodeConnectTo(buf); err != ErrDiscard {
		t.Fatalf("expected ErrDiscard, got %v", err)
	}
}

func TestPunchRoundTripIncludingZeroLengthToken(t *testing.T) {
	for _, l := range []int{0, 1, 32} {
		token := make([]byte, l)
		for i := range token {
			token[i] = byte(i + 1)
		}
		buf, err := EncodePunch(Punch{Token: token})
		if err != nil {
			t.Fatalf("EncodePunch len=%d: %v", l, err)
		}
		got, err := DecodePunch(buf)
		if err != nil {
			t.Fatalf("DecodePunch len=%d: %v", l, err)
		}
		if !bytes.Equal(got.Token, token) {
			t.Fatalf("token mismatch len=%d: %x", l, got.Token)
		}
	}
}

func TestPunchSuccessDiffersOnlyInKindByte(t *testing.T) {
	token := []byte{0x11, 0x22, 0x33}
	punch, err := EncodePunch(Punch{Token: token})
	if err != nil {
		t.Fatalf("EncodePunch: %v", err)
	}
	success, err := EncodePunchSuccess(Punch{Token: token})
	if err != nil {
		t.Fatalf("EncodePunchSuccess: %v", err)
	}
	reflected := append([]byte(nil), punch...)
	reflected[0] = byte(KindPunchSuccess)
	if !bytes.Equal(reflected, success) {
		t.Fatalf("PunchSuccess diverges beyond byte 0:\n got  %x\n want %x", success, reflected)
	}
}

func TestErrorRoundTrip(t *testing.T) {
	buf := EncodeError(Error{Code: ClientNotFound})
	got, err := DecodeError(buf)
	if err != nil {
		t.Fatalf("DecodeError: %v", err)
	}
	if got.Code != ClientNotFound {
		t.Fatalf("code = %v, want ClientNotFound", got.Code)
	}
}

func TestErrorUnknownCodeDecodesWithoutError(t *testing.T) {
	buf := EncodeError(Error{Code: ErrorCode(0xFF)})
	got, err := DecodeError(buf)
	if err != nil {
		t.Fatalf("DecodeError: %v", err)
	}
	if got.Code != 0xFF {
		t.Fatalf("code = %v, want 0xFF", got.Code)
	}
}

func TestWrongSizeDatagramsAreDiscarded(t *testing.T) {
	short := make([]byte, 10)
	long := make([]byte, 100)
	for _, buf := range [][]byte{short, long} {
		if _, err := DecodeRegister(buf); err != ErrDiscard {
			t.Fatalf("DecodeRegister: expected ErrDiscard for len %d, got %v", len(buf), err)
		}
		if _, err := DecodeConnectTo(buf); err != ErrDiscard {
			t.Fatalf("DecodeConnectTo: expected ErrDiscard for len %d, got %v", len(buf), err)
		}
		if _, err := DecodePunch(buf); err != ErrDiscard {
			t.Fatalf("DecodePunch: expected ErrDiscard for len %d, got %v", len(buf), err)
		}
		if _, err := DecodeError(buf); err != ErrDiscard {
			t.Fatalf("DecodeError: expected ErrDiscard for len %d, got %v", len(buf), err)
		}
	}
}

func TestPeekKind(t *testing.T) {
	buf := EncodeError(Error{Code: ClientNotFound})
	kind, ok := PeekKind(buf)
	if !ok || kind != KindError {
		t.Fatalf("PeekKind = (%v, %v), want (KindError, true)", kind, ok)
	}
	if _, ok := PeekKind(make([]byte, 10)); ok {
		t.Fatal("PeekKind should reject non-64-byte buffers")
	}
}
