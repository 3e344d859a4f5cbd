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

// Package wire implements the fixed 64-byte UDP datagram encoding shared by
// the Connector, Listener and rendezvous server.
package wire

import (
	"github.com/pkg/errors"
)

// Size is the fixed length of every datagram on the wire. Anything else is
// discarded by the caller before it ever reaches this package.
const Size = 64

// maxTokenLen is the hard protocol ceiling on token length enforced by the
// encoders. It is below what the 64-byte buffer could physically hold.
const maxTokenLen = 32

// Kind identifies the message encoded in byte 0 of a datagram.
type Kind byte

const (
	KindRegister     Kind = 0x01
	KindConnectTo    Kind = 0x02
	KindPunch        Kind = 0x03
	KindPunchSuccess Kind = 0x04
	KindError        Kind = 0x05
)

// Role is the role flag carried in a Register datagram.
type Role byte

const (
	RoleConnector Role = 1
	RoleListener  Role = 2
)

// ErrorCode is the server-side error enumeration of Error datagrams. It is
// intentionally open-ended: only ClientNotFound is actioned by either peer
// role, and unrecognized codes must be ignored for forward compatibility.
type ErrorCode byte

// ClientNotFound is emitted by the rendezvous server when a Connector's
// declared target peer has not registered.
const ClientNotFound ErrorCode = 0x01

// ErrDiscard is returned by every Decode* function when the datagram is
// malformed in a way the protocol defines as a silent discard: wrong
// length, an overflowing token length, or (for ConnectTo specifically)
// L+8 > Size. It is never a fatal error and must never surface to a
// caller above the punch state machine.
var ErrDiscard = errors.New("wire: malformed datagram, discard")

// Register is the client -> server datagram emitted once at session start.
type Register struct {
	Role   Role
	Target [4]byte // Connector only; zero for Listener
	Token  []byte  // Connector only; nil for Listener
}

// EncodeRegister composes a zero-padded 64-byte Register datagram.
func EncodeRegister(m Register) ([]byte, error) {
	buf := make([]byte, Size)
	buf[0] = byte(KindRegister)
	buf[1] = byte(m.Role)

	if m.Role == RoleConnector {
		if len(m.Token) < 1 || len(m.Token) > maxTokenLen {
			return nil, errors.Errorf("wire: connector token length %d out of range [1,%d]", len(m.Token), maxTokenLen)
		}
		copy(buf[2:6], m.Target[:])
		buf[6] = byte(len(m.Token))
		copy(buf[7:7+len(m.Token)], m.Token)
	}
	return buf, nil
}

// DecodeRegister parses a Register datagram. The role byte is not validated
// against a closed set beyond Connector/Listener; an unrecognized role is
// treated as a discard since the server has no third role to dispatch to.
func DecodeRegister(buf []byte) (Register, error) {
	if len(buf) != Size || buf[0] != byte(KindRegister) {
		return Register{}, ErrDiscard
	}

	role := Role(buf[1])
	switch role {
	case RoleListener:
		return Register{Role: role}, nil
	case RoleConnector:
		l := int(buf[6])
		if l < 1 || l+7 > Size {
			return Register{}, ErrDiscard
		}
		m := Register{Role: role}
		copy(m.Target[:], buf[2:6])
		m.Token = append([]byte(nil), buf[7:7+l]...)
		return m, nil
	default:
		return Register{}, ErrDiscard
	}
}

// ConnectTo is the server -> client datagram that introduces the peer.
type ConnectTo struct {
	Peer   [4]byte
	Anchor uint16 // little-endian on the wire
	Token  []byte
}

// EncodeConnectTo composes a zero-padded 64-byte ConnectTo datagram.
func EncodeConnectTo(m ConnectTo) ([]byte, error) {
	if len(m.Token) < 1 || len(m.Token) > maxTokenLen {
		return nil, errors.Errorf("wire: connectto token length %d out of range [1,%d]", len(m.Token), maxTokenLen)
	}
	buf := make([]byte, Size)
	buf[0] = byte(KindConnectTo)
	copy(buf[1:5], m.Peer[:])
	buf[5] = byte(m.Anchor)
	buf[6] = byte(m.Anchor >> 8)
	buf[7] = byte(len(m.Token))
	copy(buf[8:8+len(m.Token)], m.Token)
	return buf, nil
}

// DecodeConnectTo parses a ConnectTo datagram. Per the tightened check
// called out in the design notes, the token length must satisfy L+8<=64
// (rather than the looser historical L>bufferLen-6, which let lengths of
// 57 and 58 through and so read past the end of the 64-byte buffer). A
// length of up to 56 is accepted; the 32-byte ceiling is not applied here.
func DecodeConnectTo(buf []byte) (ConnectTo, error) {
	if len(buf) != Size || buf[0] != byte(KindConnectTo) {
		return ConnectTo{}, ErrDiscard
	}
	l := int(buf[7])
	if l < 1 || l+8 > Size {
		return ConnectTo{}, ErrDiscard
	}
	var m ConnectTo
	copy(m.Peer[:], buf[1:5])
	m.Anchor = uint16(buf[5]) | uint16(buf[6])<<8
	m.Token = append([]byte(nil), buf[8:8+l]...)
	return m, nil
}

// Punch is the peer <-> peer datagram sent during the burst phase, and also
// the body layout PunchSuccess shares (differing only in the kind byte).
type Punch struct {
	Token []byte
}

// EncodePunch composes a zero-padded 64-byte Punch datagram. A zero-length
// token is valid: it is the degenerate echo case called out in the design
// notes, not an error.
func EncodePunch(m Punch) ([]byte, error) {
	return encodePunchLike(KindPunch, m)
}

// EncodePunchSuccess composes a PunchSuccess datagram, identical in body
// layout to Punch.
func EncodePunchSuccess(m Punch) ([]byte, error) {
	return encodePunchLike(KindPunchSuccess, m)
}

func encodePunchLike(kind Kind, m Punch) ([]byte, error) {
	if len(m.Token) > maxTokenLen {
		return nil, errors.Errorf("wire: punch token length %d exceeds %d", len(m.Token), maxTokenLen)
	}
	buf := make([]byte, Size)
	buf[0] = byte(kind)
	buf[1] = byte(len(m.Token))
	copy(buf[2:2+len(m.Token)], m.Token)
	return buf, nil
}

// DecodePunch parses a Punch datagram.
func DecodePunch(buf []byte) (Punch, error) {
	return decodePunchLike(KindPunch, buf)
}

// DecodePunchSuccess parses a PunchSuccess datagram.
func DecodePunchSuccess(buf []byte) (Punch, error) {
	return decodePunchLike(KindPunchSuccess, buf)
}

func decodePunchLike(kind Kind, buf []byte) (Punch, error) {
	if len(buf) != Size || buf[0] != byte(kind) {
		return Punch{}, ErrDiscard
	}
	l := int(buf[1])
	if l+2 > Size {
		return Punch{}, ErrDiscard
	}
	return Punch{Token: append([]byte(nil), buf[2:2+l]...)}, nil
}

// Error is the server -> client datagram reporting a matchmaking failure.
type Error struct {
	Code ErrorCode
}

// EncodeError composes a zero-padded 64-byte Error datagram.
func EncodeError(m Error) []byte {
	buf := make([]byte, Size)
	buf[0] = byte(KindError)
	buf[1] = byte(m.Code)
	return buf
}

// DecodeError parses an Error datagram. Unknown codes decode successfully;
// it is the caller's job to ignore codes it doesn't act on.
func DecodeError(buf []byte) (Error, error) {
	if len(buf) != Size || buf[0] != byte(KindError) {
		return Error{}, ErrDiscard
	}
	return Error{Code: ErrorCode(buf[1])}, nil
}

// PeekKind returns the message kind of a datagram without fully decoding
// it, used by the outer dispatch loop to route before committing to one of
// the typed Decode* calls. Non-64-byte datagrams report ok=false.
func PeekKind(buf []byte) (kind Kind, ok bool) {
	if len(buf) != Size {
		return 0, false
	}
	return Kind(buf[0]), true
}
