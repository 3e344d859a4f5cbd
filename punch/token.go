package punch

import (
	"crypto/rand"
	"crypto/subtle"

	"github.com/pkg/errors"
)

// MinTokenLen and MaxTokenLen bound the session token length, per the wire
// protocol's token-length field.
const (
	MinTokenLen = 1
	MaxTokenLen = 32
)

// defaultTokenLen is used by NewToken when the caller has no particular
// length preference. 16 bytes is comfortably unguessable and leaves the
// full window the wire format allows for callers who want more.
const defaultTokenLen = 16

// NewToken generates a fresh session token from a cryptographically
// unpredictable source, as recommended (not required) by the protocol. The
// protocol does not require cryptographic strength, but freshness per
// session is required to avoid cross-session confusion; crypto/rand is the
// standard library's only source of that freshness guarantee, which is why
// it's used directly here rather than through a third-party RNG.
func NewToken(length int) ([]byte, error) {
	if length < MinTokenLen || length > MaxTokenLen {
		return nil, errors.Errorf("punch: token length %d out of range [%d,%d]", length, MinTokenLen, MaxTokenLen)
	}
	tok := make([]byte, length)
	if _, err := rand.Read(tok); err != nil {
		return nil, errors.Wrap(err, "punch: generating token")
	}
	return tok, nil
}

// tokensEqual compares two tokens for equality. Constant-time comparison
// is not required by the protocol but is cheap hardening against timing
// side channels, per the design notes' recommendation.
func tokensEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
