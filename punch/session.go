package punch

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/xtaci/nat-punch/metrics"
	"github.com/xtaci/nat-punch/transport"
	"github.com/xtaci/nat-punch/wire"
)

// registerSendTimeout bounds the one-shot Register datagram's send.
const registerSendTimeout = 5000 * time.Millisecond

// sendTimeout bounds each individual punch-burst send. Sends are expected
// to return promptly; this is generous headroom, not a retry budget.
const sendTimeout = 2000 * time.Millisecond

// outerPollTimeout is how long the outer loop blocks per ReceiveFrom call
// while waiting for the next protocol datagram. It is an implementation
// choice, not one of the configured tunables; it matches the listen
// phase's own 1000ms cadence so cancellation (the running flag) is
// observed at a consistent granularity throughout the state machine.
const outerPollTimeout = 1000 * time.Millisecond

// listenPollTimeout is the per-iteration poll inside the listen phase.
const listenPollTimeout = 1000 * time.Millisecond

// Session drives one Connector, Listener, or ListenerSingle run to
// completion. It owns its Transport, token, and buffers exclusively; there
// is no shared mutable state between sessions.
type Session struct {
	role   Role
	cfg    Config
	t      transport.Transport
	server *net.UDPAddr
	m      *metrics.Counters

	// token is the Connector's own generated token (used for validating
	// forwarded ConnectTo tokens), or nil for a Listener until registered
	// traffic supplies one dynamically per ConnectTo.
	token []byte
	// target is the Connector's declared peer IPv4, set by Punch.
	target net.IP

	mu      sync.Mutex
	running bool
}

// NewConnector constructs a Connector session against server. A fresh
// session token is not generated here; it is generated inside Punch, since
// the token must be fresh per session and Punch is the only entry point
// for a Connector.
func NewConnector(cfg Config, t transport.Transport, server *net.UDPAddr, m *metrics.Counters) *Session {
	return &Session{role: RoleConnector, cfg: cfg, t: t, server: server, m: m}
}

// NewListener constructs a Listener session that runs until Dispose or,
// for single=true, until the first successful punch.
func NewListener(cfg Config, t transport.Transport, server *net.UDPAddr, single bool, m *metrics.Counters) *Session {
	role := RoleListener
	if single {
		role = RoleListenerSingle
	}
	return &Session{role: role, cfg: cfg, t: t, server: server, m: m}
}

// Punch runs this session as a Connector: binds local (port 0 requests an
// ephemeral port), generates a fresh token, registers, and drives the state machine until
// success, ClientNotFound, or attempt exhaustion. It returns the
// established peer endpoint, or nil if the session ended without success.
func (s *Session) Punch(local *net.UDPAddr, peer net.IP) (*net.UDPAddr, error) {
	if s.role != RoleConnector {
		return nil, errors.New("punch: Punch called on a non-Connector session")
	}
	peer4 := peer.To4()
	if peer4 == nil {
		return nil, errors.Errorf("punch: peer %v is not an IPv4 address", peer)
	}

	token, err := NewToken(defaultTokenLen)
	if err != nil {
		return nil, err
	}
	s.token = token
	s.target = peer4

	if err := s.bind(local); err != nil {
		return nil, err
	}

	if err := s.registerConnector([4]byte(peer4), token); err != nil {
		// Advisory only: a failed send does not itself abort the
		// session. The outer loop's receive timeout will expire and
		// whatever retry policy the operator wants is theirs to apply.
		_ = err
	}

	return s.run()
}

// ListenForPunches runs this session as a Listener until Dispose is
// called. It never returns a peer endpoint because it may serve many
// peers across its lifetime.
func (s *Session) ListenForPunches(local *net.UDPAddr) error {
	if s.role != RoleListener {
		return errors.New("punch: ListenForPunches called on a non-Listener session")
	}
	if err := s.bind(local); err != nil {
		return err
	}
	if err := s.registerListener(); err != nil {
		_ = err
	}
	_, err := s.run()
	return err
}

// ListenForSinglePunch runs this session as a ListenerSingle: it returns
// as soon as the first Connector's Punch has been echoed back.
func (s *Session) ListenForSinglePunch(local *net.UDPAddr) (*net.UDPAddr, error) {
	if s.role != RoleListenerSingle {
		return nil, errors.New("punch: ListenForSinglePunch called on a non-ListenerSingle session")
	}
	if err := s.bind(local); err != nil {
		return nil, err
	}
	if err := s.registerListener(); err != nil {
		_ = err
	}
	return s.run()
}

// Dispose cancels the session and releases its Transport. It is safe to
// call from a different goroutine than the one driving Punch/Listen*, and
// is idempotent. There is no synchronous join: callers that want to block
// until the driving goroutine has actually returned must do so themselves.
func (s *Session) Dispose() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return s.t.Close()
}

func (s *Session) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Session) bind(local *net.UDPAddr) error {
	if err := s.t.Bind(local); err != nil {
		return errors.Wrap(err, "punch: bind")
	}
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	return nil
}

func (s *Session) registerConnector(peer [4]byte, token []byte) error {
	buf, err := wire.EncodeRegister(wire.Register{Role: wire.RoleConnector, Target: peer, Token: token})
	if err != nil {
		return errors.Wrap(err, "punch: encode register")
	}
	_, err = s.t.SendTo(buf, registerSendTimeout, s.server)
	return err
}

func (s *Session) registerListener() error {
	buf, err := wire.EncodeRegister(wire.Register{Role: wire.RoleListener})
	if err != nil {
		return errors.Wrap(err, "punch: encode register")
	}
	_, err = s.t.SendTo(buf, registerSendTimeout, s.server)
	return err
}

// run is the outer loop shared by every role. It consumes one inbound
// 64-byte datagram per iteration and dispatches by (kind, sender, role).
func (s *Session) run() (*net.UDPAddr, error) {
	buf := make([]byte, wire.Size+1)
	attempts := 0

	for {
		if !s.isRunning() {
			return nil, nil
		}
		if s.role == RoleConnector && attempts >= s.cfg.MaxServerResponseAttempts {
			return nil, nil
		}

		n, from, err := s.t.ReceiveFrom(buf, outerPollTimeout)
		if err != nil {
			return nil, errors.Wrap(err, "punch: receive")
		}
		if n != wire.Size {
			// Non-64-byte datagrams (including plain read timeouts,
			// which report n==0) are discarded silently and never count
			// against any budget.
			continue
		}
		attempts++

		kind, ok := wire.PeekKind(buf[:n])
		if !ok {
			continue
		}

		switch kind {
		case wire.KindConnectTo:
			if !addrIPEqual(from, s.server) {
				s.m.IncIgnored()
				continue
			}
			result, terminate, err := s.handleConnectTo(buf[:n])
			if err != nil {
				return nil, err
			}
			if terminate {
				return result, nil
			}

		case wire.KindError:
			if s.role != RoleConnector || !addrIPEqual(from, s.server) {
				s.m.IncIgnored()
				continue
			}
			e, decErr := wire.DecodeError(buf[:n])
			if decErr != nil {
				continue
			}
			if e.Code == wire.ClientNotFound {
				return nil, nil
			}
			// Unknown codes are ignored for forward compatibility.

		case wire.KindPunch:
			if !s.role.isListener() {
				s.m.IncIgnored()
				continue
			}
			result, terminate, err := s.handleListenerPunch(buf[:n], from)
			if err != nil {
				return nil, err
			}
			if terminate {
				return result, nil
			}

		default:
			s.m.IncIgnored()
		}
	}
}

// handleConnectTo implements the punching sub-procedure for both roles.
// terminate==true means the caller should end the session with result
// (which may be nil on a Connector's exhaustion).
func (s *Session) handleConnectTo(buf []byte) (result *net.UDPAddr, terminate bool, err error) {
	msg, decErr := wire.DecodeConnectTo(buf)
	if decErr != nil {
		return nil, false, nil
	}

	if s.role == RoleConnector {
		if !tokensEqual(msg.Token, s.token) {
			// Tolerates crossed or stale server replies: discard and
			// resume the outer loop rather than treating it as fatal.
			return nil, false, nil
		}
	}

	target := &net.UDPAddr{
		IP:   net.IPv4(msg.Peer[0], msg.Peer[1], msg.Peer[2], msg.Peer[3]),
		Port: int(msg.Anchor),
	}
	return s.punchSubprocedure(target, msg.Token)
}

// punchSubprocedure runs the burst (both roles) and listen (Connector
// only) phases for up to MaxPunchAttempts outer attempts.
func (s *Session) punchSubprocedure(target *net.UDPAddr, token []byte) (result *net.UDPAddr, terminate bool, err error) {
	punchBuf, encErr := wire.EncodePunch(wire.Punch{Token: token})
	if encErr != nil {
		return nil, false, nil
	}

	anchor := target.Port
	window := s.cfg.PortPredictions
	listenBuf := make([]byte, wire.Size+1)

	for attempt := 0; attempt < s.cfg.MaxPunchAttempts; attempt++ {
		if !s.isRunning() {
			return nil, true, nil
		}

		// Burst phase: every role sends to each predicted port, ascending.
		for i := 0; i < window; i++ {
			dst := &net.UDPAddr{IP: target.IP, Port: anchor + i}
			if _, sendErr := s.t.SendTo(punchBuf, sendTimeout, dst); sendErr == nil {
				s.m.IncPunchSent()
			}
		}
		s.m.IncBurst()

		if s.role == RoleConnector {
			extraPunched := make(map[int]bool)
			deadline := time.Now().Add(s.cfg.MaxResponseWaitTime)
			for {
				remaining := time.Until(deadline)
				if remaining <= 0 {
					break
				}
				if !s.isRunning() {
					return nil, true, nil
				}
				poll := listenPollTimeout
				if remaining < poll {
					poll = remaining
				}

				n, from, recvErr := s.t.ReceiveFrom(listenBuf, poll)
				if recvErr != nil {
					return nil, true, errors.Wrap(recvErr, "punch: receive")
				}
				if n != wire.Size || from == nil || !from.IP.Equal(target.IP) {
					continue
				}

				kind, ok := wire.PeekKind(listenBuf[:n])
				if !ok {
					continue
				}

				switch kind {
				case wire.KindPunch:
					p, decErr := wire.DecodePunch(listenBuf[:n])
					if decErr != nil || !tokensEqual(p.Token, token) {
						continue
					}
					if !inWindow(from.Port, anchor, window) && !extraPunched[from.Port] {
						// Symmetric-NAT adaptation: the peer's actual
						// source port fell outside the prediction
						// window, so target it directly, once.
						if _, sendErr := s.t.SendTo(punchBuf, sendTimeout, from); sendErr == nil {
							s.m.IncPunchSent()
						}
						extraPunched[from.Port] = true
					}
				case wire.KindPunchSuccess:
					p, decErr := wire.DecodePunchSuccess(listenBuf[:n])
					if decErr != nil || !tokensEqual(p.Token, token) {
						continue
					}
					s.m.IncSuccess()
					return from, true, nil
				}
			}
			s.m.IncTimeout()
		}

		if attempt != s.cfg.MaxPunchAttempts-1 && s.cfg.RetryDelay > 0 {
			time.Sleep(s.cfg.RetryDelay)
		}
	}

	if s.role == RoleConnector {
		// Exhaustion: terminal null result.
		return nil, true, nil
	}
	// Listener: no listen phase, no exhaustion concept — resume the
	// outer loop, which is what ultimately observes the peer's reply.
	return nil, false, nil
}

// handleListenerPunch implements outer-loop dispatch case 3: a Listener
// rewrites any inbound Punch's kind byte to PunchSuccess in place and
// echoes it back to the sender, for every token length the datagram can
// hold (including the degenerate zero-length-token case).
func (s *Session) handleListenerPunch(buf []byte, from *net.UDPAddr) (result *net.UDPAddr, terminate bool, err error) {
	if _, decErr := wire.DecodePunch(buf); decErr != nil {
		return nil, false, nil
	}
	buf[0] = byte(wire.KindPunchSuccess)
	if _, sendErr := s.t.SendTo(buf, sendTimeout, from); sendErr == nil {
		s.m.IncSuccess()
	}

	if s.role == RoleListenerSingle {
		return from, true, nil
	}
	return nil, false, nil
}

func inWindow(port, anchor, window int) bool {
	return port >= anchor && port < anchor+window
}

func addrIPEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
