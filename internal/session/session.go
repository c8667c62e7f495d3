// Package session manages control-channel identity, send/request/await
// semantics, stray-message filtering, and idle timeouts on top of the
// control codec, per spec.md §4.4.
//
// Session drives its Port with short, repeated deadline-bounded reads
// rather than owning a dedicated background reader goroutine, so that a
// role driver can cleanly stop polling before splitting the Port into
// TX/RX halves for a data test and resume afterwards without needing to
// tear down and rebuild peer-identity state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tholian/uartstress/internal/control"
	"github.com/tholian/uartstress/internal/logging"
	"github.com/tholian/uartstress/internal/metrics"
	"github.com/tholian/uartstress/internal/portio"
)

// DefaultRetryInterval is how often Request retransmits while waiting for
// a matching reply.
const DefaultRetryInterval = 250 * time.Millisecond

// pollSlice bounds each individual Port.Read call inside Await/Request so
// the poll loop can check its overall deadline and context promptly.
const pollSlice = 100 * time.Millisecond

// IdleTimeout is how long the Responder waits for any valid control
// traffic before treating the link as dead.
const IdleTimeout = 60 * time.Second

// ErrPeerUnresponsive is returned by Request when the overall timeout
// elapses without a matching reply.
var ErrPeerUnresponsive = errors.New("session: peer unresponsive")

// NewRunID generates a fresh 128-bit run identifier.
func NewRunID() uuid.UUID {
	return uuid.New()
}

// Session owns one side of the control channel: identity, framing, and
// the stray-filtered request/await protocol.
type Session struct {
	port   portio.Port
	dec    *control.Decoder
	selfID string

	peerID  string
	peerSet bool

	badStreak       int
	badStreakWindow time.Time

	log *slog.Logger
}

// New builds a Session around port, tagged with selfID and role for
// logging. The Port must already be at the control PortConfig.
func New(port portio.Port, selfID string, role string) *Session {
	return &Session{
		port:   port,
		dec:    control.NewDecoder(),
		selfID: selfID,
		log:    logging.ForRole(role),
	}
}

// PeerID returns the latched peer identifier, or "" if not yet observed.
func (s *Session) PeerID() string {
	return s.peerID
}

// SelfID returns this side's own identifier.
func (s *Session) SelfID() string {
	return s.selfID
}

// ResetPeer clears the latched peer identity, used when the malformed-message
// streak threshold is hit or the Responder returns to Idle.
func (s *Session) ResetPeer() {
	s.peerID = ""
	s.peerSet = false
}

// Send writes msg once, with no retry.
func (s *Session) Send(verb control.Verb, subverb string, fields map[string]string) error {
	line, err := control.Format(verb, subverb, fields)
	if err != nil {
		return err
	}
	_, err = s.port.Write([]byte(line + "\n"))
	return err
}

// matches reports whether msg satisfies verb/subverb. An empty verb
// matches any message, used by AwaitAny.
func matches(msg control.Message, verb control.Verb, subverb string) bool {
	if verb == "" {
		return true
	}
	if msg.Verb != verb {
		return false
	}
	if subverb != "" && msg.Subverb != subverb {
		return false
	}
	return true
}

// admit applies the stray filter: a message is accepted if peer_id is
// unset and the verb may latch it (HELLO, ACK), or if its id matches the
// already-latched peer_id.
func (s *Session) admit(msg control.Message) error {
	id, _ := msg.Get("id")
	if !s.peerSet {
		if msg.Verb == control.VerbHello || msg.Verb == control.VerbAck {
			s.peerID = id
			s.peerSet = true
			return nil
		}
		return fmt.Errorf("stray message before peer_id latched: %s", msg.Verb)
	}
	if id != s.peerID {
		return fmt.Errorf("stray message: id %q != peer_id %q", id, s.peerID)
	}
	return nil
}

// poll reads one slice of bytes from the Port (bounded by pollSlice) and
// feeds any complete lines through the stray filter, returning the first
// message that satisfies accept, if any. Admitted messages that do not
// satisfy accept are discarded.
func (s *Session) poll(accept func(control.Message) bool) (control.Message, bool, error) {
	if err := s.port.SetReadDeadline(time.Now().Add(pollSlice)); err != nil {
		return control.Message{}, false, err
	}
	buf := make([]byte, 512)
	n, err := s.port.Read(buf)
	if n > 0 {
		s.dec.Write(buf[:n])
	}
	for {
		msg, perr, ok := s.dec.Next()
		if !ok {
			break
		}
		if perr != nil {
			s.recordProtocolError(perr)
			continue
		}
		if admitErr := s.admit(msg); admitErr != nil {
			s.log.Debug("dropping stray message", "verb", msg.Verb, "error", admitErr)
			continue
		}
		if accept(msg) {
			return msg, true, nil
		}
	}
	if err != nil && !errors.Is(err, portio.ErrTimeout) {
		return control.Message{}, false, err
	}
	return control.Message{}, false, nil
}

func (s *Session) recordProtocolError(err error) {
	now := time.Now()
	if s.badStreakWindow.IsZero() || now.Sub(s.badStreakWindow) > 5*time.Second {
		s.badStreakWindow = now
		s.badStreak = 0
	}
	s.badStreak++
	metrics.IncProtocolError(metrics.ErrControlSyntax)
	s.log.Warn("dropping malformed control message", "error", err, "streak", s.badStreak)
	if s.badStreak >= 10 {
		s.log.Error("too many malformed messages in a row, resetting peer identity")
		s.ResetPeer()
		s.badStreak = 0
	}
}

// Await passively waits for the next message matching verb/subverb, up to
// timeout. It never retransmits.
func (s *Session) Await(ctx context.Context, verb control.Verb, subverb string, timeout time.Duration) (control.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		if ctx.Err() != nil {
			return control.Message{}, ctx.Err()
		}
		if time.Now().After(deadline) {
			return control.Message{}, ErrPeerUnresponsive
		}
		msg, ok, err := s.poll(func(m control.Message) bool { return matches(m, verb, subverb) })
		if err != nil {
			return control.Message{}, err
		}
		if ok {
			return msg, nil
		}
	}
}

// Request sends msg, then retransmits every DefaultRetryInterval until a
// message matching expectVerb/expectSubverb arrives or timeout elapses.
func (s *Session) Request(ctx context.Context, verb control.Verb, subverb string, fields map[string]string, expectVerb control.Verb, expectSubverb string, timeout time.Duration) (control.Message, error) {
	if err := s.Send(verb, subverb, fields); err != nil {
		return control.Message{}, err
	}
	deadline := time.Now().Add(timeout)
	lastSend := time.Now()

	for {
		if ctx.Err() != nil {
			return control.Message{}, ctx.Err()
		}
		if time.Now().After(deadline) {
			return control.Message{}, ErrPeerUnresponsive
		}
		msg, ok, err := s.poll(func(m control.Message) bool { return matches(m, expectVerb, expectSubverb) })
		if err != nil {
			return control.Message{}, err
		}
		if ok {
			return msg, nil
		}
		if time.Since(lastSend) >= DefaultRetryInterval {
			if err := s.Send(verb, subverb, fields); err != nil {
				return control.Message{}, err
			}
			lastSend = time.Now()
		}
	}
}

// AwaitAny blocks until any control message passes the stray filter
// (strays are still dropped), used by the Responder's session loop to
// detect peer traffic without caring which verb arrives first.
func (s *Session) AwaitAny(ctx context.Context, timeout time.Duration) (control.Message, error) {
	return s.Await(ctx, "", "", timeout)
}
