package role

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tholian/uartstress/internal/control"
	"github.com/tholian/uartstress/internal/logging"
	"github.com/tholian/uartstress/internal/metrics"
	"github.com/tholian/uartstress/internal/planner"
	"github.com/tholian/uartstress/internal/portio"
	"github.com/tholian/uartstress/internal/runner"
	"github.com/tholian/uartstress/internal/session"
)

// Responder drives the "auto" role: wait for an Orchestrator to discover
// it, service whatever CONFIG SET / TEST BEGIN / TEST DONE / TERMINATE
// sequence arrives, and fall back to Idle after IdleTimeout of silence.
type Responder struct {
	port portio.Port
	caps control.Capabilities
	log  *slog.Logger

	sess *session.Session
}

// ResponderOption configures a Responder at construction time.
type ResponderOption func(*Responder)

// WithResponderCapabilities overrides the advertised local Capabilities.
func WithResponderCapabilities(caps control.Capabilities) ResponderOption {
	return func(r *Responder) { r.caps = caps }
}

// NewResponder opens devName at the control PortConfig and constructs a
// Responder around it.
func NewResponder(devName string, opts ...ResponderOption) (*Responder, error) {
	port, err := portio.Open(devName, portio.ControlPortConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPortOpen, err)
	}
	return newResponder(port, opts...), nil
}

// newResponder builds a Responder around an already-open Port, used
// directly by tests to exercise the state machine without real hardware.
func newResponder(port portio.Port, opts ...ResponderOption) *Responder {
	r := &Responder{
		port: port,
		caps: defaultCapabilities(),
		log:  logging.ForRole("auto"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.sess = session.New(r.port, session.NewRunID().String(), "auto")
	return r
}

// Close releases the underlying Port.
func (r *Responder) Close() error {
	return r.port.Close()
}

// Run loops forever (until ctx is cancelled), alternating between Idle
// (broadcasting HELLO to be discovered) and serving one Orchestrator
// session. A TERMINATE message or IdleTimeout of silence returns the
// Responder to Idle with its peer identity cleared.
func (r *Responder) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.discover(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.sess.ResetPeer()
			continue
		}
		r.log.Info("discovered peer", "peer_id", r.sess.PeerID())
		r.serve(ctx)
		r.sess.ResetPeer()
	}
}

// idleBackoffSteps is the Responder's Idle-state HELLO broadcast ladder:
// 500, 1000, 2000, 4000 ms, holding at the last step thereafter.
var idleBackoffSteps = []time.Duration{
	500 * time.Millisecond,
	1000 * time.Millisecond,
	2000 * time.Millisecond,
	4000 * time.Millisecond,
}

// discover implements the Idle state (spec.md §4.7): broadcast HELLO on
// idleBackoffSteps' exponential ladder, listening concurrently for ACK on
// each step's wait window. Returns once an ACK is observed (peer_id is
// latched automatically by the Session's stray filter) or ctx is
// cancelled.
func (r *Responder) discover(ctx context.Context) error {
	fields := map[string]string{"id": r.sess.SelfID(), "role": "auto", "caps": r.caps.Tokens()}
	step := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.sess.Send(control.VerbHello, "", fields); err != nil {
			return err
		}
		wait := idleBackoffSteps[step]
		if step < len(idleBackoffSteps)-1 {
			step++
		}
		if _, err := r.sess.Await(ctx, control.VerbAck, "", wait); err == nil {
			return nil
		}
	}
}

// serve handles one discovered session: repeatedly wait for either a
// CONFIG SET (enter a test case) or TERMINATE (end the session), until
// IdleTimeout of silence or a TERMINATE arrives.
func (r *Responder) serve(ctx context.Context) {
	for {
		msg, err := r.sess.AwaitAny(ctx, session.IdleTimeout)
		if err != nil {
			r.log.Info("session idle, returning to discovery")
			return
		}
		switch {
		case msg.Verb == control.VerbTerminate:
			r.sess.Send(control.VerbAck, "", map[string]string{"id": r.sess.SelfID()})
			return
		case msg.Verb == control.VerbConfig && msg.Subverb == control.SubConfigSet:
			if err := r.runCase(ctx, msg); err != nil {
				r.log.Error("case handling failed", "error", err)
				return
			}
		default:
			r.log.Debug("ignoring unexpected message while idle in session", "verb", msg.Verb, "subverb", msg.Subverb)
		}
	}
}

// runCase services one CONFIG SET -> TEST BEGIN -> [data phase] -> TEST
// DONE -> TEST RESULT cycle initiated by the Orchestrator.
func (r *Responder) runCase(ctx context.Context, cfgMsg control.Message) error {
	cfg, err := parsePortConfig(cfgMsg)
	if err != nil {
		return err
	}
	if err := r.sess.Send(control.VerbConfig, control.SubConfigSetAck, map[string]string{"id": r.sess.SelfID()}); err != nil {
		return err
	}

	beginMsg, err := r.sess.Await(ctx, control.VerbTest, control.SubTestBegin, testBeginTimeout)
	if err != nil {
		return err
	}
	tc, err := parseTestCase(beginMsg, cfg)
	if err != nil {
		return err
	}

	if err := r.port.Reconfigure(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrPortConfigUnsupported, err)
	}
	defer func() {
		if rerr := r.port.Reconfigure(portio.ControlPortConfig); rerr != nil {
			r.log.Error("failed to restore control port config", "error", rerr)
		}
	}()

	if err := r.sess.Send(control.VerbTest, control.SubTestBeginAck, map[string]string{"id": r.sess.SelfID()}); err != nil {
		return err
	}

	result, dispatchErr := r.dispatch(ctx, tc)

	if _, err := r.sess.Await(ctx, control.VerbTest, control.SubTestDone, testDoneTimeout); err != nil {
		return err
	}
	if err := r.sess.Send(control.VerbTest, control.SubTestDoneAck, map[string]string{"id": r.sess.SelfID()}); err != nil {
		return err
	}

	pass := result.Pass && dispatchErr == nil
	reason := result.Reason
	if dispatchErr != nil {
		reason = classifyReason(fmt.Errorf("%w: %v", ErrPortIO, dispatchErr))
	} else if pass {
		reason = "pass"
	}
	metrics.RecordCaseOutcome(pass)
	resultFields := map[string]string{
		"id":       r.sess.SelfID(),
		"pass":     strconv.FormatBool(pass),
		"reason":   reason,
		"rx_frame": fmt.Sprintf("%d", result.RxFrames),
		"bad_crc":  fmt.Sprintf("%d", result.BadCRC),
		"seq_gaps": fmt.Sprintf("%d", result.SeqGaps),
	}
	return r.sess.Send(control.VerbTest, control.SubTestResult, resultFields)
}

// dispatch runs the Responder's half of the test, on the opposite side
// of whatever direction the Orchestrator requested: the Orchestrator's tx
// is the Responder's rx and vice versa; "both" runs tx and rx concurrently
// on both sides (spec.md §4.5), using RunMaxRateBoth/RunFIFOResidueBoth so
// this side's Result reflects its own reception too.
func (r *Responder) dispatch(ctx context.Context, tc planner.TestCase) (runner.Result, error) {
	readTimeout := estimateReadTimeout(tc)
	switch tc.Name {
	case planner.TestMaxRate:
		cfg := runner.MaxRateConfig{Frames: tc.Frames, DurationMS: tc.DurationMS, PayloadSize: tc.PayloadSize}
		switch tc.Direction {
		case planner.DirTX:
			return runner.RunMaxRateRX(ctx, r.port, cfg.Frames, readTimeout), nil
		case planner.DirRX:
			_, err := runner.RunMaxRateTX(ctx, r.port, cfg)
			return runner.Result{}, err
		default:
			_, txErr, rx := runner.RunMaxRateBoth(ctx, r.port, cfg, cfg.Frames, readTimeout)
			return rx, txErr
		}
	case planner.TestFIFOResidue:
		fcfg := runner.FIFOConfig{PayloadMax: tc.PayloadSize}
		switch tc.Direction {
		case planner.DirTX:
			return runner.RunFIFOResidueRX(ctx, r.port, fcfg, readTimeout), nil
		case planner.DirRX:
			_, err := runner.RunFIFOResidueTX(ctx, r.port, fcfg)
			return runner.Result{}, err
		default:
			_, txErr, rx := runner.RunFIFOResidueBoth(ctx, r.port, fcfg, readTimeout)
			return rx, txErr
		}
	default:
		return runner.Result{}, fmt.Errorf("unknown test name %q", tc.Name)
	}
}

func parsePortConfig(msg control.Message) (portio.PortConfig, error) {
	baudStr, err := msg.Require("baud")
	if err != nil {
		return portio.PortConfig{}, err
	}
	baud, err := strconv.ParseUint(baudStr, 10, 32)
	if err != nil {
		return portio.PortConfig{}, fmt.Errorf("role: bad baud %q: %w", baudStr, err)
	}
	bitsStr, err := msg.Require("bits")
	if err != nil {
		return portio.PortConfig{}, err
	}
	bits, err := strconv.Atoi(bitsStr)
	if err != nil {
		return portio.PortConfig{}, fmt.Errorf("role: bad bits %q: %w", bitsStr, err)
	}
	parity, _ := msg.Get("parity")
	flow, _ := msg.Get("flow")
	return portio.PortConfig{
		Baud:     uint32(baud),
		Parity:   portio.Parity(parity),
		Bits:     bits,
		StopBits: 1,
		Flow:     portio.Flow(flow),
	}, nil
}

func parseTestCase(msg control.Message, cfg portio.PortConfig) (planner.TestCase, error) {
	name, err := msg.Require("name")
	if err != nil {
		return planner.TestCase{}, err
	}
	dir, err := msg.Require("dir")
	if err != nil {
		return planner.TestCase{}, err
	}
	frames, _ := strconv.Atoi(getOr(msg, "frames", "0"))
	durationMS, _ := strconv.Atoi(getOr(msg, "duration_ms", "0"))
	payload, _ := strconv.Atoi(getOr(msg, "payload", "0"))
	return planner.TestCase{
		Name:        planner.TestName(name),
		PortConfig:  cfg,
		Direction:   planner.Direction(dir),
		Frames:      frames,
		DurationMS:  durationMS,
		PayloadSize: payload,
	}, nil
}

func getOr(msg control.Message, key, def string) string {
	if v, ok := msg.Get(key); ok {
		return v
	}
	return def
}
