// Package role implements the two state machines spec.md §5 describes: the
// Orchestrator (test role) that drives a Plan to completion, and the
// Responder (auto role) that services whatever the Orchestrator asks for.
// Both share one Port and one Session, cooperatively: during a control
// phase they poll the Session, and during a data-test phase they hand the
// Port directly to internal/runner and stop polling, so the two never
// contend for the same fd at once.
package role

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tholian/uartstress/internal/control"
	"github.com/tholian/uartstress/internal/logging"
	"github.com/tholian/uartstress/internal/metrics"
	"github.com/tholian/uartstress/internal/planner"
	"github.com/tholian/uartstress/internal/portio"
	"github.com/tholian/uartstress/internal/runner"
	"github.com/tholian/uartstress/internal/session"
)

const (
	discoverTimeout   = 30 * time.Second
	capsTimeout       = 5 * time.Second
	configSetTimeout  = 5 * time.Second
	testBeginTimeout  = 5 * time.Second
	testDoneTimeout   = 10 * time.Second
	terminateTimeout  = 5 * time.Second
	defaultReadMargin = 200 * time.Millisecond
)

// CaseResult pairs one planner.TestCase with the Result the Orchestrator
// recorded for it, successful or not.
type CaseResult struct {
	Case   planner.TestCase
	Result runner.Result
	Reason string
}

// OrchestratorOption configures an Orchestrator at construction time.
type OrchestratorOption func(*Orchestrator)

// WithCapabilities overrides the advertised local Capabilities.
func WithCapabilities(caps control.Capabilities) OrchestratorOption {
	return func(o *Orchestrator) { o.local = caps }
}

// WithFilters sets the CLI-derived Filters used to build the Plan once
// peer capabilities are known.
func WithFilters(f planner.Filters) OrchestratorOption {
	return func(o *Orchestrator) { o.filters = f }
}

// Orchestrator drives the "test" role: discover a Responder, negotiate
// capabilities, build a Plan, and run every TestCase in order.
type Orchestrator struct {
	port    portio.Port
	devName string
	local   control.Capabilities
	filters planner.Filters
	log     *slog.Logger

	sess *session.Session
}

// NewOrchestrator opens devName at the control PortConfig and constructs
// an Orchestrator around it.
func NewOrchestrator(devName string, opts ...OrchestratorOption) (*Orchestrator, error) {
	port, err := portio.Open(devName, portio.ControlPortConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPortOpen, err)
	}
	o := newOrchestrator(port, opts...)
	o.devName = devName
	return o, nil
}

// newOrchestrator builds an Orchestrator around an already-open Port,
// used directly by tests to exercise the state machine without real
// hardware.
func newOrchestrator(port portio.Port, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		port:  port,
		local: defaultCapabilities(),
		log:   logging.ForRole("test"),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.sess = session.New(o.port, session.NewRunID().String(), "test")
	return o
}

func defaultCapabilities() control.Capabilities {
	return control.Capabilities{
		MaxBaud:            2000000,
		SupportedParities:  []portio.Parity{portio.ParityNone, portio.ParityEven, portio.ParityOdd},
		SupportedBits:      []int{7, 8},
		SupportedFlow:      []portio.Flow{portio.FlowNone, portio.FlowRTSCTS},
		SupportsFullDuplex: true,
	}
}

// Close releases the underlying Port.
func (o *Orchestrator) Close() error {
	return o.port.Close()
}

// BuildPlan runs Discover/HandshakeCaps and computes the resulting Plan
// without executing any TestCase, used by --dump-plan. The link is left
// open afterward; Run performs its own discovery, so a caller that only
// wants the Plan ends the link with Terminate.
func (o *Orchestrator) BuildPlan(ctx context.Context) (planner.Plan, error) {
	o.log.Info("discovering peer", "self_id", o.sess.SelfID())
	peerCaps, err := o.discoverAndHandshake(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerUnresponsive, err)
	}
	plan := planner.Build(o.filters, o.local, peerCaps)
	if len(plan) == 0 {
		return plan, ErrEmptyPlan
	}
	return plan, nil
}

// Run executes Discover, HandshakeCaps, PlanBuild, and every TestCase in
// the resulting Plan in sequence, returning one CaseResult per case plus
// the Plan that was ultimately run. Once discovery has succeeded it
// terminates the link with the Responder before returning, best-effort;
// a discovery failure returns without sending TERMINATE.
func (o *Orchestrator) Run(ctx context.Context) ([]CaseResult, planner.Plan, error) {
	plan, err := o.BuildPlan(ctx)
	if err != nil {
		if errors.Is(err, ErrEmptyPlan) {
			o.log.Error("empty test plan after intersecting capabilities")
			o.terminate(ctx, "empty-plan")
			return nil, plan, err
		}
		return nil, nil, err
	}
	o.log.Info("plan built", "cases", len(plan))

	results := make([]CaseResult, 0, len(plan))
	for i, tc := range plan {
		if ctx.Err() != nil {
			break
		}
		o.log.Info("running case", "index", i, "name", tc.Name, "config", tc.PortConfig.String(), "dir", tc.Direction)
		cr := o.runCase(ctx, tc)
		results = append(results, cr)
		metrics.RecordCaseOutcome(cr.Result.Pass)
		o.log.Info("case finished", "index", i, "pass", cr.Result.Pass, "reason", cr.Reason)
	}

	o.terminate(ctx, "complete")
	return results, plan, nil
}

// discoverAndHandshake implements the Discover state (spec.md §4.7): await
// an inbound HELLO from the Responder (which owns the broadcast side of
// discovery), latching peer_id and parsing its advertised caps, then send
// ACK carrying this side's own caps.
func (o *Orchestrator) discoverAndHandshake(ctx context.Context) (control.Capabilities, error) {
	hello, err := o.sess.Await(ctx, control.VerbHello, "", discoverTimeout)
	if err != nil {
		return control.Capabilities{}, err
	}
	capStr, _ := hello.Get("caps")
	peerCaps, err := control.ParseCapList(capStr)
	if err != nil {
		return control.Capabilities{}, err
	}
	fields := map[string]string{"id": o.sess.SelfID(), "role": "test", "caps": o.local.Tokens()}
	if err := o.sess.Send(control.VerbAck, "", fields); err != nil {
		return control.Capabilities{}, err
	}
	return peerCaps, nil
}

// runCase drives one TestCase end to end: CONFIG SET, reconfigure, TEST
// BEGIN, dispatch to the runner, TEST DONE, TEST RESULT. TEST BEGIN, TEST
// DONE and TEST RESULT are exchanged while the Port is still at the test's
// PortConfig; the control config is restored only when runCase returns.
// Any failure along the way is folded into a failing CaseResult rather
// than aborting the whole Plan.
func (o *Orchestrator) runCase(ctx context.Context, tc planner.TestCase) CaseResult {
	cfgFields := map[string]string{
		"id":     o.sess.SelfID(),
		"baud":   fmt.Sprintf("%d", tc.PortConfig.Baud),
		"bits":   fmt.Sprintf("%d", tc.PortConfig.Bits),
		"parity": string(tc.PortConfig.Parity),
		"flow":   string(tc.PortConfig.Flow),
	}
	if _, err := o.sess.Request(ctx, control.VerbConfig, control.SubConfigSet, cfgFields, control.VerbConfig, control.SubConfigSetAck, configSetTimeout); err != nil {
		return failResult(tc, classifyReason(fmt.Errorf("%w: %v", ErrPeerUnresponsive, err)))
	}
	if err := o.port.Reconfigure(tc.PortConfig); err != nil {
		return failResult(tc, classifyReason(fmt.Errorf("%w: %v", ErrPortConfigUnsupported, err)))
	}
	defer func() {
		if err := o.port.Reconfigure(portio.ControlPortConfig); err != nil {
			o.log.Error("failed to restore control port config", "error", err)
		}
	}()

	beginFields := map[string]string{
		"id":          o.sess.SelfID(),
		"name":        string(tc.Name),
		"dir":         string(tc.Direction),
		"frames":      fmt.Sprintf("%d", tc.Frames),
		"duration_ms": fmt.Sprintf("%d", tc.DurationMS),
		"payload":     fmt.Sprintf("%d", tc.PayloadSize),
	}
	if _, err := o.sess.Request(ctx, control.VerbTest, control.SubTestBegin, beginFields, control.VerbTest, control.SubTestBeginAck, testBeginTimeout); err != nil {
		return failResult(tc, classifyReason(fmt.Errorf("%w: %v", ErrPeerUnresponsive, err)))
	}

	localResult, localErr := o.dispatch(ctx, tc)

	doneFields := map[string]string{"id": o.sess.SelfID()}
	if _, err := o.sess.Request(ctx, control.VerbTest, control.SubTestDone, doneFields, control.VerbTest, control.SubTestDoneAck, testDoneTimeout); err != nil {
		return failResult(tc, classifyReason(fmt.Errorf("%w: %v", ErrPeerUnresponsive, err)))
	}

	resultMsg, err := o.sess.Await(ctx, control.VerbTest, control.SubTestResult, testDoneTimeout)
	if err != nil {
		return failResult(tc, classifyReason(fmt.Errorf("%w: %v", ErrPeerUnresponsive, err)))
	}

	final := mergeResults(tc, localResult, localErr, resultMsg)
	return final
}

// dispatch runs the local half of a TestCase against the runner package,
// choosing TX, RX, or both by tc.Direction as seen from the Orchestrator's
// side. "both" runs TX and RX concurrently (spec.md §4.5: each side's
// TestResult reflects its own RX), using RunMaxRateBoth/RunFIFOResidueBoth
// so the write pump never blocks the read loop on the same Port.
func (o *Orchestrator) dispatch(ctx context.Context, tc planner.TestCase) (runner.Result, error) {
	readTimeout := estimateReadTimeout(tc)
	switch tc.Name {
	case planner.TestMaxRate:
		cfg := runner.MaxRateConfig{Frames: tc.Frames, DurationMS: tc.DurationMS, PayloadSize: tc.PayloadSize}
		switch tc.Direction {
		case planner.DirTX:
			_, err := runner.RunMaxRateTX(ctx, o.port, cfg)
			return runner.Result{}, err
		case planner.DirRX:
			return runner.RunMaxRateRX(ctx, o.port, cfg.Frames, readTimeout), nil
		default:
			_, txErr, rx := runner.RunMaxRateBoth(ctx, o.port, cfg, cfg.Frames, readTimeout)
			return rx, txErr
		}
	case planner.TestFIFOResidue:
		fcfg := runner.FIFOConfig{PayloadMax: tc.PayloadSize}
		switch tc.Direction {
		case planner.DirTX:
			_, err := runner.RunFIFOResidueTX(ctx, o.port, fcfg)
			return runner.Result{}, err
		case planner.DirRX:
			return runner.RunFIFOResidueRX(ctx, o.port, fcfg, readTimeout), nil
		default:
			_, txErr, rx := runner.RunFIFOResidueBoth(ctx, o.port, fcfg, readTimeout)
			return rx, txErr
		}
	default:
		return runner.Result{}, fmt.Errorf("unknown test name %q", tc.Name)
	}
}

func estimateReadTimeout(tc planner.TestCase) time.Duration {
	if tc.DurationMS > 0 {
		return time.Duration(tc.DurationMS)*time.Millisecond + defaultReadMargin
	}
	return 5 * time.Second
}

// Terminate sends a best-effort TERMINATE/ACK exchange to end the link
// with the Responder, used by callers (e.g. --dump-plan) that stop short
// of running Run's full case loop.
func (o *Orchestrator) Terminate(ctx context.Context, reason string) {
	o.terminate(ctx, reason)
}

func (o *Orchestrator) terminate(ctx context.Context, reason string) {
	fields := map[string]string{"id": o.sess.SelfID(), "reason": reason}
	tctx, cancel := context.WithTimeout(ctx, terminateTimeout)
	defer cancel()
	_ = o.sess.Send(control.VerbTerminate, "", fields)
	_, _ = o.sess.Await(tctx, control.VerbAck, "", terminateTimeout)
}

func failResult(tc planner.TestCase, reason string) CaseResult {
	return CaseResult{Case: tc, Result: runner.Result{Pass: false, Reason: reason}, Reason: reason}
}

// mergeResults combines the Orchestrator's own Result (when it ran the RX
// side) with the peer-reported TEST RESULT fields, preferring the locally
// observed Result when this side ran RX (it has the authoritative frame
// accounting), and falling back to the peer's self-report otherwise.
func mergeResults(tc planner.TestCase, local runner.Result, localErr error, peerMsg control.Message) CaseResult {
	if localErr != nil && !errors.Is(localErr, context.Canceled) {
		return failResult(tc, classifyReason(fmt.Errorf("%w: %v", ErrPortIO, localErr)))
	}
	if tc.Direction == planner.DirRX || tc.Direction == planner.DirBoth {
		reason := local.Reason
		if local.Pass {
			reason = "pass"
		}
		return CaseResult{Case: tc, Result: local, Reason: reason}
	}
	passStr, _ := peerMsg.Get("pass")
	reasonStr, _ := peerMsg.Get("reason")
	pass := passStr == "true"
	return CaseResult{
		Case:   tc,
		Result: runner.Result{Pass: pass, Reason: reasonStr},
		Reason: reasonStr,
	}
}
