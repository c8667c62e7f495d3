package runner

import (
	"context"
	"time"

	"github.com/tholian/uartstress/internal/frame"
	"github.com/tholian/uartstress/internal/metrics"
	"github.com/tholian/uartstress/internal/portio"
)

// FIFOConfig parameterizes a fifo-residue execution: payload lengths ramp
// 1..PayloadMax, each frame separated by DelayUS microseconds. JitterWindow
// of 0 disables jitter enforcement (the default).
type FIFOConfig struct {
	PayloadMax   int
	DelayUS      int
	JitterWindow time.Duration
}

// RunFIFOResidueTX transmits one frame per payload length 1..PayloadMax,
// sleeping DelayUS microseconds between frames. Encoding/queuing is
// decoupled from the physical write via an AsyncTx pump, same as max-rate.
func RunFIFOResidueTX(ctx context.Context, port portio.Port, cfg FIFOConfig) (framesSent int, err error) {
	tx, produce := newFIFOResidueTX(ctx, port, cfg)
	n, produceErr := produce()
	tx.Close()
	if werr := tx.firstError(); werr != nil {
		produceErr = werr
	}
	return n, produceErr
}

func newFIFOResidueTX(ctx context.Context, port portio.Port, cfg FIFOConfig) (*AsyncTx, func() (int, error)) {
	tx := NewAsyncTx(ctx, 64, func(fr frame.DataFrame) error {
		wire, err := frame.Encode(nil, fr.Seq, fr.Payload, 0)
		if err != nil {
			return err
		}
		_, err = port.Write(wire)
		return err
	}, Hooks{OnAfter: func() { metrics.AddTxFrames(1) }})

	produce := func() (framesSent int, err error) {
		for length := 1; length <= cfg.PayloadMax; length++ {
			select {
			case <-ctx.Done():
				return framesSent, ctx.Err()
			default:
			}

			payload := make([]byte, length)
			seq := uint32(length - 1)
			frame.GeneratePayload(payload, seq)
			fr := frame.DataFrame{Seq: seq, Payload: payload}
			if err := tx.SendFrameBlocking(ctx, fr); err != nil {
				return framesSent, err
			}
			framesSent++

			if cfg.DelayUS > 0 {
				time.Sleep(time.Duration(cfg.DelayUS) * time.Microsecond)
			}
		}
		return framesSent, nil
	}
	return tx, produce
}

// fifoAccumulator extends Accumulator with jitter tracking; fifo-residue's
// pass condition (in-order, no drops, optional jitter window) needs
// per-frame arrival timestamps that max-rate's accumulator doesn't track.
type fifoAccumulator struct {
	*Accumulator
	lastArrival   time.Time
	jitterWindow  time.Duration
	delayUS       int
	jitterBreach  bool
	outOfOrder    bool
	lastSeenSeq   uint32
	haveSeenFirst bool
}

func newFIFOAccumulator(cfg FIFOConfig) *fifoAccumulator {
	return &fifoAccumulator{
		Accumulator:  NewAccumulator(),
		jitterWindow: cfg.JitterWindow,
		delayUS:      cfg.DelayUS,
	}
}

func (a *fifoAccumulator) observe(seq uint32, payloadLen int, now time.Time) {
	if a.haveSeenFirst && seq < a.lastSeenSeq {
		a.outOfOrder = true
	}
	a.lastSeenSeq = seq
	a.haveSeenFirst = true

	if a.jitterWindow > 0 && !a.lastArrival.IsZero() {
		expected := time.Duration(a.delayUS) * time.Microsecond
		actual := now.Sub(a.lastArrival)
		diff := actual - expected
		if diff < 0 {
			diff = -diff
		}
		if diff > a.jitterWindow {
			a.jitterBreach = true
		}
	}
	a.lastArrival = now
	a.ObserveFrame(seq, payloadLen, now.UnixNano())
}

// RunFIFOResidueRX consumes the ramping-payload stream and verifies
// in-order, lossless delivery (and jitter, if cfg.JitterWindow is set).
func RunFIFOResidueRX(ctx context.Context, port portio.Port, cfg FIFOConfig, readTimeout time.Duration) Result {
	acc := newFIFOAccumulator(cfg)
	dec := frame.NewDecoder(0)
	buf := make([]byte, 4096)
	expectedFrames := cfg.PayloadMax

	for acc.rxFramesCount() < expectedFrames {
		select {
		case <-ctx.Done():
			goto done
		default:
		}
		_ = port.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := port.Read(buf)
		if n > 0 {
			dec.Write(buf[:n])
			dec.Drain(func(ev frame.Event) {
				switch ev.Kind {
				case frame.EventFrame:
					acc.observe(ev.Frame.Seq, len(ev.Frame.Payload), time.Now())
					metrics.AddRxFrames(1)
				case frame.EventBadCrc:
					acc.ObserveBadCRC()
					metrics.IncBadCRC()
				case frame.EventResync:
					metrics.IncResync()
				}
			})
		}
		if err != nil {
			break
		}
	}
done:

	flags, _ := port.ErrorFlags()
	var driverErrs DriverErrorFlags
	if flags.Overruns > 0 {
		driverErrs |= DriverErrOverrun
	}
	if flags.FramingErrors > 0 {
		driverErrs |= DriverErrFraming
	}
	if flags.ParityErrors > 0 {
		driverErrs |= DriverErrParity
	}
	if flags.BreakCount > 0 {
		driverErrs |= DriverErrBreak
	}

	metrics.AddSeqGaps(acc.seqGaps)
	metrics.AddDriverOverruns(flags.Overruns)
	r := acc.Finish(expectedFrames, flags.Overruns, driverErrs, true, acc.outOfOrder)
	if r.Pass && acc.jitterBreach {
		r.Pass = false
		r.Reason = "jitter-window-exceeded"
	}
	metrics.SetThroughput(r.RateBPS)
	return r
}

// RunFIFOResidueBoth drives TX and RX concurrently over the same Port, for
// planner.DirBoth, mirroring RunMaxRateBoth.
func RunFIFOResidueBoth(ctx context.Context, port portio.Port, cfg FIFOConfig, readTimeout time.Duration) (txSent int, txErr error, rx Result) {
	tx, produce := newFIFOResidueTX(ctx, port, cfg)

	type txOutcome struct {
		n   int
		err error
	}
	txDone := make(chan txOutcome, 1)
	go func() {
		n, err := produce()
		txDone <- txOutcome{n: n, err: err}
	}()

	rx = RunFIFOResidueRX(ctx, port, cfg, readTimeout)

	out := <-txDone
	tx.Close()
	txSent, txErr = out.n, out.err
	if werr := tx.firstError(); werr != nil {
		txErr = werr
	}
	return txSent, txErr, rx
}
