package runner

import (
	"context"
	"time"

	"github.com/tholian/uartstress/internal/frame"
	"github.com/tholian/uartstress/internal/metrics"
	"github.com/tholian/uartstress/internal/portio"
)

// MaxRateConfig parameterizes one max-rate test execution.
type MaxRateConfig struct {
	Frames      int // 0 means DurationMS governs instead
	DurationMS  int
	PayloadSize int
}

// RunMaxRateTX transmits frames fixed-size frames (or until DurationMS
// elapses) back-to-back with no inter-frame gap, payload bytes generated
// deterministically as payload[i] = (seq+i) mod 256. Encoding and queuing a
// frame is decoupled from the physical write via an AsyncTx pump, so a slow
// or flow-controlled port never stalls frame generation.
func RunMaxRateTX(ctx context.Context, port portio.Port, cfg MaxRateConfig) (framesSent int, err error) {
	tx, produce := newMaxRateTX(ctx, port, cfg)
	n, produceErr := produce()
	tx.Close()
	// A send (write) failure surfaces here, not as produce()'s own return
	// value: the producer only learns about it indirectly, via the pump
	// cancelling its context out from under a blocked SendFrameBlocking.
	if werr := tx.firstError(); werr != nil {
		produceErr = werr
	}
	return n, produceErr
}

// maxRateTXProduceFn generates and enqueues the max-rate frame stream;
// calling it runs the producer loop to completion (or ctx cancellation).
type maxRateTXProduceFn func() (int, error)

// newMaxRateTX builds the AsyncTx pump and producer closure shared by
// RunMaxRateTX (TX-only) and RunMaxRateBoth (TX run concurrently with RX).
func newMaxRateTX(ctx context.Context, port portio.Port, cfg MaxRateConfig) (*AsyncTx, maxRateTXProduceFn) {
	tx := NewAsyncTx(ctx, 64, func(fr frame.DataFrame) error {
		wire, err := frame.Encode(nil, fr.Seq, fr.Payload, 0)
		if err != nil {
			return err
		}
		_, err = port.Write(wire)
		return err
	}, Hooks{OnAfter: func() { metrics.AddTxFrames(1) }})

	produce := func() (framesSent int, err error) {
		payload := make([]byte, cfg.PayloadSize)
		deadline := time.Time{}
		if cfg.Frames == 0 && cfg.DurationMS > 0 {
			deadline = time.Now().Add(time.Duration(cfg.DurationMS) * time.Millisecond)
		}

		var seq uint32
		for {
			select {
			case <-ctx.Done():
				return framesSent, ctx.Err()
			default:
			}
			if cfg.Frames > 0 && int(seq) >= cfg.Frames {
				return framesSent, nil
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				return framesSent, nil
			}

			frame.GeneratePayload(payload, seq)
			fr := frame.DataFrame{Seq: seq, Payload: append([]byte(nil), payload...)}
			if err := tx.SendFrameBlocking(ctx, fr); err != nil {
				return framesSent, err
			}
			framesSent++
			seq++
		}
	}
	return tx, produce
}

// RunMaxRateRX consumes data frames from port until expectedFrames have
// arrived or readTimeout elapses with no further frames, accumulating
// statistics into the returned Result.
func RunMaxRateRX(ctx context.Context, port portio.Port, expectedFrames int, readTimeout time.Duration) Result {
	acc := NewAccumulator()
	dec := frame.NewDecoder(0)
	buf := make([]byte, 4096)

	for acc.rxFramesCount() < expectedFrames {
		select {
		case <-ctx.Done():
			return acc.Finish(expectedFrames, 0, 0, false, false)
		default:
		}
		_ = port.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := port.Read(buf)
		if n > 0 {
			dec.Write(buf[:n])
			dec.Drain(func(ev frame.Event) {
				switch ev.Kind {
				case frame.EventFrame:
					acc.ObserveFrame(ev.Frame.Seq, len(ev.Frame.Payload), time.Now().UnixNano())
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

	flags, _ := port.ErrorFlags()
	driverErrs := DriverErrorFlags(0)
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
	r := acc.Finish(expectedFrames, flags.Overruns, driverErrs, false, false)
	metrics.SetThroughput(r.RateBPS)
	return r
}

// RunMaxRateBoth drives TX and RX concurrently over the same Port, for
// planner.DirBoth: the TX pump runs on its own goroutine (via AsyncTx) while
// this goroutine drains RX, so each side's Result reflects its own
// reception rather than a one-sided TX-only stand-in.
func RunMaxRateBoth(ctx context.Context, port portio.Port, cfg MaxRateConfig, expectedRxFrames int, readTimeout time.Duration) (txSent int, txErr error, rx Result) {
	tx, produce := newMaxRateTX(ctx, port, cfg)

	type txOutcome struct {
		n   int
		err error
	}
	txDone := make(chan txOutcome, 1)
	go func() {
		n, err := produce()
		txDone <- txOutcome{n: n, err: err}
	}()

	rx = RunMaxRateRX(ctx, port, expectedRxFrames, readTimeout)

	out := <-txDone
	tx.Close()
	txSent, txErr = out.n, out.err
	if werr := tx.firstError(); werr != nil {
		txErr = werr
	}
	return txSent, txErr, rx
}

func (a *Accumulator) rxFramesCount() int { return a.rxFrames }
