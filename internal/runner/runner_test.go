package runner

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tholian/uartstress/internal/frame"
	"github.com/tholian/uartstress/internal/portio"
)

// pipePort is a minimal in-memory portio.Port backed by an io.Pipe, used
// to exercise the TX/RX test loops without real hardware.
type pipePort struct {
	pr *io.PipeReader
	pw *io.PipeWriter
	mu sync.Mutex
}

func newPipePortPair() (*pipePort, *pipePort) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	a := &pipePort{pr: r1, pw: w2}
	b := &pipePort{pr: r2, pw: w1}
	return a, b
}

func (p *pipePort) Reconfigure(portio.PortConfig) error { return nil }
func (p *pipePort) Write(b []byte) (int, error)         { return p.pw.Write(b) }
func (p *pipePort) SetReadDeadline(t time.Time) error   { return nil }
func (p *pipePort) SetWriteDeadline(t time.Time) error  { return nil }
func (p *pipePort) ErrorFlags() (portio.ErrorFlags, error) {
	return portio.ErrorFlags{}, nil
}
func (p *pipePort) Close() error {
	p.pw.Close()
	return p.pr.Close()
}

func (p *pipePort) Read(b []byte) (int, error) {
	return p.pr.Read(b)
}

func TestMaxRateLoopbackPasses(t *testing.T) {
	tx, rx := newPipePortPair()
	defer tx.Close()
	defer rx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := MaxRateConfig{Frames: 20, PayloadSize: 16}

	var result Result
	done := make(chan struct{})
	go func() {
		result = RunMaxRateRX(ctx, rx, cfg.Frames, 2*time.Second)
		close(done)
	}()

	sent, err := RunMaxRateTX(ctx, tx, cfg)
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if sent != 20 {
		t.Fatalf("sent = %d, want 20", sent)
	}

	<-done
	if !result.Pass {
		t.Fatalf("result not pass: %+v", result)
	}
	if result.RxFrames != 20 || result.BadCRC != 0 || result.SeqGaps != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestFIFOResidueLoopbackPasses(t *testing.T) {
	tx, rx := newPipePortPair()
	defer tx.Close()
	defer rx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := FIFOConfig{PayloadMax: 10, DelayUS: 100}

	var result Result
	done := make(chan struct{})
	go func() {
		result = RunFIFOResidueRX(ctx, rx, cfg, 2*time.Second)
		close(done)
	}()

	sent, err := RunFIFOResidueTX(ctx, tx, cfg)
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if sent != 10 {
		t.Fatalf("sent = %d, want 10", sent)
	}

	<-done
	if !result.Pass {
		t.Fatalf("result not pass: %+v", result)
	}
}

func TestAsyncTxDropsOnFullBufferAndInvokesHook(t *testing.T) {
	blockCh := make(chan struct{})
	var mu sync.Mutex
	sent := 0
	var dropped int

	a := NewAsyncTx(context.Background(), 1, func(f frame.DataFrame) error {
		<-blockCh
		mu.Lock()
		sent++
		mu.Unlock()
		return nil
	}, Hooks{
		OnDrop: func() error {
			mu.Lock()
			dropped++
			mu.Unlock()
			return ErrAsyncTxClosed
		},
	})

	// First SendFrame is picked up by the worker and blocks on blockCh.
	// The next few fill (or overflow) the size-1 buffered channel.
	_ = a.SendFrame(frame.DataFrame{Seq: 0})
	_ = a.SendFrame(frame.DataFrame{Seq: 1})
	_ = a.SendFrame(frame.DataFrame{Seq: 2})

	close(blockCh)
	a.Close()

	mu.Lock()
	defer mu.Unlock()
	if sent == 0 {
		t.Fatalf("expected at least one frame to be sent before close")
	}
	if dropped == 0 {
		t.Fatalf("expected OnDrop to be invoked for a frame sent into the full buffer")
	}
}
