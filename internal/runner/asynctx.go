package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/tholian/uartstress/internal/frame"
)

// AsyncTx funnels frame writes through a single goroutine, generalized
// from the teacher's CAN-frame transmitter to DataFrame. It gives
// producers a non-blocking enqueue: if the internal buffer is full,
// SendFrame invokes the configured OnDrop hook.
//
// Grounded on internal/transport/async_tx.go's fan-in worker shape.
type AsyncTx struct {
	mu      sync.Mutex
	ch      chan frame.DataFrame
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	send    func(frame.DataFrame) error
	hooks   Hooks
	closed  atomic.Bool
	errMu   sync.Mutex
	firstErr error
}

// Hooks customize AsyncTx behavior.
type Hooks struct {
	OnError func(error)
	OnAfter func()
	OnDrop  func() error
}

// ErrAsyncTxClosed is returned by SendFrame once Close has been called.
var ErrAsyncTxClosed = errors.New("runner: async tx closed")

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf.
func NewAsyncTx(parent context.Context, buf int, send func(frame.DataFrame) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan frame.DataFrame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case fr, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(fr); err != nil {
				a.errMu.Lock()
				if a.firstErr == nil {
					a.firstErr = err
				}
				a.errMu.Unlock()
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				a.cancel()
				return
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// SendFrame queues fr or invokes OnDrop if the buffer is full.
func (a *AsyncTx) SendFrame(fr frame.DataFrame) error {
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- fr:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// SendFrameBlocking enqueues fr, blocking until there is room, ctx is
// done, or the AsyncTx is closed. Unlike SendFrame it never invokes OnDrop:
// callers that need every frame delivered (the TX side of a data test,
// where the reported frame count must match what was actually sent) use
// this instead of the non-blocking, drop-on-full SendFrame.
func (a *AsyncTx) SendFrameBlocking(ctx context.Context, fr frame.DataFrame) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- fr:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ctx.Done():
		return ErrAsyncTxClosed
	}
}

// firstError returns the first error returned by send, if any. A send
// error stops the pump (matching the prior synchronous TX loops' behavior
// of aborting on the first write failure).
func (a *AsyncTx) firstError() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.firstErr
}

// Close stops accepting frames, waits for the worker to send every frame
// already queued (or to stop on a send error or parent cancellation), then
// releases the worker's context.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
	a.cancel()
}
