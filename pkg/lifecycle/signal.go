// Package lifecycle ties the serve loop to process signals.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
)

// signalContext cancels on the first of the watched signals and releases
// its goroutine when stopped.
type signalContext struct {
	context.Context

	cancel   context.CancelFunc
	stopOnce sync.Once
	stopCh   chan struct{}
	received chan os.Signal
}

// stop can be called multiple times safely.
func (sc *signalContext) stop() {
	sc.stopOnce.Do(func() {
		sc.cancel()
		close(sc.stopCh)
	})
}

// WithSignal returns a context cancelled when one of sigs arrives. The
// returned cancel function must be called to stop watching.
//
//	ctx, cancel := WithSignal(context.Background(), os.Interrupt)
//	defer cancel()
func WithSignal(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sc := &signalContext{
		Context:  ctx,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
		received: make(chan os.Signal, 1),
	}

	// buffered so a signal arriving before the goroutine runs is kept
	ch := make(chan os.Signal, len(sigs))
	signal.Notify(ch, sigs...)

	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			sc.received <- sig
			cancel()
		case <-sc.stopCh:
		case <-ctx.Done():
		}
	}()

	return sc, sc.stop
}

// Signal returns the signal that cancelled ctx, if any.
func Signal(ctx context.Context) (os.Signal, bool) {
	sc, ok := ctx.(*signalContext)
	if !ok {
		return nil, false
	}
	select {
	case sig := <-sc.received:
		sc.received <- sig
		return sig, true
	default:
		return nil, false
	}
}
