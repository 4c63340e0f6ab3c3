package kafka

import (
	"context"
	"sync"
)

// promise is a write-once, read-at-most-once completion slot (spec.md §3
// "Completion slot"). The zero value is not usable; construct with
// newPromise.
type promise[T any] struct {
	ch   chan promiseResult[T]
	once sync.Once
}

type promiseResult[T any] struct {
	val T
	err error
}

func newPromise[T any]() *promise[T] {
	return &promise[T]{ch: make(chan promiseResult[T], 1)}
}

// complete writes the result exactly once; subsequent calls are no-ops, so
// an ExpiringFetch timer racing a poll delivery can both call complete and
// only the first write is kept (spec.md §4.3 "loser becomes a no-op").
func (p *promise[T]) complete(val T, err error) {
	p.once.Do(func() {
		p.ch <- promiseResult[T]{val: val, err: err}
	})
}

// lifecycle is the minimal shape promise.wait needs from a consumer's
// lifecycle fiber: a done signal and the cause (nil for a clean shutdown).
type lifecycle interface {
	Done() <-chan struct{}
	Err() error
}

// wait blocks until the promise is completed, the caller's context is
// cancelled, or the consumer's lifecycle ends, whichever comes first
// (spec.md §5 "raced against a shutdown signal"). If the lifecycle wins the
// race, wait fails with ConsumerShutdownError per spec.md §4.4 step 5.
func (p *promise[T]) wait(ctx context.Context, lc lifecycle) (T, error) {
	select {
	case r := <-p.ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-lc.Done():
		var zero T
		return zero, ErrConsumerShutdown(lc.Err())
	}
}
