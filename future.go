package redisson

import (
	"context"
	"sync/atomic"
)

// Future is a single-completion future: it completes exactly once, with
// either a value or an error, and supports cancellation and a try-fail
// primitive for racing completions (the RetryDriver and Scatter/Gather
// both complete a Future from whichever goroutine finishes first).
//
// Modeled on the channel-plus-done-flag pattern used for fan-out
// completion in wuxibin89-redis-go-cluster's each.go (a *multiTask with a
// `done chan int`), generalized into a reusable value-or-error primitive.
type Future struct {
	done chan struct{}
	val  interface{}
	err  error

	// completed guards the single allowed transition out of "pending": only
	// the first TrySucceed/TryFail to flip it sends on resolve.
	completed atomic.Bool
	resolve   chan result

	// client records which backend node actually produced the terminal
	// outcome, when the dispatcher bothers to set it (RetryDriver does, on
	// each terminal outcome). Only meaningful after Done() closes. ScriptCache uses
	// this to pin a NOSCRIPT fallback's SCRIPT LOAD and re-dispatched
	// EVALSHA to the node that rejected the first EVALSHA.
	client Client
}

type result struct {
	val interface{}
	err error
}

// NewFuture returns a pending Future.
func NewFuture() *Future {
	f := &Future{
		done:    make(chan struct{}),
		resolve: make(chan result, 1),
	}
	go f.settle()
	return f
}

func (f *Future) settle() {
	r := <-f.resolve
	f.val, f.err = r.val, r.err
	close(f.done)
}

// TrySucceed completes the future with val. Returns false if it was
// already completed (by a prior success, failure, or cancellation).
func (f *Future) TrySucceed(val interface{}) bool {
	if !f.completed.CompareAndSwap(false, true) {
		return false
	}
	f.resolve <- result{val: val}
	return true
}

// TryFail completes the future with err. Returns false if it was already
// completed.
func (f *Future) TryFail(err error) bool {
	if !f.completed.CompareAndSwap(false, true) {
		return false
	}
	f.resolve <- result{err: err}
	return true
}

// Cancel tries to fail the future with ErrCancelled. It makes no promise
// about stopping an in-flight wire round-trip; it only unblocks waiters.
func (f *Future) Cancel() bool {
	return f.TryFail(ErrCancelled)
}

// Done reports completion via a channel close, so it composes with select.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future completes or ctx is cancelled, whichever
// comes first. A ctx cancellation does not itself complete the future.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetUsedClient records which client handled the attempt that produced
// the terminal outcome. Safe to call at most once, before completing the
// future; the write is published to readers via the same channel
// operations that publish completion.
func (f *Future) SetUsedClient(c Client) {
	f.client = c
}

// UsedClient returns whichever client SetUsedClient last recorded. Only
// meaningful after Wait/Done reports completion.
func (f *Future) UsedClient() Client {
	return f.client
}

// IsDone reports whether the future has already completed, without
// blocking.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
