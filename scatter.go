package redisson

import (
	"context"
	"math/rand"
	"sync"
)

// SlotCallback collects one result per entry a fan-out command visits and
// produces the aggregate value once every entry has reported in. It has no
// hook for rewriting the command or its arguments per entry; every entry
// receives its own clone of the same arguments.
type SlotCallback struct {
	// OnSlotResult is invoked once per entry. Calls are serialized by the
	// fan-out's own lock, so the accumulator needs no locking of its own.
	OnSlotResult func(result interface{})
	// OnFinish is called exactly once, after every entry has reported a
	// non-error result, to produce the aggregate value.
	OnFinish func() interface{}
}

// Scatter runs cmd(args...) against every entry in the topology and
// aggregates the results through callback, or simply waits for all of them
// if callback is nil: one dispatch per entry, fanned out concurrently,
// joined by a shared counter.
type Scatter struct {
	e *engine
}

func newScatter(e *engine) *Scatter {
	return &Scatter{e: e}
}

// ReadAll dispatches cmd(args...) as a read against every entry.
func (s *Scatter) ReadAll(ctx context.Context, cmd *Command, args []interface{}, callback *SlotCallback) *Future {
	return s.all(ctx, true, cmd, args, callback)
}

// WriteAll dispatches cmd(args...) as a write against every entry.
func (s *Scatter) WriteAll(ctx context.Context, cmd *Command, args []interface{}, callback *SlotCallback) *Future {
	return s.all(ctx, false, cmd, args, callback)
}

func (s *Scatter) all(ctx context.Context, readOnlyMode bool, cmd *Command, args []interface{}, callback *SlotCallback) *Future {
	entries := s.e.cm.Entries()
	mainPromise := NewFuture()

	if len(entries) == 0 {
		mainPromise.TrySucceed(nil)
		return mainPromise
	}

	var (
		mu        sync.Mutex
		remaining = len(entries)
		failed    bool
	)

	for _, entry := range entries {
		entry := entry
		entryArgs := CloneArgs(args)
		f := s.e.dispatch(ctx, readOnlyMode, ForEntrySource(entry), cmd, entryArgs, true, false)
		go func() {
			v, err := f.Wait(ctx)
			if err != nil {
				// A redirect mid-fan-out counts as a success for that entry,
				// with the convertor reapplied to the (nil) result: the node
				// moved, not failed. Anything else fails the whole fan-out.
				if _, redirected := err.(*RedirectError); !redirected {
					mu.Lock()
					first := !failed
					failed = true
					mu.Unlock()
					if first {
						mainPromise.TryFail(err)
					}
					return
				}
				v = cmd.convert(nil)
			}
			mu.Lock()
			if callback != nil && callback.OnSlotResult != nil {
				callback.OnSlotResult(v)
			}
			remaining--
			finished := remaining == 0 && !failed
			mu.Unlock()
			if finished {
				if callback != nil && callback.OnFinish != nil {
					mainPromise.TrySucceed(callback.OnFinish())
				} else {
					mainPromise.TrySucceed(nil)
				}
			}
		}()
	}

	return mainPromise
}

// ForEntrySource is the ByEntry NodeSource constructor exposed for
// fan-out callers that already hold an *Entry from ConnectionManager.
func ForEntrySource(e *Entry) NodeSource {
	return ByEntry(e)
}

// ReadAllCollect dispatches cmd(args...) as a read against every entry and
// gathers every reply (or every element of a reply that is itself a
// collection) into one slice.
func (s *Scatter) ReadAllCollect(ctx context.Context, cmd *Command, args []interface{}) *Future {
	results := make([]interface{}, 0)
	callback := &SlotCallback{
		OnSlotResult: func(v interface{}) {
			if coll, ok := v.([]interface{}); ok {
				results = append(results, coll...)
			} else {
				results = append(results, v)
			}
		},
		OnFinish: func() interface{} {
			return results
		},
	}
	return s.ReadAll(ctx, cmd, args, callback)
}

// ReadRandom dispatches cmd(args...) against entries one at a time, in an
// unspecified order, stopping at the first non-nil reply (or exhausting
// entries and succeeding with nil). Used for "ask any node, first answer
// wins" reads such as RANDOMKEY across a cluster.
func (s *Scatter) ReadRandom(ctx context.Context, cmd *Command, args []interface{}, entries []*Entry) *Future {
	mainPromise := NewFuture()
	shuffled := make([]*Entry, len(entries))
	copy(shuffled, entries)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	s.readRandomStep(ctx, cmd, args, shuffled, mainPromise)
	return mainPromise
}

func (s *Scatter) readRandomStep(ctx context.Context, cmd *Command, args []interface{}, entries []*Entry, mainPromise *Future) {
	if len(entries) == 0 {
		mainPromise.TrySucceed(nil)
		return
	}

	entry := entries[0]
	rest := entries[1:]
	attemptArgs := CloneArgs(args)
	f := s.e.dispatch(ctx, true, ForEntrySource(entry), cmd, attemptArgs, false, false)

	go func() {
		v, err := f.Wait(ctx)
		if err != nil {
			mainPromise.TryFail(err)
			return
		}
		if v != nil {
			mainPromise.TrySucceed(v)
			return
		}
		s.readRandomStep(ctx, cmd, args, rest, mainPromise)
	}()
}

// EvalWriteAll runs a script as a write against every entry, with
// per-entry keys/params supplied by the caller. The script always goes out
// as a literal EVAL here: the fan-out path skips the EVALSHA rewrite, since
// a NOSCRIPT fallback pinned to one node would defeat the per-entry
// routing.
func (s *Scatter) EvalWriteAll(ctx context.Context, evalCommand *Command, callback *SlotCallback, script string, keysPerEntry func(*Entry) []string, paramsPerEntry func(*Entry) []interface{}) *Future {
	entries := s.e.cm.Entries()
	mainPromise := NewFuture()

	if len(entries) == 0 {
		mainPromise.TrySucceed(nil)
		return mainPromise
	}

	var (
		mu        sync.Mutex
		remaining = len(entries)
		failed    bool
	)

	for _, entry := range entries {
		entry := entry
		keys := keysPerEntry(entry)
		params := paramsPerEntry(entry)
		args := make([]interface{}, 0, 2+len(keys)+len(params))
		args = append(args, script, len(keys))
		for _, k := range keys {
			args = append(args, k)
		}
		args = append(args, params...)
		f := s.e.dispatch(ctx, false, ForEntrySource(entry), evalCommand, args, true, false)
		go func() {
			v, err := f.Wait(ctx)
			if err != nil {
				if _, redirected := err.(*RedirectError); !redirected {
					mu.Lock()
					first := !failed
					failed = true
					mu.Unlock()
					if first {
						mainPromise.TryFail(err)
					}
					return
				}
				v = evalCommand.convert(nil)
			}
			mu.Lock()
			if callback != nil && callback.OnSlotResult != nil {
				callback.OnSlotResult(v)
			}
			remaining--
			finished := remaining == 0 && !failed
			mu.Unlock()
			if finished {
				if callback != nil && callback.OnFinish != nil {
					mainPromise.TrySucceed(callback.OnFinish())
				} else {
					mainPromise.TrySucceed(nil)
				}
			}
		}()
	}

	return mainPromise
}
