package redisson

import (
	"context"
	"sync"
	"sync/atomic"
)

// BatchExecutor is the batch-context contract cross-slot dispatch accepts:
// the same by-entry read/write shape the facade exposes, except that calls
// queue rather than send, and ExecuteAsync flushes everything queued so
// far. args are wire-ready (plain tokens or *Buffers); codec rides along
// for implementations that defer encoding to flush time. A caller that is
// itself batching passes its own context in so the per-slot sub-commands
// join its pipeline instead of opening a transient one.
type BatchExecutor interface {
	ReadOnEntryAsync(ctx context.Context, entry *Entry, codec Codec, cmd *Command, args ...interface{}) *Future
	WriteOnEntryAsync(ctx context.Context, entry *Entry, codec Codec, cmd *Command, args ...interface{}) *Future
	ExecuteAsync(ctx context.Context) *Future
}

// Pipeline is the transient BatchExecutor the batched dispatch path
// creates when its caller is not already one: queued commands sit until
// ExecuteAsync, then dispatch concurrently, each completing its own
// per-command Future. Layered on the core exactly like any other caller.
type Pipeline struct {
	e *engine

	mu     sync.Mutex
	queued []pipelined
}

type pipelined struct {
	readOnly bool
	entry    *Entry
	cmd      *Command
	args     []interface{}
	promise  *Future
}

// NewPipeline builds an empty Pipeline sharing f's dispatch machinery.
func NewPipeline(f *Facade) *Pipeline {
	return newPipeline(f.e)
}

func newPipeline(e *engine) *Pipeline {
	return &Pipeline{e: e}
}

// ReadOnEntryAsync queues cmd(args...) as a read pinned to entry.
func (p *Pipeline) ReadOnEntryAsync(ctx context.Context, entry *Entry, codec Codec, cmd *Command, args ...interface{}) *Future {
	return p.add(true, entry, cmd, args)
}

// WriteOnEntryAsync queues cmd(args...) as a write pinned to entry.
func (p *Pipeline) WriteOnEntryAsync(ctx context.Context, entry *Entry, codec Codec, cmd *Command, args ...interface{}) *Future {
	return p.add(false, entry, cmd, args)
}

func (p *Pipeline) add(readOnly bool, entry *Entry, cmd *Command, args []interface{}) *Future {
	promise := NewFuture()
	p.mu.Lock()
	p.queued = append(p.queued, pipelined{readOnly: readOnly, entry: entry, cmd: cmd, args: args, promise: promise})
	p.mu.Unlock()
	return promise
}

// ExecuteAsync flushes everything queued so far, dispatching each command
// through the ordinary retry path. The returned Future completes once
// every flushed command has terminated, successfully or not — per-command
// outcomes live on the Futures the queueing calls returned.
func (p *Pipeline) ExecuteAsync(ctx context.Context) *Future {
	p.mu.Lock()
	queued := p.queued
	p.queued = nil
	p.mu.Unlock()

	done := NewFuture()
	if len(queued) == 0 {
		done.TrySucceed(nil)
		return done
	}

	var remaining atomic.Int64
	remaining.Store(int64(len(queued)))
	for _, q := range queued {
		q := q
		go func() {
			p.e.retry.Run(ctx, q.readOnly, ByEntry(q.entry), q.cmd, q.args, q.promise, false, false)
			if remaining.Add(-1) == 0 {
				done.TrySucceed(nil)
			}
		}()
	}
	return done
}

// BatchCallback groups a flat key list by owning entry and slot, lets the
// caller build the per-slot command/args pair, and collects one result per
// slot group into an aggregate. Mirrors SlotCallback but keyed off the
// actual key partition rather than a fixed entry set.
type BatchCallback struct {
	// CreateCommand optionally rewrites cmd for one slot group's keys (nil
	// means reuse the original command unchanged).
	CreateCommand func(keys []string) *Command
	// CreateParams builds the args for one slot group's keys.
	CreateParams func(keys []string) []interface{}
	// OnSlotResult receives each slot group's reply as it completes.
	OnSlotResult func(result interface{})
	// OnFinish produces the aggregate once every slot group has completed.
	OnFinish func() interface{}
}

// ExecuteBatched partitions keys by owning entry and by slot (so no single
// dispatch ever straddles a CROSSLOT boundary), then runs one dispatch per
// (entry, slot) group through batch and joins them through callback. A nil
// batch gets a transient Pipeline, flushed once every group is queued, so
// groups landing on the same entry go out together; a caller already
// batching passes its own and keeps control of the flush. The overall
// promise completes only after every group has terminated; the first error
// observed is what it fails with. Non-cluster deployments skip
// partitioning entirely and dispatch once.
func (e *engine) ExecuteBatched(ctx context.Context, readOnlyMode bool, cmd *Command, callback *BatchCallback, keys []string, batch BatchExecutor) *Future {
	mainPromise := NewFuture()

	if !e.cm.ClusterMode() {
		args := callback.CreateParams(keys)
		c := cmd
		if callback.CreateCommand != nil {
			if rewritten := callback.CreateCommand(keys); rewritten != nil {
				c = rewritten
			}
		}
		f := e.dispatch(ctx, readOnlyMode, BySlot(e.cm.CalcSlot(firstKeyOrEmpty(keys))), c, args, false, false)
		go func() {
			v, err := f.Wait(ctx)
			if err != nil {
				mainPromise.TryFail(err)
				return
			}
			if callback.OnSlotResult != nil {
				callback.OnSlotResult(v)
			}
			if callback.OnFinish != nil {
				mainPromise.TrySucceed(callback.OnFinish())
			} else {
				mainPromise.TrySucceed(nil)
			}
		}()
		return mainPromise
	}

	groups, err := groupKeysBySlot(e.cm, keys)
	if err != nil {
		mainPromise.TryFail(Convert(err))
		return mainPromise
	}
	if len(groups) == 0 {
		mainPromise.TrySucceed(nil)
		return mainPromise
	}

	flush := false
	if batch == nil {
		batch = newPipeline(e)
		flush = true
	}

	var (
		remaining atomic.Int64
		mu        sync.Mutex
		firstErr  error
	)
	remaining.Store(int64(len(groups)))

	for _, g := range groups {
		g := g
		c := cmd
		if callback.CreateCommand != nil {
			if rewritten := callback.CreateCommand(g.keys); rewritten != nil {
				c = rewritten
			}
		}
		args := callback.CreateParams(g.keys)

		var f *Future
		if readOnlyMode {
			f = batch.ReadOnEntryAsync(ctx, g.entry, e.cm.Codec(), c, args...)
		} else {
			f = batch.WriteOnEntryAsync(ctx, g.entry, e.cm.Codec(), c, args...)
		}

		go func() {
			v, err := f.Wait(ctx)
			mu.Lock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
			} else if callback.OnSlotResult != nil {
				callback.OnSlotResult(v)
			}
			mu.Unlock()

			if remaining.Add(-1) != 0 {
				return
			}
			mu.Lock()
			failed := firstErr
			mu.Unlock()
			if failed != nil {
				mainPromise.TryFail(failed)
			} else if callback.OnFinish != nil {
				mainPromise.TrySucceed(callback.OnFinish())
			} else {
				mainPromise.TrySucceed(nil)
			}
		}()
	}

	if flush {
		batch.ExecuteAsync(ctx)
	}
	return mainPromise
}

type slotGroup struct {
	entry *Entry
	slot  int
	keys  []string
}

// groupKeysBySlot buckets keys by slot and records each slot's owning
// entry, ordering groups by the first appearance of their slot in keys —
// one dispatch per slot group is still required even within a single
// entry, since a master can own several discontiguous hash-tag groups.
func groupKeysBySlot(cm ConnectionManager, keys []string) ([]slotGroup, error) {
	bySlot := make(map[int]*slotGroup)
	order := make([]int, 0)
	for _, k := range keys {
		slot := cm.CalcSlot(k)
		g, ok := bySlot[slot]
		if !ok {
			entry, err := cm.EntryForSlot(slot)
			if err != nil {
				return nil, err
			}
			g = &slotGroup{entry: entry, slot: slot}
			bySlot[slot] = g
			order = append(order, slot)
		}
		g.keys = append(g.keys, k)
	}
	groups := make([]slotGroup, 0, len(order))
	for _, slot := range order {
		groups = append(groups, *bySlot[slot])
	}
	return groups, nil
}

func firstKeyOrEmpty(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

// ReadBatched is the read-mode convenience wrapper around ExecuteBatched.
func (e *engine) ReadBatched(ctx context.Context, cmd *Command, callback *BatchCallback, keys []string, batch BatchExecutor) *Future {
	return e.ExecuteBatched(ctx, true, cmd, callback, keys, batch)
}

// WriteBatched is the write-mode convenience wrapper around ExecuteBatched.
func (e *engine) WriteBatched(ctx context.Context, cmd *Command, callback *BatchCallback, keys []string, batch BatchExecutor) *Future {
	return e.ExecuteBatched(ctx, false, cmd, callback, keys, batch)
}
