package redisson

import (
	"context"
	"time"
)

// ScriptEvaluator is the one method Facade needs from a script cache front
// end. scriptcache.Cache satisfies it structurally: Facade never imports
// package scriptcache, so the dependency runs the other way (scriptcache
// already imports this package for NodeSource/Command/Future), and no
// import cycle results. A nil ScriptEvaluator just means eval commands
// always go out as literal EVAL, uncached.
type ScriptEvaluator interface {
	Eval(ctx context.Context, readOnlyMode bool, source NodeSource, evalCommand *Command, script string, keys []string, params []interface{}, noRetry bool) *Future
}

// Facade is the single entry point application code drives: the full
// read/write/eval overload family by key, entry, or client, with or
// without an explicit codec, plus scatter/batch/blocking-poll helpers and
// the synchronous bridge for callers outside an async context.
type Facade struct {
	e        *engine
	cache    ScriptEvaluator
	scatter  *Scatter
	poll     *BlockingPollEmulator
	loopFlag func() bool
}

// NewFacade builds a Facade over cm. refBuilder may be nil (no reference
// substitution). isLoopGoroutine, when non-nil, is consulted by the sync
// bridge to refuse a blocking wait from one of the transport's own worker
// goroutines. A script cache is installed afterwards with SetScriptCache,
// since the cache re-drives commands through the facade's own Dispatch.
func NewFacade(cm ConnectionManager, refBuilder ReferenceBuilder, isLoopGoroutine func() bool) *Facade {
	e := newEngine(cm, refBuilder)
	return &Facade{
		e:        e,
		scatter:  newScatter(e),
		poll:     newBlockingPollEmulator(e),
		loopFlag: isLoopGoroutine,
	}
}

// SetScriptCache installs cache as the eval interceptor. nil uninstalls,
// making EVAL always go out uncached.
func (f *Facade) SetScriptCache(cache ScriptEvaluator) {
	f.cache = cache
}

// Dispatch is the low-level single-command entry point: it owns args for
// the duration of the call and releases every buffer in it exactly once.
// Exposed so a script-cache front end can re-drive a rewritten command
// through the same retry/redirect machinery every other command uses.
func (f *Facade) Dispatch(ctx context.Context, readOnlyMode bool, source NodeSource, cmd *Command, args []interface{}, ignoreRedirect, noRetry bool) *Future {
	return f.e.dispatch(ctx, readOnlyMode, source, cmd, args, ignoreRedirect, noRetry)
}

func (f *Facade) codecOrDefault(codec Codec) Codec {
	if codec != nil {
		return codec
	}
	return f.e.cm.Codec()
}

func (f *Facade) encodeArgs(codec Codec, params []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(params))
	for i, p := range params {
		buf, err := f.e.gateway.EncodeValue(codec, p)
		if err != nil {
			ReleaseArgs(out[:i])
			return nil, err
		}
		out[i] = buf
	}
	return out, nil
}

// ReadAsync dispatches cmd(params...) as a read, routed by key.
func (f *Facade) ReadAsync(ctx context.Context, key string, codec Codec, cmd *Command, params ...interface{}) *Future {
	return f.readWrite(ctx, true, f.e.selector.ForKey(key), codec, cmd, params)
}

// ReadBytesAsync is the []byte-key counterpart of ReadAsync.
func (f *Facade) ReadBytesAsync(ctx context.Context, key []byte, codec Codec, cmd *Command, params ...interface{}) *Future {
	return f.readWrite(ctx, true, f.e.selector.ForBytes(key), codec, cmd, params)
}

// ReadOnEntryAsync dispatches cmd(params...) as a read pinned to entry.
func (f *Facade) ReadOnEntryAsync(ctx context.Context, entry *Entry, codec Codec, cmd *Command, params ...interface{}) *Future {
	return f.readWrite(ctx, true, f.e.selector.ForEntry(entry), codec, cmd, params)
}

// ReadOnClientAsync dispatches cmd(params...) as a read pinned to client,
// bypassing slot routing entirely.
func (f *Facade) ReadOnClientAsync(ctx context.Context, client Client, codec Codec, cmd *Command, params ...interface{}) *Future {
	return f.readWrite(ctx, true, f.e.selector.ForClient(client), codec, cmd, params)
}

// WriteAsync dispatches cmd(params...) as a write, routed by key.
func (f *Facade) WriteAsync(ctx context.Context, key string, codec Codec, cmd *Command, params ...interface{}) *Future {
	return f.readWrite(ctx, false, f.e.selector.ForKey(key), codec, cmd, params)
}

// WriteBytesAsync is the []byte-key counterpart of WriteAsync.
func (f *Facade) WriteBytesAsync(ctx context.Context, key []byte, codec Codec, cmd *Command, params ...interface{}) *Future {
	return f.readWrite(ctx, false, f.e.selector.ForBytes(key), codec, cmd, params)
}

// WriteOnEntryAsync dispatches cmd(params...) as a write pinned to entry.
func (f *Facade) WriteOnEntryAsync(ctx context.Context, entry *Entry, codec Codec, cmd *Command, params ...interface{}) *Future {
	return f.readWrite(ctx, false, f.e.selector.ForEntry(entry), codec, cmd, params)
}

// WriteOnClientAsync dispatches cmd(params...) as a write pinned to
// client, bypassing slot routing entirely.
func (f *Facade) WriteOnClientAsync(ctx context.Context, client Client, codec Codec, cmd *Command, params ...interface{}) *Future {
	return f.readWrite(ctx, false, f.e.selector.ForClient(client), codec, cmd, params)
}

func (f *Facade) readWrite(ctx context.Context, readOnlyMode bool, source NodeSource, codec Codec, cmd *Command, params []interface{}) *Future {
	c := f.codecOrDefault(codec)
	args, err := f.encodeArgs(c, params)
	if err != nil {
		promise := NewFuture()
		promise.TryFail(err)
		return promise
	}
	return f.e.dispatch(ctx, readOnlyMode, source, cmd, args, false, f.e.cm.Config().NoRetryDefault)
}

// EvalReadAsync runs script as a read, through the script cache when one
// is configured.
func (f *Facade) EvalReadAsync(ctx context.Context, key string, evalCommand *Command, script string, keys []string, params ...interface{}) *Future {
	return f.eval(ctx, true, f.e.selector.ForKey(key), evalCommand, script, keys, params, false)
}

// EvalWriteAsync runs script as a write, through the script cache when one
// is configured.
func (f *Facade) EvalWriteAsync(ctx context.Context, key string, evalCommand *Command, script string, keys []string, params ...interface{}) *Future {
	return f.eval(ctx, false, f.e.selector.ForKey(key), evalCommand, script, keys, params, false)
}

// EvalWriteNoRetryAsync is EvalWriteAsync with automatic retry disabled on
// the redispatched EVALSHA after a NOSCRIPT fallback, for callers that
// must not risk applying a script's side effects twice.
func (f *Facade) EvalWriteNoRetryAsync(ctx context.Context, key string, evalCommand *Command, script string, keys []string, params ...interface{}) *Future {
	return f.eval(ctx, false, f.e.selector.ForKey(key), evalCommand, script, keys, params, true)
}

// EvalOnEntryAsync runs script against a specific entry, as a write unless
// readOnlyMode is set.
func (f *Facade) EvalOnEntryAsync(ctx context.Context, entry *Entry, readOnlyMode bool, evalCommand *Command, script string, keys []string, params ...interface{}) *Future {
	return f.eval(ctx, readOnlyMode, f.e.selector.ForEntry(entry), evalCommand, script, keys, params, false)
}

func (f *Facade) eval(ctx context.Context, readOnlyMode bool, source NodeSource, evalCommand *Command, script string, keys []string, params []interface{}, noRetry bool) *Future {
	if f.cache == nil {
		args := make([]interface{}, 0, 2+len(keys)+len(params))
		args = append(args, script, len(keys))
		for _, k := range keys {
			args = append(args, k)
		}
		args = append(args, params...)
		return f.e.dispatch(ctx, readOnlyMode, source, evalCommand, args, false, noRetry)
	}
	return f.cache.Eval(ctx, readOnlyMode, source, evalCommand, script, keys, params, noRetry)
}

// ReadAllAsync fans cmd(params...) out to every entry as a read.
func (f *Facade) ReadAllAsync(ctx context.Context, cmd *Command, callback *SlotCallback, params ...interface{}) *Future {
	args, err := f.encodeArgs(f.codecOrDefault(nil), params)
	if err != nil {
		promise := NewFuture()
		promise.TryFail(err)
		return promise
	}
	return f.scatter.ReadAll(ctx, cmd, args, callback)
}

// WriteAllAsync fans cmd(params...) out to every entry as a write.
func (f *Facade) WriteAllAsync(ctx context.Context, cmd *Command, callback *SlotCallback, params ...interface{}) *Future {
	args, err := f.encodeArgs(f.codecOrDefault(nil), params)
	if err != nil {
		promise := NewFuture()
		promise.TryFail(err)
		return promise
	}
	return f.scatter.WriteAll(ctx, cmd, args, callback)
}

// ReadAllCollectAsync fans cmd(params...) out to every entry and flattens
// every reply into one slice.
func (f *Facade) ReadAllCollectAsync(ctx context.Context, cmd *Command, params ...interface{}) *Future {
	args, err := f.encodeArgs(f.codecOrDefault(nil), params)
	if err != nil {
		promise := NewFuture()
		promise.TryFail(err)
		return promise
	}
	return f.scatter.ReadAllCollect(ctx, cmd, args)
}

// ReadRandomAsync dispatches cmd(params...) against entries in turn,
// stopping at the first non-nil reply.
func (f *Facade) ReadRandomAsync(ctx context.Context, cmd *Command, entries []*Entry, params ...interface{}) *Future {
	if entries == nil {
		entries = f.e.cm.Entries()
	}
	args, err := f.encodeArgs(f.codecOrDefault(nil), params)
	if err != nil {
		promise := NewFuture()
		promise.TryFail(err)
		return promise
	}
	return f.scatter.ReadRandom(ctx, cmd, args, entries)
}

// EvalWriteAllAsync runs script as a write against every entry, with
// per-entry keys/params supplied by the caller. The fan-out always sends
// the literal script, bypassing the EVALSHA rewrite.
func (f *Facade) EvalWriteAllAsync(ctx context.Context, evalCommand *Command, callback *SlotCallback, script string, keysPerEntry func(*Entry) []string, paramsPerEntry func(*Entry) []interface{}) *Future {
	return f.scatter.EvalWriteAll(ctx, evalCommand, callback, script, keysPerEntry, paramsPerEntry)
}

// ReadBatchedAsync partitions keys by entry and slot and runs cmd as a
// read against each group, joined through callback. batch may be nil (a
// transient Pipeline is created and flushed) or the caller's own batch
// context, in which case the caller keeps control of the flush.
func (f *Facade) ReadBatchedAsync(ctx context.Context, cmd *Command, callback *BatchCallback, keys []string, batch BatchExecutor) *Future {
	return f.e.ReadBatched(ctx, cmd, callback, keys, batch)
}

// WriteBatchedAsync partitions keys by entry and slot and runs cmd as a
// write against each group, joined through callback. See ReadBatchedAsync
// for the batch parameter's contract.
func (f *Facade) WriteBatchedAsync(ctx context.Context, cmd *Command, callback *BatchCallback, keys []string, batch BatchExecutor) *Future {
	return f.e.WriteBatched(ctx, cmd, callback, keys, batch)
}

// WriteBatchedMapAsync is the valueMap form of WriteBatchedAsync: each slot
// group's arguments interleave [k, v, k, v, ...] in the caller-provided key
// order, with keys encoded as map keys and values as map values. callback
// still gets CreateCommand/OnSlotResult/OnFinish; its CreateParams is
// ignored in favor of the interleave.
func (f *Facade) WriteBatchedMapAsync(ctx context.Context, codec Codec, cmd *Command, callback *BatchCallback, keys []string, valueMap map[string]interface{}, batch BatchExecutor) *Future {
	c := f.codecOrDefault(codec)

	// Encode every pair up front so an invalid value fails the whole call
	// before anything has been queued. Each key lands in exactly one slot
	// group, so ownership of its pair transfers cleanly into that group's
	// args.
	pairs := make(map[string][2]*Buffer, len(keys))
	for _, k := range keys {
		kb, err := f.e.gateway.EncodeMapKey(c, k)
		if err != nil {
			releasePairs(pairs)
			failed := NewFuture()
			failed.TryFail(err)
			return failed
		}
		vb, err := f.e.gateway.EncodeMapValue(c, valueMap[k])
		if err != nil {
			kb.Release()
			releasePairs(pairs)
			failed := NewFuture()
			failed.TryFail(err)
			return failed
		}
		pairs[k] = [2]*Buffer{kb, vb}
	}

	// Slot groups build their args synchronously before WriteBatched
	// returns, so consumed is safe as a plain flag: if it is still false
	// afterwards, grouping failed before any group ran and every encoded
	// pair is still ours to release.
	consumed := false
	interleaved := &BatchCallback{
		CreateCommand: callback.CreateCommand,
		CreateParams: func(groupKeys []string) []interface{} {
			consumed = true
			args := make([]interface{}, 0, 2*len(groupKeys))
			for _, k := range groupKeys {
				p := pairs[k]
				args = append(args, p[0], p[1])
			}
			return args
		},
		OnSlotResult: callback.OnSlotResult,
		OnFinish:     callback.OnFinish,
	}
	future := f.e.WriteBatched(ctx, cmd, interleaved, keys, batch)
	if !consumed {
		releasePairs(pairs)
	}
	return future
}

func releasePairs(pairs map[string][2]*Buffer) {
	for _, p := range pairs {
		p[0].Release()
		p[1].Release()
	}
}

// PollFromAnyAsync polls name and queueNames for the first non-nil reply,
// emulating a single-node blocking pop across cluster-scattered names.
func (f *Facade) PollFromAnyAsync(ctx context.Context, cmd *Command, name string, queueNames []string, timeout time.Duration) *Future {
	return f.poll.PollFromAny(ctx, cmd, name, queueNames, timeout)
}

// Get blocks the calling goroutine until future completes, refusing to do
// so from one of the transport's own worker goroutines (where blocking
// would deadlock the connection that the future itself depends on).
func (f *Facade) Get(ctx context.Context, future *Future) (interface{}, error) {
	if f.loopFlag != nil && f.loopFlag() {
		return nil, ErrSyncFromLoop
	}
	select {
	case <-future.Done():
		v, err := future.Wait(ctx)
		return v, err
	case <-ctx.Done():
		select {
		case <-future.Done():
			return future.Wait(ctx)
		default:
			future.Cancel()
			return nil, ctx.Err()
		}
	}
}

// GetInterruptible is Get's variant for callers that want an external
// cancellation to terminate the future itself, not just the wait: the
// underlying promise is failed with the interruption before the error is
// returned.
func (f *Facade) GetInterruptible(ctx context.Context, future *Future) (interface{}, error) {
	if f.loopFlag != nil && f.loopFlag() {
		return nil, ErrSyncFromLoop
	}
	select {
	case <-future.Done():
		return future.Wait(ctx)
	case <-ctx.Done():
		future.TryFail(ErrInterrupted)
		return nil, ErrInterrupted
	}
}

// subscribeBudget is the subscription bridge's own deadline: the ordinary
// per-attempt timeout plus one full retry cycle's worth of backoff, since
// establishing a subscription can legitimately ride out that many
// reconnects before the pool should be declared undersized.
func (f *Facade) subscribeBudget() time.Duration {
	cfg := f.e.cm.Config()
	return cfg.Timeout + cfg.RetryInterval*time.Duration(cfg.RetryAttempts)
}

// GetSubscription awaits a subscription-establishment future under the
// subscription-specific budget. On budget exhaustion the underlying
// promise is failed with a SubscribeTimeoutError before the error is
// returned, so late transport completions find it already terminated.
func (f *Facade) GetSubscription(ctx context.Context, future *Future) (interface{}, error) {
	if f.loopFlag != nil && f.loopFlag() {
		return nil, ErrSyncFromLoop
	}
	budget := f.subscribeBudget()
	t := time.NewTimer(budget)
	defer t.Stop()

	select {
	case <-future.Done():
		return future.Wait(ctx)
	case <-t.C:
		err := &SubscribeTimeoutError{Budget: budget.String()}
		future.TryFail(err)
		return future.Wait(ctx)
	case <-ctx.Done():
		future.Cancel()
		return nil, ctx.Err()
	}
}
