// Package scriptcache implements the transparent server-side script cache:
// EVAL is rewritten to EVALSHA against a process-wide script-text -> SHA-1
// digest table, with a NOSCRIPT fallback that loads the script and
// re-dispatches, all while preserving the exactly-once buffer-release
// invariant across the fallback.
package scriptcache

import (
	"context"
	"strings"

	"github.com/willpyshan13/redisson"
)

// Dispatcher is the generic single-command async entry point the cache
// re-drives through after a successful SCRIPT LOAD. Facade and Cache both
// sit on top of the same one, so a re-dispatched EVALSHA gets full
// retry/redirect handling exactly like any other command.
type Dispatcher func(ctx context.Context, readOnlyMode bool, source redisson.NodeSource, cmd *redisson.Command, args []interface{}, ignoreRedirect, noRetry bool) *redisson.Future

// Cache is process-wide (construct one and share it) and safe for
// concurrent use.
type Cache struct {
	cm       redisson.ConnectionManager
	dispatch Dispatcher
	digests  *digestTable
}

// New builds a Cache backed by cm, driving re-dispatched commands through
// dispatch.
func New(cm redisson.ConnectionManager, dispatch Dispatcher) *Cache {
	return &Cache{cm: cm, dispatch: dispatch, digests: newDigestTable()}
}

// Active reports whether the cache should intercept this dispatch: script
// cache mode is enabled in configuration and the command's wire name is
// EVAL.
func (c *Cache) Active(evalCommand *redisson.Command) bool {
	return c.cm.Config().UseScriptCache && evalCommand.Name == "EVAL"
}

// buildArgs assembles [head, keyCount, keys..., params...] where head is
// either the script text (literal EVAL path) or its SHA-1 (EVALSHA path).
func buildArgs(head interface{}, keys []string, params []interface{}) []interface{} {
	args := make([]interface{}, 0, 2+len(keys)+len(params))
	args = append(args, head, len(keys))
	for _, k := range keys {
		args = append(args, k)
	}
	args = append(args, params...)
	return args
}

// Eval runs script against source, transparently using EVALSHA with a
// NOSCRIPT-triggered SCRIPT LOAD fallback when the cache is active, or
// dispatching the literal EVAL otherwise.
func (c *Cache) Eval(ctx context.Context, readOnlyMode bool, source redisson.NodeSource, evalCommand *redisson.Command, script string, keys []string, params []interface{}, noRetry bool) *redisson.Future {
	if !c.Active(evalCommand) {
		args := buildArgs(script, keys, params)
		return c.dispatch(ctx, readOnlyMode, source, evalCommand, args, false, noRetry)
	}

	mainPromise := redisson.NewFuture()

	// pps survives the first attempt untouched, even though the first
	// attempt's own args (built fresh from params/keys right below) get
	// released when it terminates: a later NOSCRIPT fallback re-dispatches
	// from pps, never from the already-released firstArgs.
	pps := redisson.CloneArgs(params)

	sha := c.digests.sha1Hex(script)
	evalShaCmd := evalCommand.WithName("EVALSHA")
	firstArgs := buildArgs(sha, keys, params)

	// Step 4: first attempt, retry disabled — any failure classifies
	// immediately instead of being retried by the RetryDriver.
	first := c.dispatch(ctx, readOnlyMode, source, evalShaCmd, firstArgs, false, true)

	go func() {
		v, err := first.Wait(ctx)
		usedClient := first.UsedClient()

		if err == nil {
			redisson.ReleaseArgs(pps)
			mainPromise.TrySucceed(v)
			return
		}

		if !isScriptMissing(err) {
			redisson.ReleaseArgs(pps)
			mainPromise.TryFail(err)
			return
		}

		loadFuture := c.loadScript(ctx, usedClient, script)
		_, loadErr := loadFuture.Wait(ctx)
		if loadErr != nil {
			redisson.ReleaseArgs(pps)
			mainPromise.TryFail(loadErr)
			return
		}

		// Step 6: pin the redispatched EVALSHA to the node that just
		// learned the script, regardless of how source originally routed.
		newArgs := buildArgs(sha, keys, pps)
		ns := redisson.BySlotAndClient(sourceSlot(source), usedClient)
		if source.Kind != redisson.BySlotKind {
			ns = redisson.ByClient(usedClient)
		}

		redispatched := c.dispatch(ctx, readOnlyMode, ns, evalShaCmd, newArgs, false, noRetry)
		v2, err2 := redispatched.Wait(ctx)
		if err2 != nil {
			mainPromise.TryFail(err2)
			return
		}
		mainPromise.TrySucceed(v2)
	}()

	return mainPromise
}

// loadScript issues SCRIPT LOAD script to client: as a write if client is
// the entry's master, else as a read.
func (c *Cache) loadScript(ctx context.Context, client redisson.Client, script string) *redisson.Future {
	entry, err := c.cm.EntryForClient(client)
	if err != nil {
		f := redisson.NewFuture()
		f.TryFail(err)
		return f
	}
	readOnly := entry.Master != client
	cmd := redisson.NewCommand("SCRIPT", nil, nil)
	source := redisson.ByClient(client)
	return c.dispatch(ctx, readOnly, source, cmd, []interface{}{"LOAD", script}, false, false)
}

func isScriptMissing(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOSCRIPT")
}

// sourceSlot extracts the slot a NodeSource was built for, or -1 if it
// wasn't slot-scoped (ByEntry/ByClient sources are re-dispatched with
// ByClient on the client that answered instead).
func sourceSlot(source redisson.NodeSource) int {
	if source.Kind == redisson.BySlotKind {
		return source.Slot
	}
	return -1
}
