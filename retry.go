package redisson

import (
	"context"
	"fmt"

	"github.com/willpyshan13/redisson/internal"
)

// RetryDriver drives one logical command to completion: it owns the
// argument buffers handed to it and releases them exactly once, on
// whichever terminal transition is reached.
//
// States: Issuing -> Waiting -> {Terminated, Sleeping -> Issuing, Issuing
// (after following a redirect)}. Modeled as an explicit loop rather than
// nested completion callbacks — a Go for-loop is the natural expression of
// a small finite state machine like this one.
type RetryDriver struct {
	exec *SingleExecutor
	cm   ConnectionManager
}

// NewRetryDriver builds a RetryDriver bound to cm, using exec for attempts.
func NewRetryDriver(cm ConnectionManager, exec *SingleExecutor) *RetryDriver {
	return &RetryDriver{exec: exec, cm: cm}
}

// Run drives source/cmd(args...) to completion and resolves promise. args
// is owned by Run for the duration of the call: it is released exactly
// once, on whatever terminal branch is taken, before Run returns. The
// caller must not touch args after calling Run.
func (d *RetryDriver) Run(ctx context.Context, readOnlyMode bool, source NodeSource, cmd *Command, args []interface{}, promise *Future, ignoreRedirect, noRetry bool) {
	cfg := d.cm.Config()
	attemptsLeft := cfg.RetryAttempts
	askNext := false
	cur := source

	var lastErr error
	attemptCount := 0

	for {
		attemptCount++
		res := d.exec.Attempt(ctx, readOnlyMode, cur, cmd, args, cfg.Timeout, askNext)
		askNext = false

		switch res.Outcome {
		case OutcomeSuccess:
			promise.SetUsedClient(res.Client)
			ReleaseArgs(args)
			promise.TrySucceed(res.Value)
			return

		case OutcomeFatal:
			promise.SetUsedClient(res.Client)
			ReleaseArgs(args)
			promise.TryFail(Convert(res.Err))
			return

		case OutcomeRedirect:
			if ignoreRedirect {
				promise.SetUsedClient(res.Client)
				ReleaseArgs(args)
				promise.TryFail(res.Err)
				return
			}

			newClient, err := d.cm.GetOrCreateClient(res.RedirectAddr)
			if err != nil {
				ReleaseArgs(args)
				promise.TryFail(Convert(&ConnectionError{Cause: err}))
				return
			}
			cur = Redirected(cur, newClient, res.RedirectAsk)
			askNext = res.RedirectAsk
			// Redirects do not consume retry budget.
			attemptsLeft = cfg.RetryAttempts
			continue

		case OutcomeTimedOut, OutcomeRetriable:
			lastErr = res.Err
			if noRetry {
				promise.SetUsedClient(res.Client)
				ReleaseArgs(args)
				promise.TryFail(Convert(res.Err))
				return
			}
			if attemptsLeft <= 0 {
				promise.SetUsedClient(res.Client)
				ReleaseArgs(args)
				promise.TryFail(&TimeoutError{Attempts: attemptCount, LastErr: lastErr})
				return
			}

			attemptsLeft--
			if err := internal.Sleep(ctx, cfg.RetryInterval); err != nil {
				ReleaseArgs(args)
				promise.TryFail(Convert(err))
				return
			}
			continue

		default:
			ReleaseArgs(args)
			promise.TryFail(Convert(fmt.Errorf("redisson: unknown attempt outcome %v", res.Outcome)))
			return
		}
	}
}
