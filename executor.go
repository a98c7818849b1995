package redisson

import (
	"context"
	"net"
	"time"
)

// Outcome classifies the result of exactly one attempt. Retry and
// redirect-following are the RetryDriver's job (§4.4) — the executor only
// reports the classification and, for a redirect, the client to follow.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRedirect
	OutcomeRetriable
	OutcomeTimedOut
	OutcomeFatal
)

// AttemptResult is what one SingleExecutor.Attempt call produces.
type AttemptResult struct {
	Outcome Outcome
	Value   interface{}
	Err     error

	// Populated when Outcome == OutcomeRedirect.
	RedirectClient Client
	RedirectAsk    bool
	RedirectAddr   string

	// Client is always populated on success or redirect-follow-up bookkeeping:
	// it is the client the attempt actually ran against.
	Client Client
}

// SingleExecutor executes one attempt of one command against one node. It
// does not loop and does not release argument buffers — ownership and
// release-exactly-once live one level up, in the RetryDriver, since the
// same encoded args are reused across retries of the same logical command.
type SingleExecutor struct {
	cm ConnectionManager
}

// NewSingleExecutor builds a SingleExecutor bound to cm.
func NewSingleExecutor(cm ConnectionManager) *SingleExecutor {
	return &SingleExecutor{cm: cm}
}

// Attempt resolves a connection from source (honoring readOnlyMode),
// writes cmd(args...), awaits the decoded reply, and classifies the
// outcome. askPrefix, when true, first issues an ASKING pre-command on the
// same connection — the RetryDriver sets this after following an ASK
// redirect.
func (e *SingleExecutor) Attempt(ctx context.Context, readOnlyMode bool, source NodeSource, cmd *Command, args []interface{}, timeout time.Duration, askPrefix bool) AttemptResult {
	client, err := resolveClient(e.cm, source, readOnlyMode)
	if err != nil {
		return AttemptResult{Outcome: OutcomeRetriable, Err: err}
	}

	if askPrefix {
		if _, askErr := client.Call(ctx, timeout, "ASKING", nil); askErr != nil {
			return classify(askErr, client)
		}
	}

	raw, callErr := client.Call(ctx, timeout, cmd.Name, args)
	if callErr != nil {
		return classify(callErr, client)
	}

	decoded, decErr := cmd.decode(raw)
	if decErr != nil {
		return AttemptResult{Outcome: OutcomeFatal, Err: &InvalidArgumentError{Cause: decErr}, Client: client}
	}
	return AttemptResult{Outcome: OutcomeSuccess, Value: cmd.convert(decoded), Client: client}
}

// classify turns a raw error from Client.Call into an AttemptResult,
// distinguishing redirect, retriable, timed-out, and fatal outcomes.
func classify(err error, client Client) AttemptResult {
	if err == nil {
		return AttemptResult{Outcome: OutcomeSuccess, Client: client}
	}

	if err == context.DeadlineExceeded {
		return AttemptResult{Outcome: OutcomeTimedOut, Err: &TimeoutError{Attempts: 1, LastErr: err}, Client: client}
	}
	if err == context.Canceled {
		return AttemptResult{Outcome: OutcomeFatal, Err: ErrCancelled, Client: client}
	}

	if moved, ask, addr := isMovedOrAsk(err); moved || ask {
		return AttemptResult{
			Outcome:      OutcomeRedirect,
			Err:          &RedirectError{Ask: ask, Addr: addr},
			RedirectAsk:  ask,
			RedirectAddr: addr,
			Client:       client,
		}
	}

	if isNoScript(err) {
		return AttemptResult{Outcome: OutcomeFatal, Err: &ScriptMissingError{Text: err.Error()}, Client: client}
	}

	if isRedisError(err) {
		if isReadOnlyError(err) || isLoadingError(err) {
			return AttemptResult{Outcome: OutcomeRetriable, Err: &ConnectionError{Cause: err}, Client: client}
		}
		// Any other backend-reported error is not retried.
		return AttemptResult{Outcome: OutcomeFatal, Err: &ServerError{Text: err.Error()}, Client: client}
	}

	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return AttemptResult{Outcome: OutcomeTimedOut, Err: &TimeoutError{Attempts: 1, LastErr: err}, Client: client}
	}

	// Anything else (EOF, connection refused, pool exhaustion) is a
	// transport failure: retriable.
	return AttemptResult{Outcome: OutcomeRetriable, Err: &ConnectionError{Cause: err}, Client: client}
}
