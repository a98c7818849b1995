package redisson

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled completes a Future that was cancelled by its caller.
var ErrCancelled = errors.New("redisson: promise cancelled")

// ErrInterrupted is returned by the interruptible sync bridge when the
// calling thread's interruption is observed while waiting.
var ErrInterrupted = errors.New("redisson: interrupted while waiting for reply")

// ErrSyncFromLoop is raised by the sync bridge when invoked from a
// goroutine the transport has marked as one of its own worker loops —
// blocking there would deadlock the transport by construction.
var ErrSyncFromLoop = errors.New("redisson: sync methods can't be invoked from the transport's own loop")

// InvalidArgumentError — encoding failed, or a null key was supplied where
// the routing mode does not accept one. Never retried.
type InvalidArgumentError struct {
	Cause error
}

func (e *InvalidArgumentError) Error() string {
	return "redisson: invalid argument: " + e.Cause.Error()
}
func (e *InvalidArgumentError) Unwrap() error { return e.Cause }

// TimeoutError — retry budget exhausted while every attempt timed out or
// came back retriable. Carries the attempt count and the last cause for
// diagnostics.
type TimeoutError struct {
	Attempts int
	LastErr  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("redisson: command timed out after %d attempt(s), last error: %v", e.Attempts, e.LastErr)
}
func (e *TimeoutError) Unwrap() error { return e.LastErr }

// ConnectionError — socket failure or pool exhaustion. Retriable.
type ConnectionError struct {
	Cause error
}

func (e *ConnectionError) Error() string { return "redisson: connection error: " + e.Cause.Error() }
func (e *ConnectionError) Unwrap() error { return e.Cause }

// RedirectError — a MOVED/ASK reply. Surfaced to the caller only when the
// dispatch was started with ignoreRedirect=true (Scatter/Gather's way of
// treating a mid-fan-out redirect as an accepted, if unusual, success).
type RedirectError struct {
	Ask    bool
	Client Client
	Addr   string
}

func (e *RedirectError) Error() string {
	kind := "MOVED"
	if e.Ask {
		kind = "ASK"
	}
	return fmt.Sprintf("redisson: redirect %s %s", kind, e.Addr)
}

// ScriptMissingError — a NOSCRIPT reply during the EVALSHA path. Never
// surfaced to a caller; it always triggers the ScriptCache's load fallback.
type ScriptMissingError struct {
	Text string
}

func (e *ScriptMissingError) Error() string { return e.Text }

// ServerError — any other backend-reported error. Not retried; surfaced
// with the server's own text.
type ServerError struct {
	Text string
}

func (e *ServerError) Error() string { return e.Text }

// RedisError marks e as a reply the backend itself returned, as opposed to
// a transport-level failure.
func (e *ServerError) RedisError() {}

// SubscribeTimeoutError — the subscription bridge's own budget
// (timeout + retryInterval*retryAttempts) elapsed before the subscription
// future completed.
type SubscribeTimeoutError struct {
	Budget string
}

func (e *SubscribeTimeoutError) Error() string {
	return fmt.Sprintf("redisson: subscribe timeout (%s): increase the subscription connection pool parameters", e.Budget)
}

// UnexpectedError wraps a cause the classifier didn't recognize so callers
// always see a redisson error type.
type UnexpectedError struct {
	Cause error
}

func (e *UnexpectedError) Error() string {
	return "redisson: unexpected exception while processing command: " + e.Cause.Error()
}
func (e *UnexpectedError) Unwrap() error { return e.Cause }

// Convert wraps any error that isn't already one of the taxonomy types in
// an UnexpectedError, preserving it as the cause.
func Convert(err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *InvalidArgumentError, *TimeoutError, *ConnectionError, *RedirectError,
		*ScriptMissingError, *ServerError, *SubscribeTimeoutError, *UnexpectedError:
		return err
	}
	if err == ErrCancelled || err == ErrInterrupted {
		return err
	}
	return &UnexpectedError{Cause: err}
}

// isRedisError reports whether err was reported by the backend itself
// (carries a RedisError marker) as opposed to a transport failure.
func isRedisError(err error) bool {
	type redisError interface {
		RedisError()
	}
	_, ok := err.(redisError)
	return ok
}

// isMovedOrAsk parses a backend "MOVED <slot> <addr>" / "ASK <slot> <addr>"
// reply.
func isMovedOrAsk(err error) (moved, ask bool, addr string) {
	if !isRedisError(err) {
		return false, false, ""
	}
	s := err.Error()
	switch {
	case strings.HasPrefix(s, "MOVED "):
		moved = true
	case strings.HasPrefix(s, "ASK "):
		ask = true
	default:
		return false, false, ""
	}
	idx := strings.LastIndex(s, " ")
	if idx == -1 {
		return false, false, ""
	}
	return moved, ask, s[idx+1:]
}

// isLoadingError reports a backend "LOADING ..." reply.
func isLoadingError(err error) bool {
	return isRedisError(err) && strings.HasPrefix(err.Error(), "LOADING ")
}

// isReadOnlyError reports a backend "READONLY ..." reply.
func isReadOnlyError(err error) bool {
	return isRedisError(err) && strings.HasPrefix(err.Error(), "READONLY ")
}

// isNoScript reports a backend "NOSCRIPT ..." reply.
func isNoScript(err error) bool {
	return isRedisError(err) && strings.HasPrefix(err.Error(), "NOSCRIPT")
}
