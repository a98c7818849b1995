package redisson

import "context"

// engine is the shared low-level dispatch surface both Facade and
// scriptcache.Cache drive: build a NodeSelector/SingleExecutor/RetryDriver
// once per ConnectionManager and reuse them for every command, rather than
// re-deriving routing machinery per call.
type engine struct {
	cm       ConnectionManager
	selector *NodeSelector
	exec     *SingleExecutor
	retry    *RetryDriver
	gateway  *EncoderGateway
}

func newEngine(cm ConnectionManager, refBuilder ReferenceBuilder) *engine {
	exec := NewSingleExecutor(cm)
	return &engine{
		cm:       cm,
		selector: NewNodeSelector(cm),
		exec:     exec,
		retry:    NewRetryDriver(cm, exec),
		gateway:  &EncoderGateway{RefBuilder: refBuilder},
	}
}

// dispatch runs one command through RetryDriver.Run on its own goroutine
// and owns args for the duration of the call. Every path except Pipeline,
// which calls RetryDriver.Run directly, goes through here.
func (e *engine) dispatch(ctx context.Context, readOnlyMode bool, source NodeSource, cmd *Command, args []interface{}, ignoreRedirect, noRetry bool) *Future {
	promise := NewFuture()
	go e.retry.Run(ctx, readOnlyMode, source, cmd, args, promise, ignoreRedirect, noRetry)
	return promise
}
