package redisson

import (
	"context"
	"time"
)

// BlockingPollEmulator emulates a single-node blocking pop (BLPOP-style,
// one second at a time) across a cluster deployment, where the queue's
// several names may live on different entries and a real multi-key
// blocking call could span a CROSSLOT boundary. Non-cluster deployments
// just forward the blocking call to the backend directly, since a single
// node can block across all the given keys itself.
type BlockingPollEmulator struct {
	e *engine
}

func newBlockingPollEmulator(e *engine) *BlockingPollEmulator {
	return &BlockingPollEmulator{e: e}
}

// PollFromAny polls name and queueNames in rotation, one second at a time,
// for up to timeout, returning the first non-nil reply. In non-cluster
// mode it instead issues one native blocking call covering every name,
// since there is no CROSSLOT concern to emulate around.
func (p *BlockingPollEmulator) PollFromAny(ctx context.Context, cmd *Command, name string, queueNames []string, timeout time.Duration) *Future {
	if !p.e.cm.ClusterMode() || len(queueNames) == 0 {
		args := make([]interface{}, 0, len(queueNames)+2)
		args = append(args, name)
		for _, q := range queueNames {
			args = append(args, q)
		}
		args = append(args, int(timeout/time.Second))
		return p.e.dispatch(ctx, false, BySlot(p.e.cm.CalcSlot(name)), cmd, args, false, false)
	}

	names := make([]string, 0, len(queueNames)+1)
	names = append(names, name)
	names = append(names, queueNames...)

	mainPromise := NewFuture()
	secondsLeft := int64(timeout / time.Second)
	if secondsLeft <= 0 {
		secondsLeft = 1
	}
	p.pollStep(ctx, cmd, names, 0, secondsLeft, mainPromise)
	return mainPromise
}

// pollStep issues one one-second blocking attempt against names[idx],
// wrapping idx back to 0 once it runs past the end of the list, and
// decrementing secondsLeft on every empty reply, not just once per
// rotation, so the caller's timeout is an upper bound.
func (p *BlockingPollEmulator) pollStep(ctx context.Context, cmd *Command, names []string, idx int, secondsLeft int64, mainPromise *Future) {
	if idx >= len(names) {
		idx = 0
	}
	current := names[idx]
	f := p.e.dispatch(ctx, false, BySlot(p.e.cm.CalcSlot(current)), cmd, []interface{}{current, 1}, false, false)

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
		secondsLeft--
		if secondsLeft <= 0 {
			mainPromise.TrySucceed(nil)
			return
		}
		p.pollStep(ctx, cmd, names, idx+1, secondsLeft, mainPromise)
	}()
}
