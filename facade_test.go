package redisson

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAsyncRoutesByKeySlot(t *testing.T) {
	cm, masters := newFakeCluster(2, nil)
	f := NewFacade(cm, nil, nil)

	key := "user:1000"
	expected, err := cm.EntryForSlot(cm.CalcSlot(key))
	require.NoError(t, err)

	future := f.WriteAsync(context.Background(), key, nil, NewCommand("SET", nil, nil), key, "v")
	_, err = future.Wait(context.Background())
	require.NoError(t, err)

	for _, m := range masters {
		if m == expected.Master {
			assert.Equal(t, 1, m.callCount())
		} else {
			assert.Zero(t, m.callCount())
		}
	}
}

func TestReadPrefersReplicaWritesHitMaster(t *testing.T) {
	master := newFakeClient("m:1", nil)
	slave := newFakeClient("s:1", nil)
	cm := &fakeCM{
		cfg:     testConfig(),
		cluster: false,
		entries: []*Entry{{Master: master, Slaves: []Client{slave}}},
		clients: map[string]Client{"m:1": master, "s:1": slave},
		codec:   passCodec{},
	}
	f := NewFacade(cm, nil, nil)

	_, err := f.ReadAsync(context.Background(), "k", nil, NewCommand("GET", nil, nil), "k").Wait(context.Background())
	require.NoError(t, err)
	assert.Zero(t, master.callCount())
	assert.Equal(t, 1, slave.callCount())

	_, err = f.WriteAsync(context.Background(), "k", nil, NewCommand("SET", nil, nil), "k", "v").Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, master.callCount())
}

func TestEncodeFailureFailsWithoutDispatch(t *testing.T) {
	cm, masters := newFakeCluster(1, nil)
	f := NewFacade(cm, nil, nil)

	future := f.WriteAsync(context.Background(), "k", failCodec{}, NewCommand("SET", nil, nil), "k", "v")
	_, err := future.Wait(context.Background())

	var iae *InvalidArgumentError
	require.ErrorAs(t, err, &iae)
	assert.Zero(t, masters[0].callCount())
}

type refBuilder struct{}

func (refBuilder) ToReference(v interface{}) (interface{}, bool) {
	if s, ok := v.(string); ok && s == "live-object" {
		return "ref:live-object", true
	}
	return nil, false
}

func TestReferenceSubstitutionBeforeEncoding(t *testing.T) {
	cm, masters := newFakeCluster(1, nil)
	f := NewFacade(cm, refBuilder{}, nil)

	_, err := f.WriteAsync(context.Background(), "k", nil, NewCommand("SET", nil, nil), "k", "live-object").Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "ref:live-object"}, argTexts(masters[0].lastCall().Args))
}

func TestEvalWithoutCacheSendsLiteralEval(t *testing.T) {
	cm, masters := newFakeCluster(1, nil)
	f := NewFacade(cm, nil, nil)

	script := "return KEYS[1]"
	_, err := f.EvalWriteAsync(context.Background(), "k", NewCommand("EVAL", nil, nil), script, []string{"k1", "k2"}, "p1").Wait(context.Background())
	require.NoError(t, err)

	call := masters[0].lastCall()
	assert.Equal(t, "EVAL", call.Name)
	assert.Equal(t, []string{script, "2", "k1", "k2", "p1"}, argTexts(call.Args))
}

func TestOnClientOverloadsBypassRouting(t *testing.T) {
	cm, masters := newFakeCluster(2, nil)
	f := NewFacade(cm, nil, nil)

	_, err := f.WriteOnClientAsync(context.Background(), masters[1], nil, NewCommand("CONFIG", nil, nil), "SET", "x", "y").Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, masters[1].callCount())
	assert.Zero(t, masters[0].callCount())
}

func TestGetRefusesTransportLoopGoroutine(t *testing.T) {
	cm, _ := newFakeCluster(1, nil)
	f := NewFacade(cm, nil, func() bool { return true })
	future := NewFuture()

	_, err := f.Get(context.Background(), future)
	assert.Equal(t, ErrSyncFromLoop, err)
	_, err = f.GetInterruptible(context.Background(), future)
	assert.Equal(t, ErrSyncFromLoop, err)
	_, err = f.GetSubscription(context.Background(), future)
	assert.Equal(t, ErrSyncFromLoop, err)
}

func TestGetReturnsCompletedValue(t *testing.T) {
	cm, _ := newFakeCluster(1, nil)
	f := NewFacade(cm, nil, nil)

	future := NewFuture()
	go future.TrySucceed("done")

	v, err := f.Get(context.Background(), future)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestGetInterruptibleFailsPromise(t *testing.T) {
	cm, _ := newFakeCluster(1, nil)
	f := NewFacade(cm, nil, nil)

	future := NewFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.GetInterruptible(ctx, future)
	assert.Equal(t, ErrInterrupted, err)

	// The interruption terminated the future itself, not just the wait.
	_, err = future.Wait(context.Background())
	assert.Equal(t, ErrInterrupted, err)
}

func TestGetSubscriptionBudget(t *testing.T) {
	cm, _ := newFakeCluster(1, nil)
	cm.cfg = Config{
		RetryAttempts: 2,
		RetryInterval: 5 * time.Millisecond,
		Timeout:       10 * time.Millisecond,
	}
	f := NewFacade(cm, nil, nil)

	// timeout + retryInterval*retryAttempts.
	require.Equal(t, 20*time.Millisecond, f.subscribeBudget())

	future := NewFuture()
	start := time.Now()
	_, err := f.GetSubscription(context.Background(), future)
	elapsed := time.Since(start)

	var ste *SubscribeTimeoutError
	require.ErrorAs(t, err, &ste)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)

	// The budget expiring terminated the underlying promise too.
	_, err = future.Wait(context.Background())
	assert.ErrorAs(t, err, &ste)
}

func TestGetSubscriptionCompletedFuture(t *testing.T) {
	cm, _ := newFakeCluster(1, nil)
	f := NewFacade(cm, nil, nil)

	future := NewFuture()
	future.TrySucceed("subscribed")
	v, err := f.GetSubscription(context.Background(), future)
	require.NoError(t, err)
	assert.Equal(t, "subscribed", v)
}

func TestWriteBatchedMapInterleavesPairs(t *testing.T) {
	cm, masters := newFakeCluster(1, nil)
	f := NewFacade(cm, nil, nil)

	keys := []string{"{t}a", "{t}b"}
	values := map[string]interface{}{"{t}a": 1, "{t}b": 2}

	future := f.WriteBatchedMapAsync(context.Background(), nil, NewCommand("MSET", nil, nil), &BatchCallback{}, keys, values, nil)
	_, err := future.Wait(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, masters[0].callCount())
	assert.Equal(t, []string{"k:{t}a", "v:1", "k:{t}b", "v:2"}, argTexts(masters[0].lastCall().Args))
}

func TestWriteBatchedMapEncodeFailure(t *testing.T) {
	cm, masters := newFakeCluster(1, nil)
	f := NewFacade(cm, nil, nil)

	future := f.WriteBatchedMapAsync(context.Background(), failCodec{}, NewCommand("MSET", nil, nil), &BatchCallback{}, []string{"a"}, map[string]interface{}{"a": 1}, nil)
	_, err := future.Wait(context.Background())

	var iae *InvalidArgumentError
	require.ErrorAs(t, err, &iae)
	assert.Zero(t, masters[0].callCount())
}
