package redisson

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupKeysBySlot(t *testing.T) {
	cm, _ := newFakeCluster(2, nil)
	keys := []string{"{a}one", "{a}two", "{b}one", "{a}three"}

	groups, err := groupKeysBySlot(cm, keys)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	// Same hash tag, same group, original order preserved.
	assert.Equal(t, []string{"{a}one", "{a}two", "{a}three"}, groups[0].keys)
	assert.Equal(t, []string{"{b}one"}, groups[1].keys)

	for _, g := range groups {
		assert.Equal(t, cm.CalcSlot(g.keys[0]), g.slot)
		expected, err := cm.EntryForSlot(g.slot)
		require.NoError(t, err)
		assert.Same(t, expected, g.entry)
	}
}

func TestExecuteBatchedNonCluster(t *testing.T) {
	cm, masters := newFakeCluster(1, nil)
	e := newEngine(cm, nil)

	callback := &BatchCallback{
		CreateParams: func(keys []string) []interface{} {
			args := make([]interface{}, len(keys))
			for i, k := range keys {
				args[i] = k
			}
			return args
		},
	}

	f := e.WriteBatched(context.Background(), NewCommand("DEL", nil, nil), callback, []string{"a", "b", "c"}, nil)
	_, err := f.Wait(context.Background())
	require.NoError(t, err)

	// One dispatch carries the whole key list: no partitioning off-cluster.
	require.Equal(t, 1, masters[0].callCount())
	assert.Equal(t, []string{"a", "b", "c"}, argTexts(masters[0].lastCall().Args))
}

func TestExecuteBatchedClusterPartitionsPerSlot(t *testing.T) {
	cm, masters := newFakeCluster(2, func(name string, args []interface{}) (interface{}, error) {
		return len(args), nil
	})
	e := newEngine(cm, nil)

	keys := []string{"{a}1", "{a}2", "{b}1", "{c}1"}
	groups, err := groupKeysBySlot(cm, keys)
	require.NoError(t, err)

	var mu sync.Mutex
	total := 0
	callback := &BatchCallback{
		CreateParams: func(groupKeys []string) []interface{} {
			args := make([]interface{}, len(groupKeys))
			for i, k := range groupKeys {
				args[i] = k
			}
			return args
		},
		OnSlotResult: func(v interface{}) {
			mu.Lock()
			total += v.(int)
			mu.Unlock()
		},
		OnFinish: func() interface{} { return total },
	}

	f := e.WriteBatched(context.Background(), NewCommand("DEL", nil, nil), callback, keys, nil)
	v, err := f.Wait(context.Background())
	require.NoError(t, err)

	// Every key is deleted exactly once, one dispatch per slot group.
	assert.Equal(t, len(keys), v)
	calls := 0
	for _, m := range masters {
		calls += m.callCount()
	}
	assert.Equal(t, len(groups), calls)
}

func TestExecuteBatchedWaitsForEveryGroupBeforeFailing(t *testing.T) {
	cm, masters := newFakeCluster(2, nil)
	for _, m := range masters {
		m.handler = func(name string, args []interface{}) (interface{}, error) {
			for _, a := range args {
				if argText(a) == "{bad}1" {
					return nil, &ServerError{Text: "ERR group boom"}
				}
			}
			return "OK", nil
		}
	}
	e := newEngine(cm, nil)

	var mu sync.Mutex
	okGroups := 0
	callback := &BatchCallback{
		CreateParams: func(groupKeys []string) []interface{} {
			args := make([]interface{}, len(groupKeys))
			for i, k := range groupKeys {
				args[i] = k
			}
			return args
		},
		OnSlotResult: func(interface{}) {
			mu.Lock()
			okGroups++
			mu.Unlock()
		},
	}

	keys := []string{"{good}1", "{bad}1", "{fine}1"}
	groups, gerr := groupKeysBySlot(cm, keys)
	require.NoError(t, gerr)
	failing := 0
	for _, g := range groups {
		for _, k := range g.keys {
			if k == "{bad}1" {
				failing++
			}
		}
	}

	f := e.WriteBatched(context.Background(), NewCommand("DEL", nil, nil), callback, keys, nil)
	_, err := f.Wait(context.Background())

	var se *ServerError
	require.ErrorAs(t, err, &se)
	// The failure surfaced only after every slot group terminated.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, len(groups)-failing, okGroups)
}

func TestExecuteBatchedCreateCommandRewrite(t *testing.T) {
	cm, masters := newFakeCluster(1, nil)
	e := newEngine(cm, nil)

	callback := &BatchCallback{
		CreateCommand: func(keys []string) *Command { return NewCommand("UNLINK", nil, nil) },
		CreateParams:  func(keys []string) []interface{} { return nil },
	}

	f := e.WriteBatched(context.Background(), NewCommand("DEL", nil, nil), callback, []string{"a"}, nil)
	_, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"UNLINK"}, masters[0].callNames())
}

func TestPipelineQueuesUntilExecute(t *testing.T) {
	cm, masters := newFakeCluster(2, nil)
	e := newEngine(cm, nil)
	p := newPipeline(e)

	f1 := p.WriteOnEntryAsync(context.Background(), cm.entries[0], cm.Codec(), NewCommand("SET", nil, nil), "k", "v")
	f2 := p.ReadOnEntryAsync(context.Background(), cm.entries[1], cm.Codec(), NewCommand("GET", nil, nil), "k")

	// Nothing moves before the flush.
	assert.Zero(t, masters[0].callCount())
	assert.Zero(t, masters[1].callCount())
	assert.False(t, f1.IsDone())

	done := p.ExecuteAsync(context.Background())
	_, err := done.Wait(context.Background())
	require.NoError(t, err)

	_, err = f1.Wait(context.Background())
	require.NoError(t, err)
	_, err = f2.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, masters[0].callCount())
	assert.Equal(t, 1, masters[1].callCount())

	// A second flush with an empty queue completes immediately.
	again, err := p.ExecuteAsync(context.Background()).Wait(context.Background())
	require.NoError(t, err)
	assert.Nil(t, again)
}
