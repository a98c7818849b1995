package redisson

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollFromAnyNonClusterForwardsNatively(t *testing.T) {
	cm, masters := newFakeCluster(1, func(name string, args []interface{}) (interface{}, error) {
		return "item", nil
	})
	p := newBlockingPollEmulator(newEngine(cm, nil))

	f := p.PollFromAny(context.Background(), NewCommand("BLPOP", nil, nil), "q1", []string{"q2", "q3"}, 5*time.Second)
	v, err := f.Wait(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "item", v)
	// One native blocking call covering every name plus the seconds budget.
	require.Equal(t, 1, masters[0].callCount())
	assert.Equal(t, []string{"q1", "q2", "q3", "5"}, argTexts(masters[0].lastCall().Args))
}

func TestPollFromAnyClusterRotatesOneSecondSteps(t *testing.T) {
	var polls int32
	cm, masters := newFakeCluster(2, func(name string, args []interface{}) (interface{}, error) {
		if atomic.AddInt32(&polls, 1) == 3 {
			return "found", nil
		}
		return nil, nil
	})
	p := newBlockingPollEmulator(newEngine(cm, nil))

	f := p.PollFromAny(context.Background(), NewCommand("BLPOP", nil, nil), "q1", []string{"q2"}, 10*time.Second)
	v, err := f.Wait(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "found", v)
	assert.EqualValues(t, 3, atomic.LoadInt32(&polls))

	// Every step was a one-second probe against a single name.
	for _, m := range masters {
		for _, call := range m.allCalls() {
			require.Len(t, call.Args, 2)
			assert.Equal(t, "1", argText(call.Args[1]))
		}
	}
}

func TestPollFromAnyClusterTimesOutNil(t *testing.T) {
	var polls int32
	cm, _ := newFakeCluster(2, func(name string, args []interface{}) (interface{}, error) {
		atomic.AddInt32(&polls, 1)
		return nil, nil
	})
	p := newBlockingPollEmulator(newEngine(cm, nil))

	f := p.PollFromAny(context.Background(), NewCommand("BLPOP", nil, nil), "q1", []string{"q2", "q3"}, 4*time.Second)
	v, err := f.Wait(context.Background())

	require.NoError(t, err)
	assert.Nil(t, v)
	// The budget counts down once per empty reply, not once per rotation.
	assert.EqualValues(t, 4, atomic.LoadInt32(&polls))
}

func TestPollFromAnyClusterFailureStopsPolling(t *testing.T) {
	cm, _ := newFakeCluster(2, func(name string, args []interface{}) (interface{}, error) {
		return nil, &ServerError{Text: "ERR poll boom"}
	})
	p := newBlockingPollEmulator(newEngine(cm, nil))

	f := p.PollFromAny(context.Background(), NewCommand("BLPOP", nil, nil), "q1", []string{"q2"}, 5*time.Second)
	_, err := f.Wait(context.Background())

	var se *ServerError
	require.ErrorAs(t, err, &se)
}
