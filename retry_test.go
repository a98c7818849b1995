package redisson

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConnReset = errors.New("connection reset by peer")

func TestRetryExhaustionAttemptCount(t *testing.T) {
	cm, masters := newFakeCluster(1, func(name string, args []interface{}) (interface{}, error) {
		return nil, errConnReset
	})
	e := newEngine(cm, nil)

	f := e.dispatch(context.Background(), false, ByClient(masters[0]), NewCommand("GET", nil, nil), nil, false, false)
	_, err := f.Wait(context.Background())

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	// retryAttempts retries on top of the initial attempt.
	assert.Equal(t, cm.cfg.RetryAttempts+1, te.Attempts)
	assert.Equal(t, cm.cfg.RetryAttempts+1, masters[0].callCount())
	assert.ErrorIs(t, te.LastErr, errConnReset)
}

func TestNoRetrySingleAttempt(t *testing.T) {
	cm, masters := newFakeCluster(1, func(name string, args []interface{}) (interface{}, error) {
		return nil, errConnReset
	})
	e := newEngine(cm, nil)

	f := e.dispatch(context.Background(), false, ByClient(masters[0]), NewCommand("GET", nil, nil), nil, false, true)
	_, err := f.Wait(context.Background())

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, masters[0].callCount())
}

func TestRedirectResetsRetryBudget(t *testing.T) {
	var node0Calls int32
	handler0 := func(name string, args []interface{}) (interface{}, error) {
		if atomic.AddInt32(&node0Calls, 1) <= 3 {
			return nil, errConnReset
		}
		return nil, &ServerError{Text: "MOVED 100 node-1:6379"}
	}
	handler1 := func(name string, args []interface{}) (interface{}, error) {
		return nil, errConnReset
	}

	cm, masters := newFakeCluster(2, nil)
	masters[0].handler = handler0
	masters[1].handler = handler1
	e := newEngine(cm, nil)

	f := e.dispatch(context.Background(), false, ByClient(masters[0]), NewCommand("GET", nil, nil), nil, false, false)
	_, err := f.Wait(context.Background())

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	// Budget exhausted on node-0, then the redirect re-armed it in full:
	// node-1 gets retryAttempts+1 attempts of its own.
	assert.Equal(t, 4, masters[0].callCount())
	assert.Equal(t, 4, masters[1].callCount())
	assert.Equal(t, 8, te.Attempts)
}

func TestAskRedirectSendsAskingPrefix(t *testing.T) {
	cm, masters := newFakeCluster(2, nil)
	masters[0].handler = func(name string, args []interface{}) (interface{}, error) {
		return nil, &ServerError{Text: "ASK 100 node-1:6379"}
	}
	masters[1].handler = nil // default "OK"
	e := newEngine(cm, nil)

	f := e.dispatch(context.Background(), false, ByClient(masters[0]), NewCommand("GET", nil, nil), nil, false, false)
	v, err := f.Wait(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "OK", v)
	assert.Equal(t, []string{"GET"}, masters[0].callNames())
	assert.Equal(t, []string{"ASKING", "GET"}, masters[1].callNames())
	assert.Same(t, masters[1], f.UsedClient().(*fakeClient))
}

func TestMovedRedirectSkipsAsking(t *testing.T) {
	cm, masters := newFakeCluster(2, nil)
	masters[0].handler = func(name string, args []interface{}) (interface{}, error) {
		return nil, &ServerError{Text: "MOVED 100 node-1:6379"}
	}
	e := newEngine(cm, nil)

	f := e.dispatch(context.Background(), false, ByClient(masters[0]), NewCommand("GET", nil, nil), nil, false, false)
	_, err := f.Wait(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"GET"}, masters[1].callNames())
}

func TestIgnoreRedirectSurfacesRedirectError(t *testing.T) {
	cm, masters := newFakeCluster(2, nil)
	masters[0].handler = func(name string, args []interface{}) (interface{}, error) {
		return nil, &ServerError{Text: "MOVED 100 node-1:6379"}
	}
	e := newEngine(cm, nil)

	f := e.dispatch(context.Background(), false, ByClient(masters[0]), NewCommand("GET", nil, nil), nil, true, false)
	_, err := f.Wait(context.Background())

	var re *RedirectError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "node-1:6379", re.Addr)
	assert.Zero(t, masters[1].callCount())
}

func TestRedirectToUnknownAddressFails(t *testing.T) {
	cm, masters := newFakeCluster(1, func(name string, args []interface{}) (interface{}, error) {
		return nil, &ServerError{Text: "MOVED 100 nowhere:6379"}
	})
	e := newEngine(cm, nil)

	f := e.dispatch(context.Background(), false, ByClient(masters[0]), NewCommand("GET", nil, nil), nil, false, false)
	_, err := f.Wait(context.Background())

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
}

// Every terminal path releases the argument buffers exactly once.
func TestArgBuffersReleasedOnEveryTerminalPath(t *testing.T) {
	paths := []struct {
		name    string
		handler func(name string, args []interface{}) (interface{}, error)
		ignore  bool
	}{
		{"success", nil, false},
		{"fatal server error", func(string, []interface{}) (interface{}, error) {
			return nil, &ServerError{Text: "ERR boom"}
		}, false},
		{"retry exhaustion", func(string, []interface{}) (interface{}, error) {
			return nil, errConnReset
		}, false},
		{"redirect surfaced", func(string, []interface{}) (interface{}, error) {
			return nil, &ServerError{Text: "MOVED 100 node-0:6379"}
		}, true},
		{"redirect to unknown node", func(string, []interface{}) (interface{}, error) {
			return nil, &ServerError{Text: "MOVED 100 nowhere:6379"}
		}, false},
	}

	for _, p := range paths {
		p := p
		t.Run(p.name, func(t *testing.T) {
			cm, masters := newFakeCluster(1, p.handler)
			e := newEngine(cm, nil)

			b1 := NewBuffer([]byte("key"))
			b2 := NewBuffer([]byte("value"))
			args := []interface{}{b1, "literal", b2}

			f := e.dispatch(context.Background(), false, ByClient(masters[0]), NewCommand("SET", nil, nil), args, p.ignore, false)
			_, _ = f.Wait(context.Background())

			assert.EqualValues(t, 0, bufRefs(b1))
			assert.EqualValues(t, 0, bufRefs(b2))
		})
	}
}

func TestRedirectFollowThenSuccessReleasesOnce(t *testing.T) {
	cm, masters := newFakeCluster(2, nil)
	masters[0].handler = func(name string, args []interface{}) (interface{}, error) {
		return nil, &ServerError{Text: "ASK 100 node-1:6379"}
	}
	e := newEngine(cm, nil)

	b := NewBuffer([]byte("key"))
	f := e.dispatch(context.Background(), false, ByClient(masters[0]), NewCommand("GET", nil, nil), []interface{}{b}, false, false)
	_, err := f.Wait(context.Background())

	require.NoError(t, err)
	// Same args travelled through both attempts, released only at the end.
	assert.EqualValues(t, 0, bufRefs(b))
}
