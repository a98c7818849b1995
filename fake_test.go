package redisson

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/willpyshan13/redisson/hashslot"
)

// fakeClient is a programmable in-memory node: every Call is recorded and
// answered by the handler, defaulting to "OK".
type fakeClient struct {
	addr    string
	handler func(name string, args []interface{}) (interface{}, error)

	mu    sync.Mutex
	calls []recordedCall
}

type recordedCall struct {
	Name string
	Args []interface{}
}

func newFakeClient(addr string, handler func(name string, args []interface{}) (interface{}, error)) *fakeClient {
	return &fakeClient{addr: addr, handler: handler}
}

func (c *fakeClient) Addr() string { return c.addr }

func (c *fakeClient) Call(ctx context.Context, timeout time.Duration, name string, args []interface{}) (interface{}, error) {
	c.mu.Lock()
	c.calls = append(c.calls, recordedCall{Name: name, Args: args})
	c.mu.Unlock()
	if c.handler == nil {
		return "OK", nil
	}
	return c.handler(name, args)
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *fakeClient) callNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.calls))
	for i, call := range c.calls {
		names[i] = call.Name
	}
	return names
}

func (c *fakeClient) allCalls() []recordedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]recordedCall, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *fakeClient) lastCall() recordedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[len(c.calls)-1]
}

// fakeCM is a ConnectionManager over a fixed entry list: slot ownership is
// an even partition of the slot space across entries, in order.
type fakeCM struct {
	cfg     Config
	cluster bool
	entries []*Entry
	clients map[string]Client
	codec   Codec
}

func testConfig() Config {
	return Config{
		RetryAttempts: 3,
		RetryInterval: time.Millisecond,
		Timeout:       100 * time.Millisecond,
	}
}

// newFakeCluster builds a cluster-mode fakeCM of n single-master entries,
// every node answering through handler.
func newFakeCluster(n int, handler func(name string, args []interface{}) (interface{}, error)) (*fakeCM, []*fakeClient) {
	cm := &fakeCM{
		cfg:     testConfig(),
		cluster: n > 1,
		clients: make(map[string]Client),
		codec:   passCodec{},
	}
	masters := make([]*fakeClient, n)
	for i := 0; i < n; i++ {
		addr := fmt.Sprintf("node-%d:6379", i)
		masters[i] = newFakeClient(addr, handler)
		cm.clients[addr] = masters[i]
		cm.entries = append(cm.entries, &Entry{Master: masters[i]})
	}
	return cm, masters
}

func (m *fakeCM) Codec() Codec          { return m.codec }
func (m *fakeCM) Config() Config        { return m.cfg }
func (m *fakeCM) ClusterMode() bool     { return m.cluster }
func (m *fakeCM) Entries() []*Entry     { return m.entries }
func (m *fakeCM) CalcSlot(key string) int      { return hashslot.Of(key) }
func (m *fakeCM) CalcSlotBytes(key []byte) int { return hashslot.OfBytes(key) }

func (m *fakeCM) EntryForSlot(slot int) (*Entry, error) {
	if len(m.entries) == 0 {
		return nil, fmt.Errorf("no entries")
	}
	per := hashslot.SlotCount / len(m.entries)
	idx := slot / per
	if idx >= len(m.entries) {
		idx = len(m.entries) - 1
	}
	return m.entries[idx], nil
}

func (m *fakeCM) EntryForClient(c Client) (*Entry, error) {
	for _, e := range m.entries {
		if e.Master == c {
			return e, nil
		}
		for _, s := range e.Slaves {
			if s == c {
				return e, nil
			}
		}
	}
	return nil, fmt.Errorf("unknown client %s", c.Addr())
}

func (m *fakeCM) GetOrCreateClient(addr string) (Client, error) {
	if c, ok := m.clients[addr]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("unknown address %s", addr)
}

// passCodec renders every value with fmt.Sprint, so test assertions can
// compare argument buffers as strings.
type passCodec struct{}

func (passCodec) EncodeValue(v interface{}) ([]byte, error)    { return []byte(fmt.Sprint(v)), nil }
func (passCodec) EncodeMapKey(v interface{}) ([]byte, error)   { return []byte("k:" + fmt.Sprint(v)), nil }
func (passCodec) EncodeMapValue(v interface{}) ([]byte, error) { return []byte("v:" + fmt.Sprint(v)), nil }

// failCodec rejects everything, for encode-failure paths.
type failCodec struct{}

func (failCodec) EncodeValue(v interface{}) ([]byte, error)    { return nil, fmt.Errorf("encode refused") }
func (failCodec) EncodeMapKey(v interface{}) ([]byte, error)   { return nil, fmt.Errorf("encode refused") }
func (failCodec) EncodeMapValue(v interface{}) ([]byte, error) { return nil, fmt.Errorf("encode refused") }

// argText renders one dispatched argument for assertions, whatever shape
// the dispatch path put it in.
func argText(a interface{}) string {
	switch t := a.(type) {
	case *Buffer:
		return string(t.Bytes())
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func argTexts(args []interface{}) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = argText(a)
	}
	return out
}

// bufRefs reads a Buffer's live reference count.
func bufRefs(b *Buffer) int32 {
	return atomic.LoadInt32(b.refs)
}
