// Package topology provides a concrete, non-network-opinionated
// redisson.ConnectionManager: an address->node registry with
// generation-based garbage collection, a slot-range map with binary-search
// lookup, and a lazily-reloaded state holder. How the slot assignment is
// actually discovered stays behind the injected Loader.
package topology

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/willpyshan13/redisson"
)

// ErrClosed is returned by registry operations after Close.
var ErrClosed = errors.New("topology: registry closed")

// ErrNoNodes is returned when a registry has no known addresses at all.
var ErrNoNodes = errors.New("topology: no nodes configured")

// Dialer creates a redisson.Client for addr, lazily, the first time the
// registry needs one. Connection pooling and dial retry belong to the
// Dialer's own implementation (see package transport).
type Dialer func(addr string) (redisson.Client, error)

// Node wraps one backend connection with the bookkeeping a cluster
// deployment needs beyond what redisson.Client itself exposes: a latency
// estimate for optional closest-node routing, a failing mark with a cool-
// down window, and a generation counter GC uses to find nodes a topology
// reload no longer mentions.
type Node struct {
	addr   string
	client redisson.Client

	latency    uint32 // atomic, microseconds
	generation uint32 // atomic
	failing    uint32 // atomic, unix seconds; 0 means healthy
}

func newNode(addr string, client redisson.Client) *Node {
	return &Node{addr: addr, client: client, latency: math.MaxUint32}
}

// Addr is the address this node was dialed at.
func (n *Node) Addr() string { return n.addr }

// Client is the underlying connection.
func (n *Node) Client() redisson.Client { return n.client }

// Latency returns the last probed round-trip estimate.
func (n *Node) Latency() time.Duration {
	return time.Duration(atomic.LoadUint32(&n.latency)) * time.Microsecond
}

// probeLatency issues numProbe PINGs spaced a few milliseconds apart and
// records their mean.
func (n *Node) probeLatency(ping func(redisson.Client) error) {
	const numProbe = 10
	var total uint64
	for i := 0; i < numProbe; i++ {
		time.Sleep(time.Duration(10+rand.Intn(10)) * time.Millisecond)
		start := time.Now()
		if ping(n.client) != nil {
			continue
		}
		total += uint64(time.Since(start) / time.Microsecond)
	}
	atomic.StoreUint32(&n.latency, uint32(float64(total)/float64(numProbe)+0.5))
}

// MarkFailing records the current time as this node's last observed
// failure.
func (n *Node) MarkFailing() {
	atomic.StoreUint32(&n.failing, uint32(time.Now().Unix()))
}

// Failing reports whether this node failed within the last 15 seconds.
// The mark expires on its own once the window passes, rather than
// requiring an explicit clear.
func (n *Node) Failing() bool {
	const window = 15
	failedAt := atomic.LoadUint32(&n.failing)
	if failedAt == 0 {
		return false
	}
	if time.Now().Unix()-int64(failedAt) < window {
		return true
	}
	atomic.StoreUint32(&n.failing, 0)
	return false
}

func (n *Node) generationAtLeast() uint32 { return atomic.LoadUint32(&n.generation) }

func (n *Node) setGeneration(gen uint32) {
	for {
		cur := atomic.LoadUint32(&n.generation)
		if gen < cur || atomic.CompareAndSwapUint32(&n.generation, cur, gen) {
			return
		}
	}
}

// Registry is the address->Node table. One Registry is shared by every
// SlotMap a Manager builds over its lifetime, so a node dialed once stays
// pooled across topology reloads.
type Registry struct {
	dial Dialer

	mu          sync.RWMutex
	nodes       map[string]*Node
	addrs       []string
	activeAddrs []string
	closed      bool

	generation uint32 // atomic
}

// NewRegistry builds an empty Registry that dials new addresses via dial.
// seedAddrs, if non-empty, are used by Random/Addrs before any node has
// been marked active by a topology reload.
func NewRegistry(dial Dialer, seedAddrs []string) *Registry {
	return &Registry{dial: dial, nodes: make(map[string]*Node), addrs: append([]string(nil), seedAddrs...)}
}

// Close closes every dialed node's Client, if it implements io.Closer.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	for _, n := range r.nodes {
		if closer, ok := n.client.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	r.nodes = nil
	r.activeAddrs = nil
	return firstErr
}

// Addrs returns the currently known addresses: the active set from the
// latest reload if there is one, else the seed set.
func (r *Registry) Addrs() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	addrs := r.activeAddrs
	if len(addrs) == 0 {
		addrs = r.addrs
	}
	if len(addrs) == 0 {
		return nil, ErrNoNodes
	}
	return addrs, nil
}

// NextGeneration allocates the generation number for a new topology
// reload to stamp its nodes with.
func (r *Registry) NextGeneration() uint32 {
	return atomic.AddUint32(&r.generation, 1)
}

// GC drops every node whose generation is older than generation — the
// nodes a reload no longer mentions.
func (r *Registry) GC(generation uint32, routeByLatency bool, ping func(redisson.Client) error) {
	var collected []*Node

	r.mu.Lock()
	r.activeAddrs = r.activeAddrs[:0]
	for addr, n := range r.nodes {
		if n.generationAtLeast() >= generation {
			r.activeAddrs = append(r.activeAddrs, addr)
			if routeByLatency {
				go n.probeLatency(ping)
			}
			continue
		}
		delete(r.nodes, addr)
		collected = append(collected, n)
	}
	r.mu.Unlock()

	for _, n := range collected {
		if closer, ok := n.client.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
}

// GetOrCreate returns the Node for addr, dialing it lazily on first use.
func (r *Registry) GetOrCreate(addr string) (*Node, error) {
	if n, err := r.get(addr); err != nil {
		return nil, err
	} else if n != nil {
		return n, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if n, ok := r.nodes[addr]; ok {
		return n, nil
	}

	client, err := r.dial(addr)
	if err != nil {
		return nil, err
	}
	n := newNode(addr, client)
	r.addrs = appendIfMissing(r.addrs, addr)
	r.nodes[addr] = n
	return n, nil
}

func (r *Registry) get(addr string) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	return r.nodes[addr], nil
}

// All returns every currently-registered node.
func (r *Registry) All() ([]*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out, nil
}

// Random returns the node at a uniformly-chosen known address, dialing it
// if needed.
func (r *Registry) Random() (*Node, error) {
	addrs, err := r.Addrs()
	if err != nil {
		return nil, err
	}
	return r.GetOrCreate(addrs[rand.Intn(len(addrs))])
}

func appendIfMissing(ss []string, s string) []string {
	for _, existing := range ss {
		if existing == s {
			return ss
		}
	}
	return append(ss, s)
}
