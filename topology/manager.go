package topology

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/willpyshan13/redisson"
	"github.com/willpyshan13/redisson/hashslot"
)

// Loader discovers the current slot assignment from the cluster, however
// that discovery actually happens (a CLUSTER SLOTS round-trip, a gossip
// read, a static file) — genuinely out of this module's scope, so it is
// always supplied by the caller. origin is the address the assignment was
// read from, used for loopback-address rewriting.
type Loader func(ctx context.Context) (assignments []SlotAssignment, origin string, err error)

// stateHolder lazily reloads a *SlotMap, serving the last good snapshot
// while a reload is in flight and re-arming a background reload once the
// snapshot gets stale.
type stateHolder struct {
	load func(ctx context.Context) (*SlotMap, error)

	state     atomic.Value // *SlotMap
	reloading uint32       // atomic
}

func newStateHolder(load func(ctx context.Context) (*SlotMap, error)) *stateHolder {
	return &stateHolder{load: load}
}

func (h *stateHolder) Reload(ctx context.Context) (*SlotMap, error) {
	m, err := h.load(ctx)
	if err != nil {
		return nil, err
	}
	h.state.Store(m)
	return m, nil
}

func (h *stateHolder) LazyReload() {
	if !atomic.CompareAndSwapUint32(&h.reloading, 0, 1) {
		return
	}
	go func() {
		defer atomic.StoreUint32(&h.reloading, 0)
		if _, err := h.Reload(context.Background()); err != nil {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}()
}

const staleAfter = 10 * time.Second

func (h *stateHolder) Get(ctx context.Context) (*SlotMap, error) {
	v := h.state.Load()
	if v == nil {
		return h.Reload(ctx)
	}
	m := v.(*SlotMap)
	if time.Since(m.createdAt) > staleAfter {
		h.LazyReload()
	}
	return m, nil
}

// Manager is a concrete redisson.ConnectionManager: a cluster-mode
// instance holds a Registry plus a lazily-reloaded SlotMap; a single-
// entry instance holds one static *redisson.Entry and skips slot
// ownership entirely. Neither variant implements an actual topology-
// discovery wire protocol — that is the injected Loader's job.
type Manager struct {
	registry       *Registry
	codec          redisson.Codec
	config         redisson.Config
	clusterMode    bool
	routeByLatency bool
	ping           func(redisson.Client) error

	holder *stateHolder

	singleEntry *redisson.Entry
}

// NewSingleEntryManager builds a non-cluster Manager: every command routes
// to entry regardless of key, and ClusterMode reports false so fan-out/
// batched paths take their single-dispatch shortcut.
func NewSingleEntryManager(codec redisson.Codec, config redisson.Config, entry *redisson.Entry) *Manager {
	return &Manager{codec: codec, config: config, singleEntry: entry}
}

// ClusterManagerOptions configures NewClusterManager.
type ClusterManagerOptions struct {
	Codec          redisson.Codec
	Config         redisson.Config
	Dial           Dialer
	SeedAddrs      []string
	Load           Loader
	RouteByLatency bool
	// Ping issues a single round-trip health probe against client, used by
	// the optional latency-probing background goroutine. Required only
	// when RouteByLatency is set.
	Ping func(redisson.Client) error
}

// NewClusterManager builds a cluster-mode Manager backed by a fresh
// Registry, with its SlotMap reloaded on first use and lazily thereafter.
func NewClusterManager(opts ClusterManagerOptions) *Manager {
	registry := NewRegistry(opts.Dial, opts.SeedAddrs)
	m := &Manager{
		registry:       registry,
		codec:          opts.Codec,
		config:         opts.Config,
		clusterMode:    true,
		routeByLatency: opts.RouteByLatency,
		ping:           opts.Ping,
	}
	m.holder = newStateHolder(func(ctx context.Context) (*SlotMap, error) {
		assignments, origin, err := opts.Load(ctx)
		if err != nil {
			return nil, err
		}
		slotMap, err := newSlotMap(registry, assignments, origin)
		if err != nil {
			return nil, err
		}
		m.registry.GC(slotMap.generation, m.routeByLatency, m.ping)
		return slotMap, nil
	})
	return m
}

func (m *Manager) Codec() redisson.Codec   { return m.codec }
func (m *Manager) Config() redisson.Config { return m.config }
func (m *Manager) ClusterMode() bool       { return m.clusterMode }

func (m *Manager) Entries() []*redisson.Entry {
	if !m.clusterMode {
		return []*redisson.Entry{m.singleEntry}
	}
	slotMap, err := m.holder.Get(context.Background())
	if err != nil {
		return nil
	}
	return slotMap.entries()
}

var errNoSlotOwner = errors.New("topology: no node owns this slot")

func (m *Manager) EntryForSlot(slot int) (*redisson.Entry, error) {
	if !m.clusterMode {
		return m.singleEntry, nil
	}
	slotMap, err := m.holder.Get(context.Background())
	if err != nil {
		return nil, err
	}
	nodes := slotMap.allNodesForSlot(slot)
	if len(nodes) == 0 {
		return nil, errNoSlotOwner
	}
	entry := &redisson.Entry{Master: nodes[0].Client()}
	for _, n := range nodes[1:] {
		entry.Slaves = append(entry.Slaves, n.Client())
	}
	return entry, nil
}

func (m *Manager) EntryForClient(c redisson.Client) (*redisson.Entry, error) {
	for _, e := range m.Entries() {
		if e.Master == c {
			return e, nil
		}
		for _, s := range e.Slaves {
			if s == c {
				return e, nil
			}
		}
	}
	return nil, errors.New("topology: client does not belong to any known entry")
}

func (m *Manager) CalcSlot(key string) int      { return hashslot.Of(key) }
func (m *Manager) CalcSlotBytes(key []byte) int { return hashslot.OfBytes(key) }

func (m *Manager) GetOrCreateClient(addr string) (redisson.Client, error) {
	if !m.clusterMode {
		if m.singleEntry.Master.Addr() == addr {
			return m.singleEntry.Master, nil
		}
		for _, s := range m.singleEntry.Slaves {
			if s.Addr() == addr {
				return s, nil
			}
		}
		return nil, errors.New("topology: unknown address in non-cluster mode")
	}
	n, err := m.registry.GetOrCreate(addr)
	if err != nil {
		return nil, err
	}
	return n.Client(), nil
}

// Close releases every dialed connection (cluster mode only — a single-
// entry Manager does not own its Entry's clients).
func (m *Manager) Close() error {
	if m.registry == nil {
		return nil
	}
	return m.registry.Close()
}
