package topology

import (
	"math/rand"
	"net"
	"sort"
	"time"

	"github.com/willpyshan13/redisson"
)

// SlotAssignment is one contiguous slot range and the nodes responsible
// for it, as a topology-discovery hook (outside this package's scope)
// would report it: index 0 is the master, the rest are replicas.
type SlotAssignment struct {
	Start, End int
	Addrs      []string
}

type slotRange struct {
	start, end int
	nodes      []*Node
}

// SlotMap is an immutable snapshot of slot ownership: built once from a
// set of SlotAssignments, replaced wholesale on the next reload rather
// than mutated in place, so concurrent readers never observe a
// half-updated mapping.
type SlotMap struct {
	registry *Registry

	masters []*Node
	slaves  []*Node
	slots   []slotRange

	generation uint32
	createdAt  time.Time
}

// newSlotMap builds a SlotMap over assignments, rewriting any advertised
// loopback address to origin's host, for nodes that advertise 127.0.0.1
// from behind a NAT or Docker boundary.
func newSlotMap(registry *Registry, assignments []SlotAssignment, origin string) (*SlotMap, error) {
	m := &SlotMap{
		registry:   registry,
		slots:      make([]slotRange, 0, len(assignments)),
		generation: registry.NextGeneration(),
		createdAt:  time.Now(),
	}

	originHost, _, _ := net.SplitHostPort(origin)
	originIsLoopback := isLoopback(originHost)

	for _, a := range assignments {
		nodes := make([]*Node, 0, len(a.Addrs))
		for i, addr := range a.Addrs {
			if !originIsLoopback {
				addr = replaceLoopbackHost(addr, originHost)
			}
			n, err := registry.GetOrCreate(addr)
			if err != nil {
				return nil, err
			}
			n.setGeneration(m.generation)
			nodes = append(nodes, n)
			if i == 0 {
				m.masters = appendUniqueNode(m.masters, n)
			} else {
				m.slaves = appendUniqueNode(m.slaves, n)
			}
		}
		m.slots = append(m.slots, slotRange{start: a.Start, end: a.End, nodes: nodes})
	}

	sort.Slice(m.slots, func(i, j int) bool { return m.slots[i].start < m.slots[j].start })
	return m, nil
}

func appendUniqueNode(nodes []*Node, n *Node) []*Node {
	for _, existing := range nodes {
		if existing == n {
			return nodes
		}
	}
	return append(nodes, n)
}

func replaceLoopbackHost(nodeAddr, originHost string) string {
	nodeHost, nodePort, err := net.SplitHostPort(nodeAddr)
	if err != nil {
		return nodeAddr
	}
	ip := net.ParseIP(nodeHost)
	if ip == nil || !ip.IsLoopback() {
		return nodeAddr
	}
	return net.JoinHostPort(originHost, nodePort)
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return true
	}
	return ip.IsLoopback()
}

// nodesForSlot binary-searches the sorted slot ranges for the one owning
// slot.
func (m *SlotMap) nodesForSlot(slot int) []*Node {
	i := sort.Search(len(m.slots), func(i int) bool { return m.slots[i].end >= slot })
	if i >= len(m.slots) {
		return nil
	}
	r := m.slots[i]
	if slot >= r.start && slot <= r.end {
		return r.nodes
	}
	return nil
}

// MasterNode returns the master responsible for slot, or a random known
// node if no range covers it; a later reload corrects the mapping.
func (m *SlotMap) MasterNode(slot int) (*Node, error) {
	if nodes := m.nodesForSlot(slot); len(nodes) > 0 {
		return nodes[0], nil
	}
	return m.registry.Random()
}

// SlaveNode returns a replica for slot, preferring a non-failing one and
// falling back to the master when every replica is marked failing.
func (m *SlotMap) SlaveNode(slot int) (*Node, error) {
	nodes := m.nodesForSlot(slot)
	switch len(nodes) {
	case 0:
		return m.registry.Random()
	case 1:
		return nodes[0], nil
	case 2:
		if slave := nodes[1]; !slave.Failing() {
			return slave, nil
		}
		return nodes[0], nil
	default:
		for i := 0; i < 10; i++ {
			slave := nodes[rand.Intn(len(nodes)-1)+1]
			if !slave.Failing() {
				return slave, nil
			}
		}
		return nodes[0], nil
	}
}

// ClosestNode returns the non-failing replica or master with the lowest
// probed latency for slot. Latencies are only probed when RouteByLatency is
// set; Manager's entry resolution does not call ClosestNode.
func (m *SlotMap) ClosestNode(slot int) (*Node, error) {
	nodes := m.nodesForSlot(slot)
	if len(nodes) == 0 {
		return m.registry.Random()
	}
	var best *Node
	for _, n := range nodes {
		if n.Failing() {
			continue
		}
		if best == nil || n.Latency() < best.Latency() {
			best = n
		}
	}
	if best != nil {
		return best, nil
	}
	return m.registry.Random()
}

// allNodesForSlot exposes the full (master + replicas) list for slot, used
// by Manager.EntryForSlot.
func (m *SlotMap) allNodesForSlot(slot int) []*Node {
	return m.nodesForSlot(slot)
}

// entries groups every slot range's nodes into one *redisson.Entry per
// distinct master, the shard granularity the dispatch core reasons about
// (several discontiguous slot ranges can share one master after a
// reshard).
func (m *SlotMap) entries() []*redisson.Entry {
	byMaster := make(map[*Node]*redisson.Entry)
	order := make([]*Node, 0)
	for _, r := range m.slots {
		if len(r.nodes) == 0 {
			continue
		}
		master := r.nodes[0]
		e, ok := byMaster[master]
		if !ok {
			e = &redisson.Entry{Master: master.Client()}
			byMaster[master] = e
			order = append(order, master)
		}
		for _, slave := range r.nodes[1:] {
			e.Slaves = appendUniqueClient(e.Slaves, slave.Client())
		}
	}
	out := make([]*redisson.Entry, 0, len(order))
	for _, master := range order {
		out = append(out, byMaster[master])
	}
	return out
}

func appendUniqueClient(clients []redisson.Client, c redisson.Client) []redisson.Client {
	for _, existing := range clients {
		if existing == c {
			return clients
		}
	}
	return append(clients, c)
}
