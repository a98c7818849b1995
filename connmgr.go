package redisson

import (
	"context"
	"time"
)

// Client is a handle to one backend node. It is the core's only contact
// with the wire: the actual argument serialization and reply
// deserialization are the wire codec's job — Call receives already-encoded
// Buffers (or plain scalar args such as a key count) and returns an
// already-decoded raw reply, or an error the classifier recognizes via the
// RedisError marker for backend-reported failures versus a plain error for
// transport failures.
type Client interface {
	// Addr identifies the node, for logging and redirect-target bookkeeping.
	Addr() string
	// Call sends name(args...) and returns the raw reply or a classified
	// error. timeout is the per-attempt budget; zero means no deadline.
	Call(ctx context.Context, timeout time.Duration, name string, args []interface{}) (interface{}, error)
}

// Entry is a master-plus-replicas group owning a contiguous slot range.
type Entry struct {
	Master Client
	Slaves []Client
}

// Connection picks a client within the entry honoring readOnlyMode: a
// write always goes to Master; a read may land on a replica when the entry
// has one and the caller allows it. pickSlave is injected so the default
// "random available slave, else master" policy can be swapped for
// latency-based routing.
func (e *Entry) Connection(readOnlyMode bool, pickSlave func([]Client) Client) Client {
	if !readOnlyMode || len(e.Slaves) == 0 {
		return e.Master
	}
	if pickSlave == nil {
		pickSlave = randomSlave
	}
	if c := pickSlave(e.Slaves); c != nil {
		return c
	}
	return e.Master
}

// Config carries the dispatch-core-visible tuning knobs. Everything else
// (dial timeouts, pool sizes, cluster discovery) belongs to the connection
// manager and is not the core's concern.
type Config struct {
	RetryAttempts  int
	RetryInterval  time.Duration
	Timeout        time.Duration
	UseScriptCache bool
	// NoRetryDefault is the noRetry flag ordinary read/write dispatch uses
	// when the caller doesn't ask for anything unusual; false in virtually
	// every deployment, but left configurable for parity with callers that
	// want every command routed through the no-silent-retry path by default.
	NoRetryDefault bool
}

// ConnectionManager is the dispatch core's one required collaborator: it
// knows the topology (entries, slot ownership) and the codec to use when
// none is given explicitly. The core never discovers topology itself.
type ConnectionManager interface {
	Codec() Codec
	Config() Config
	ClusterMode() bool
	Entries() []*Entry
	EntryForSlot(slot int) (*Entry, error)
	EntryForClient(c Client) (*Entry, error)
	CalcSlot(key string) int
	CalcSlotBytes(key []byte) int
	// GetOrCreateClient resolves an address (as seen in a MOVED/ASK reply)
	// to a Client, creating the connection lazily if needed.
	GetOrCreateClient(addr string) (Client, error)
}
