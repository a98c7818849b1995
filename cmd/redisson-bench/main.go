// Command redisson-bench exercises the dispatch core end-to-end against an
// in-process topology: every node is a map-backed store served over its own
// loopback TCP listener and dialed through the pooled transport client, so
// routing, retry, the script cache, the connection pool, and the wire
// framing all run the same path a real deployment does. Useful for
// eyeballing dispatch overhead and for demoing the cluster routing and
// script-cache paths.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/willpyshan13/redisson"
	"github.com/willpyshan13/redisson/scriptcache"
	"github.com/willpyshan13/redisson/topology"
	"github.com/willpyshan13/redisson/transport"
)

var (
	flagEntries     int
	flagOps         int
	flagPoolSize    int
	flagScriptCache bool
	flagTimeout     time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "redisson-bench",
		Short: "Benchmark the command dispatch core against an in-memory topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	root.Flags().IntVar(&flagEntries, "entries", 3, "number of simulated master-slave entries")
	root.Flags().IntVar(&flagOps, "ops", 10000, "operations per phase")
	root.Flags().IntVar(&flagPoolSize, "pool-size", 10, "connections per node")
	root.Flags().BoolVar(&flagScriptCache, "script-cache", true, "enable the EVALSHA script cache")
	root.Flags().DurationVar(&flagTimeout, "timeout", 3*time.Second, "per-attempt timeout")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := redisson.Config{
		RetryAttempts:  3,
		RetryInterval:  50 * time.Millisecond,
		Timeout:        flagTimeout,
		UseScriptCache: flagScriptCache,
	}

	marker := transport.NewLoopMarker()
	cm, stop, err := newMemoryCluster(cfg, flagEntries, marker)
	if err != nil {
		return err
	}
	defer stop()
	defer cm.Close()

	facade := redisson.NewFacade(cm, nil, marker.Active)
	facade.SetScriptCache(scriptcache.New(cm, facade.Dispatch))

	ctx := context.Background()
	set := redisson.NewCommand("SET", nil, nil)
	get := redisson.NewCommand("GET", nil, nil)
	eval := redisson.NewCommand("EVAL", nil, nil)

	phase := func(name string, fn func(i int) *redisson.Future) error {
		start := time.Now()
		futures := make([]*redisson.Future, flagOps)
		for i := 0; i < flagOps; i++ {
			futures[i] = fn(i)
		}
		for _, f := range futures {
			if _, err := f.Wait(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		elapsed := time.Since(start)
		fmt.Printf("%-12s %8d ops in %8s  (%.0f ops/s)\n",
			name, flagOps, elapsed.Round(time.Millisecond), float64(flagOps)/elapsed.Seconds())
		return nil
	}

	if err := phase("write", func(i int) *redisson.Future {
		k := fmt.Sprintf("bench:%d", i)
		return facade.WriteAsync(ctx, k, nil, set, k, fmt.Sprintf("v%d", i))
	}); err != nil {
		return err
	}

	if err := phase("read", func(i int) *redisson.Future {
		k := fmt.Sprintf("bench:%d", i)
		return facade.ReadAsync(ctx, k, nil, get, k)
	}); err != nil {
		return err
	}

	if err := phase("eval-write", func(i int) *redisson.Future {
		k := fmt.Sprintf("bench:%d", i)
		return facade.EvalWriteAsync(ctx, k, eval, "return KEYS[1]", []string{k})
	}); err != nil {
		return err
	}

	return nil
}

// newMemoryCluster starts entries loopback TCP nodes, each backed by a
// memoryNode and covering an equal share of the slot space, and builds a
// cluster-mode topology.Manager whose dialer hands out pooled transport
// clients speaking the bench wire protocol. The returned stop func closes
// the listeners; call it after the manager is closed.
func newMemoryCluster(cfg redisson.Config, entries int, marker *transport.LoopMarker) (*topology.Manager, func(), error) {
	listeners := make([]net.Listener, 0, entries)
	stop := func() {
		for _, l := range listeners {
			l.Close()
		}
	}

	assignments := make([]topology.SlotAssignment, 0, entries)
	per := 16384 / entries
	for i := 0; i < entries; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			stop()
			return nil, nil, fmt.Errorf("bench: listen: %w", err)
		}
		listeners = append(listeners, l)
		go serveNode(l, newMemoryNode())

		end := (i+1)*per - 1
		if i == entries-1 {
			end = 16383
		}
		assignments = append(assignments, topology.SlotAssignment{
			Start: i * per,
			End:   end,
			Addrs: []string{l.Addr().String()},
		})
	}
	origin := listeners[0].Addr().String()

	dial := func(addr string) (redisson.Client, error) {
		return transport.NewClient(&transport.ClientOptions{
			Addr:     addr,
			Framer:   benchFramer{},
			PoolSize: flagPoolSize,
			Loop:     marker,
		}), nil
	}

	cm := topology.NewClusterManager(topology.ClusterManagerOptions{
		Codec:     rawCodec{},
		Config:    cfg,
		Dial:      dial,
		SeedAddrs: []string{origin},
		Load: func(ctx context.Context) ([]topology.SlotAssignment, string, error) {
			return assignments, origin, nil
		},
	})
	return cm, stop, nil
}

// rawCodec passes strings and []byte through untouched; anything else is
// rendered with %v. Good enough for a benchmark that only moves small
// string payloads.
type rawCodec struct{}

func (rawCodec) EncodeValue(v interface{}) ([]byte, error)    { return rawEncode(v) }
func (rawCodec) EncodeMapKey(v interface{}) ([]byte, error)   { return rawEncode(v) }
func (rawCodec) EncodeMapValue(v interface{}) ([]byte, error) { return rawEncode(v) }

func rawEncode(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return []byte(fmt.Sprintf("%v", t)), nil
	}
}
