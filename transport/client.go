package transport

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/willpyshan13/redisson"
)

// Framer serializes one command onto the wire and reads back its decoded
// reply. The dispatch core treats the wire format as opaque, so the actual
// protocol lives entirely behind this interface. A backend-reported error
// must come back as an error carrying the RedisError marker (e.g.
// *redisson.ServerError) so the classifier can tell it apart from a
// transport failure.
type Framer interface {
	WriteCommand(bw *bufio.Writer, name string, args []interface{}) error
	ReadReply(rd *bufio.Reader) (interface{}, error)
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	Addr   string
	Framer Framer

	Dialer func(ctx context.Context, addr string) (net.Conn, error)

	PoolSize           int
	MinIdleConns       int
	MaxConnAge         time.Duration
	PoolTimeout        time.Duration
	IdleTimeout        time.Duration
	IdleCheckFrequency time.Duration

	// Loop, when non-nil, marks the pool's background goroutines so the
	// dispatch facade's sync bridge can refuse to block on one of them.
	Loop *LoopMarker
}

func (opt *ClientOptions) init() {
	if opt.PoolSize == 0 {
		opt.PoolSize = 10
	}
	if opt.PoolTimeout == 0 {
		opt.PoolTimeout = 4 * time.Second
	}
	if opt.IdleTimeout == 0 {
		opt.IdleTimeout = 5 * time.Minute
	}
	if opt.IdleCheckFrequency == 0 {
		opt.IdleCheckFrequency = time.Minute
	}
	if opt.Dialer == nil {
		opt.Dialer = func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	}
}

// Client is a pooled redisson.Client for one node: every Call checks a
// connection out, drives the Framer across it, and returns it (or removes
// it after a transport failure, since the connection's framing state is
// then unknown).
type Client struct {
	addr   string
	framer Framer
	pool   *Pool
}

// NewClient dials lazily: the first Call (or MinIdleConns warm-up) creates
// connections.
func NewClient(opt *ClientOptions) *Client {
	opt.init()
	c := &Client{addr: opt.Addr, framer: opt.Framer}
	c.pool = NewPool(&PoolOptions{
		Dialer: func(ctx context.Context) (net.Conn, error) {
			return opt.Dialer(ctx, opt.Addr)
		},
		PoolSize:           opt.PoolSize,
		MinIdleConns:       opt.MinIdleConns,
		MaxConnAge:         opt.MaxConnAge,
		PoolTimeout:        opt.PoolTimeout,
		IdleTimeout:        opt.IdleTimeout,
		IdleCheckFrequency: opt.IdleCheckFrequency,
		Loop:               opt.Loop,
	})
	return c
}

var _ redisson.Client = (*Client)(nil)

// Addr identifies the node this client is dialed to.
func (c *Client) Addr() string { return c.addr }

// Call sends name(args...) and returns the decoded reply. A
// backend-reported error comes back as-is from the Framer; a transport
// failure removes the connection from the pool before returning.
func (c *Client) Call(ctx context.Context, timeout time.Duration, name string, args []interface{}) (interface{}, error) {
	cn, err := c.pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	if err := cn.WithWriter(ctx, timeout, func(bw *bufio.Writer) error {
		return c.framer.WriteCommand(bw, name, args)
	}); err != nil {
		c.pool.Remove(ctx, cn, err)
		return nil, err
	}

	var reply interface{}
	err = cn.WithReader(ctx, timeout, func(rd *bufio.Reader) error {
		var rdErr error
		reply, rdErr = c.framer.ReadReply(rd)
		return rdErr
	})
	if err != nil {
		if isRedisReply(err) {
			// The connection is still in sync; only the command failed.
			c.pool.Put(ctx, cn)
		} else {
			c.pool.Remove(ctx, cn, err)
		}
		return nil, err
	}

	c.pool.Put(ctx, cn)
	return reply, nil
}

// PoolStats exposes the underlying pool's counters.
func (c *Client) PoolStats() *Stats {
	return c.pool.Stats()
}

// Close closes the pool and every connection in it.
func (c *Client) Close() error {
	return c.pool.Close()
}

func isRedisReply(err error) bool {
	type redisError interface {
		RedisError()
	}
	_, ok := err.(redisError)
	return ok
}
