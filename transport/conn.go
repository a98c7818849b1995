// Package transport provides a concrete redisson.Client backed by a
// pooled TCP connection: dial/idle/lifetime management, hit/miss/timeout
// counters, and an optional background reaper. Wire encoding and decoding
// are delegated to an injected Framer, so this package never needs to
// know the backend's actual protocol.
package transport

import (
	"bufio"
	"context"
	"net"
	"sync/atomic"
	"time"
)

var noDeadline = time.Time{}

// Conn wraps one dialed connection with the bookkeeping the pool needs:
// a buffered reader/writer pair for the Framer to drive, a last-used
// timestamp for idle eviction, a creation timestamp for max-age eviction,
// and a pooled flag for connections that overflowed the pool's size and
// are destined to be closed rather than returned on Put.
type Conn struct {
	netConn net.Conn
	rd      *bufio.Reader
	bw      *bufio.Writer

	usedAt    int64 // atomic unix seconds
	createdAt time.Time
	pooled    bool
}

// NewConn wraps netConn in a Conn ready for use.
func NewConn(netConn net.Conn) *Conn {
	cn := &Conn{
		netConn:   netConn,
		rd:        bufio.NewReader(netConn),
		bw:        bufio.NewWriter(netConn),
		createdAt: time.Now(),
	}
	cn.SetUsedAt(time.Now())
	return cn
}

// UsedAt is the last time this connection served a request.
func (cn *Conn) UsedAt() time.Time {
	return time.Unix(atomic.LoadInt64(&cn.usedAt), 0)
}

// SetUsedAt records tm as the last-used time.
func (cn *Conn) SetUsedAt(tm time.Time) {
	atomic.StoreInt64(&cn.usedAt, tm.Unix())
}

// RemoteAddr reports the address this connection is dialed to.
func (cn *Conn) RemoteAddr() net.Addr {
	if cn.netConn == nil {
		return nil
	}
	return cn.netConn.RemoteAddr()
}

// WithReader sets a read deadline (if timeout is non-zero) and runs fn
// against the connection's buffered reader.
func (cn *Conn) WithReader(ctx context.Context, timeout time.Duration, fn func(rd *bufio.Reader) error) error {
	if timeout != 0 {
		if err := cn.netConn.SetReadDeadline(cn.deadline(ctx, timeout)); err != nil {
			return err
		}
	}
	return fn(cn.rd)
}

// WithWriter sets a write deadline (if timeout is non-zero), runs fn
// against the connection's buffered writer, and flushes it.
func (cn *Conn) WithWriter(ctx context.Context, timeout time.Duration, fn func(bw *bufio.Writer) error) error {
	if timeout != 0 {
		if err := cn.netConn.SetWriteDeadline(cn.deadline(ctx, timeout)); err != nil {
			return err
		}
	}
	if cn.bw.Buffered() > 0 {
		cn.bw.Reset(cn.netConn)
	}
	if err := fn(cn.bw); err != nil {
		return err
	}
	return cn.bw.Flush()
}

// Close closes the underlying connection.
func (cn *Conn) Close() error {
	return cn.netConn.Close()
}

func (cn *Conn) deadline(ctx context.Context, timeout time.Duration) time.Time {
	tm := time.Now()
	cn.SetUsedAt(tm)

	if timeout > 0 {
		tm = tm.Add(timeout)
	}
	if ctx != nil {
		if deadline, ok := ctx.Deadline(); ok {
			if timeout == 0 {
				return deadline
			}
			if deadline.Before(tm) {
				return deadline
			}
			return tm
		}
	}
	if timeout > 0 {
		return tm
	}
	return noDeadline
}
