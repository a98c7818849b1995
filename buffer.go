package redisson

import "sync/atomic"

// Buffer is a reference-counted encoded argument. Once handed to the
// dispatch core, exactly one Release call is owed for it on every terminal
// path — success, retry exhaustion, redirect-fatal, NOSCRIPT-then-load-fail,
// or NOSCRIPT-then-reexec — never more, never fewer. See buffer_test.go for
// the counting-allocator property this underwrites.
type Buffer struct {
	data []byte
	refs *int32
}

// NewBuffer wraps data in a freshly-owned Buffer with a single reference.
func NewBuffer(data []byte) *Buffer {
	refs := int32(1)
	return &Buffer{data: data, refs: &refs}
}

// Bytes returns the underlying data. Valid until Release drops the last
// reference.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Retain adds a reference, returning the same Buffer for chaining.
func (b *Buffer) Retain() *Buffer {
	atomic.AddInt32(b.refs, 1)
	return b
}

// Release drops a reference. It panics on a release past zero, which is
// exactly the bug the exactly-once invariant exists to catch.
func (b *Buffer) Release() {
	if atomic.AddInt32(b.refs, -1) < 0 {
		panic("redisson: buffer released more times than retained")
	}
}

// Clone makes a deep copy carrying its own, independent reference count.
// ScriptCache uses this to keep a valid argument list across the
// NOSCRIPT-fallback re-dispatch even though the first attempt may have
// already released its own copies.
func (b *Buffer) Clone() *Buffer {
	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	return NewBuffer(cp)
}

// ReleaseArgs releases every *Buffer found in args, leaving plain values
// (ints, strings used as literal command tokens, etc.) untouched.
func ReleaseArgs(args []interface{}) {
	for _, a := range args {
		if b, ok := a.(*Buffer); ok {
			b.Release()
		}
	}
}

// CloneArgs deep-copies every *Buffer in args and passes other values
// through unchanged, returning a new slice owned independently of args.
func CloneArgs(args []interface{}) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		if b, ok := a.(*Buffer); ok {
			out[i] = b.Clone()
		} else {
			out[i] = a
		}
	}
	return out
}
