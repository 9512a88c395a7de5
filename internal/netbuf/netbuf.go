// File: internal/netbuf/netbuf.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package netbuf implements the growable FIFO byte buffer behind each
// connection's receive and pending-write sides. Length always reflects
// actually-written bytes; callers never assert uninitialized memory valid.

package netbuf

// Buffer is a FIFO byte window over a growable slice. Reads advance an
// offset instead of shifting bytes; storage is compacted lazily once the
// dead prefix dominates.
//
// Not safe for concurrent use: each Buffer has exactly one writer, the
// owning worker.
type Buffer struct {
	data []byte
	off  int
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return len(b.data) - b.off }

// Write appends p, growing storage as needed.
func (b *Buffer) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	b.compact()
	b.data = append(b.data, p...)
}

// Read copies up to len(p) bytes into p in FIFO order and discards them.
// Returns 0 when the buffer is empty.
func (b *Buffer) Read(p []byte) int {
	n := copy(p, b.data[b.off:])
	b.off += n
	if b.off == len(b.data) {
		b.Reset()
	}
	return n
}

// Peek returns the unread window without consuming it. The slice is only
// valid until the next mutation.
func (b *Buffer) Peek() []byte { return b.data[b.off:] }

// Discard drops the first n unread bytes. n beyond Len drops everything.
func (b *Buffer) Discard(n int) {
	if n >= b.Len() {
		b.Reset()
		return
	}
	b.off += n
}

// Reset empties the buffer, keeping storage for reuse.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.off = 0
}

// compact reclaims the dead prefix when it exceeds half the storage, so a
// long-lived connection with a slow reader cannot grow without bound.
func (b *Buffer) compact() {
	if b.off == 0 {
		return
	}
	if b.off >= len(b.data) {
		b.Reset()
		return
	}
	if b.off > cap(b.data)/2 {
		n := copy(b.data, b.data[b.off:])
		b.data = b.data[:n]
		b.off = 0
	}
}
