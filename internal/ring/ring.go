// Package ring implements the fixed-capacity byte buffer shared between the
// decode and output workers. Single producer, single consumer; one byte of
// capacity is reserved so a full buffer is distinguishable from an empty one.
package ring

import "sync"

// Buffer is a circular byte buffer with independent read and write cursors.
// Write never overwrites unread data and Read never blocks; both return short
// counts when space or data runs out.
type Buffer struct {
	buf []byte
	r   int // read cursor
	w   int // write cursor
	mu  sync.Mutex
}

// New creates a buffer that can hold capacity-1 bytes.
func New(capacity int) *Buffer {
	if capacity < 2 {
		capacity = 2
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// Capacity returns the allocated size. Usable space is Capacity()-1.
func (b *Buffer) Capacity() int {
	return len(b.buf)
}

// Available returns the number of buffered bytes ready to read.
func (b *Buffer) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available()
}

// Free returns the number of bytes that can be written without overwriting.
func (b *Buffer) Free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf) - 1 - b.available()
}

func (b *Buffer) available() int {
	if b.w >= b.r {
		return b.w - b.r
	}
	return len(b.buf) - b.r + b.w
}

// Write copies up to len(p) bytes into the buffer and returns how many were
// accepted. A short (possibly zero) count means the buffer is full.
func (b *Buffer) Write(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	free := len(b.buf) - 1 - b.available()
	n := len(p)
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	right := len(b.buf) - b.w
	if right >= n {
		copy(b.buf[b.w:], p[:n])
	} else {
		copy(b.buf[b.w:], p[:right])
		copy(b.buf, p[right:n])
	}
	b.w = (b.w + n) % len(b.buf)
	return n
}

// Read copies up to len(p) buffered bytes into p and returns how many were
// copied. A short (possibly zero) count means the buffer ran empty.
func (b *Buffer) Read(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	avail := b.available()
	n := len(p)
	if n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}

	right := len(b.buf) - b.r
	if right >= n {
		copy(p, b.buf[b.r:b.r+n])
	} else {
		copy(p, b.buf[b.r:])
		copy(p[right:], b.buf[:n-right])
	}
	b.r = (b.r + n) % len(b.buf)
	return n
}

// Clear resets both cursors, discarding all buffered data. Takes the same
// lock as Write and Read so a concurrent reader never sees a half-cleared
// buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r = 0
	b.w = 0
}
