package logging

import (
	"os"
	"sync"
)

// RingBuffer is a thread-safe circular byte buffer implementing io.Writer.
// When full it overwrites the oldest data, keeping the most recent log
// tail available for crash dumps.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	head    int
	wrapped bool
}

// NewRingBuffer creates a ring buffer with the given capacity in bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1 << 20
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Write implements io.Writer. Never fails; oldest data is dropped.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	if n >= len(rb.buf) {
		copy(rb.buf, p[n-len(rb.buf):])
		rb.head = 0
		rb.wrapped = true
		return n, nil
	}

	tail := len(rb.buf) - rb.head
	if n <= tail {
		copy(rb.buf[rb.head:], p)
		rb.head += n
		if rb.head == len(rb.buf) {
			rb.head = 0
			rb.wrapped = true
		}
		return n, nil
	}

	copy(rb.buf[rb.head:], p[:tail])
	copy(rb.buf, p[tail:])
	rb.head = n - tail
	rb.wrapped = true
	return n, nil
}

// Bytes returns the buffered contents in write order.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.wrapped {
		out := make([]byte, rb.head)
		copy(out, rb.buf[:rb.head])
		return out
	}
	out := make([]byte, len(rb.buf))
	copy(out, rb.buf[rb.head:])
	copy(out[len(rb.buf)-rb.head:], rb.buf[:rb.head])
	return out
}

// DumpToFile writes the buffered contents to path.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o644)
}
