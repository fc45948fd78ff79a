// Package tailbuffer keeps the most recent bytes written to it. The engine
// supervisor tees the inference engine's output through one so that a crash
// report can include the last thing the engine printed.
package tailbuffer

import (
	"strings"
	"sync"
)

// TailBuffer is an io.Writer that retains at most capacity bytes, discarding
// the oldest data first. It is safe for concurrent use.
type TailBuffer struct {
	lock sync.Mutex
	// buf is a ring of capacity bytes.
	buf []byte
	// start is the index of the oldest retained byte.
	start int
	// size is the number of retained bytes.
	size int
}

// New creates a TailBuffer retaining at most capacity bytes.
func New(capacity int) *TailBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &TailBuffer{buf: make([]byte, capacity)}
}

// Write implements io.Writer. It never fails and always reports the full
// length as written, even when older data had to be dropped.
func (t *TailBuffer) Write(p []byte) (int, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	capacity := len(t.buf)
	if capacity == 0 {
		return len(p), nil
	}
	data := p
	if len(data) > capacity {
		data = data[len(data)-capacity:]
	}
	for _, b := range data {
		end := (t.start + t.size) % capacity
		t.buf[end] = b
		if t.size == capacity {
			t.start = (t.start + 1) % capacity
		} else {
			t.size++
		}
	}
	return len(p), nil
}

// Bytes returns a copy of the retained data, oldest first.
func (t *TailBuffer) Bytes() []byte {
	t.lock.Lock()
	defer t.lock.Unlock()

	out := make([]byte, t.size)
	for i := 0; i < t.size; i++ {
		out[i] = t.buf[(t.start+i)%len(t.buf)]
	}
	return out
}

// String returns the retained data with surrounding whitespace trimmed.
func (t *TailBuffer) String() string {
	return strings.TrimSpace(string(t.Bytes()))
}

// Reset discards all retained data.
func (t *TailBuffer) Reset() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.start = 0
	t.size = 0
}
