package main

import (
	"errors"
	"strings"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// logTail keeps the most recent log output in a fixed byte ring so the pad
// can render it under the TUI. Older bytes are discarded when the ring fills.
type logTail struct {
	mu       sync.Mutex
	ring     *ringbuffer.RingBuffer
	lines    []string
	partial  string
	maxLines int
}

func newLogTail(capacity, maxLines int) *logTail {
	return &logTail{ring: ringbuffer.New(capacity), maxLines: maxLines}
}

func (t *logTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if capacity := t.ring.Capacity(); len(p) > capacity {
		p = p[len(p)-capacity:]
	}
	if free := t.ring.Capacity() - t.ring.Length(); free < len(p) {
		discard := make([]byte, len(p)-free)
		if _, err := t.ring.TryRead(discard); err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, err
		}
	}
	if _, err := t.ring.Write(p); err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return 0, err
	}
	return n, nil
}

// Lines drains the ring and returns the last complete lines.
func (t *logTail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.ring.IsEmpty() {
		buf := make([]byte, t.ring.Length())
		n, _ := t.ring.TryRead(buf)
		text := t.partial + string(buf[:n])
		parts := strings.Split(text, "\n")
		t.partial = parts[len(parts)-1]
		for _, line := range parts[:len(parts)-1] {
			if line = strings.TrimRight(line, "\r"); line != "" {
				t.lines = append(t.lines, line)
			}
		}
		if extra := len(t.lines) - t.maxLines; extra > 0 {
			t.lines = append([]string(nil), t.lines[extra:]...)
		}
	}

	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}
