// Package bus provides an in-process domain.SignalBus for single-binary
// deployments and tests.
package bus

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/predator/internal/domain"
)

const (
	defaultSubscriberBuffer = 256
	defaultStreamMaxLen     = 10_000
)

type subscriber struct {
	pattern string
	ch      chan []byte
}

type streamEntry struct {
	seq     uint64
	payload []byte
}

// Memory is a lossy pub/sub plus bounded append-only streams. A subscriber
// whose buffer is full misses messages rather than stalling publishers.
type Memory struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	streams map[string][]streamEntry
	seq     uint64
	maxLen  int
	buffer  int
	dropped atomic.Uint64
}

// Option customises a Memory bus.
type Option func(*Memory)

// WithStreamMaxLen caps each stream to n entries.
func WithStreamMaxLen(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.maxLen = n
		}
	}
}

// WithSubscriberBuffer sets the per-subscriber channel capacity.
func WithSubscriberBuffer(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.buffer = n
		}
	}
}

// NewMemory creates an empty bus.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		subs:    make(map[*subscriber]struct{}),
		streams: make(map[string][]streamEntry),
		maxLen:  defaultStreamMaxLen,
		buffer:  defaultSubscriberBuffer,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Publish delivers payload to every subscriber whose pattern matches channel.
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for s := range m.subs {
		if !matches(s.pattern, channel) {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
			m.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel, which may be
// a glob pattern. The channel is closed when ctx is cancelled.
func (m *Memory) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", channel, err)
	}
	s := &subscriber{pattern: channel, ch: make(chan []byte, m.buffer)}
	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, s)
		close(s.ch)
		m.mu.Unlock()
	}()
	return s.ch, nil
}

func matches(pattern, channel string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == channel
	}
	ok, _ := path.Match(pattern, channel)
	return ok
}

// StreamAppend appends payload to stream, trimming the oldest entries beyond
// the configured length.
func (m *Memory) StreamAppend(_ context.Context, stream string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	entries := append(m.streams[stream], streamEntry{seq: m.seq, payload: append([]byte(nil), payload...)})
	if over := len(entries) - m.maxLen; over > 0 {
		entries = append(entries[:0], entries[over:]...)
	}
	m.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries after lastID. "0", "0-0" and ""
// read from the beginning; "$" reads nothing already stored.
func (m *Memory) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var after uint64
	switch lastID {
	case "", "0", "0-0":
	case "$":
		return nil, nil
	default:
		v, err := strconv.ParseUint(strings.SplitN(lastID, "-", 2)[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bus: stream read %s: bad id %q", stream, lastID)
		}
		after = v
	}

	var out []domain.StreamMessage
	for _, e := range m.streams[stream] {
		if e.seq <= after {
			continue
		}
		out = append(out, domain.StreamMessage{ID: strconv.FormatUint(e.seq, 10), Payload: e.payload})
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full.
func (m *Memory) Dropped() uint64 {
	return m.dropped.Load()
}

// Compile-time interface check.
var _ domain.SignalBus = (*Memory)(nil)
