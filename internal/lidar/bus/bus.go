// Package bus is the in-process message fabric of the ring filter node.
//
// Each Topic fans a message out to every subscriber channel without
// blocking. A subscriber whose buffer is full misses the message and the
// drop is counted; publishers never wait on slow consumers. Latest data
// wins over a backlog of stale scans.
package bus

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Topic names used by the ring filter node.
const (
	TopicPointsRaw      = "points_raw"
	TopicFilteredPoints = "filtered_points"
	TopicConfig         = "config/ring_filter"
	TopicFilterInfo     = "points_filter_info"
)

// Default subscriber buffer depths per topic.
const (
	DefaultInputDepth   = 10
	DefaultOutputDepth  = 10
	DefaultMetricsDepth = 1000
)

var (
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe is called with an unknown id.
	ErrSubscriberNotFound = errors.New("subscriber id not found")

	// ErrTopicClosed is returned when operations are attempted on a closed topic.
	ErrTopicClosed = errors.New("topic is closed")
)

// Stats is a point-in-time snapshot of a topic's counters.
type Stats struct {
	Topic          string                     `json:"topic"`
	TotalPublished uint64                     `json:"total_published"`
	TotalSent      uint64                     `json:"total_sent"`
	TotalDropped   uint64                     `json:"total_dropped"`
	Subscribers    map[string]SubscriberStats `json:"subscribers"`
}

// SubscriberStats tracks delivery for one subscriber.
type SubscriberStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

type subscriber[T any] struct {
	ch      chan T
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Topic distributes values of type T to its subscribers.
type Topic[T any] struct {
	name string

	mu     sync.RWMutex
	subs   map[string]*subscriber[T]
	closed bool

	totalPublished atomic.Uint64
	// Counters of subscribers that have since unsubscribed.
	retiredSent    atomic.Uint64
	retiredDropped atomic.Uint64
}

// NewTopic returns an open topic.
func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{name: name, subs: make(map[string]*subscriber[T])}
}

// Name returns the topic name.
func (t *Topic[T]) Name() string { return t.name }

// Subscribe registers id and returns a channel buffered to depth (at least
// 1). The channel is closed by Unsubscribe or Close.
func (t *Topic[T]) Subscribe(id string, depth int) (<-chan T, error) {
	if depth < 1 {
		depth = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTopicClosed
	}
	if _, exists := t.subs[id]; exists {
		return nil, ErrSubscriberExists
	}

	s := &subscriber[T]{ch: make(chan T, depth)}
	t.subs[id] = s
	return s.ch, nil
}

// Unsubscribe removes id and closes its channel.
func (t *Topic[T]) Unsubscribe(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTopicClosed
	}
	s, exists := t.subs[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	delete(t.subs, id)
	t.retiredSent.Add(s.sent.Load())
	t.retiredDropped.Add(s.dropped.Load())
	close(s.ch)
	return nil
}

// Publish offers v to every subscriber without blocking and returns the
// number of subscribers it was delivered to. Publishing with no
// subscribers is not an error.
func (t *Topic[T]) Publish(v T) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return 0, ErrTopicClosed
	}
	t.totalPublished.Add(1)

	delivered := 0
	for _, s := range t.subs {
		select {
		case s.ch <- v:
			s.sent.Add(1)
			delivered++
		default:
			s.dropped.Add(1)
		}
	}
	return delivered, nil
}

// SubscriberCount returns the number of live subscribers.
func (t *Topic[T]) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Stats returns a snapshot of the topic counters. Totals include
// subscribers that have since unsubscribed.
func (t *Topic[T]) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := Stats{
		Topic:          t.name,
		TotalPublished: t.totalPublished.Load(),
		TotalSent:      t.retiredSent.Load(),
		TotalDropped:   t.retiredDropped.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(t.subs)),
	}
	for id, s := range t.subs {
		st := SubscriberStats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}
		out.TotalSent += st.Sent
		out.TotalDropped += st.Dropped
		out.Subscribers[id] = st
	}
	return out
}

// Close closes every subscriber channel and rejects further operations.
// Close is idempotent.
func (t *Topic[T]) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	for _, s := range t.subs {
		close(s.ch)
	}
	return nil
}
