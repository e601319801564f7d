package streaming

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/metrics"
)

// Manager is the in-memory pub/sub hub. Publishing never blocks: slow
// subscribers lose events rather than stalling the producer, and the
// per-topic ring lets them catch up via ReplaySince.
type Manager struct {
	logger   *zap.Logger
	mirror   *Mirror
	capacity int

	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	closed      bool
}

// NewManager builds a hub whose per-topic replay window holds capacity
// events. A nil mirror disables Redis mirroring.
func NewManager(capacity int, mirror *Mirror, logger *zap.Logger) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:      logger,
		mirror:      mirror,
		capacity:    capacity,
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
	}
}

// Subscribe registers a channel for one topic (or TopicAll). The caller
// must drain the channel and call Unsubscribe when done.
func (m *Manager) Subscribe(topic string, buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return ch
	}
	subs := m.subscribers[topic]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[topic] = subs
	}
	subs[ch] = struct{}{}
	metrics.SubscribersActive.Inc()
	return ch
}

// Unsubscribe removes the channel and closes it. Safe to call once per
// Subscribe; unknown channels are ignored.
func (m *Manager) Unsubscribe(topic string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.subscribers[topic]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(m.subscribers, topic)
	}
	metrics.SubscribersActive.Dec()
}

// Publish assigns the event's sequence number, records it in the topic's
// replay ring, and fans it out to topic and wildcard subscribers.
func (m *Manager) Publish(evt Event) {
	if evt.Topic == "" || evt.Topic == TopicAll {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	rg := m.history[evt.Topic]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.Topic] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)

	targets := make([]chan Event, 0, len(m.subscribers[evt.Topic])+len(m.subscribers[TopicAll]))
	for ch := range m.subscribers[evt.Topic] {
		targets = append(targets, ch)
	}
	for ch := range m.subscribers[TopicAll] {
		targets = append(targets, ch)
	}
	m.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(evt.Type).Inc()
	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
			// Slow subscriber; it can recover via ReplaySince.
		}
	}
	if m.mirror != nil {
		m.mirror.enqueue(evt)
	}
}

// ReplaySince returns the buffered events for topic with Seq > since,
// oldest first. Best effort: events older than the ring window are gone.
func (m *Manager) ReplaySince(topic string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[topic]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Topics lists topics that have published at least one event, sorted.
func (m *Manager) Topics() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.history))
	for t := range m.history {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SubscriberCount reports live subscriber channels across all topics.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, subs := range m.subscribers {
		n += len(subs)
	}
	return n
}

// DropTopic releases a finished topic's replay buffer and disconnects
// its subscribers. Wildcard subscribers are untouched.
func (m *Manager) DropTopic(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, topic)
	for ch := range m.subscribers[topic] {
		close(ch)
		metrics.SubscribersActive.Dec()
	}
	delete(m.subscribers, topic)
}

// Close disconnects every subscriber and stops the mirror. Publishing
// after Close is a no-op.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for topic, subs := range m.subscribers {
		for ch := range subs {
			close(ch)
			metrics.SubscribersActive.Dec()
		}
		delete(m.subscribers, topic)
	}
	m.mu.Unlock()

	if m.mirror != nil {
		m.mirror.Close()
	}
}
