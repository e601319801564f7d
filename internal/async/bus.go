package async

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/metrics"
)

// Event types broadcast by the service layer.
const (
	EventOperationStarted    = "OPERATION_STARTED"
	EventOperationCompleted  = "OPERATION_COMPLETED"
	EventOperationFailed     = "OPERATION_FAILED"
	EventOperationCancelled  = "OPERATION_CANCELLED"
	EventSystemStatusChanged = "SYSTEM_STATUS_CHANGED"
)

// Event is one lifecycle notification. For a single operation,
// STARTED is always delivered before its terminal event.
type Event struct {
	Type        string          `json:"type"`
	OperationID string          `json:"operation_id,omitempty"`
	Payload     *agentdata.Data `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Callback receives broadcast events. Callbacks run synchronously on
// the publishing goroutine and must not block.
type Callback func(Event)

// EventBus fans events out to registered callbacks and keeps a bounded
// history for late joiners. Broadcast snapshots the subscriber list
// under a short lock and invokes callbacks outside it, so subscribing
// or unsubscribing from inside a callback cannot deadlock.
type EventBus struct {
	logger *zap.Logger

	mu    sync.Mutex
	subs  map[string]Callback
	buf   []Event
	start int
	count int
}

const defaultHistorySize = 100

// NewEventBus creates a bus retaining the last historySize events.
func NewEventBus(historySize int, logger *zap.Logger) *EventBus {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		logger: logger,
		subs:   make(map[string]Callback),
		buf:    make([]Event, historySize),
	}
}

// Subscribe registers a callback and returns its subscriber id.
func (b *EventBus) Subscribe(cb Callback) string {
	id := uuid.New().String()
	b.mu.Lock()
	b.subs[id] = cb
	b.mu.Unlock()

	metrics.SubscribersActive.Inc()
	b.logger.Debug("Event subscriber registered", zap.String("subscriber_id", id))
	return id
}

// Unsubscribe removes a subscriber. Returns false for unknown ids.
func (b *EventBus) Unsubscribe(id string) bool {
	b.mu.Lock()
	_, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		metrics.SubscribersActive.Dec()
		b.logger.Debug("Event subscriber removed", zap.String("subscriber_id", id))
	}
	return ok
}

// SubscriberCount returns the number of registered subscribers.
func (b *EventBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

type subscriber struct {
	id string
	cb Callback
}

// Broadcast records the event in history and delivers it to every
// current subscriber. A panicking callback is logged and skipped; it
// does not affect other subscribers.
func (b *EventBus) Broadcast(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.push(evt)
	targets := make([]subscriber, 0, len(b.subs))
	for id, cb := range b.subs {
		targets = append(targets, subscriber{id: id, cb: cb})
	}
	b.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(evt.Type).Inc()

	for _, t := range targets {
		b.deliver(t, evt)
	}
}

func (b *EventBus) deliver(t subscriber, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("Event subscriber panicked",
				zap.String("subscriber_id", t.id),
				zap.String("event_type", evt.Type),
				zap.Any("panic", rec),
			)
		}
	}()
	t.cb(evt)
}

// push appends to the ring, overwriting the oldest entry when full.
// Caller holds b.mu.
func (b *EventBus) push(evt Event) {
	if len(b.buf) == 0 {
		return
	}
	if b.count < len(b.buf) {
		b.buf[(b.start+b.count)%len(b.buf)] = evt
		b.count++
		return
	}
	b.buf[b.start] = evt
	b.start = (b.start + 1) % len(b.buf)
}

// Recent returns up to n of the latest events, oldest first. n <= 0
// returns the whole retained history.
func (b *EventBus) Recent(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]Event, 0, n)
	for i := b.count - n; i < b.count; i++ {
		out = append(out, b.buf[(b.start+i)%len(b.buf)])
	}
	return out
}
