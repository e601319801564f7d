package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const mirrorQueueSize = 1024

// Mirror copies published events into Redis Streams so external
// consumers (dashboards, audit pipelines) can tail the runtime without
// holding an in-process subscription. Each topic maps to one stream
// named <prefix>:<topic>, capped with approximate XADD MAXLEN trimming.
type Mirror struct {
	client  *redis.Client
	prefix  string
	maxLen  int64
	logger  *zap.Logger
	queue   chan Event
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	dropped int64
	mu      sync.Mutex
}

// NewMirror starts the mirror's writer goroutine. The caller owns the
// Redis client's lifecycle; Close only stops the writer.
func NewMirror(client *redis.Client, prefix string, maxLen int64, logger *zap.Logger) *Mirror {
	if prefix == "" {
		prefix = "dirigent:events"
	}
	if maxLen <= 0 {
		maxLen = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Mirror{
		client:  client,
		prefix:  prefix,
		maxLen:  maxLen,
		logger:  logger,
		queue:   make(chan Event, mirrorQueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.run()
	return m
}

// enqueue hands the event to the writer without blocking the publisher.
func (m *Mirror) enqueue(evt Event) {
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.queue <- evt:
	default:
		m.mu.Lock()
		m.dropped++
		n := m.dropped
		m.mu.Unlock()
		if n%100 == 1 {
			m.logger.Warn("Redis mirror backlogged, dropping events",
				zap.Int64("dropped_total", n))
		}
	}
}

// Dropped reports how many events the mirror discarded under backlog.
func (m *Mirror) Dropped() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// StreamKey returns the Redis stream that mirrors one topic.
func (m *Mirror) StreamKey(topic string) string {
	return m.prefix + ":" + topic
}

func (m *Mirror) run() {
	defer close(m.stopped)
	for {
		select {
		case evt := <-m.queue:
			m.write(evt)
		case <-m.done:
			// Flush whatever is already queued before exiting.
			for {
				select {
				case evt := <-m.queue:
					m.write(evt)
				default:
					return
				}
			}
		}
	}
}

func (m *Mirror) write(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.StreamKey(evt.Topic),
		MaxLen: m.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"seq":  evt.Seq,
			"type": evt.Type,
			"data": string(evt.Marshal()),
		},
	}).Err()
	if err != nil {
		m.logger.Warn("Redis mirror write failed",
			zap.String("topic", evt.Topic),
			zap.String("type", evt.Type),
			zap.Error(err))
	}
}

// Close stops the writer after draining the queue. It blocks until the
// drain finishes so callers can rely on mirrored state being complete.
func (m *Mirror) Close() {
	m.once.Do(func() { close(m.done) })
	<-m.stopped
}
