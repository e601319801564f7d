// Package streaming fans runtime events out to SSE and WebSocket
// subscribers. Every event belongs to a topic (a workflow execution id,
// an operation id, or the runtime-wide feeds); per-topic ring buffers
// keep a replay window so reconnecting clients can resume from the last
// sequence number they saw.
package streaming

import (
	"encoding/json"
	"time"
)

// TopicAll subscribes to every topic at once. Events are never published
// to it directly; wildcard subscribers receive a copy of each event on
// top of the topic's own subscribers.
const TopicAll = "*"

// TopicOperations carries the async layer's operation lifecycle events.
const TopicOperations = "operations"

// Event types published by the workflow engine.
const (
	TypeWorkflowStarted   = "workflow_started"
	TypeWorkflowCompleted = "workflow_completed"
	TypeWorkflowFailed    = "workflow_failed"
	TypeWorkflowTimeout   = "workflow_timeout"
	TypeWorkflowPaused    = "workflow_paused"
	TypeWorkflowResumed   = "workflow_resumed"
	TypeWorkflowCancelled = "workflow_cancelled"
	TypeStepStarted       = "step_started"
	TypeStepCompleted     = "step_completed"
	TypeStepFailed        = "step_failed"
)

// Event is one streamed notification.
type Event struct {
	Topic     string                 `json:"topic"`
	Type      string                 `json:"type"`
	AgentID   string                 `json:"agent_id,omitempty"`
	StepID    string                 `json:"step_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
}

// Marshal renders the event for SSE data lines and stream mirrors.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// ring is a fixed-capacity replay buffer. Sequence numbers are assigned
// per topic and never reused, so a subscriber can detect gaps once the
// window has rolled past its cursor.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{buf: make([]Event, capacity), nextSeq: 1}
}

func (r *ring) push(e Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
