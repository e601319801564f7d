package async

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
)

// Status is the lifecycle state of an async operation.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// operation is one registry entry. All fields past the identity block
// are guarded by the service's operations mutex.
type operation struct {
	id       string
	opType   string
	priority int

	status    Status
	submitted time.Time
	started   time.Time
	ended     time.Time
	result    *agentdata.Data
	errMsg    string

	future *Future
}

// snapshot renders the operation for introspection and the HTTP API.
// Caller holds the operations mutex.
func (o *operation) snapshot() *agentdata.Data {
	d := agentdata.New().
		SetString("operation_id", o.id).
		SetString("operation_type", o.opType).
		SetInt("priority", int64(o.priority)).
		SetString("status", string(o.status)).
		SetString("submitted_at", o.submitted.UTC().Format(time.RFC3339Nano))
	if !o.started.IsZero() {
		d.SetString("started_at", o.started.UTC().Format(time.RFC3339Nano))
	}
	if !o.ended.IsZero() {
		d.SetString("ended_at", o.ended.UTC().Format(time.RFC3339Nano))
		ref := o.started
		if ref.IsZero() {
			ref = o.submitted
		}
		d.SetFloat("duration_ms", float64(o.ended.Sub(ref).Microseconds())/1000.0)
	}
	if o.result != nil {
		d.Set("result", agentdata.Map(o.result))
	}
	if o.errMsg != "" {
		d.SetString("error", o.errMsg)
	}
	return d
}

// newOperationID builds a collision-resistant id from random hex plus
// the submit instant in milliseconds.
func newOperationID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to
		// the timestamp alone rather than panicking.
		return fmt.Sprintf("op-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d", hex.EncodeToString(b[:]), time.Now().UnixMilli())
}
