package async

import (
	"context"
	"sync"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
)

// Future is the read side of a submitted operation. It resolves exactly
// once: with the callable's result, a rejection ("Queue is full"),
// a cancellation outcome, or a shutdown notice.
type Future struct {
	opID string
	once sync.Once
	done chan struct{}
	res  agentdata.FunctionResult
}

func newFuture(opID string) *Future {
	return &Future{opID: opID, done: make(chan struct{})}
}

// OperationID returns the id the operation registry knows this work by.
func (f *Future) OperationID() string { return f.opID }

// Done returns a channel that is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Resolved reports whether the result is already available.
func (f *Future) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the operation resolves or ctx is done. A ctx expiry
// yields a failed result; the operation itself keeps running.
func (f *Future) Wait(ctx context.Context) agentdata.FunctionResult {
	select {
	case <-f.done:
		return f.res
	case <-ctx.Done():
		return agentdata.Failf("wait canceled: %v", ctx.Err())
	}
}

// complete resolves the future. Later calls are no-ops.
func (f *Future) complete(res agentdata.FunctionResult) {
	f.once.Do(func() {
		f.res = res
		close(f.done)
	})
}
