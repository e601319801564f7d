package inference

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable is returned without touching the network while the
// breaker is open.
var ErrUnavailable = errors.New("inference service circuit breaker is open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// breaker guards the backend as a whole. It counts whole-call outcomes,
// so a request that succeeded after retries counts as one success and a
// request that exhausted its retries counts as one failure. Generation
// numbers keep results from a previous window from flipping the state.
type breaker struct {
	mu     sync.Mutex
	logger *zap.Logger

	failureThreshold int           // consecutive failures that trip the breaker
	successThreshold int           // half-open successes needed to close again
	maxProbes        int           // concurrent half-open probes allowed
	cooldown         time.Duration // open duration before probing

	state           breakerState
	generation      uint64
	consecFailures  int
	consecSuccesses int
	probes          int
	openedAt        time.Time
}

func newBreaker(logger *zap.Logger) *breaker {
	return &breaker{
		logger:           logger,
		failureThreshold: 5,
		successThreshold: 2,
		maxProbes:        3,
		cooldown:         30 * time.Second,
		state:            breakerClosed,
	}
}

// allow reports whether a call may proceed, returning the generation to
// hand back to record.
func (b *breaker) allow() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerOpen {
		if time.Since(b.openedAt) < b.cooldown {
			return b.generation, ErrUnavailable
		}
		b.setState(breakerHalfOpen)
	}
	if b.state == breakerHalfOpen {
		if b.probes >= b.maxProbes {
			return b.generation, ErrUnavailable
		}
		b.probes++
	}
	return b.generation, nil
}

// record feeds one whole-call outcome back. Outcomes from an older
// generation are dropped.
func (b *breaker) record(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation {
		return
	}

	if success {
		b.consecFailures = 0
		if b.state == breakerHalfOpen {
			b.consecSuccesses++
			if b.consecSuccesses >= b.successThreshold {
				b.setState(breakerClosed)
			}
		}
		return
	}

	switch b.state {
	case breakerClosed:
		b.consecFailures++
		if b.consecFailures >= b.failureThreshold {
			b.setState(breakerOpen)
		}
	case breakerHalfOpen:
		b.setState(breakerOpen)
	}
}

func (b *breaker) currentState() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerOpen && time.Since(b.openedAt) >= b.cooldown {
		return breakerHalfOpen
	}
	return b.state
}

// setState transitions and resets window counters. Caller holds b.mu.
func (b *breaker) setState(s breakerState) {
	if b.state == s {
		return
	}
	prev := b.state
	b.state = s
	b.generation++
	b.consecFailures = 0
	b.consecSuccesses = 0
	b.probes = 0
	if s == breakerOpen {
		b.openedAt = time.Now()
	}
	b.logger.Info("Inference circuit breaker state changed",
		zap.String("from", prev.String()),
		zap.String("to", s.String()),
	)
}
