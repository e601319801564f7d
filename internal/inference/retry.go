package inference

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/metrics"
)

// retryPolicy drives exponential backoff around every backend call.
type retryPolicy struct {
	maxRetries int           // additional attempts after the first, in [0,10]
	baseDelay  time.Duration // d0
}

// delay computes the wait before retry number attempt (0-based):
// d0 * 2^min(attempt,5) plus uniform jitter in ±d0/8, clamped to
// [d0, 5*d0].
func (p retryPolicy) delay(attempt int) time.Duration {
	exp := attempt
	if exp > 5 {
		exp = 5
	}
	d := time.Duration(1<<uint(exp)) * p.baseDelay
	d += time.Duration((rand.Float64()*2 - 1) * float64(p.baseDelay) / 8)
	if d < p.baseDelay {
		d = p.baseDelay
	}
	if ceil := 5 * p.baseDelay; d > ceil {
		d = ceil
	}
	return d
}

// retryable reports whether the call may be attempted again: HTTP 429,
// 502, 503, 504, or a transport error that looks like a timeout or a
// connection problem.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case 429, 502, 503, 504:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection")
}

func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= c.policy.maxRetries || !retryable(err) {
			return err
		}
		metrics.InferenceRetries.Inc()
		delay := c.policy.delay(attempt)
		c.logger.Debug("Retrying inference request",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
