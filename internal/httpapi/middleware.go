package httpapi

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/metrics"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so the first listed is the outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// statusRecorder captures the response status for logging and metrics.
// It forwards Flush and Hijack so SSE and WebSocket upgrades keep
// working behind the middleware stack.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := r.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

// WithRecovery converts handler panics into 500 error envelopes.
func WithRecovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				if p := recover(); p != nil {
					logger.Error("Handler panicked",
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Any("panic", p),
					)
					if rec.status == 0 {
						writeError(rec, http.StatusInternalServerError, errTypeInternal, "internal server error")
					}
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

// WithCORS answers preflight requests and marks every response as
// cross-origin accessible. The surface is meant for local tooling.
func WithCORS() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithRequestLogging logs one line per request at debug level.
func WithRequestLogging(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)
			logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// WithMetrics feeds every request into the Prometheus histograms and the
// JSON snapshot collector. Paths are normalized to route families so id
// segments do not explode label cardinality.
func WithMetrics(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			route := normalizePath(r.URL.Path)
			metrics.RecordHTTPMetrics(r.Method, route, strconv.Itoa(status), float64(elapsed.Milliseconds()))
			if collector != nil {
				collector.RecordRequest(route, elapsed, status < http.StatusInternalServerError)
			}
		})
	}
}

// normalizePath collapses id segments into placeholders. Unknown paths
// pass through unchanged; they are all fixed routes.
func normalizePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) >= 3 && parts[0] == "v1" && parts[1] == "agents":
		out := "/v1/agents/:id"
		if len(parts) > 3 {
			out += "/" + strings.Join(parts[3:], "/")
		}
		return out
	case len(parts) >= 3 && parts[0] == "workflows" && parts[1] == "executions":
		out := "/workflows/executions/:id"
		if len(parts) > 3 {
			out += "/" + strings.Join(parts[3:], "/")
		}
		return out
	case len(parts) == 2 && parts[0] == "workflows" && parts[1] != "execute" && parts[1] != "executions":
		return "/workflows/:id"
	}
	return path
}
