package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/config"
)

func testConfig(endpoint string) config.InferenceConfig {
	return config.InferenceConfig{
		Endpoint:   endpoint,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		RetryDelay: 20 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, cfg config.InferenceConfig) *Client {
	t.Helper()
	c, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadEndpoints(t *testing.T) {
	_, err := New(config.InferenceConfig{Endpoint: ""}, zap.NewNop())
	assert.Error(t, err)

	_, err = New(config.InferenceConfig{Endpoint: "not a url"}, zap.NewNop())
	assert.Error(t, err)
}

func TestChat_RetriesTransientErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"recovered"}}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))

	start := time.Now()
	reply, err := c.Chat(context.Background(), "test-model", "hello", "")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "recovered", reply)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	// Two backoff sleeps: the first is at least the base delay, the
	// second roughly twice that minus jitter.
	assert.GreaterOrEqual(t, elapsed, 55*time.Millisecond)
}

func TestChat_DoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))

	_, err := c.Chat(context.Background(), "test-model", "hello", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestChat_SendsSystemPrompt(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))

	_, err := c.Chat(context.Background(), "test-model", "question", "be brief")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "be brief", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "question", got.Messages[1].Content)
	assert.Equal(t, "test-model", got.Model)
	assert.False(t, got.Stream)
}

func TestChat_FailsOnEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))

	_, err := c.Chat(context.Background(), "test-model", "hello", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestChatStream_AssemblesChunks(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/inference/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, frame := range []string{
			`data: {"text":"Hel","partial":true,"tps":42.5,"ttft":0.12}`,
			``,
			`: keepalive comment`,
			`data: {"text":"lo","partial":true}`,
			`data: {"text":"!","partial":false}`,
		} {
			fmt.Fprintf(w, "%s\n", frame)
			fl.Flush()
		}
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))

	var chunks []StreamChunk
	reply, err := c.ChatStream(context.Background(), "test-model", "hi", "", func(ch StreamChunk) {
		chunks = append(chunks, ch)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", reply)
	assert.True(t, got.Stream)
	require.Len(t, chunks, 3)
	assert.Equal(t, 42.5, chunks[0].TPS)
	assert.True(t, chunks[0].Partial)
	assert.False(t, chunks[2].Partial)
}

func TestChatStream_StopsAtDoneMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"text\":\"partial only\",\"partial\":true}\n")
		fmt.Fprint(w, "data: [DONE]\n")
		fmt.Fprint(w, "data: {\"text\":\"never seen\",\"partial\":false}\n")
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))

	reply, err := c.ChatStream(context.Background(), "test-model", "hi", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "partial only", reply)
}

func TestChatStream_SurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))

	_, err := c.ChatStream(context.Background(), "test-model", "hi", "", nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
}

func TestComplete_PreservesNumericTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/completions", r.URL.Path)
		fmt.Fprint(w, `{"choices":[{"text":"done"}],"created":1718000000,"load_seconds":1.5}`)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))

	out, err := c.Complete(context.Background(), "test-model", "write a haiku", nil)
	require.NoError(t, err)

	v, ok := out.Get("created")
	require.True(t, ok)
	assert.Equal(t, agentdata.KindInt, v.Kind())
	n, _ := v.AsInt()
	assert.Equal(t, int64(1718000000), n)

	v, ok = out.Get("load_seconds")
	require.True(t, ok)
	assert.Equal(t, agentdata.KindFloat, v.Kind())
	f, _ := v.AsFloat()
	assert.Equal(t, 1.5, f)

	v, ok = out.Get("choices")
	require.True(t, ok)
	choices, _ := v.AsList()
	require.Len(t, choices, 1)
	first, _ := choices[0].AsMap()
	assert.Equal(t, "done", first.StringOr("text", ""))
}

func TestComplete_ForwardsParamsAtTopLevel(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"choices":[{"text":"ok"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))

	params := agentdata.New().SetFloat("temperature", 0.2).SetInt("max_tokens", 64)
	_, err := c.Complete(context.Background(), "test-model", "prompt", params)
	require.NoError(t, err)
	assert.Equal(t, "test-model", got["model"])
	assert.Equal(t, "prompt", got["prompt"])
	assert.Equal(t, 0.2, got["temperature"])
	assert.Equal(t, float64(64), got["max_tokens"])
	assert.Equal(t, false, got["stream"])
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		fmt.Fprint(w, `{"object":"list","data":[{"id":"llama3"},{"id":"phi3","owned_by":"library"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3", models[0].ID)
	assert.Equal(t, "library", models[1].OwnedBy)
}

func TestListModels_FallsBackToLegacyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			w.WriteHeader(http.StatusNotFound)
		case "/models":
			fmt.Fprint(w, `{"data":[{"id":"legacy-model"}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "legacy-model", models[0].ID)
}

func TestEmbed_CachesByModelAndText(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"data":[{"embedding":[0.1,0.2,0.3]}]}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.CacheSize = 16
	c := newTestClient(t, cfg)

	v1, err := c.Embed(context.Background(), "hello world", "embed-model")
	require.NoError(t, err)
	require.Len(t, v1, 3)

	v2, err := c.Embed(context.Background(), "hello world", "embed-model")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "repeat should be served from cache")

	_, err = c.Embed(context.Background(), "hello world", "other-model")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "different model must miss")
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health", r.URL.Path)
		fmt.Fprint(w, `{"status":"healthy"}`)
	}))

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 0
	c := newTestClient(t, cfg)
	assert.True(t, c.Health(context.Background()))

	srv.Close()
	assert.False(t, c.Health(context.Background()))
}

func TestSearchDocuments(t *testing.T) {
	var got retrieveRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/retrieve", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"documents":[{"title":"intro","score":0.91},{"title":"deep dive","score":0.87}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))

	docs, err := c.SearchDocuments(context.Background(), "orchestration", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, "orchestration", got.Query)
	assert.Equal(t, 2, got.K)
	require.Len(t, docs, 2)
	assert.Equal(t, "intro", docs[0].StringOr("title", ""))
	assert.Equal(t, 0.91, docs[0].NumberOr("score", 0))
}

func TestListDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/list_documents", r.URL.Path)
		fmt.Fprint(w, `{"documents":[{"id":"a"},{"id":"b"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))

	docs, err := c.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[1].StringOr("id", ""))
}

func TestAddAndRemoveDocument(t *testing.T) {
	var removed removeDocumentsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/add_documents":
			var req addDocumentsRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.Documents, 1)
			assert.Equal(t, "notes", req.Documents[0]["title"])
			fmt.Fprint(w, `{"ids":["doc-123"]}`)
		case "/remove_documents":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&removed))
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))

	id, err := c.AddDocument(context.Background(), agentdata.New().SetString("title", "notes"))
	require.NoError(t, err)
	assert.Equal(t, "doc-123", id)

	require.NoError(t, c.RemoveDocument(context.Background(), "doc-123"))
	assert.Equal(t, []string{"doc-123"}, removed.IDs)
}

func TestDo_RejectsOversizedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server")
	}))
	defer srv.Close()

	// A base endpoint long enough that any path pushes past the cap.
	c := newTestClient(t, testConfig(srv.URL+"/"+strings.Repeat("x", 2100)))

	err := c.RemoveDocument(context.Background(), "doc-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2048")

	_, err = c.ChatStream(context.Background(), "m", "hi", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2048")
}

func TestInternetSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		fmt.Fprint(w, `{"results":[{"title":"Go docs","url":"https://go.dev","content":"Build simple software"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, testConfig(srv.URL))

	hits, err := c.InternetSearch(context.Background(), "golang", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Go docs", hits[0].Title)
	assert.Equal(t, "https://go.dev", hits[0].URL)
}

func TestStatusError_Messages(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{400, "malformed"},
		{401, "authentication"},
		{403, "denied access"},
		{404, "not found"},
		{429, "rate limiting"},
		{500, "temporarily unavailable"},
		{503, "temporarily unavailable"},
		{418, "unexpected status 418"},
	}
	for _, tc := range cases {
		err := &StatusError{Code: tc.code}
		assert.Contains(t, err.Error(), tc.want, "status %d", tc.code)
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 0
	cfg.BreakerEnabled = true
	c := newTestClient(t, cfg)

	for i := 0; i < 5; i++ {
		_, err := c.Chat(context.Background(), "test-model", "ping", "")
		var se *StatusError
		require.ErrorAs(t, err, &se)
	}
	assert.Equal(t, "open", c.BreakerState())

	_, err := c.Chat(context.Background(), "test-model", "ping", "")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(5), atomic.LoadInt32(&attempts), "open breaker must short-circuit")
}

func TestBreaker_RecoversThroughHalfOpen(t *testing.T) {
	b := newBreaker(zap.NewNop())
	for i := 0; i < b.failureThreshold; i++ {
		gen, err := b.allow()
		require.NoError(t, err)
		b.record(gen, false)
	}
	assert.Equal(t, breakerOpen, b.state)

	// Age past the cooldown instead of sleeping.
	b.mu.Lock()
	b.openedAt = time.Now().Add(-2 * b.cooldown)
	b.mu.Unlock()

	for i := 0; i < b.successThreshold; i++ {
		gen, err := b.allow()
		require.NoError(t, err)
		b.record(gen, true)
	}
	assert.Equal(t, breakerClosed, b.currentState())
}

func TestBreaker_IgnoresStaleGenerations(t *testing.T) {
	b := newBreaker(zap.NewNop())
	gen, err := b.allow()
	require.NoError(t, err)

	for i := 0; i < b.failureThreshold; i++ {
		g, err := b.allow()
		require.NoError(t, err)
		b.record(g, false)
	}
	require.Equal(t, breakerOpen, b.state)

	// A success from before the trip must not close the circuit.
	b.record(gen, true)
	assert.Equal(t, breakerOpen, b.state)
}

func TestRetryPolicy_DelayBounds(t *testing.T) {
	p := retryPolicy{maxRetries: 5, baseDelay: 100 * time.Millisecond}
	for attempt := 0; attempt < 8; attempt++ {
		for i := 0; i < 50; i++ {
			d := p.delay(attempt)
			assert.GreaterOrEqual(t, d, p.baseDelay)
			assert.LessOrEqual(t, d, 5*p.baseDelay)
		}
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&StatusError{Code: 429}))
	assert.True(t, retryable(&StatusError{Code: 502}))
	assert.True(t, retryable(&StatusError{Code: 503}))
	assert.True(t, retryable(&StatusError{Code: 504}))
	assert.False(t, retryable(&StatusError{Code: 400}))
	assert.False(t, retryable(&StatusError{Code: 500}))
	assert.True(t, retryable(errors.New("dial tcp: connection refused")))
	assert.True(t, retryable(errors.New("context deadline exceeded (Client.Timeout)")))
	assert.False(t, retryable(errors.New("no such host resolved")))
	assert.False(t, retryable(nil))
}

func TestSanitizeHeaderValue(t *testing.T) {
	assert.Equal(t, "xyz", sanitizeHeaderValue("x\r\ny\x7fz"))
	assert.Equal(t, "plain value", sanitizeHeaderValue("plain value"))
}
