// Package inference speaks JSON-over-HTTP to the configured inference
// backend, which exposes an OpenAI-compatible surface plus document and
// web-search endpoints. Every call runs through a shared retry wrapper
// with bounded exponential backoff, a token-bucket rate limiter, and an
// optional circuit breaker; request caps and header sanitization are
// applied before anything touches the wire.
package inference

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/config"
	"github.com/dirigent-ai/dirigent/internal/metrics"
	"github.com/dirigent-ai/dirigent/internal/tracing"
)

const (
	maxURLBytes    = 2048
	maxHeaderBytes = 8192
	maxBodyBytes   = 100 << 20
	maxTimeout     = 300 * time.Second
	maxRetriesCap  = 10
)

// Client is the inference backend client. Safe for concurrent use.
type Client struct {
	base    string
	http    *http.Client
	logger  *zap.Logger
	policy  retryPolicy
	limiter *rate.Limiter
	breaker *breaker
	embeds  *lru.Cache[string, []float32]
}

// New builds a Client from cfg, clamping the timeout to 300s and the
// retry count to [0,10].
func New(cfg config.InferenceConfig, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(cfg.Endpoint, "/")
	if base == "" {
		return nil, fmt.Errorf("inference endpoint cannot be empty")
	}
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid inference endpoint %q", cfg.Endpoint)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	if retries > maxRetriesCap {
		retries = maxRetriesCap
	}
	d0 := cfg.RetryDelay
	if d0 <= 0 {
		d0 = time.Second
	}

	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
		policy: retryPolicy{maxRetries: retries, baseDelay: d0},
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	if cfg.BreakerEnabled {
		c.breaker = newBreaker(logger)
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, []float32](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create embedding cache: %w", err)
		}
		c.embeds = cache
	}
	return c, nil
}

// BreakerState reports the circuit breaker state for the status surface.
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.currentState().String()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Chat sends one user message, optionally preceded by a system prompt,
// and returns the assistant reply text.
func (c *Client) Chat(ctx context.Context, model, message, systemPrompt string) (string, error) {
	req := chatRequest{Model: model, Messages: chatTurn(message, systemPrompt)}

	var out chatResponse
	start := time.Now()
	err := c.do(ctx, http.MethodPost, "/chat/completions", req, &out)
	metrics.RecordInferenceMetrics(model, statusLabel(err), time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("inference service returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func chatTurn(message, systemPrompt string) []chatMessage {
	msgs := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: systemPrompt})
	}
	return append(msgs, chatMessage{Role: "user", Content: message})
}

// StreamChunk is one frame of a streaming chat response. Text carries
// the delta since the previous frame; Partial is false on the terminal
// frame.
type StreamChunk struct {
	Text    string  `json:"text"`
	Partial bool    `json:"partial"`
	TPS     float64 `json:"tps,omitempty"`
	TTFT    float64 `json:"ttft,omitempty"`
}

// ChatStream sends one chat turn to the backend's streaming endpoint
// and invokes onChunk (may be nil) for every frame as it arrives. It
// returns the assembled reply. A stream is delivered at most once, so
// this call is never retried.
func (c *Client) ChatStream(ctx context.Context, model, message, systemPrompt string, onChunk func(StreamChunk)) (string, error) {
	fullURL := c.base + "/v1/inference/chat/completions"
	if len(fullURL) > maxURLBytes {
		return "", fmt.Errorf("request URL exceeds %d bytes", maxURLBytes)
	}
	body, err := json.Marshal(chatRequest{Model: model, Messages: chatTurn(message, systemPrompt), Stream: true})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	var gen uint64
	if c.breaker != nil {
		g, err := c.breaker.allow()
		if err != nil {
			return "", err
		}
		gen = g
	}

	start := time.Now()
	reply, err := c.streamOnce(ctx, fullURL, body, onChunk)
	if c.breaker != nil {
		c.breaker.record(gen, err == nil)
	}
	metrics.RecordInferenceMetrics(model, statusLabel(err), time.Since(start).Seconds())
	return reply, err
}

func (c *Client) streamOnce(ctx context.Context, fullURL string, body []byte, onChunk func(StreamChunk)) (string, error) {
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, fullURL)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	setHeader(req, "Content-Type", "application/json")
	setHeader(req, "Accept", "text/event-stream")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &StatusError{Code: resp.StatusCode}
	}

	var sb strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "[DONE]" {
			break
		}
		var chunk StreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return "", fmt.Errorf("decode stream frame: %w", err)
		}
		sb.WriteString(chunk.Text)
		if onChunk != nil {
			onChunk(chunk)
		}
		if !chunk.Partial {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	return sb.String(), nil
}

// Complete runs a raw completion and returns the backend's whole
// response object, so callers keep fields like token usage and timings.
// Entries of params ride at the top level of the request next to model
// and prompt, OpenAI style.
func (c *Client) Complete(ctx context.Context, model, prompt string, params *agentdata.Data) (*agentdata.Data, error) {
	req := map[string]interface{}{"model": model, "prompt": prompt, "stream": false}
	if params.Len() > 0 {
		for k, v := range params.ToInterface() {
			req[k] = v
		}
	}

	var raw json.RawMessage
	start := time.Now()
	err := c.do(ctx, http.MethodPost, "/completions", req, &raw)
	metrics.RecordInferenceMetrics(model, statusLabel(err), time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	out, err := agentdata.FromJSON(string(raw))
	if err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	return out, nil
}

// ModelInfo describes one model the backend can serve.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

type listModelsResponse struct {
	Data []ModelInfo `json:"data"`
}

// ListModels returns the models available on the backend. Older
// backends serve the listing at /models instead of /v1/models; a 404
// on the primary path falls through to the legacy one.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var out listModelsResponse
	err := c.do(ctx, http.MethodGet, "/v1/models", nil, &out)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		err = c.do(ctx, http.MethodGet, "/models", nil, &out)
	}
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for text, serving repeats from the
// in-process LRU cache.
func (c *Client) Embed(ctx context.Context, text, model string) ([]float32, error) {
	key := embedKey(model, text)
	if c.embeds != nil {
		if v, ok := c.embeds.Get(key); ok {
			metrics.CacheHits.Inc()
			return v, nil
		}
		metrics.CacheMisses.Inc()
	}

	var out embedResponse
	start := time.Now()
	err := c.do(ctx, http.MethodPost, "/v1/embeddings", embedRequest{Model: model, Input: text}, &out)
	metrics.RecordInferenceMetrics(model, statusLabel(err), time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("inference service returned no embedding")
	}
	raw := out.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, f := range raw {
		vec[i] = float32(f)
	}
	if c.embeds != nil {
		c.embeds.Add(key, vec)
	}
	return vec, nil
}

func embedKey(model, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// Health reports whether the backend answers at all.
func (c *Client) Health(ctx context.Context) bool {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil) == nil
}

type retrieveRequest struct {
	Query   string                 `json:"query"`
	K       int                    `json:"k"`
	Filters map[string]interface{} `json:"filters,omitempty"`
}

type documentsResponse struct {
	Documents []json.RawMessage `json:"documents"`
}

// SearchDocuments runs a semantic search over the backend's document
// store and returns up to k matches.
func (c *Client) SearchDocuments(ctx context.Context, query string, k int, filters *agentdata.Data) ([]*agentdata.Data, error) {
	req := retrieveRequest{Query: query, K: k}
	if filters.Len() > 0 {
		req.Filters = filters.ToInterface()
	}
	var out documentsResponse
	if err := c.do(ctx, http.MethodPost, "/retrieve", req, &out); err != nil {
		return nil, err
	}
	return decodeDocuments(out.Documents)
}

// ListDocuments returns every document currently in the backend store.
func (c *Client) ListDocuments(ctx context.Context) ([]*agentdata.Data, error) {
	var out documentsResponse
	if err := c.do(ctx, http.MethodGet, "/list_documents", nil, &out); err != nil {
		return nil, err
	}
	return decodeDocuments(out.Documents)
}

func decodeDocuments(raw []json.RawMessage) ([]*agentdata.Data, error) {
	docs := make([]*agentdata.Data, 0, len(raw))
	for i, r := range raw {
		d, err := agentdata.FromJSON(string(r))
		if err != nil {
			return nil, fmt.Errorf("decode document %d: %w", i, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

type addDocumentsRequest struct {
	Documents []map[string]interface{} `json:"documents"`
}

type addDocumentsResponse struct {
	IDs []string `json:"ids"`
}

// AddDocument stores body in the backend's document store and returns
// the assigned document id.
func (c *Client) AddDocument(ctx context.Context, body *agentdata.Data) (string, error) {
	req := addDocumentsRequest{Documents: []map[string]interface{}{body.ToInterface()}}
	var out addDocumentsResponse
	if err := c.do(ctx, http.MethodPost, "/add_documents", req, &out); err != nil {
		return "", err
	}
	if len(out.IDs) == 0 {
		return "", nil
	}
	return out.IDs[0], nil
}

type removeDocumentsRequest struct {
	IDs []string `json:"ids"`
}

// RemoveDocument deletes a stored document by id.
func (c *Client) RemoveDocument(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/remove_documents", removeDocumentsRequest{IDs: []string{id}}, nil)
}

type webSearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// SearchResult is one hit from InternetSearch.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type webSearchResponse struct {
	Results []SearchResult `json:"results"`
}

// InternetSearch asks the backend's web search endpoint for up to n hits.
func (c *Client) InternetSearch(ctx context.Context, query string, n int) ([]SearchResult, error) {
	var out webSearchResponse
	err := c.do(ctx, http.MethodPost, "/search", webSearchRequest{Query: query, MaxResults: n}, &out)
	if err != nil {
		return nil, err
	}
	return out.Results, nil
}

// do runs one logical call: caps, rate limit, breaker, then the retry
// loop around individual round trips.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	fullURL := c.base + path
	if len(fullURL) > maxURLBytes {
		return fmt.Errorf("request URL exceeds %d bytes", maxURLBytes)
	}

	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = b
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var gen uint64
	if c.breaker != nil {
		g, err := c.breaker.allow()
		if err != nil {
			return err
		}
		gen = g
	}

	err := c.withRetry(ctx, func() error {
		return c.roundTrip(ctx, method, fullURL, body, out)
	})
	if c.breaker != nil {
		c.breaker.record(gen, err == nil)
	}
	return err
}

// roundTrip performs a single HTTP exchange.
func (c *Client) roundTrip(ctx context.Context, method, fullURL string, body []byte, out interface{}) error {
	ctx, span := tracing.StartHTTPSpan(ctx, method, fullURL)
	defer span.End()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		setHeader(req, "Content-Type", "application/json")
	}
	setHeader(req, "Accept", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(data) > maxBodyBytes {
		return fmt.Errorf("response body exceeds %d bytes", maxBodyBytes)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// setHeader sanitizes the value (control characters stripped, length
// capped) before it reaches the wire.
func setHeader(req *http.Request, key, value string) {
	v := sanitizeHeaderValue(value)
	if len(v) > maxHeaderBytes {
		v = v[:maxHeaderBytes]
	}
	req.Header.Set(key, v)
}

func sanitizeHeaderValue(v string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, v)
}

func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
