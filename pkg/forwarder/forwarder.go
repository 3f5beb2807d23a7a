// Cricket Bridge - WhatsApp relay for the CSCC cricket agent
// License: MIT
//
// Copyright (c) 2026 Cricket Bridge contributors

package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	askPath    = "/v1/ask"
	healthPath = "/healthz"

	maxAttempts    = 3
	baseDelay      = time.Second
	requestTimeout = 30 * time.Second
	healthTimeout  = 5 * time.Second
)

// Request is the payload sent to the upstream answering service.
type Request struct {
	Text     string `json:"text"`
	Source   string `json:"source"`
	TeamHint string `json:"team_hint,omitempty"`
}

// Response is the upstream's answer plus its diagnostic metadata.
type Response struct {
	Answer string `json:"answer"`
	Meta   Meta   `json:"meta"`
}

type Meta struct {
	Intent    string         `json:"intent,omitempty"`
	Entities  map[string]any `json:"entities,omitempty"`
	LatencyMS float64        `json:"latency_ms,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	CacheHit  bool           `json:"cache_hit,omitempty"`
	RAGHit    bool           `json:"rag_hit,omitempty"`
}

// Error is a forwarding failure. Retryable reports whether further attempts
// could have helped; StatusCode is zero for network-level failures.
type Error struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream returned %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream unreachable: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Forwarder delivers cleaned messages to the upstream service with bounded
// retry. 4xx responses abort immediately; everything else is retried with
// exponential backoff.
type Forwarder struct {
	baseURL      string
	token        string
	client       *http.Client
	healthClient *http.Client

	maxAttempts int
	baseDelay   time.Duration
}

type Option func(*Forwarder)

// WithRetry overrides the attempt count and backoff base, used by tests.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(f *Forwarder) {
		f.maxAttempts = attempts
		f.baseDelay = delay
	}
}

func New(baseURL, token string, opts ...Option) *Forwarder {
	f := &Forwarder{
		baseURL:      baseURL,
		token:        token,
		client:       &http.Client{Timeout: requestTimeout},
		healthClient: &http.Client{Timeout: healthTimeout},
		maxAttempts:  maxAttempts,
		baseDelay:    baseDelay,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward posts the request to the upstream ask endpoint. On failure the
// returned error is always a *Error carrying the last attempt's outcome.
func (f *Forwarder) Forward(ctx context.Context, req Request) (*Response, error) {
	if req.Source == "" {
		req.Source = "whatsapp"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Retryable: false, Err: err}
	}

	requestID := uuid.NewString()
	start := time.Now()

	var lastErr *Error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		resp, attemptErr := f.attempt(ctx, body, requestID, attempt)
		if attemptErr == nil {
			f.logOutcome(resp, requestID, time.Since(start), attempt)
			return resp, nil
		}

		lastErr = attemptErr
		if !attemptErr.Retryable {
			slog.Warn("forward aborted",
				"request_id", requestID,
				"attempt", attempt,
				"status", attemptErr.StatusCode,
			)
			return nil, attemptErr
		}

		if attempt < f.maxAttempts {
			delay := f.baseDelay * (1 << (attempt - 1))
			slog.Warn("forward attempt failed, retrying",
				"request_id", requestID,
				"attempt", attempt,
				"delay", delay,
				"error", attemptErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &Error{Retryable: false, Err: ctx.Err()}
			}
		}
	}

	slog.Error("forward failed after all attempts",
		"request_id", requestID,
		"attempts", f.maxAttempts,
		"error", lastErr,
	)
	return nil, lastErr
}

func (f *Forwarder) attempt(ctx context.Context, body []byte, requestID string, attempt int) (*Response, *Error) {
	url := f.baseURL + askPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Retryable: false, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Relay-Token", f.token)

	// The token header is deliberately absent from this log line.
	slog.Debug("forwarding to agent",
		"request_id", requestID,
		"method", http.MethodPost,
		"url", url,
		"attempt", attempt,
	)

	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Retryable: true, Err: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 && httpResp.StatusCode < 500 {
		return nil, &Error{
			StatusCode: httpResp.StatusCode,
			Retryable:  false,
			Err:        fmt.Errorf("client error %s", httpResp.Status),
		}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &Error{
			StatusCode: httpResp.StatusCode,
			Retryable:  true,
			Err:        fmt.Errorf("server error %s", httpResp.Status),
		}
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, &Error{
			StatusCode: httpResp.StatusCode,
			Retryable:  true,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	if resp.Meta.RequestID == "" {
		resp.Meta.RequestID = requestID
	}
	return &resp, nil
}

func (f *Forwarder) logOutcome(resp *Response, requestID string, elapsed time.Duration, attempts int) {
	slog.Info("forward succeeded",
		"request_id", requestID,
		"attempts", attempts,
		"duration_ms", elapsed.Milliseconds(),
		"agent_latency_ms", resp.Meta.LatencyMS,
		"intent", resp.Meta.Intent,
		"cache_hit", resp.Meta.CacheHit,
		"rag_hit", resp.Meta.RAGHit,
	)
}

// HealthCheck probes the upstream health endpoint with a short timeout.
func (f *Forwarder) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+healthPath, nil)
	if err != nil {
		return false
	}
	resp, err := f.healthClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Status fetches the raw upstream health payload for diagnostics. It returns
// nil on any failure rather than an error.
func (f *Forwarder) Status(ctx context.Context) map[string]any {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+healthPath, nil)
	if err != nil {
		return nil
	}
	resp, err := f.healthClient.Do(req)
	if err != nil {
		slog.Debug("upstream status probe failed", "error", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	return payload
}
