// Package qdrant implements vectorstore.Store against the Qdrant REST API.
//
// Each namespace is a Qdrant collection. Keyword payload indexes are created
// with field_schema "keyword", and a 409 Conflict on collection or index
// creation is reported as vectorstore.AlreadyExists.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scrypster/recall/internal/breaker"
	"github.com/scrypster/recall/internal/vectorstore"
)

// scrollPageSize is the number of points requested per scroll page.
const scrollPageSize = 256

// Config holds configuration for the Qdrant client.
type Config struct {
	URL     string        // default: http://localhost:6333
	APIKey  string        // sent as the api-key header when set
	Timeout time.Duration // default: 30s
}

// Store implements vectorstore.Store over HTTP.
type Store struct {
	cfg            Config
	client         *http.Client
	circuitBreaker *breaker.CircuitBreaker
}

var _ vectorstore.Store = (*Store)(nil)

// New creates a Qdrant store. No request is made until the first call.
func New(cfg Config) *Store {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:6333"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	return &Store{
		cfg:            cfg,
		client:         &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: breaker.New("qdrant"),
	}
}

// APIError is a non-success response from Qdrant.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("qdrant %s %s returned status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

type response struct {
	status int
	body   []byte
}

// envelope is the common Qdrant response wrapper.
type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

// do sends one request through the circuit breaker. Only transport failures
// and 5xx responses count against the breaker; 4xx statuses are returned to
// the caller for interpretation.
func (s *Store) do(ctx context.Context, method, path string, body any) (response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return response{}, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	return breaker.Execute(ctx, s.circuitBreaker, func() (response, error) {
		req, err := http.NewRequestWithContext(ctx, method, s.cfg.URL+path, bytes.NewReader(payload))
		if err != nil {
			return response{}, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.cfg.APIKey != "" {
			req.Header.Set("api-key", s.cfg.APIKey)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return response{}, fmt.Errorf("failed to send request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return response{}, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode >= 500 {
			return response{}, &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(data)}
		}
		return response{status: resp.StatusCode, body: data}, nil
	})
}

// decode unwraps the result field of a successful response into out.
func decode(method, path string, resp response, out any) error {
	if resp.status < 200 || resp.status > 299 {
		return &APIError{Method: method, Path: path, Status: resp.status, Body: string(resp.body)}
	}
	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

func collectionPath(namespace string, suffix ...string) string {
	return "/collections/" + url.PathEscape(namespace) + strings.Join(suffix, "")
}
