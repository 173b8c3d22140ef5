// Package transport performs single-attempt JSON calls and classifies their failures.
// Retrying is the workflow engine's job, so nothing here loops.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"meeting-insights-go/internal/failure"
)

const maxErrorBody = 512

type Client struct {
	http *http.Client
	pool *Pool
}

// Pool bounds the number of outbound calls in flight across every client sharing it.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

func (p *Pool) Size() int {
	return int(p.size)
}

type Option func(*Client)

// WithPool makes every call of the client take a slot from p.
func WithPool(p *Pool) Option {
	return func(c *Client) { c.pool = p }
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New returns a client whose requests are bounded by timeout. One client can be shared by
// every activity; the underlying transport pools connections.
func New(timeout time.Duration, opts ...Option) *Client {
	c := &Client{http: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   any
}

// DoJSON sends req and decodes a 2xx response body into target (when non-nil).
func (c *Client) DoJSON(ctx context.Context, op string, req Request, target any) error {
	body, _, err := c.Do(ctx, op, req)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return failure.Schema(op, errors.New("empty body"), "empty response body")
	}
	if err := json.Unmarshal(body, target); err != nil {
		return failure.Schema(op, err, fmt.Sprintf("json decode error: %v body=%s", err, snippet(body)))
	}
	return nil
}

// Do sends req and returns the raw 2xx body and response headers.
func (c *Client) Do(ctx context.Context, op string, req Request) ([]byte, http.Header, error) {
	var reader io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, nil, failure.InvalidInput(op, fmt.Sprintf("encode request: %v", err))
		}
		reader = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, reader)
	if err != nil {
		return nil, nil, failure.InvalidInput(op, fmt.Sprintf("build request: %v", err))
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	if c.pool != nil {
		if err := c.pool.sem.Acquire(ctx, 1); err != nil {
			return nil, nil, failure.Transient(op, fmt.Errorf("waiting for activity slot: %w", err))
		}
		defer c.pool.sem.Release(1)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, failure.Transient(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, failure.Transient(op, fmt.Errorf("read body: %w", err))
	}

	if err := classify(op, resp.StatusCode, body); err != nil {
		return nil, nil, err
	}
	return body, resp.Header, nil
}

// classify maps an HTTP status to a failure kind: 408, 429 and 5xx are transient, other
// non-2xx statuses are terminal provider errors.
func classify(op string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	reason := fmt.Sprintf("http %d: %s", status, snippet(body))
	kind := failure.KindTerminalProvider
	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		kind = failure.KindTransient
	}
	return &failure.Error{
		Kind:   kind,
		Op:     op,
		Reason: reason,
		Status: status,
		Err:    fmt.Errorf("unexpected status %d", status),
	}
}

func snippet(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
