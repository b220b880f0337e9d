// Package remote talks to the spreadsheet-style HTTP store that holds the
// inventory rows.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/stockgrid/internal/core/fallback"
)

const (
	DefaultMinInterval = 1000 * time.Millisecond
	DefaultBackoff     = 1000 * time.Millisecond
	DefaultMaxRetries  = 3
)

// Client issues spaced, retried requests against {baseURL}/{resource}.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	state       *fallback.State
	logger      *slog.Logger
	minInterval time.Duration
	backoff     time.Duration
	maxRetries  int

	mu   sync.Mutex
	next time.Time // earliest moment the next call may leave
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithMinInterval(d time.Duration) Option {
	return func(c *Client) { c.minInterval = d }
}

// WithBackoff sets the unit of the linear backoff; retry n waits n units.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(baseURL string, state *fallback.State, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		state:       state,
		logger:      slog.Default(),
		minInterval: DefaultMinInterval,
		backoff:     DefaultBackoff,
		maxRetries:  DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends body as JSON and, when out is non-nil, decodes the JSON response
// into it. Server errors, network errors and unparsable bodies are retried;
// quota responses switch the process into fallback mode.
func (c *Client) Do(ctx context.Context, method, resource string, body, out any) error {
	if c.state.Active() {
		return fmt.Errorf("%w: %s", ErrUnavailable, c.state.Reason())
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	url := c.baseURL + "/" + resource
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.backoff
			c.logger.Warn("remote: retrying request",
				"method", method,
				"resource", resource,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		if err := c.throttle(ctx); err != nil {
			return err
		}
		// another caller may have entered fallback while this one waited
		if c.state.Active() {
			return fmt.Errorf("%w: %s", ErrUnavailable, c.state.Reason())
		}

		err := c.send(ctx, method, url, payload, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrQuotaExceeded) {
			if c.state.Enter("quota exceeded") {
				c.logger.Error("remote: quota exceeded, entering fallback mode", "resource", resource)
			}
			return err
		}
		if errors.Is(err, ErrBadRequest) || ctx.Err() != nil {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%w: %s %s after %d retries: %w", ErrRequestFailed, method, resource, c.maxRetries, lastErr)
}

// throttle reserves the next free send slot and waits for it.
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	at := c.next
	if at.Before(now) {
		at = now
	}
	c.next = at.Add(c.minInterval)
	c.mu.Unlock()

	return sleep(ctx, time.Until(at))
}

func (c *Client) send(ctx context.Context, method, url string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrBadRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrQuotaExceeded, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", errServer, resp.StatusCode, string(data))
	case resp.StatusCode >= 400:
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: empty body", errTransientParse)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", errTransientParse, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
