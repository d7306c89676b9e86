// Package fetcher retrieves raw user payloads from the HTTP source with
// bounded retries.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/telhawk-systems/telhawk-etl/common/logging"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/metrics"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/retry"
)

const (
	maxBodyBytes  = 32 << 20
	maxErrorBytes = 4 << 10
)

// ErrMalformedBody is returned for a 2xx response whose body is not JSON.
var ErrMalformedBody = errors.New("response body is not valid JSON")

// HTTPError is an explicit rejection by the server. It is never retried.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

// Terminal marks HTTP errors as not worth retrying.
func (e *HTTPError) Terminal() bool { return true }

type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for attempt logging.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSleep replaces the backoff sleep, mostly in tests.
func WithSleep(sleep retry.SleepFunc) Option {
	return func(c *Client) { c.policy.Sleep = sleep }
}

// New returns a Client for baseURL that makes up to maxAttempts attempts,
// waiting backoffBase * 2^attempt between them.
func New(baseURL string, timeout time.Duration, maxAttempts int, backoffBase time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		policy: retry.New(maxAttempts, backoffBase),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UsersURL returns the source URL for a batch of quantity users.
func (c *Client) UsersURL(quantity int) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("_quantity", strconv.Itoa(quantity))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchUsers fetches one page of quantity users.
func (c *Client) FetchUsers(ctx context.Context, quantity int) (json.RawMessage, error) {
	target, err := c.UsersURL(quantity)
	if err != nil {
		return nil, err
	}
	return c.Fetch(ctx, target)
}

// Fetch performs GET target and returns the parsed JSON body. Transport
// failures and malformed bodies are retried; HTTP error statuses are not.
func (c *Client) Fetch(ctx context.Context, target string) (json.RawMessage, error) {
	logger := c.logger.With(logging.URL(target))

	policy := c.policy
	policy.OnFailure = func(attempt int, err error, wait time.Duration) {
		if wait > 0 {
			logger.Warn("Fetch attempt failed, retrying",
				logging.Attempt(attempt+1),
				logging.Wait(wait),
				logging.Error(err),
			)
			return
		}
		logger.Warn("Fetch attempt failed", logging.Attempt(attempt+1), logging.Error(err))
	}

	var body json.RawMessage
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		start := time.Now()
		b, err := c.get(ctx, target)
		metrics.FetchDuration.Observe(time.Since(start).Seconds())
		metrics.FetchAttempts.WithLabelValues(metrics.Outcome(err)).Inc()
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		var httpErr *HTTPError
		var exhausted *retry.ExhaustedError
		switch {
		case errors.As(err, &httpErr):
			logger.Error("HTTP error", logging.Status(httpErr.StatusCode), logging.Error(err))
		case errors.As(err, &exhausted):
			logger.Error("All retry attempts failed", logging.Attempt(exhausted.Attempts), logging.Error(exhausted.Err))
		default:
			logger.Error("Fetch aborted", logging.Error(err))
		}
		return nil, err
	}

	logger.Info("Fetched payload", slog.Int("bytes", len(body)))
	return body, nil
}

func (c *Client) get(ctx context.Context, target string) (json.RawMessage, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Terminal(fmt.Errorf("build request: %w", err))
	}
	request.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !json.Valid(b) {
		return nil, ErrMalformedBody
	}

	return json.RawMessage(b), nil
}
