// Package tmdb is a small client for the parts of The Movie Database API the
// collector polls.
package tmdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/icco/trendwatch/lib/metrics"
)

// DefaultBaseURL is the public TMDB v3 API.
const DefaultBaseURL = "https://api.themoviedb.org/3"

const breakerName = "tmdb-api"

// ErrRateLimited is returned when TMDB keeps answering 429 after every retry.
var ErrRateLimited = errors.New("tmdb rate limit exceeded")

// APIError is a non-retryable, non-2xx response.
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("tmdb %s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("tmdb %s: status %d", e.Endpoint, e.StatusCode)
}

// Config controls transport behaviour. Zero values take defaults.
type Config struct {
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
	RequestInterval time.Duration
	Burst           int
	MaxRetries      int
	// RetryBackoff is the base of the linear backoff after 5xx responses.
	RetryBackoff time.Duration
	// RateLimitWait is used after a 429 without a Retry-After header.
	RateLimitWait time.Duration
	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RequestInterval <= 0 {
		c.RequestInterval = 250 * time.Millisecond
	}
	if c.Burst <= 0 {
		c.Burst = 4
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.RateLimitWait <= 0 {
		c.RateLimitWait = 10 * time.Second
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = time.Minute
	}
	return c
}

// Client talks to TMDB. It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	logger = logger.With(slog.String("component", "tmdb"))

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(cfg.RequestInterval), cfg.Burst),
		breaker:    breaker,
		logger:     logger,
	}
}

// countsAsSuccess keeps throttling, caller cancellation and client errors
// from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode < 500
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// get fetches path and decodes the JSON body into out. endpoint is the
// templated path used for logs and metrics.
func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values, out any) error {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.fetch(ctx, endpoint, path, params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("tmdb %s rejected: %w", endpoint, err)
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, endpoint, path string, params url.Values) ([]byte, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("api_key", c.cfg.APIKey)
	target := c.cfg.BaseURL + path + "?" + q.Encode()

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
		}

		status, header, body, err := c.do(ctx, endpoint, target)

		var lastErr error
		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			wait = c.cfg.RetryBackoff * time.Duration(attempt+1)
		case status == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			wait = retryAfter(header, c.cfg.RateLimitWait)
		case status >= 500:
			lastErr = &APIError{StatusCode: status, Endpoint: endpoint, Message: errorMessage(body)}
			wait = c.cfg.RetryBackoff * time.Duration(attempt+1)
		case status < 200 || status >= 300:
			return nil, &APIError{StatusCode: status, Endpoint: endpoint, Message: errorMessage(body)}
		default:
			return body, nil
		}

		if attempt >= c.cfg.MaxRetries {
			if errors.Is(lastErr, ErrRateLimited) {
				return nil, fmt.Errorf("%s after %d attempts: %w", endpoint, attempt+1, ErrRateLimited)
			}
			return nil, lastErr
		}

		c.logger.WarnContext(ctx, "Retrying TMDB request",
			slog.String("endpoint", endpoint),
			slog.Int("attempt", attempt+1),
			slog.Duration("wait", wait),
			slog.Any("error", lastErr))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) do(ctx context.Context, endpoint, target string) (int, http.Header, []byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordTMDBRequest(endpoint, 0, time.Since(start))
		return 0, nil, nil, fmt.Errorf("failed to make request: %w", redact(err))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("failed to close response body", slog.Any("error", err))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	metrics.RecordTMDBRequest(endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.DebugContext(ctx, "TMDB request",
		slog.String("endpoint", endpoint),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	return resp.StatusCode, resp.Header, body, nil
}

// redact strips the api_key query parameter from the URL carried by
// transport errors so it never reaches logs or callers.
func redact(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	u, perr := url.Parse(uerr.URL)
	if perr != nil {
		return &url.Error{Op: uerr.Op, URL: "(redacted)", Err: uerr.Err}
	}
	q := u.Query()
	if q.Has("api_key") {
		q.Set("api_key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return &url.Error{Op: uerr.Op, URL: u.String(), Err: uerr.Err}
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

func errorMessage(body []byte) string {
	var e struct {
		StatusMessage string `json:"status_message"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.StatusMessage
}
