// Package streakfeed implements the HTTP client for the external
// daily-consistency streak service. The service evaluates each student's
// daily activity on its own schedule; this client only fetches its verdicts
// so the worker can credit qualifying streak days.
package streakfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pillarworks/progression-engine/pkg/circuitbreaker"
	"github.com/pillarworks/progression-engine/pkg/retry"
	"github.com/pillarworks/progression-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the streak feed client.
type ClientConfig struct {
	// BaseURL is the streak service base URL.
	BaseURL string

	// APIKey authenticates the worker against the streak service.
	APIKey string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// RequestsPerSecond is the maximum sustained request rate.
	RequestsPerSecond float64

	// BurstSize is how many requests may be made in a burst.
	BurstSize int

	// MaxRetries is the number of retry attempts per request.
	MaxRetries int

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Timeout:           30 * time.Second,
		RequestsPerSecond: 2.0,
		BurstSize:         5,
		MaxRetries:        3,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the streak feed API client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *tokenBucket
	breaker    *circuitbreaker.CircuitBreaker
}

// NewClient creates a new streak feed client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 2.0
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:  config.Logger,
		limiter: newTokenBucket(config.RequestsPerSecond, config.BurstSize),
		breaker: circuitbreaker.New("streakfeed"),
	}
}

// qualifiedResponse is the wire shape of the qualified-students endpoint.
type qualifiedResponse struct {
	Date       string   `json:"date"`
	StudentIDs []string `json:"student_ids"`
}

// apiError is the wire shape of an error response.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// QualifiedStudents returns the IDs of students whose streak qualified for
// the given day. Implements the worker's StreakSource.
func (c *Client) QualifiedStudents(ctx context.Context, day time.Time) ([]string, error) {
	path := "/api/v1/streaks/qualified?date=" + timeutil.FormatDateStr(day)

	var resp qualifiedResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("streakfeed: qualified students: %w", err)
	}

	return resp.StudentIDs, nil
}

// get performs a rate-limited GET with retries behind the circuit breaker.
func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, func(ctx context.Context) error {
			if err := c.limiter.wait(ctx); err != nil {
				return retry.Permanent(err)
			}
			return c.doSingleRequest(ctx, path, result)
		}, retry.WithMaxAttempts(c.config.MaxRetries+1))
	})
}

// doSingleRequest performs one HTTP GET and decodes the response.
func (c *Client) doSingleRequest(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.Unmarshal(body, result); err != nil {
			return retry.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 60 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		c.limiter.backOff(retryAfter)
		return retry.Retryable(fmt.Errorf("rate limited, retry after %s", retryAfter))

	case resp.StatusCode >= 500:
		return retry.Retryable(fmt.Errorf("server error: status %d", resp.StatusCode))

	default:
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return retry.Permanent(fmt.Errorf("api error %s: %s (status %d)", apiErr.Code, apiErr.Message, resp.StatusCode))
		}
		return retry.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

// Ping checks that the streak service is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/api/v1/health", &resp); err != nil {
		return fmt.Errorf("streakfeed: ping: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("streakfeed: unhealthy status %q", resp.Status)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITING
// ══════════════════════════════════════════════════════════════════════════════

// ErrRateLimitWait is returned when the context expires while waiting for a
// token.
var ErrRateLimitWait = errors.New("streakfeed: context cancelled while rate limited")

// tokenBucket paces outgoing requests. The streak service is shared with
// other consumers, so the client stays within its configured budget even
// when the worker credits a large cohort.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
	pausedTill time.Time
}

func newTokenBucket(perSecond float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: perSecond,
		lastRefill: time.Now(),
	}
}

// wait blocks until a token is available or the context is done.
func (b *tokenBucket) wait(ctx context.Context) error {
	for {
		delay, ok := b.tryTake()
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrRateLimitWait, ctx.Err())
		case <-time.After(delay):
		}
	}
}

// tryTake takes a token if available, otherwise returns how long to wait.
func (b *tokenBucket) tryTake() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Before(b.pausedTill) {
		return b.pausedTill.Sub(now), false
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}

	deficit := 1 - b.tokens
	return time.Duration(deficit / b.refillRate * float64(time.Second)), false
}

// backOff pauses the bucket after the server reported a rate limit.
func (b *tokenBucket) backOff(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	till := time.Now().Add(d)
	if till.After(b.pausedTill) {
		b.pausedTill = till
	}
}
