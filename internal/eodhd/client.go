package eodhd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the base URL for the EODHD API.
	DefaultBaseURL = "https://eodhd.com/api"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10

	maxErrorBody = 512
)

// ErrMissingAPIKey is returned by calls made without an API token.
var ErrMissingAPIKey = errors.New("eodhd api key is not configured")

// Client is an EODHD API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
	backoff    common.Backoff
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithRetry retries transient failures (429, 5xx, timeouts) with bounded backoff.
func WithRetry(b common.Backoff) ClientOption {
	return func(c *Client) {
		c.backoff = b
	}
}

// NewClient creates a new EODHD API client.
// Without WithRetry each call is attempted once.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		backoff: common.Backoff{MaxAttempts: 1},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = arbor.NewLogger()
	}

	return c
}

// NewClientFromConfig builds a client from the eodhd config section
// A missing key yields a client whose calls fail with ErrMissingAPIKey.
func NewClientFromConfig(cfg common.EODHDConfig, logger arbor.ILogger) *Client {
	apiKey, _ := common.ResolveAPIKey("eodhd_api_key", cfg.APIKey)
	return NewClient(
		apiKey,
		WithBaseURL(cfg.BaseURL),
		WithRateLimit(cfg.RateLimit),
		WithRetry(common.NewBackoff(cfg.Retry)),
		WithLogger(logger),
	)
}

// HasAPIKey reports whether calls can be authenticated
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

// get performs a GET request, retrying transient failures.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}

	_, err := common.Retry(ctx, c.backoff, c.logger, "eodhd "+path, models.IsTransient, func(ctx context.Context) error {
		return c.getOnce(ctx, path, params, result)
	})
	return err
}

func (c *Client) getOnce(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	query.Set("api_token", c.apiKey)
	query.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().
		Str("url", c.baseURL+path).
		Msg("EODHD API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		// Returned unwrapped so the retry loop can read the Retry-After hint
		return &models.StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			Endpoint:   path,
			Retry:      parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}

	return nil
}

func dateParams(p queryParams) url.Values {
	values := url.Values{}
	if !p.From.IsZero() {
		values.Set("from", p.From.Format("2006-01-02"))
	}
	if !p.To.IsZero() {
		values.Set("to", p.To.Format("2006-01-02"))
	}
	return values
}

// GetEOD retrieves end-of-day price data for a symbol, oldest first by default.
// Symbol format: TICKER.EXCHANGE (e.g., "AAPL.US", "INFY.NSE")
func (c *Client) GetEOD(ctx context.Context, symbol string, opts ...QueryOption) (EODResponse, error) {
	p := buildParams(opts, queryParams{Period: "d", Order: "a"})

	values := dateParams(p)
	if p.Period != "" {
		values.Set("period", p.Period)
	}
	if p.Order != "" {
		values.Set("order", p.Order)
	}

	var result EODResponse
	if err := c.get(ctx, "/eod/"+symbol, values, &result); err != nil {
		return nil, err
	}

	for i := range result {
		if t, err := time.Parse("2006-01-02", result[i].DateStr); err == nil {
			result[i].Date = t
		}
	}

	return result, nil
}

// GetNews retrieves news for one or more symbols.
// Symbols should be in TICKER.EXCHANGE format.
func (c *Client) GetNews(ctx context.Context, symbols []string, opts ...QueryOption) (NewsResponse, error) {
	p := buildParams(opts, queryParams{Limit: 50})

	values := dateParams(p)
	values.Set("s", strings.Join(symbols, ","))
	if p.Limit > 0 {
		values.Set("limit", strconv.Itoa(p.Limit))
	}

	var result NewsResponse
	if err := c.get(ctx, "/news", values, &result); err != nil {
		return nil, err
	}

	for i := range result {
		result[i].Date = parseNewsDate(result[i].DateStr)
	}

	return result, nil
}

// parseNewsDate accepts the layouts seen in news payloads
func parseNewsDate(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// GetRealTimeQuote retrieves the real-time (delayed) quote for a symbol.
func (c *Client) GetRealTimeQuote(ctx context.Context, symbol string) (*RealTimeQuote, error) {
	var result RealTimeQuote
	if err := c.get(ctx, "/real-time/"+symbol, nil, &result); err != nil {
		return nil, err
	}
	if result.Code == "" {
		result.Code = symbol
	}
	return &result, nil
}
