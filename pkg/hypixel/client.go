// Package hypixel provides the Hypixel SkyBlock HTTP client and the fetch
// functions the pollers run.
//
// The client performs exactly one HTTP request per call. It never retries:
// retry and admission belong to the poller. Every response feeds the quota
// tracker, and every path sits behind its own circuit breaker.
package hypixel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// maxBodyBytes caps a single response body. A full auctions page is a few MB.
const maxBodyBytes = 64 << 20

// QuotaObserver records the upstream quota from response headers.
// *ratelimit.Tracker implements it.
type QuotaObserver interface {
	UpdateFromHeaders(ctx context.Context, headers http.Header) error
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, e.g. https://api.hypixel.net/v2.
	BaseURL string

	// APIKey is sent as the API-Key header when set. The SkyBlock market
	// resources are public, so it is optional.
	APIKey string

	UserAgent string

	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration

	// RequestTimeout bounds one request including reading the body.
	RequestTimeout time.Duration

	// BreakerTimeout is how long an open circuit stays open before a probe.
	BreakerTimeout time.Duration

	// Quota is optional.
	Quota QuotaObserver

	Logger zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:        baseURL,
		UserAgent:      userAgent,
		ConnectTimeout: 2 * time.Second,
		RequestTimeout: 8 * time.Second,
		BreakerTimeout: 30 * time.Second,
		Logger:         zerolog.Nop(),
	}
}

// Conditional carries the validators of the previous response.
type Conditional struct {
	ETag         string
	LastModified string
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode   int
	Header       http.Header
	Body         []byte
	NotModified  bool
	ETag         string
	LastModified string
}

// Client is the Hypixel HTTP client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	config     Config
	logger     zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*Response]
}

// NewClient creates a new Hypixel client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("request timeout must be positive (got %s)", cfg.RequestTimeout)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = cfg.RequestTimeout
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	return &Client{
		httpClient: &http.Client{Transport: transport},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		config:     cfg,
		logger:     cfg.Logger.With().Str("component", "hypixel-client").Logger(),
		breakers:   make(map[string]*gobreaker.CircuitBreaker[*Response]),
	}, nil
}

// Get performs one GET against path. A 304 answer is returned as a Response
// with NotModified set; any other non-2xx status is an *APIError.
func (c *Client) Get(ctx context.Context, path string, query url.Values, cond Conditional) (*Response, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}()

	resp, err := c.breaker(path).Execute(func() (*Response, error) {
		return c.do(ctx, path, query, cond)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			errorsTotal.WithLabelValues(string(ErrorClassCircuitOpen)).Inc()
			requestsTotal.WithLabelValues(path, "circuit_open").Inc()
			return nil, &APIError{
				Class:   ErrorClassCircuitOpen,
				Message: "circuit breaker refused request to " + path,
				Err:     err,
			}
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, path string, query url.Values, cond Conditional) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("API-Key", c.config.APIKey)
	}
	if addConditionalHeaders(req, cond) {
		conditionalRequestsTotal.WithLabelValues(path).Inc()
	}

	c.logger.Debug().
		Str("path", path).
		Str("query", query.Encode()).
		Msg("Executing Hypixel request")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up; that says nothing about the upstream.
			return nil, fmt.Errorf("request %s: %w", path, ctx.Err())
		}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(path, "network_error").Inc()
		return nil, &APIError{Class: ErrorClassNetwork, Message: "request " + path, Err: err}
	}
	defer httpResp.Body.Close()

	if c.config.Quota != nil {
		if err := c.config.Quota.UpdateFromHeaders(ctx, httpResp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update quota from headers")
		}
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("read %s: %w", path, ctx.Err())
		}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(path, "network_error").Inc()
		return nil, &APIError{
			StatusCode: httpResp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read body of " + path,
			Err:        err,
		}
	}

	status := strconv.Itoa(httpResp.StatusCode)
	requestsTotal.WithLabelValues(path, status).Inc()

	resp := &Response{
		StatusCode:   httpResp.StatusCode,
		Header:       httpResp.Header.Clone(),
		Body:         body,
		ETag:         httpResp.Header.Get("ETag"),
		LastModified: httpResp.Header.Get("Last-Modified"),
	}

	switch {
	case httpResp.StatusCode == http.StatusNotModified:
		notModifiedTotal.WithLabelValues(path).Inc()
		resp.NotModified = true
		return resp, nil
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		return resp, nil
	}

	class := classifyStatus(httpResp.StatusCode)
	errorsTotal.WithLabelValues(string(class)).Inc()

	message := httpResp.Status
	var env envelope
	if json.Unmarshal(body, &env) == nil && env.Cause != "" {
		message = env.Cause
	}

	c.logger.Warn().
		Str("path", path).
		Int("status_code", httpResp.StatusCode).
		Str("error_class", string(class)).
		Str("cause", message).
		Msg("Hypixel request error")

	return nil, &APIError{
		StatusCode: httpResp.StatusCode,
		Class:      class,
		Message:    message,
	}
}

// breaker returns the circuit breaker of path, creating it on first use.
func (c *Client) breaker(path string) *gobreaker.CircuitBreaker[*Response] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[path]; ok {
		return cb
	}

	logger := c.logger.With().Str("path", path).Logger()
	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        path,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     c.config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= 0.6
		},
		// Permanent errors and caller cancellation say nothing about the
		// upstream's health.
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Retryable()
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			circuitState.WithLabelValues(name).Set(stateToFloat(to))
			event := logger.Info()
			if to == gobreaker.StateOpen {
				event = logger.Error()
			}
			event.
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state transition")
		},
	})
	circuitState.WithLabelValues(path).Set(0)
	c.breakers[path] = cb
	return cb
}

// addConditionalHeaders sets If-None-Match, or If-Modified-Since when only
// Last-Modified is known. It reports whether a header was added.
func addConditionalHeaders(req *http.Request, cond Conditional) bool {
	switch {
	case cond.ETag != "":
		req.Header.Set("If-None-Match", cond.ETag)
		return true
	case cond.LastModified != "":
		req.Header.Set("If-Modified-Since", cond.LastModified)
		return true
	default:
		return false
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
