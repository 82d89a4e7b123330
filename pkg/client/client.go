// Package client provides the REST client the collector core speaks through:
// session-aware authentication, client-side rate limiting, retry with
// backoff, error classification, and an optional discovery response cache.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ahbmx/saninv/pkg/cache"
	"github.com/ahbmx/saninv/pkg/logging"
	"github.com/ahbmx/saninv/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saninv_requests_total",
		Help: "Total requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saninv_request_duration_seconds",
		Help:    "Request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saninv_errors_total",
		Help: "Total request errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent on every request
	UserAgent string

	// RequestTimeout bounds each individual HTTP call, distinct from the
	// overall collection cancellation.
	RequestTimeout time.Duration

	// RateLimit is the client-side request rate in requests per second.
	// SAN managers are typically connection- and rate-limited. Zero
	// disables limiting.
	RateLimit float64

	// RateBurst is the limiter burst size.
	RateBurst int

	// Retry controls backoff for transient failures.
	Retry RetryConfig

	// CacheTTL is how long GetCached responses stay valid.
	CacheTTL time.Duration

	// InsecureSkipVerify disables TLS verification for self-signed
	// management certificates.
	InsecureSkipVerify bool
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:      userAgent,
		RequestTimeout: 30 * time.Second,
		RateLimit:      10,
		RateBurst:      5,
		Retry:          DefaultRetryConfig(),
		CacheTTL:       5 * time.Minute,
	}
}

// Client is the session-aware REST client.
type Client struct {
	httpClient *http.Client
	session    *session.Session
	cache      *cache.Manager
	limiter    *rate.Limiter
	config     Config
	logger     zerolog.Logger
}

// New creates a new client for an open session. cacheManager may be nil, in
// which case GetCached behaves like Get.
func New(sess *session.Session, cacheManager *cache.Manager, cfg Config) (*Client, error) {
	if sess == nil {
		return nil, fmt.Errorf("session is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("request timeout must be positive")
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	transport := http.DefaultTransport
	if cfg.InsecureSkipVerify {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = t
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		session: sess,
		cache:   cacheManager,
		limiter: limiter,
		config:  cfg,
		logger:  logging.NewLogger("client"),
	}, nil
}

// Session returns the session the client was built for.
func (c *Client) Session() *session.Session { return c.session }

// Get performs a GET against path with query parameters and returns the
// response body. Transient failures are retried with bounded exponential
// backoff; an authentication-class status triggers exactly one
// re-authentication before surfacing an AuthError.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := path
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	var body []byte
	var errClass ErrorClass
	reauthed := false

	attempt := func() error {
		if err := c.session.EnsureValid(ctx); err != nil {
			errClass = ErrorClassAuth
			errorsTotal.WithLabelValues(string(ErrorClassAuth)).Inc()
			return err
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				errClass = ErrorClassNetwork
				return err
			}
		}

		gen := c.session.Generation()
		status, data, err := c.roundTrip(ctx, path, query)
		if err != nil {
			errClass = ErrorClassNetwork
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
			return &APIError{Class: ErrorClassNetwork, Path: path, Message: "request failed", Err: err}
		}

		requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", status)).Inc()

		if status >= 400 {
			errClass = classifyStatus(status)
			errorsTotal.WithLabelValues(string(errClass)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", status).
				Str("error_class", string(errClass)).
				Msg("Request error")

			if errClass == ErrorClassAuth {
				// One shared re-authentication, then one more try of
				// this request. A second auth failure is fatal.
				if reauthed {
					return &session.AuthError{
						Strategy:   "session",
						StatusCode: status,
						Err:        fmt.Errorf("still unauthorized after re-authentication"),
					}
				}
				reauthed = true
				c.session.Invalidate(gen)
				if err := c.session.EnsureValid(ctx); err != nil {
					return err
				}

				status, data, err = c.roundTrip(ctx, path, query)
				if err != nil {
					errClass = ErrorClassNetwork
					return &APIError{Class: ErrorClassNetwork, Path: path, Message: "request failed", Err: err}
				}
				requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", status)).Inc()
				if classifyStatus(status) == ErrorClassAuth {
					return &session.AuthError{
						Strategy:   "session",
						StatusCode: status,
						Err:        fmt.Errorf("still unauthorized after re-authentication"),
					}
				}
				if status >= 400 {
					errClass = classifyStatus(status)
					return &APIError{StatusCode: status, Class: errClass, Path: path, Message: http.StatusText(status)}
				}
				body = data
				return nil
			}

			return &APIError{StatusCode: status, Class: errClass, Path: path, Message: http.StatusText(status)}
		}

		body = data
		return nil
	}

	err := retryWithBackoff(ctx, c.logger, c.config.Retry, attempt, func(error) ErrorClass {
		return errClass
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}

// roundTrip issues one HTTP call with the per-call timeout and returns the
// status and body.
func (c *Client) roundTrip(ctx context.Context, path string, query url.Values) (int, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	u := c.session.Endpoint() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	c.session.Apply(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}

	return resp.StatusCode, data, nil
}

// GetJSON performs Get and unmarshals the response body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	data, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	return decodeJSON(data, path, out)
}

// GetCached performs Get through the discovery response cache. Used only for
// slow-moving documents (version advertisement); inventory fetches must not
// go through here.
func (c *Client) GetCached(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if c.cache == nil || c.config.CacheTTL <= 0 {
		return c.Get(ctx, path, query)
	}

	key := cache.Key{Endpoint: path, QueryParams: query}

	entry, err := c.cache.Get(ctx, key)
	if err != nil && err != cache.ErrCacheMiss {
		c.logger.Warn().Err(err).Str("endpoint", path).Msg("Cache get error")
	}
	if entry != nil {
		c.logger.Debug().
			Str("endpoint", path).
			Dur("ttl", entry.TTL()).
			Msg("Cache hit")
		return entry.Data, nil
	}

	data, err := c.Get(ctx, path, query)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, cache.NewEntry(data, c.config.CacheTTL)); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", path).Msg("Failed to cache response")
	}

	return data, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
