// Package httpretry provides an HTTP client with automatic retry logic,
// exponential backoff, and jitter for resilient external API calls.
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/newsletter/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config tunes retry behaviour. Zero fields take the defaults.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// MinDelay floors the jittered delay.
	MinDelay time.Duration
}

// DefaultConfig is used for zero Config fields.
var DefaultConfig = Config{
	MaxRetries: 3,
	BaseDelay:  500 * time.Millisecond,
	MaxDelay:   10 * time.Second,
	MinDelay:   100 * time.Millisecond,
}

// RetryClient wraps an HTTPDoer with retry logic using exponential backoff and jitter.
type RetryClient struct {
	client HTTPDoer
	cfg    Config
	log    *logger.Logger
}

// NewRetryClient wraps client. A nil client becomes an *http.Client with a
// 30s timeout.
func NewRetryClient(client HTTPDoer, cfg Config) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = DefaultConfig.MinDelay
	}
	return &RetryClient{client: client, cfg: cfg, log: logger.Default().With("component", "httpretry")}
}

// Do executes the request, retrying on 429, 500, 502, 503, 504 and network
// errors. It never retries client errors or a done context. The final
// attempt's response is returned as-is so the caller can read its body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	var retryAfter time.Duration

	for attempt := 0; attempt <= rc.cfg.MaxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: failed to reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.calculateDelay(attempt)
			if retryAfter > delay {
				delay = min(retryAfter, rc.cfg.MaxDelay)
			}
			rc.log.Debug("retrying request",
				"attempt", attempt, "max", rc.cfg.MaxRetries,
				"method", req.Method, "host", req.URL.Host, "path", req.URL.Path, "wait", delay)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			retryAfter = 0
			continue
		}

		if !IsRetryableStatus(resp.StatusCode) || attempt == rc.cfg.MaxRetries {
			return resp, nil
		}

		retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// calculateDelay returns full-jitter exponential backoff:
// random(0, min(MaxDelay, BaseDelay * 2^(attempt-1))), floored at MinDelay.
func (rc *RetryClient) calculateDelay(attempt int) time.Duration {
	expDelay := float64(rc.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if expDelay > float64(rc.cfg.MaxDelay) {
		expDelay = float64(rc.cfg.MaxDelay)
	}
	jittered := time.Duration(rand.Float64() * expDelay)
	if jittered < rc.cfg.MinDelay {
		jittered = rc.cfg.MinDelay
	}
	return jittered
}

// parseRetryAfter understands the delay-seconds form only.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// IsRetryableStatus reports whether a status code is a transient server
// condition: 429, 500, 502, 503 or 504.
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
