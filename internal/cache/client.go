package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/config"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/tracing"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// Client wraps resty with rate limiting and a breaker per remote host.
type Client struct {
	Resty    *resty.Client
	Limiter  *rate.Limiter
	Breakers *resilience.Group
	mu       sync.RWMutex

	transport http.RoundTripper
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// NewClient creates a download client from cache settings.
func NewClient(cfg config.CacheConfig) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "netlaunch/1.0"
	}

	restyClient := resty.New()
	restyClient.
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryMax).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(10*time.Second).
		SetHeader("User-Agent", userAgent)
	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	breakers := resilience.NewGroup(resilience.Settings{
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A 4xx is the caller's problem, not the host's.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < 500
			}
			return err == nil
		},
	})

	c := &Client{Resty: restyClient, Breakers: breakers, transport: retryClient.HTTPClient.Transport}
	c.SetRateLimit(cfg.RequestsPerS)
	return c
}

// ConfigureTransport installs the TLS settings and proxy function used for
// every download. A nil proxy keeps the current one.
func (c *Client) ConfigureTransport(tlsCfg *tls.Config, proxy func(*http.Request) (*url.URL, error)) error {
	t, ok := c.transport.(*http.Transport)
	if !ok {
		return fmt.Errorf("configure transport: unsupported transport %T", c.transport)
	}
	if tlsCfg != nil {
		t.TLSClientConfig = tlsCfg
	}
	if proxy != nil {
		t.Proxy = proxy
	}
	return nil
}

// SetRateLimit configures requests per second; zero or less is unlimited.
func (c *Client) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.Limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	c.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// Request waits for the limiter and returns a request bound to ctx.
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	c.mu.RLock()
	limiter := c.Limiter
	c.mu.RUnlock()

	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return c.Resty.R().SetContext(ctx), nil
}

// Download fetches rawURL into dest under the host's breaker.
func (c *Client) Download(ctx context.Context, host, rawURL, version, dest string) (*resty.Response, error) {
	return resilience.Do(c.Breakers.For(host), func() (*resty.Response, error) {
		req, err := c.Request(ctx)
		if err != nil {
			return nil, err
		}
		tracing.Inject(ctx, req.Header)
		req.SetOutput(dest)
		if version != "" {
			req.SetQueryParam("version-id", version)
		}
		resp, err := req.Get(rawURL)
		if err != nil {
			return resp, err
		}
		if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
			return resp, &StatusError{Code: resp.StatusCode()}
		}
		return resp, nil
	})
}

// BreakerStates reports each host's breaker state.
func (c *Client) BreakerStates() map[string]resilience.State {
	return c.Breakers.States()
}
