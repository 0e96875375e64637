package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/quietlight/tilefetch/internal/infrastructure/resilience"
)

// Client fetches raw bytes over HTTP. It wraps resty with a rate limiter
// and a circuit breaker; cancellation and deadlines come in through the
// caller's context.
type Client struct {
	resty   *resty.Client
	breaker *resilience.Breaker

	mu      sync.RWMutex
	limiter *rate.Limiter
}

// ClientConfig configures a Client.
type ClientConfig struct {
	UserAgent string
	// RatePerSecond limits outbound fetches. <= 0 means unlimited.
	RatePerSecond float64
	RateBurst     int
	// Breaker settings; zero values fall back to the resilience defaults.
	BreakerThreshold int
	BreakerCooldown  time.Duration
	OnBreakerChange  func(name string, from, to resilience.State)
}

// New creates a production-ready fetch client.
//
// The transport comes from retryablehttp for its connection pool tuning,
// but with retries disabled: the loader's contract is to report failures,
// not retry them.
func New(cfg ClientConfig) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil

	rc := resty.New()
	rc.SetTransport(retryClient.HTTPClient.Transport)
	if cfg.UserAgent != "" {
		rc.SetHeader("User-Agent", cfg.UserAgent)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RatePerSecond)
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	breaker := resilience.New("image-fetch", resilience.Settings{
		Threshold:     cfg.BreakerThreshold,
		Cooldown:      cfg.BreakerCooldown,
		OnStateChange: cfg.OnBreakerChange,
	})

	return &Client{
		resty:   rc,
		limiter: limiter,
		breaker: breaker,
	}
}

// Fetch retrieves the raw bytes at url. The context carries the deadline;
// a fetch aborted through the context returns the context error.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	c.mu.RLock()
	limiter := c.limiter
	c.mu.RUnlock()

	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var body []byte
	err := c.breaker.Do(func() error {
		resp, err := c.resty.R().SetContext(ctx).Get(url)
		if err != nil {
			return err
		}
		if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
			return fmt.Errorf("fetch failed: HTTP %d", resp.StatusCode())
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// SetRateLimit reconfigures the outbound rate limit. rps <= 0 removes it.
func (c *Client) SetRateLimit(rps float64, burst int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	if burst <= 0 {
		burst = int(rps)
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}
