package chain

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/traderscore/internal/adapters/cache"
	"github.com/okian/traderscore/pkg/logger"
)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different explorer endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithAPIKey sets the explorer API key.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithNetworks sets the networks searched, in order.
func WithNetworks(networks ...Network) Option {
	return func(c *Client) {
		if len(networks) > 0 {
			c.networks = append([]Network(nil), networks...)
		}
	}
}

// WithLimiter shares a request limiter across clients.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithCache caches block lookups and closed-window transfer lists.
func WithCache(cc cache.Cache, ttl time.Duration) Option {
	return func(c *Client) {
		if cc != nil {
			c.cache = cc
		}
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithBreaker sets the consecutive-failure threshold and open duration of
// the per-network circuit breakers.
func WithBreaker(failures uint32, open time.Duration) Option {
	return func(c *Client) {
		if failures > 0 {
			c.breakerFails = failures
		}
		if open > 0 {
			c.breakerOpen = open
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}
