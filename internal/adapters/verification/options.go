package verification

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okian/traderscore/pkg/logger"
)

// Option configures a Client.
type Option func(*Client)

// WithWindow sets the half-width of the matching window around entry.
func WithWindow(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithTimeout bounds each explorer call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetries sets the retry count and the backoff base for retryable failures.
func WithRetries(maxRetries int, base time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if base > 0 {
			c.backoffBase = base
		}
	}
}

// WithSignificantValue sets the token amount that earns the full value weight.
func WithSignificantValue(v decimal.Decimal) Option {
	return func(c *Client) { c.significant = v }
}

// WithExchangeWallets adds counterparty addresses treated as exchanges.
func WithExchangeWallets(addrs ...string) Option {
	return func(c *Client) {
		for _, a := range addrs {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				c.exchanges[a] = "custom"
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func withSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}
