// Package verification matches claimed trades against on-chain token
// transfers of the trader's wallet and scores the match.
package verification

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okian/traderscore/internal/adapters/chain"
	"github.com/okian/traderscore/internal/domain/model"
	"github.com/okian/traderscore/pkg/logger"
	"github.com/okian/traderscore/pkg/metrics"
)

// Outcome sources.
const (
	SourceNoWallet       = "no_wallet"
	SourceNoTransactions = "no_transactions"
	SourceNoMatch        = "no_matching_tx"
	SourceError          = "verification_error"
	SourceVerifiedPrefix = "blockchain_verified"
)

// Defaults.
const (
	DefaultWindow           = 30 * time.Minute
	DefaultTimeout          = 5 * time.Second
	DefaultMaxRetries       = 2
	DefaultBackoffBase      = 500 * time.Millisecond
	DefaultBackoffMax       = 10 * time.Second
	DefaultSignificantValue = 1000
)

// Confidence weights.
const (
	baseConfidence     = 0.4
	timingWeight       = 0.3
	valueWeight        = 0.2
	exchangeConfidence = 0.1
)

// Verifier produces a verification outcome for one trade.
type Verifier interface {
	Verify(ctx context.Context, trade model.TradeRecord, wallet string) model.VerificationOutcome
}

// TransferSource lists wallet token transfers per network.
type TransferSource interface {
	Networks() []string
	TokenTransfers(ctx context.Context, network, wallet string, from, to time.Time) ([]chain.Transfer, error)
}

// Client is the default Verifier.
type Client struct {
	source      TransferSource
	window      time.Duration
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
	significant decimal.Decimal
	exchanges   map[string]string
	sleep       func(ctx context.Context, d time.Duration) error
	logger      logger.Logger
}

var _ Verifier = (*Client)(nil)

// New creates a verification client reading transfers from source.
func New(source TransferSource, opts ...Option) *Client {
	c := &Client{
		source:      source,
		window:      DefaultWindow,
		timeout:     DefaultTimeout,
		maxRetries:  DefaultMaxRetries,
		backoffBase: DefaultBackoffBase,
		backoffMax:  DefaultBackoffMax,
		significant: decimal.NewFromInt(DefaultSignificantValue),
		exchanges:   make(map[string]string),
		sleep:       sleepContext,
	}
	for name, addrs := range DefaultExchangeWallets() {
		for _, a := range addrs {
			c.exchanges[strings.ToLower(a)] = name
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Named("verification")
	}
	return c
}

// Verify never returns an error: explorer failures become an unmatched
// outcome with source verification_error.
func (c *Client) Verify(ctx context.Context, trade model.TradeRecord, wallet string) model.VerificationOutcome {
	start := time.Now()
	out := c.verify(ctx, trade, strings.ToLower(strings.TrimSpace(wallet)))
	metrics.RecordVerificationLatency(float64(time.Since(start).Milliseconds()))
	metrics.RecordVerificationOutcome(SourceLabel(out.Source))
	return out
}

func (c *Client) verify(ctx context.Context, trade model.TradeRecord, wallet string) model.VerificationOutcome {
	if wallet == "" {
		return model.VerificationOutcome{Source: SourceNoWallet}
	}

	networks := c.source.Networks()
	if trade.Network != "" {
		networks = []string{trade.Network}
	}
	from := trade.EntryTimestamp.Add(-c.window)
	to := trade.EntryTimestamp.Add(c.window)

	var (
		best     model.VerificationOutcome
		sawTxs   bool
		sawEmpty bool
		failures int
	)
	for _, network := range networks {
		transfers, err := c.fetch(ctx, network, wallet, from, to)
		if err != nil {
			failures++
			c.logger.Warn(ctx, "trade verification failed",
				logger.String("trader", trade.TraderUsername),
				logger.String("pair", trade.Pair),
				logger.String("network", network),
				logger.Error(err),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(transfers) == 0 {
			sawEmpty = true
			continue
		}
		sawTxs = true
		if conf, ok := c.bestMatch(trade, wallet, transfers); ok && conf > best.Confidence {
			best = model.VerificationOutcome{
				Matched:    true,
				Confidence: conf,
				Source:     SourceVerifiedPrefix + ":" + network,
			}
		}
	}

	switch {
	case best.Matched:
		return best
	case sawTxs:
		return model.VerificationOutcome{Source: SourceNoMatch}
	case sawEmpty:
		return model.VerificationOutcome{Source: SourceNoTransactions}
	case failures > 0:
		return model.VerificationOutcome{Source: SourceError}
	default:
		return model.VerificationOutcome{Source: SourceNoTransactions}
	}
}

// fetch retries retryable explorer failures with exponential backoff. Each
// attempt gets its own timeout.
func (c *Client) fetch(ctx context.Context, network, wallet string, from, to time.Time) ([]chain.Transfer, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.RecordVerificationRetry()
			if err := c.sleep(ctx, c.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		transfers, err := c.source.TokenTransfers(callCtx, network, wallet, from, to)
		cancel()
		if err == nil {
			return transfers, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return chain.IsRetryable(err)
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.backoffBase * time.Duration(1<<uint(attempt))
	if d > c.backoffMax || d <= 0 {
		d = c.backoffMax
	}
	return d
}

// bestMatch returns the highest confidence among candidate transfers.
func (c *Client) bestMatch(trade model.TradeRecord, wallet string, transfers []chain.Transfer) (float64, bool) {
	base := trade.BaseAsset()
	var (
		best  float64
		found bool
	)
	for _, tx := range transfers {
		counterparty, ok := direction(trade.SignalType, wallet, tx)
		if !ok || !symbolMatches(base, tx.TokenSymbol) || !tx.Value.IsPositive() {
			continue
		}
		dt := tx.Timestamp.Sub(trade.EntryTimestamp)
		if dt < -c.window || dt > c.window {
			continue
		}
		conf := c.confidence(dt, tx.Value, counterparty)
		if !found || conf > best {
			best, found = conf, true
		}
	}
	return best, found
}

// confidence scores one candidate transfer in [0.4, 1].
func (c *Client) confidence(dt time.Duration, value decimal.Decimal, counterparty string) float64 {
	timing := 1 - math.Abs(float64(dt))/float64(c.window)
	size := 1.0
	if c.significant.IsPositive() {
		size, _ = value.Div(c.significant).Float64()
		size = math.Min(1, size)
	}
	conf := baseConfidence + timingWeight*timing + valueWeight*size
	if _, ok := c.exchanges[counterparty]; ok {
		conf += exchangeConfidence
	}
	return math.Min(1, conf)
}

// direction reports whether tx flows the way the trade settles and returns
// the counterparty address. BUY settles inbound, SELL outbound.
func direction(side model.SignalType, wallet string, tx chain.Transfer) (string, bool) {
	switch side {
	case model.SignalBuy:
		return strings.ToLower(tx.From), strings.EqualFold(tx.To, wallet)
	case model.SignalSell:
		return strings.ToLower(tx.To), strings.EqualFold(tx.From, wallet)
	default:
		return "", false
	}
}

// symbolMatches accepts the base asset or its wrapped form (ETH and WETH).
func symbolMatches(base, symbol string) bool {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if base == "" || symbol == "" {
		return true
	}
	return symbol == base || symbol == "W"+base
}

// SourceLabel strips the network suffix so metric labels stay bounded.
func SourceLabel(source string) string {
	if i := strings.IndexByte(source, ':'); i >= 0 {
		return source[:i]
	}
	return source
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DefaultExchangeWallets lists well-known hot wallets by exchange.
func DefaultExchangeWallets() map[string][]string {
	return map[string][]string{
		"binance": {
			"0x3f5ce5fbfe3e9af3971dd833d26ba9b5c936f0be",
			"0xd551234ae421e3bcba99a0da6d736074f22192ff",
			"0x564286362092d8e7936f0549571a803b203aaced",
		},
		"coinbase": {
			"0x71660c4005ba85c37ccec55d0c4493e66fe775d3",
			"0x503828976d22510aad0201ac7ec88293211d23da",
			"0xddfabcdc4d8ffc6d5beaf154f18b778f892a0740",
		},
		"kraken": {
			"0x2910543af39aba0cd09dbb2d50200b3e800a63d2",
			"0x0a869d79a7052c7f1b55a8ebabbea3420f0d1e13",
		},
	}
}
