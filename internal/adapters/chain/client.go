// Package chain talks to Etherscan-compatible block explorers (v2 multichain
// API) to list a wallet's token transfers inside a time window.
package chain

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
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/okian/traderscore/internal/adapters/cache"
	"github.com/okian/traderscore/pkg/logger"
	"github.com/okian/traderscore/pkg/metrics"
)

// Defaults for the explorer client.
const (
	DefaultBaseURL       = "https://api.etherscan.io/v2/api"
	defaultHTTPTimeout   = 10 * time.Second
	defaultCacheTTL      = 10 * time.Minute
	defaultBreakerFails  = 5
	defaultBreakerOpen   = 30 * time.Second
	noTransactionsFound  = "No transactions found"
	latestBlockSentinel  = uint64(99_999_999)
	maxResponseBodyBytes = 8 << 20
)

// Network is an EVM chain reachable through the explorer.
type Network struct {
	Name    string `koanf:"name" json:"name"`
	ChainID int64  `koanf:"chain_id" json:"chain_id"`
}

// DefaultNetworks are tried in order when a trade names no network.
func DefaultNetworks() []Network {
	return []Network{{Name: "ethereum", ChainID: 1}, {Name: "bsc", ChainID: 56}}
}

// Transfer is one ERC-20 style token movement.
type Transfer struct {
	Hash            string          `json:"hash"`
	BlockNumber     uint64          `json:"block_number"`
	Timestamp       time.Time       `json:"timestamp"`
	From            string          `json:"from"`
	To              string          `json:"to"`
	ContractAddress string          `json:"contract_address"`
	TokenSymbol     string          `json:"token_symbol"`
	Value           decimal.Decimal `json:"value"`
}

// Client queries the explorer. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	networks   []Network
	limiter    *rate.Limiter
	cache      cache.Cache
	cacheTTL   time.Duration
	now        func() time.Time

	breakerFails uint32
	breakerOpen  time.Duration
	breakersMu   sync.Mutex
	breakers     map[string]*gobreaker.CircuitBreaker

	logger logger.Logger
}

// New creates an explorer client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		networks:     DefaultNetworks(),
		limiter:      rate.NewLimiter(rate.Inf, 1),
		cache:        cache.Nop{},
		cacheTTL:     defaultCacheTTL,
		now:          time.Now,
		breakerFails: defaultBreakerFails,
		breakerOpen:  defaultBreakerOpen,
		breakers:     make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Named("chain")
	}
	return c
}

// Networks returns the configured network names in lookup order.
func (c *Client) Networks() []string {
	out := make([]string, len(c.networks))
	for i, n := range c.networks {
		out[i] = n.Name
	}
	return out
}

func (c *Client) network(name string) (Network, error) {
	for _, n := range c.networks {
		if strings.EqualFold(n.Name, name) {
			return n, nil
		}
	}
	return Network{}, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
}

func (c *Client) breaker(network string) *gobreaker.CircuitBreaker {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	if cb, ok := c.breakers[network]; ok {
		return cb
	}
	fails := c.breakerFails
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        network,
		MaxRequests: 1,
		Timeout:     c.breakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= fails
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.UpdateBreakerState(name, int(to))
			c.logger.Warn(context.Background(), "explorer circuit breaker state changed",
				logger.String("network", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
	c.breakers[network] = cb
	return cb
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// call performs one rate-limited GET through the network's breaker and
// returns the raw result field.
func (c *Client) call(ctx context.Context, n Network, params url.Values) (json.RawMessage, error) {
	params.Set("chainid", strconv.FormatInt(n.ChainID, 10))
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}
	endpoint := c.baseURL + "?" + params.Encode()

	out, err := c.breaker(n.Name).Execute(func() (interface{}, error) {
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		metrics.RecordLimiterWait(float64(time.Since(waitStart).Milliseconds()))
		return c.getJSON(ctx, endpoint)
	})
	if err != nil {
		return nil, wrapBreakerErr(err)
	}
	return out.(json.RawMessage), nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, &StatusError{Code: resp.StatusCode})
		}
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var env envelope
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env.Status == "1" {
		return env.Result, nil
	}
	if env.Message == noTransactionsFound {
		return json.RawMessage("[]"), nil
	}

	var detail string
	_ = json.Unmarshal(env.Result, &detail)
	if strings.Contains(strings.ToLower(detail), "rate limit") {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, detail)
	}
	return nil, fmt.Errorf("%w: %s: %s", ErrExplorer, env.Message, detail)
}

// BlockAt returns the block closest to ts; closest is "before" or "after".
func (c *Client) BlockAt(ctx context.Context, network string, ts time.Time, closest string) (uint64, error) {
	n, err := c.network(network)
	if err != nil {
		return 0, err
	}
	key := fmt.Sprintf("block:%s:%d:%s", n.Name, ts.Unix(), closest)
	if raw, ok := c.cached(ctx, key); ok {
		if b, err := strconv.ParseUint(string(raw), 10, 64); err == nil {
			return b, nil
		}
	}

	params := url.Values{}
	params.Set("module", "block")
	params.Set("action", "getblocknobytime")
	params.Set("timestamp", strconv.FormatInt(ts.Unix(), 10))
	params.Set("closest", closest)
	res, err := c.call(ctx, n, params)
	if err != nil {
		return 0, err
	}
	var s string
	if err := json.Unmarshal(res, &s); err != nil {
		return 0, fmt.Errorf("%w: block number: %v", ErrMalformedResponse, err)
	}
	block, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: block number %q", ErrMalformedResponse, s)
	}
	c.store(ctx, key, []byte(s))
	return block, nil
}

type rawTransfer struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
}

func (r rawTransfer) decode() (Transfer, error) {
	block, err := strconv.ParseUint(r.BlockNumber, 10, 64)
	if err != nil {
		return Transfer{}, fmt.Errorf("block %q: %w", r.BlockNumber, err)
	}
	ts, err := strconv.ParseInt(r.TimeStamp, 10, 64)
	if err != nil {
		return Transfer{}, fmt.Errorf("timestamp %q: %w", r.TimeStamp, err)
	}
	value, err := decimal.NewFromString(r.Value)
	if err != nil {
		return Transfer{}, fmt.Errorf("value %q: %w", r.Value, err)
	}
	if r.TokenDecimal != "" {
		places, err := strconv.ParseInt(r.TokenDecimal, 10, 32)
		if err != nil {
			return Transfer{}, fmt.Errorf("decimals %q: %w", r.TokenDecimal, err)
		}
		value = value.Shift(-int32(places))
	}
	return Transfer{
		Hash:            r.Hash,
		BlockNumber:     block,
		Timestamp:       time.Unix(ts, 0).UTC(),
		From:            strings.ToLower(r.From),
		To:              strings.ToLower(r.To),
		ContractAddress: strings.ToLower(r.ContractAddress),
		TokenSymbol:     r.TokenSymbol,
		Value:           value,
	}, nil
}

// TokenTransfers lists the wallet's token transfers with timestamps in
// [from, to] on the given network.
func (c *Client) TokenTransfers(ctx context.Context, network, wallet string, from, to time.Time) ([]Transfer, error) {
	n, err := c.network(network)
	if err != nil {
		return nil, err
	}
	wallet = strings.ToLower(strings.TrimSpace(wallet))

	startBlock, err := c.BlockAt(ctx, n.Name, from, "before")
	if err != nil {
		return nil, fmt.Errorf("resolve start block: %w", err)
	}
	endBlock := latestBlockSentinel
	if to.Before(c.now()) {
		if endBlock, err = c.BlockAt(ctx, n.Name, to, "after"); err != nil {
			return nil, fmt.Errorf("resolve end block: %w", err)
		}
	}

	key := fmt.Sprintf("tokentx:%s:%s:%d-%d", n.Name, wallet, startBlock, endBlock)
	var raws []rawTransfer
	if raw, ok := c.cached(ctx, key); ok && json.Unmarshal(raw, &raws) == nil {
		return filterWindow(raws, from, to)
	}

	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "tokentx")
	params.Set("address", wallet)
	params.Set("startblock", strconv.FormatUint(startBlock, 10))
	params.Set("endblock", strconv.FormatUint(endBlock, 10))
	params.Set("sort", "asc")
	res, err := c.call(ctx, n, params)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(res, &raws); err != nil {
		return nil, fmt.Errorf("%w: token transfers: %v", ErrMalformedResponse, err)
	}
	if endBlock != latestBlockSentinel {
		c.store(ctx, key, res)
	}
	return filterWindow(raws, from, to)
}

func filterWindow(raws []rawTransfer, from, to time.Time) ([]Transfer, error) {
	out := make([]Transfer, 0, len(raws))
	for _, r := range raws {
		t, err := r.decode()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if t.Timestamp.Before(from.Truncate(time.Second)) || t.Timestamp.After(to) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *Client) cached(ctx context.Context, key string) ([]byte, bool) {
	val, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.RecordExplorerCache("error")
		c.logger.Debug(ctx, "explorer cache read failed", logger.String("key", key), logger.Error(err))
		return nil, false
	case ok:
		metrics.RecordExplorerCache("hit")
		return val, true
	default:
		metrics.RecordExplorerCache("miss")
		return nil, false
	}
}

func (c *Client) store(ctx context.Context, key string, val []byte) {
	if err := c.cache.Set(ctx, key, val, c.cacheTTL); err != nil {
		c.logger.Debug(ctx, "explorer cache write failed", logger.String("key", key), logger.Error(err))
	}
}
