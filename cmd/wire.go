package main

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/okian/traderscore/internal/adapters/cache"
	"github.com/okian/traderscore/internal/adapters/chain"
	"github.com/okian/traderscore/internal/adapters/repository"
	"github.com/okian/traderscore/internal/adapters/verification"
	app "github.com/okian/traderscore/internal/app"
	"github.com/okian/traderscore/internal/config"
	"github.com/okian/traderscore/internal/domain/fraud"
	"github.com/okian/traderscore/pkg/logger"
)

// buildService assembles the validation service from configuration. The
// returned cleanup releases what the service does not own; the service
// itself closes the store on Stop.
func buildService(ctx context.Context, c *config.Config, log logger.Logger) (*app.Service, func(), error) {
	explorerCache, err := openCache(ctx, c, log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := explorerCache.Close(); err != nil {
			log.Warn(context.Background(), "closing explorer cache failed", logger.Error(err))
		}
	}

	store, err := openStore(ctx, c, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	explorer := chain.New(
		chain.WithBaseURL(c.ExplorerBaseURL),
		chain.WithAPIKey(c.ExplorerAPIKey),
		chain.WithNetworks(networks(c)...),
		chain.WithLimiter(rate.NewLimiter(rate.Limit(c.VerifyRatePerSec), c.VerifyBurst)),
		chain.WithCache(explorerCache, c.CacheTTL()),
		chain.WithLogger(log.Named("explorer")),
	)
	verifier := verification.New(explorer,
		verification.WithWindow(c.VerifyWindow()),
		verification.WithTimeout(c.VerifyTimeout()),
		verification.WithRetries(c.VerifyMaxRetries, c.VerifyBackoff()),
		verification.WithExchangeWallets(c.ExchangeWallets...),
		verification.WithLogger(log.Named("verification")),
	)

	svc := app.New(
		app.WithLogger(log.Named("service")),
		app.WithStore(store),
		app.WithVerifier(verifier),
		app.WithDetector(fraud.New(fraud.WithRules(fraudRules(c)...))),
		app.WithTraderWorkers(c.TraderWorkers),
		app.WithVerifyWorkers(c.VerifyWorkers, c.VerifyQueueSize),
		app.WithMaxRankingsLimit(c.MaxRankingsLimit),
	)
	return svc, cleanup, nil
}

func networks(c *config.Config) []chain.Network {
	out := make([]chain.Network, 0, len(c.Networks))
	for _, name := range c.NetworkNames() {
		out = append(out, chain.Network{Name: name, ChainID: c.Networks[name]})
	}
	return out
}

// fraudRules is the default rule set with the configured research time.
func fraudRules(c *config.Config) []fraud.Rule {
	rules := fraud.DefaultRules()
	for i, r := range rules {
		if r.Name() == fraud.RuleTimingClustering && c.SignalResearchTime() > 0 {
			rules[i] = fraud.NewTimingClustering(c.SignalResearchTime())
		}
	}
	return rules
}

func openCache(ctx context.Context, c *config.Config, log logger.Logger) (cache.Cache, error) {
	if c.RedisAddr == "" {
		log.Info(ctx, "using in-process explorer cache")
		return cache.NewMemory(c.CacheTTL()), nil
	}
	rc, err := cache.DialRedis(ctx, c.RedisAddr, c.RedisDB, cache.WithTTL(c.CacheTTL()))
	if err != nil {
		return nil, fmt.Errorf("explorer cache: %w", err)
	}
	log.Info(ctx, "using redis explorer cache", logger.String("addr", c.RedisAddr))
	return rc, nil
}

func openStore(ctx context.Context, c *config.Config, log logger.Logger) (repository.Store, error) {
	switch c.Storage {
	case config.StoragePostgres:
		store, err := repository.OpenPostgres(ctx, c.DatabaseURL,
			repository.WithQueryTimeout(c.DBQueryTimeout()),
			repository.WithMaxOpenConns(c.DBMaxOpenConns),
			repository.WithLogger(log.Named("repository")),
		)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		log.Info(ctx, "using in-memory treap store")
		return repository.NewTreapStore(), nil
	}
}
