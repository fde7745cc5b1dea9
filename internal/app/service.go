// Package service provides the validation orchestrator: it drives trade
// verification, computes performance and fraud scores, ranks traders and
// persists the result.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/traderscore/internal/adapters/chain"
	workerpool "github.com/okian/traderscore/internal/adapters/mq/worker"
	"github.com/okian/traderscore/internal/adapters/repository"
	"github.com/okian/traderscore/internal/adapters/verification"
	"github.com/okian/traderscore/internal/domain/dedupe"
	"github.com/okian/traderscore/internal/domain/fraud"
	"github.com/okian/traderscore/internal/domain/model"
	"github.com/okian/traderscore/internal/domain/performance"
	"github.com/okian/traderscore/internal/domain/ranking"
	"github.com/okian/traderscore/pkg/logger"
	"github.com/okian/traderscore/pkg/metrics"
)

// Service implements the validation and ranking API.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	verifier   verification.Verifier
	calculator *performance.Calculator
	detector   *fraud.Detector
	ranker     *ranking.Engine
	traderPool *workerpool.Pool
	verifyPool *workerpool.Pool
	inflight   dedupe.Deduper

	// Configuration
	traderWorkers    int
	verifyWorkers    int
	verifyQueueSize  int
	maxRankingsLimit int
	now              func() time.Time

	// State
	started bool

	validated     atomic.Int64
	failed        atomic.Int64
	dropped       atomic.Int64
	rejectedTotal atomic.Int64

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the metrics repository. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithVerifier sets the trade verifier.
func WithVerifier(v verification.Verifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithCalculator replaces the performance calculator.
func WithCalculator(c *performance.Calculator) Option {
	return func(s *Service) {
		if c != nil {
			s.calculator = c
		}
	}
}

// WithDetector replaces the fraud detector.
func WithDetector(d *fraud.Detector) Option {
	return func(s *Service) {
		if d != nil {
			s.detector = d
		}
	}
}

// WithRanker replaces the ranking engine.
func WithRanker(r *ranking.Engine) Option {
	return func(s *Service) {
		if r != nil {
			s.ranker = r
		}
	}
}

// WithTraderWorkers sets how many traders are validated concurrently.
func WithTraderWorkers(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.traderWorkers = count
		}
	}
}

// WithVerifyWorkers sizes the verification pool shared by all traders.
func WithVerifyWorkers(count, queueSize int) Option {
	return func(s *Service) {
		if count > 0 {
			s.verifyWorkers = count
		}
		if queueSize > 0 {
			s.verifyQueueSize = queueSize
		}
	}
}

// WithMaxRankingsLimit caps ranking queries.
func WithMaxRankingsLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxRankingsLimit = limit
		}
	}
}

// WithClock overrides the clock used for updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		calculator:       performance.New(),
		detector:         fraud.New(),
		ranker:           ranking.New(),
		inflight:         dedupe.NewInMemoryDeduper(0),
		traderWorkers:    runtime.NumCPU() * 2,
		verifyWorkers:    8,
		verifyQueueSize:  1024,
		maxRankingsLimit: 100,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the worker pools.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}

	s.logger.Info(ctx, "starting validation service...")

	if s.store == nil {
		s.store = repository.NewTreapStore()
		s.logger.Info(ctx, "using in-memory treap store")
	}
	if s.verifier == nil {
		s.verifier = verification.New(chain.New())
	}

	// Pools outlive the start context; Stop shuts them down.
	runCtx := context.WithoutCancel(ctx)
	s.traderPool = workerpool.NewPool("trader", s.traderWorkers, s.traderWorkers*4,
		workerpool.WithPoolLogger(s.logger.Named("trader-pool")))
	s.verifyPool = workerpool.NewPool("verify", s.verifyWorkers, s.verifyQueueSize,
		workerpool.WithPoolLogger(s.logger.Named("verify-pool")))
	s.traderPool.Start(runCtx)
	s.verifyPool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "validation service started",
		logger.Int("trader_workers", s.traderWorkers),
		logger.Int("verify_workers", s.verifyWorkers),
		logger.Int("verify_queue_size", s.verifyQueueSize),
	)
	return nil
}

// Stop gracefully shuts down the pools and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping validation service...")

	// Trader tasks wait on verification, so stop traders first.
	s.traderPool.Stop()
	s.verifyPool.Stop()

	if err := s.store.Close(); err != nil {
		s.logger.Warn(context.Background(), "closing store failed", logger.Error(err))
	}

	s.started = false
	s.logger.Info(context.Background(), "validation service stopped")
}

// running returns the pools when the service is started.
func (s *Service) running() (*workerpool.Pool, *workerpool.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.traderPool, s.verifyPool, nil
}

// GetRankings returns ranked traders, optionally scoped to one platform.
// A zero limit selects the configured maximum; larger limits are capped.
func (s *Service) GetRankings(ctx context.Context, platform model.Platform, limit int) ([]model.RankingResult, error) {
	if _, _, err := s.running(); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	if limit == 0 || limit > s.maxRankingsLimit {
		limit = s.maxRankingsLimit
	}
	if platform != "" && !platform.Valid() {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidInput, model.ErrUnknownPlatform, platform)
	}
	rows, err := s.store.List(ctx, platform, limit)
	if err != nil {
		return nil, err
	}
	return ranking.Rank(rows, platform, limit), nil
}

// GetTrader returns the stored row of one trader including its trades.
func (s *Service) GetTrader(ctx context.Context, username string, platform model.Platform) (model.TraderRecord, error) {
	if _, _, err := s.running(); err != nil {
		return model.TraderRecord{}, err
	}
	profile := model.TraderProfile{Username: username, Platform: platform}
	if err := profile.Validate(); err != nil {
		return model.TraderRecord{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return s.store.Get(ctx, profile.Key())
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":            s.started,
		"trader_workers":     s.traderWorkers,
		"verify_workers":     s.verifyWorkers,
		"verify_queue_size":  s.verifyQueueSize,
		"validated":          s.validated.Load(),
		"failed":             s.failed.Load(),
		"dropped":            s.dropped.Load(),
		"rejected_trades":    s.rejectedTotal.Load(),
		"in_flight":          s.inflight.Size(),
		"max_rankings_limit": s.maxRankingsLimit,
	}

	if s.started {
		traderQueue := s.traderPool.QueueLen()
		verifyQueue := s.verifyPool.QueueLen()
		stats["trader_queue_length"] = traderQueue
		stats["verify_queue_length"] = verifyQueue
		metrics.UpdateQueueSize("trader", traderQueue)
		metrics.UpdateQueueSize("verify", verifyQueue)

		if count, err := s.store.Count(context.Background()); err == nil {
			stats["tracked_traders"] = count
			metrics.UpdateTrackedTraders(count)
		}
	}
	return stats
}
