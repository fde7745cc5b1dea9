package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	workerpool "github.com/okian/traderscore/internal/adapters/mq/worker"
	"github.com/okian/traderscore/internal/adapters/verification"
	"github.com/okian/traderscore/internal/domain/dedupe"
	"github.com/okian/traderscore/internal/domain/fraud"
	"github.com/okian/traderscore/internal/domain/model"
	"github.com/okian/traderscore/pkg/logger"
	"github.com/okian/traderscore/pkg/metrics"
)

// ValidationInput is everything a collector supplies for one trader.
type ValidationInput struct {
	Profile model.TraderProfile `json:"profile"`
	Trades  []model.TradeRecord `json:"trades"`
	Signals []model.Signal      `json:"signals"`
	Wallet  string              `json:"wallet,omitempty"`
}

// TraderError reports a trader that could not be validated in a batch.
type TraderError struct {
	Username  string         `json:"username"`
	Platform  model.Platform `json:"platform"`
	Error     string         `json:"error"`
	Retryable bool           `json:"retryable"`
}

// BatchResult holds completed traders in input order plus per-trader
// failures. Cancelled traders appear in neither list and are counted in
// Dropped.
type BatchResult struct {
	RunID   string                   `json:"run_id"`
	Results []model.ValidationResult `json:"results"`
	Errors  []TraderError            `json:"errors"`
	Dropped int                      `json:"dropped"`
}

// Validate runs the full pipeline for one trader and persists the result.
func (s *Service) Validate(ctx context.Context, in ValidationInput) (model.ValidationResult, error) {
	_, verifyPool, err := s.running()
	if err != nil {
		return model.ValidationResult{}, err
	}
	return s.validateTrader(ctx, uuid.NewString(), verifyPool, in)
}

// ValidateBatch validates traders concurrently on the trader pool.
func (s *Service) ValidateBatch(ctx context.Context, inputs []ValidationInput) (BatchResult, error) {
	traderPool, verifyPool, err := s.running()
	if err != nil {
		return BatchResult{}, err
	}

	runID := uuid.NewString()
	out := BatchResult{RunID: runID, Results: []model.ValidationResult{}, Errors: []TraderError{}}

	type done struct {
		idx int
		res model.ValidationResult
		err error
	}
	results := make(chan done, len(inputs))

	// Later occurrences of a trader in the same batch are rejected up front.
	var duplicates []done
	seen := dedupe.NewInMemoryDeduper(len(inputs))

	submitted := 0
	for i, in := range inputs {
		if in.Profile.Validate() == nil && seen.SeenAndRecord(in.Profile.Key()) {
			duplicates = append(duplicates, done{idx: i, err: fmt.Errorf("%w: %s", ErrDuplicateTrader, in.Profile.Key())})
			continue
		}
		task := workerpool.Task{
			ID:  runID + "/" + strconv.Itoa(i),
			Ctx: ctx,
			Run: func(ctx context.Context) {
				d := done{idx: i, err: errors.New("validation task aborted")}
				defer func() { results <- d }()
				d.res, d.err = s.validateTrader(ctx, runID, verifyPool, in)
			},
		}
		if err := traderPool.Submit(ctx, task); err != nil {
			break
		}
		submitted++
	}

	completed := make([]done, 0, submitted+len(duplicates))
	completed = append(completed, duplicates...)
collect:
	for len(completed) < submitted+len(duplicates) {
		select {
		case d := <-results:
			completed = append(completed, d)
		case <-ctx.Done():
			break collect
		case <-traderPool.Done():
			break collect
		}
	}

	sort.Slice(completed, func(i, j int) bool { return completed[i].idx < completed[j].idx })
	for _, d := range completed {
		switch {
		case d.err == nil:
			out.Results = append(out.Results, d.res)
		case errors.Is(d.err, context.Canceled) || errors.Is(d.err, context.DeadlineExceeded):
			out.Dropped++
		default:
			p := inputs[d.idx].Profile
			out.Errors = append(out.Errors, TraderError{
				Username:  p.Username,
				Platform:  p.Platform,
				Error:     d.err.Error(),
				Retryable: IsRetryable(d.err),
			})
		}
	}
	out.Dropped += len(inputs) - len(completed)
	// Submitted tasks count themselves; only never-queued traders remain.
	s.dropped.Add(int64(len(inputs) - submitted - len(duplicates)))

	s.logger.Info(ctx, "batch validated",
		logger.String("run_id", runID),
		logger.Int("traders", len(inputs)),
		logger.Int("validated", len(out.Results)),
		logger.Int("failed", len(out.Errors)),
		logger.Int("dropped", out.Dropped),
	)
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	return out, nil
}

// validateTrader is the per-trader pipeline: sanitize, verify (fan-out to
// the shared pool, then join), compute, detect, score, persist.
func (s *Service) validateTrader(ctx context.Context, runID string, verifyPool *workerpool.Pool, in ValidationInput) (res model.ValidationResult, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordValidationDuration(float64(time.Since(start).Milliseconds()))
		switch {
		case err == nil:
			s.validated.Add(1)
			metrics.RecordValidation("ok")
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			s.dropped.Add(1)
			metrics.RecordValidation("cancelled")
		default:
			s.failed.Add(1)
			metrics.RecordValidation("failed")
		}
	}()

	if err := in.Profile.Validate(); err != nil {
		return model.ValidationResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	key := in.Profile.Key()
	log := s.logger.Named("pipeline")

	if s.inflight.SeenAndRecord(key) {
		return model.ValidationResult{}, fmt.Errorf("%w: %s", ErrInFlight, key)
	}
	defer s.inflight.Unrecord(key)

	trades, rejected := model.Sanitize(key, in.Trades)
	for _, r := range rejected {
		s.rejectedTotal.Add(1)
		metrics.RecordTradeRejected(r.Reason())
		log.Warn(ctx, "discarding invalid trade",
			logger.String("trader", key.String()),
			logger.String("pair", r.Trade.Pair),
			logger.Error(r.Err),
		)
	}

	if err := s.verifyTrades(ctx, verifyPool, trades, in.Wallet); err != nil {
		return model.ValidationResult{}, err
	}
	model.SortChronologically(trades)

	perf := s.calculator.Compute(trades)
	assessment := s.detector.Detect(trades, in.Signals)
	verificationScore := meanConfidence(trades)

	rec := model.TraderRecord{
		Username:          key.Username,
		Platform:          key.Platform,
		Followers:         in.Profile.Followers,
		PlatformVerified:  in.Profile.Verified,
		Metrics:           perf,
		FraudScore:        assessment.Score,
		FraudReasons:      assessment.Reasons,
		VerificationScore: verificationScore,
		OverallScore:      s.ranker.Score(perf, verificationScore, assessment.Score),
		UpdatedAt:         s.now().UTC(),
		Trades:            trades,
	}

	// A cancelled trader is dropped, never persisted half-way.
	if err := ctx.Err(); err != nil {
		return model.ValidationResult{}, err
	}
	if err := s.store.Upsert(ctx, rec); err != nil {
		log.Error(ctx, "persisting trader failed",
			logger.String("trader", key.String()),
			logger.Error(err),
		)
		return model.ValidationResult{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	metrics.RecordScores(rec.FraudScore, rec.OverallScore)
	for _, reason := range rec.FraudReasons {
		metrics.RecordFraudRuleHit(fraud.ReasonCode(reason))
	}
	log.Debug(ctx, "trader validated",
		logger.String("run_id", runID),
		logger.String("trader", key.String()),
		logger.Int("trades", len(trades)),
		logger.Int("rejected", len(rejected)),
		logger.Float64("overall_score", rec.OverallScore),
		logger.Float64("fraud_score", rec.FraudScore),
		logger.Float64("verification_score", rec.VerificationScore),
	)
	return model.NewValidationResult(runID, rec, len(rejected)), nil
}

// verifyTrades fans verification out to the shared pool and waits for every
// outcome. Without a wallet no explorer call is needed.
func (s *Service) verifyTrades(ctx context.Context, pool *workerpool.Pool, trades []model.TradeRecord, wallet string) error {
	if len(trades) == 0 {
		return nil
	}
	if wallet == "" {
		for i := range trades {
			s.verifier.Verify(ctx, trades[i], wallet).Apply(&trades[i])
		}
		return nil
	}

	type verified struct {
		idx int
		out model.VerificationOutcome
	}
	results := make(chan verified, len(trades))

	submitted := 0
	for i := range trades {
		trade := trades[i]
		task := workerpool.Task{
			ID:  trade.ID,
			Ctx: ctx,
			Run: func(ctx context.Context) {
				v := verified{idx: i, out: model.VerificationOutcome{Source: verification.SourceError}}
				defer func() { results <- v }()
				v.out = s.verifier.Verify(ctx, trade, wallet)
			},
		}
		if err := pool.Submit(ctx, task); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("submit verification: %w", err)
		}
		submitted++
	}

	for received := 0; received < submitted; received++ {
		select {
		case v := <-results:
			v.out.Apply(&trades[v.idx])
		case <-ctx.Done():
			return ctx.Err()
		case <-pool.Done():
			return workerpool.ErrPoolStopped
		}
	}
	return nil
}

func meanConfidence(trades []model.TradeRecord) float64 {
	if len(trades) == 0 {
		return 0
	}
	var sum float64
	for _, t := range trades {
		sum += t.ConfidenceScore
	}
	return sum / float64(len(trades))
}
