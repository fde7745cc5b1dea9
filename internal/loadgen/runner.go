package loadgen

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	service "github.com/okian/traderscore/internal/app"
	"github.com/okian/traderscore/internal/domain/fraud"
	"github.com/okian/traderscore/internal/domain/model"
	"github.com/okian/traderscore/pkg/logger"
)

// Errors reported by a run.
var (
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrInvalidConfig    = errors.New("invalid load configuration")
	ErrCheckFailed      = errors.New("consistency check failed")
)

// pumperFraudFloor is the least fraud score a generated pumper may receive.
const pumperFraudFloor = 0.5

// Run generates traders, submits them in concurrent batches, and checks the
// resulting rankings and trader records.
func Run(ctx context.Context, cfg Config) (*Stats, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := logger.Named("loadgen")
	stats := &Stats{StartTime: time.Now()}
	client := newHTTPClient(strings.TrimRight(cfg.BaseURL, "/"), cfg.Timeout)

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("traders", cfg.Traders),
		logger.Int("batchSize", cfg.BatchSize),
		logger.Int("workers", cfg.Workers))

	if err := client.getJSON(ctx, "/healthz", nil); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	traders := NewGenerator(cfg.Seed).Generate(cfg.Traders)
	stats.TradersGenerated = len(traders)

	if err := submit(ctx, client, cfg, traders, stats); err != nil {
		return stats, err
	}
	if err := check(ctx, client, traders, stats); err != nil {
		return stats, err
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	log.Info(ctx, "load run completed",
		logger.Int("validated", stats.TradersValidated),
		logger.Int("traderErrors", stats.TraderErrors),
		logger.Int("batchesFailed", stats.BatchesFailed),
		logger.Duration("duration", stats.Duration))
	return stats, nil
}

func (c Config) validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	case c.Traders <= 0:
		return fmt.Errorf("%w: traders must be positive", ErrInvalidConfig)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// submit posts batches from a fixed number of workers.
func submit(ctx context.Context, client *httpClient, cfg Config, traders []Trader, stats *Stats) error {
	batches := make(chan []service.ValidationInput)
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)

	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				var resp batchResponse
				err := client.postJSON(ctx, "/v1/validate/batch", map[string]interface{}{"traders": batch}, &resp)
				mu.Lock()
				stats.BatchesSubmitted++
				if err != nil {
					stats.BatchesFailed++
					if firstErr == nil {
						firstErr = err
					}
				} else {
					stats.TradersValidated += len(resp.Results)
					stats.TraderErrors += len(resp.Errors)
					stats.TradersDropped += resp.Dropped
				}
				mu.Unlock()
			}
		}()
	}

	for start := 0; start < len(traders); start += cfg.BatchSize {
		end := min(start+cfg.BatchSize, len(traders))
		batch := make([]service.ValidationInput, 0, end-start)
		for _, t := range traders[start:end] {
			batch = append(batch, t.Input)
		}
		select {
		case batches <- batch:
		case <-ctx.Done():
			close(batches)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(batches)
	wg.Wait()

	if firstErr != nil {
		return fmt.Errorf("batch submission failed: %w", firstErr)
	}
	if stats.TradersValidated != len(traders) {
		return fmt.Errorf("%w: %d of %d traders validated (%d errors, %d dropped)",
			ErrCheckFailed, stats.TradersValidated, len(traders), stats.TraderErrors, stats.TradersDropped)
	}
	return nil
}

// check verifies ranking order and the fraud verdict of every generated trader.
func check(ctx context.Context, client *httpClient, traders []Trader, stats *Stats) error {
	var all rankingsResponse
	if err := client.getJSON(ctx, "/v1/rankings", &all); err != nil {
		return fmt.Errorf("ranking retrieval failed: %w", err)
	}
	stats.RankingsFetched++
	if err := checkOrder(all.Rankings); err != nil {
		return err
	}

	for _, p := range model.Platforms() {
		var scoped rankingsResponse
		if err := client.getJSON(ctx, "/v1/rankings?platform="+url.QueryEscape(string(p)), &scoped); err != nil {
			return fmt.Errorf("ranking retrieval for %s failed: %w", p, err)
		}
		stats.RankingsFetched++
		for _, r := range scoped.Rankings {
			if r.Platform != p {
				return fmt.Errorf("%w: %s ranking contains %s trader %s", ErrCheckFailed, p, r.Platform, r.TraderUsername)
			}
		}
		if err := checkOrder(scoped.Rankings); err != nil {
			return err
		}
	}

	for _, t := range traders {
		path := fmt.Sprintf("/v1/traders/%s/%s", url.PathEscape(string(t.Input.Profile.Platform)), url.PathEscape(t.Input.Profile.Username))
		var rec model.TraderRecord
		if err := client.getJSON(ctx, path, &rec); err != nil {
			return fmt.Errorf("trader retrieval failed: %w", err)
		}
		stats.TradersChecked++
		if err := checkFraud(t.Archetype, rec); err != nil {
			return err
		}
	}
	return nil
}

// checkOrder asserts scores never increase and rows are numbered 1..n.
func checkOrder(rows []model.RankingResult) error {
	for i, r := range rows {
		if r.Rank != i+1 {
			return fmt.Errorf("%w: position %d ranked %d", ErrCheckFailed, i+1, r.Rank)
		}
		if i > 0 && r.OverallScore > rows[i-1].OverallScore {
			return fmt.Errorf("%w: score rises at position %d", ErrCheckFailed, i+1)
		}
	}
	return nil
}

func checkFraud(a Archetype, rec model.TraderRecord) error {
	switch a {
	case ArchetypePumper:
		if rec.FraudScore < pumperFraudFloor {
			return fmt.Errorf("%w: pumper %s scored fraud %.2f", ErrCheckFailed, rec.Username, rec.FraudScore)
		}
		if !hasReason(rec.FraudReasons, fraud.RulePumpKeywords) {
			return fmt.Errorf("%w: pumper %s missing %s", ErrCheckFailed, rec.Username, fraud.RulePumpKeywords)
		}
	case ArchetypeSteady:
		if rec.FraudScore != 0 {
			return fmt.Errorf("%w: steady trader %s flagged %v", ErrCheckFailed, rec.Username, rec.FraudReasons)
		}
	}
	return nil
}

func hasReason(reasons []string, rule string) bool {
	for _, r := range reasons {
		if strings.HasPrefix(r, rule) {
			return true
		}
	}
	return false
}
