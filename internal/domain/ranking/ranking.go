// Package ranking blends performance, risk, consistency, verification and
// fraud into one composite score and orders traders by it.
package ranking

import (
	"math"
	"sort"

	"github.com/okian/traderscore/internal/domain/model"
)

// Weights of the composite score. Fraud is a penalty.
type Weights struct {
	Performance  float64
	Risk         float64
	Consistency  float64
	Verification float64
	Fraud        float64
}

// DefaultWeights returns the standard composite weights.
func DefaultWeights() Weights {
	return Weights{Performance: 0.35, Risk: 0.25, Consistency: 0.20, Verification: 0.15, Fraud: 0.05}
}

// Normalization scales for the logistic squashing of raw performance.
const (
	DefaultReturnScale = 50.0
	DefaultSharpeScale = 1.0
)

// Engine scores and orders traders.
type Engine struct {
	weights     Weights
	returnScale float64
	sharpeScale float64
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithWeights overrides the composite weights.
func WithWeights(w Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithScales sets the return (percent) and Sharpe values that map to 0.73 on
// the logistic curve.
func WithScales(returnPct, sharpe float64) Option {
	return func(e *Engine) {
		if returnPct > 0 {
			e.returnScale = returnPct
		}
		if sharpe > 0 {
			e.sharpeScale = sharpe
		}
	}
}

// New creates an Engine with default weights.
func New(opts ...Option) *Engine {
	e := &Engine{weights: DefaultWeights(), returnScale: DefaultReturnScale, sharpeScale: DefaultSharpeScale}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// PerformanceComponent squashes total return and Sharpe into [0,1] with equal
// weight. A trader without trades has no performance.
func (e *Engine) PerformanceComponent(m model.PerformanceMetrics) float64 {
	if m.TotalTrades == 0 {
		return 0
	}
	v := 0.5*logistic(m.TotalReturnPct/e.returnScale) + 0.5*logistic(m.SharpeRatio/e.sharpeScale)
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// Score computes the composite score clamped to [0,1]. Risk and consistency
// only count once there is at least one trade.
func (e *Engine) Score(m model.PerformanceMetrics, verification, fraud float64) float64 {
	w := e.weights
	s := w.Verification*verification - w.Fraud*fraud
	if m.TotalTrades > 0 {
		s += w.Performance*e.PerformanceComponent(m) +
			w.Risk*(1-m.RiskScore) +
			w.Consistency*m.ConsistencyScore
	}
	switch {
	case math.IsNaN(s), s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}

// Less reports whether a ranks ahead of b: higher overall score, then higher
// verification score, then username and platform ascending.
func Less(a, b model.TraderRecord) bool {
	if a.OverallScore != b.OverallScore {
		return a.OverallScore > b.OverallScore
	}
	if a.VerificationScore != b.VerificationScore {
		return a.VerificationScore > b.VerificationScore
	}
	if a.Username != b.Username {
		return a.Username < b.Username
	}
	return a.Platform < b.Platform
}

// Sort orders records in ranking order.
func Sort(records []model.TraderRecord) {
	sort.SliceStable(records, func(i, j int) bool { return Less(records[i], records[j]) })
}

// Rank orders the records within the requested platform (empty for all) and
// numbers them 1..n. A positive limit truncates the output.
func Rank(records []model.TraderRecord, platform model.Platform, limit int) []model.RankingResult {
	scoped := make([]model.TraderRecord, 0, len(records))
	for _, r := range records {
		if platform == "" || r.Platform == platform {
			scoped = append(scoped, r)
		}
	}
	Sort(scoped)
	if limit > 0 && len(scoped) > limit {
		scoped = scoped[:limit]
	}
	out := make([]model.RankingResult, len(scoped))
	for i, r := range scoped {
		reasons := r.FraudReasons
		if reasons == nil {
			reasons = []string{}
		}
		out[i] = model.RankingResult{
			TraderUsername:    r.Username,
			Platform:          r.Platform,
			OverallScore:      r.OverallScore,
			FraudScore:        r.FraudScore,
			FraudReasons:      append([]string(nil), reasons...),
			VerificationScore: r.VerificationScore,
			Rank:              i + 1,
		}
	}
	return out
}
