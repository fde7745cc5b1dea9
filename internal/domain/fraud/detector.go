// Package fraud scores behavioral red flags in a trader's claimed history.
//
// The detector is a fixed, ordered list of independent rules. Each triggered
// rule adds its weight and a reason; the total is clamped to [0,1].
package fraud

import (
	"strings"

	"github.com/okian/traderscore/internal/domain/model"
)

// Result is a single rule's verdict.
type Result struct {
	Triggered bool
	Weight    float64
	Reason    string
}

// Rule evaluates one heuristic.
type Rule interface {
	// Name is a stable identifier used as the reason code.
	Name() string
	Evaluate(trades []model.TradeRecord, signals []model.Signal) Result
}

// Detector aggregates rule verdicts.
type Detector struct {
	rules []Rule
}

// Option applies a configuration option to the Detector.
type Option func(*Detector)

// WithRules replaces the rule set. Rules fire in the given order.
func WithRules(rules ...Rule) Option {
	return func(d *Detector) {
		if len(rules) > 0 {
			d.rules = rules
		}
	}
}

// New creates a detector with DefaultRules.
func New(opts ...Option) *Detector {
	d := &Detector{rules: DefaultRules()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DefaultRules returns the standard rule set in firing order.
func DefaultRules() []Rule {
	return []Rule{
		NewUnrealisticReturns(DefaultMaxReturnPct),
		NewImplausibleWinRate(DefaultMaxWinRate, DefaultMinTradesForWinRate),
		NewPumpKeywords(DefaultPumpLexicon()),
		NewTimingClustering(DefaultResearchPerSignal),
		NewCopyPaste(DefaultSimilarityThreshold, DefaultMinSimilarPairs),
	}
}

// Rules returns the configured rules.
func (d *Detector) Rules() []Rule {
	return append([]Rule(nil), d.rules...)
}

// Detect runs every rule. Nothing to analyze yields a zero score.
func (d *Detector) Detect(trades []model.TradeRecord, signals []model.Signal) model.FraudAssessment {
	out := model.FraudAssessment{Reasons: []string{}}
	for _, r := range d.rules {
		res := r.Evaluate(trades, signals)
		if !res.Triggered || res.Weight <= 0 {
			continue
		}
		out.Score += res.Weight
		out.Reasons = append(out.Reasons, res.Reason)
	}
	if out.Score > 1 {
		out.Score = 1
	}
	return out
}

// ReasonCode extracts the rule name a reason was produced by.
func ReasonCode(reason string) string {
	if i := strings.IndexByte(reason, ':'); i >= 0 {
		return reason[:i]
	}
	return reason
}
