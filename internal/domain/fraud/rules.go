package fraud

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/okian/traderscore/internal/domain/model"
)

// Rule defaults.
const (
	DefaultMaxReturnPct        = 300.0
	DefaultMaxWinRate          = 0.95
	DefaultMinTradesForWinRate = 10
	DefaultResearchPerSignal   = 5 * time.Minute
	DefaultSimilarityThreshold = 0.8
	DefaultMinSimilarPairs     = 3
	minClusteredSignals        = 3
	monthEquivalent            = 30 * 24 * time.Hour
	minReturnSpan              = 24 * time.Hour
	unrealisticReturnsWeight   = 0.3
	implausibleWinRateWeight   = 0.25
	pumpKeywordWeightPerSignal = 0.15
	pumpKeywordMaxWeight       = 0.3
	timingClusteringWeight     = 0.2
	copyPasteWeight            = 0.2
)

// Rule names, also used as reason codes.
const (
	RuleUnrealisticReturns = "unrealistic_returns"
	RuleImplausibleWinRate = "implausible_win_rate"
	RulePumpKeywords       = "pump_keywords"
	RuleTimingClustering   = "timing_clustering"
	RuleCopyPaste          = "copy_paste_signals"
)

// UnrealisticReturns flags any single trade, or the compounded history scaled
// to a 30-day month, above the threshold.
type UnrealisticReturns struct {
	maxPct float64
}

// NewUnrealisticReturns creates the rule with a percent threshold.
func NewUnrealisticReturns(maxPct float64) *UnrealisticReturns {
	return &UnrealisticReturns{maxPct: maxPct}
}

func (r *UnrealisticReturns) Name() string { return RuleUnrealisticReturns }

func (r *UnrealisticReturns) Evaluate(trades []model.TradeRecord, _ []model.Signal) Result {
	if len(trades) == 0 {
		return Result{}
	}
	for _, t := range trades {
		if t.ProfitLossPct > r.maxPct {
			return Result{
				Triggered: true,
				Weight:    unrealisticReturnsWeight,
				Reason:    fmt.Sprintf("%s: %s trade returned %.1f%%", r.Name(), t.Pair, t.ProfitLossPct),
			}
		}
	}

	ordered := append([]model.TradeRecord(nil), trades...)
	model.SortChronologically(ordered)
	equity := 1.0
	first, last := ordered[0].EntryTimestamp, ordered[0].ExitTimestamp
	for _, t := range ordered {
		equity *= 1 + t.ProfitLossPct/100
		if equity < 0 {
			equity = 0
		}
		if t.EntryTimestamp.Before(first) {
			first = t.EntryTimestamp
		}
		if t.ExitTimestamp.After(last) {
			last = t.ExitTimestamp
		}
	}
	span := last.Sub(first)
	if span < minReturnSpan {
		span = minReturnSpan
	}
	monthly := (equity - 1) * 100 * float64(monthEquivalent) / float64(span)
	if monthly > r.maxPct {
		return Result{
			Triggered: true,
			Weight:    unrealisticReturnsWeight,
			Reason:    fmt.Sprintf("%s: %.1f%% monthly-equivalent return", r.Name(), monthly),
		}
	}
	return Result{}
}

// ImplausibleWinRate flags near-perfect win rates over a meaningful sample.
type ImplausibleWinRate struct {
	maxWinRate float64
	minTrades  int
}

// NewImplausibleWinRate creates the rule.
func NewImplausibleWinRate(maxWinRate float64, minTrades int) *ImplausibleWinRate {
	return &ImplausibleWinRate{maxWinRate: maxWinRate, minTrades: minTrades}
}

func (r *ImplausibleWinRate) Name() string { return RuleImplausibleWinRate }

func (r *ImplausibleWinRate) Evaluate(trades []model.TradeRecord, _ []model.Signal) Result {
	if len(trades) < r.minTrades || len(trades) == 0 {
		return Result{}
	}
	wins := 0
	for _, t := range trades {
		if t.ProfitLossPct > 0 {
			wins++
		}
	}
	wr := float64(wins) / float64(len(trades))
	if wr <= r.maxWinRate {
		return Result{}
	}
	return Result{
		Triggered: true,
		Weight:    implausibleWinRateWeight,
		Reason:    fmt.Sprintf("%s: %.1f%% over %d trades", r.Name(), wr*100, len(trades)),
	}
}

// DefaultPumpLexicon returns the curated hype vocabulary.
func DefaultPumpLexicon() []string {
	return []string{
		"moon", "mooning", "pump", "1000x", "100x", "guaranteed", "risk-free", "risk free",
		"can't lose", "cant lose", "lambo", "get rich", "insider", "no brainer", "no-brainer",
	}
}

// PumpKeywords counts signals whose reasoning uses hype vocabulary.
type PumpKeywords struct {
	pattern *regexp.Regexp
}

// NewPumpKeywords compiles a whole-word, case-insensitive matcher.
func NewPumpKeywords(lexicon []string) *PumpKeywords {
	quoted := make([]string, 0, len(lexicon))
	for _, w := range lexicon {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	// longest first so "mooning" wins over "moon"
	sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	var re *regexp.Regexp
	if len(quoted) > 0 {
		re = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return &PumpKeywords{pattern: re}
}

func (r *PumpKeywords) Name() string { return RulePumpKeywords }

func (r *PumpKeywords) Evaluate(_ []model.TradeRecord, signals []model.Signal) Result {
	if r.pattern == nil {
		return Result{}
	}
	matched := 0
	seen := map[string]struct{}{}
	for _, s := range signals {
		hits := r.pattern.FindAllString(s.Reasoning, -1)
		if len(hits) == 0 {
			continue
		}
		matched++
		for _, h := range hits {
			seen[strings.ToLower(h)] = struct{}{}
		}
	}
	if matched == 0 {
		return Result{}
	}
	words := make([]string, 0, len(seen))
	for w := range seen {
		words = append(words, w)
	}
	sort.Strings(words)
	return Result{
		Triggered: true,
		Weight:    math.Min(float64(matched)*pumpKeywordWeightPerSignal, pumpKeywordMaxWeight),
		Reason:    fmt.Sprintf("%s: %d signals use %s", r.Name(), matched, strings.Join(words, ", ")),
	}
}

// TimingClustering flags bursts of signals issued faster than anyone could
// research them.
type TimingClustering struct {
	perSignal time.Duration
}

// NewTimingClustering creates the rule with the minimum research time per signal.
func NewTimingClustering(perSignal time.Duration) *TimingClustering {
	return &TimingClustering{perSignal: perSignal}
}

func (r *TimingClustering) Name() string { return RuleTimingClustering }

func (r *TimingClustering) Evaluate(_ []model.TradeRecord, signals []model.Signal) Result {
	var stamps []time.Time
	for _, s := range signals {
		if !s.Timestamp.IsZero() {
			stamps = append(stamps, s.Timestamp)
		}
	}
	if len(stamps) < minClusteredSignals {
		return Result{}
	}
	earliest, latest := stamps[0], stamps[0]
	for _, ts := range stamps[1:] {
		if ts.Before(earliest) {
			earliest = ts
		}
		if ts.After(latest) {
			latest = ts
		}
	}
	span := latest.Sub(earliest)
	if span >= time.Duration(len(stamps))*r.perSignal {
		return Result{}
	}
	return Result{
		Triggered: true,
		Weight:    timingClusteringWeight,
		Reason:    fmt.Sprintf("%s: %d signals within %s", r.Name(), len(stamps), span),
	}
}

// CopyPaste flags near-identical reasoning reused across signals.
type CopyPaste struct {
	threshold float64
	minPairs  int
}

// NewCopyPaste creates the rule.
func NewCopyPaste(threshold float64, minPairs int) *CopyPaste {
	return &CopyPaste{threshold: threshold, minPairs: minPairs}
}

func (r *CopyPaste) Name() string { return RuleCopyPaste }

func (r *CopyPaste) Evaluate(_ []model.TradeRecord, signals []model.Signal) Result {
	sets := make([]map[string]struct{}, 0, len(signals))
	for _, s := range signals {
		if ts := tokenSet(s.Reasoning); len(ts) > 0 {
			sets = append(sets, ts)
		}
	}
	pairs := 0
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			if Similarity(sets[i], sets[j]) > r.threshold {
				pairs++
			}
		}
	}
	if pairs < r.minPairs {
		return Result{}
	}
	return Result{
		Triggered: true,
		Weight:    copyPasteWeight,
		Reason:    fmt.Sprintf("%s: %d near-identical signal pairs", r.Name(), pairs),
	}
}

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`) //nolint:gochecknoglobals // compiled once

func tokenSet(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		out[tok] = struct{}{}
	}
	return out
}

// Similarity is the Jaccard index of two token sets.
func Similarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// TextSimilarity tokenizes two texts and compares them.
func TextSimilarity(a, b string) float64 {
	return Similarity(tokenSet(a), tokenSet(b))
}
