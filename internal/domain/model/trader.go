// Package model contains the domain records passed between the collectors,
// the validation pipeline and the repository.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Platform is the closed set of sources a trader can be observed on.
type Platform string

// Supported platforms.
const (
	PlatformTradingView Platform = "tradingview"
	PlatformTwitter     Platform = "twitter"
	PlatformReddit      Platform = "reddit"
	PlatformDiscord     Platform = "discord"
)

// Platforms lists every supported platform in display order.
func Platforms() []Platform {
	return []Platform{PlatformTradingView, PlatformTwitter, PlatformReddit, PlatformDiscord}
}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTradingView, PlatformTwitter, PlatformReddit, PlatformDiscord:
		return true
	default:
		return false
	}
}

// ParsePlatform normalizes s into a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
	}
	return p, nil
}

// TraderKey is the natural key of a trader: username is unique per platform.
type TraderKey struct {
	Username string   `json:"username"`
	Platform Platform `json:"platform"`
}

func (k TraderKey) String() string {
	return string(k.Platform) + "/" + k.Username
}

// TraderProfile is the latest observed identity snapshot of a trader.
type TraderProfile struct {
	Username  string   `json:"username"`
	Platform  Platform `json:"platform"`
	Followers int      `json:"followers"`
	Verified  bool     `json:"verified"`
}

// Key returns the profile's natural key. Surrounding whitespace is not part
// of a username.
func (p TraderProfile) Key() TraderKey {
	return TraderKey{Username: strings.TrimSpace(p.Username), Platform: p.Platform}
}

// Validate checks the identity fields.
func (p TraderProfile) Validate() error {
	if strings.TrimSpace(p.Username) == "" {
		return ErrMissingUsername
	}
	if !p.Platform.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPlatform, p.Platform)
	}
	return nil
}

// PerformanceMetrics is recomputed wholesale on every validation run.
type PerformanceMetrics struct {
	TotalTrades      int     `json:"total_trades"`
	WinningTrades    int     `json:"winning_trades"`
	LosingTrades     int     `json:"losing_trades"`
	WinRate          float64 `json:"win_rate"`
	TotalReturnPct   float64 `json:"total_return_pct"`
	AverageWinPct    float64 `json:"average_win_pct"`
	AverageLossPct   float64 `json:"average_loss_pct"`
	ProfitFactor     float64 `json:"profit_factor"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
	VolatilityPct    float64 `json:"volatility_pct"`
	RiskScore        float64 `json:"risk_score"`
	ConsistencyScore float64 `json:"consistency_score"`
	LowSample        bool    `json:"low_sample"`
}

// FraudAssessment is the fraud detector's verdict.
type FraudAssessment struct {
	Score   float64  `json:"fraud_score"`
	Reasons []string `json:"fraud_reasons"`
}

// TraderRecord is the durable row kept per (username, platform).
type TraderRecord struct {
	Username          string             `json:"username"`
	Platform          Platform           `json:"platform"`
	Followers         int                `json:"followers"`
	PlatformVerified  bool               `json:"platform_verified"`
	Metrics           PerformanceMetrics `json:"performance"`
	FraudScore        float64            `json:"fraud_score"`
	FraudReasons      []string           `json:"fraud_reasons"`
	VerificationScore float64            `json:"verification_score"`
	OverallScore      float64            `json:"overall_score"`
	UpdatedAt         time.Time          `json:"last_updated"`
	Trades            []TradeRecord      `json:"trades,omitempty"`
}

// Key returns the record's natural key.
func (r TraderRecord) Key() TraderKey {
	return TraderKey{Username: r.Username, Platform: r.Platform}
}

// Clone returns a deep copy so callers cannot mutate stored slices.
func (r TraderRecord) Clone() TraderRecord {
	out := r
	if r.FraudReasons != nil {
		out.FraudReasons = append([]string(nil), r.FraudReasons...)
	}
	if r.Trades != nil {
		out.Trades = append([]TradeRecord(nil), r.Trades...)
	}
	return out
}

// RankingResult is one row of a ranking query. It is built fresh per query.
type RankingResult struct {
	TraderUsername    string   `json:"trader_username"`
	Platform          Platform `json:"platform"`
	OverallScore      float64  `json:"overall_score"`
	FraudScore        float64  `json:"fraud_score"`
	FraudReasons      []string `json:"fraud_reasons"`
	VerificationScore float64  `json:"verification_score"`
	Rank              int      `json:"rank"`
}

// ValidationResult is returned to the caller of a validation run.
type ValidationResult struct {
	RunID             string             `json:"run_id"`
	Username          string             `json:"username"`
	Platform          Platform           `json:"platform"`
	OverallScore      float64            `json:"overall_score"`
	FraudScore        float64            `json:"fraud_score"`
	FraudReasons      []string           `json:"fraud_reasons"`
	VerificationScore float64            `json:"verification_score"`
	Performance       PerformanceMetrics `json:"performance"`
	Trades            []TradeRecord      `json:"trades"`
	RejectedTrades    int                `json:"rejected_trades"`
	UpdatedAt         time.Time          `json:"last_updated"`
}

// NewValidationResult projects a stored record into the caller-facing shape.
func NewValidationResult(runID string, rec TraderRecord, rejected int) ValidationResult {
	return ValidationResult{
		RunID:             runID,
		Username:          rec.Username,
		Platform:          rec.Platform,
		OverallScore:      rec.OverallScore,
		FraudScore:        rec.FraudScore,
		FraudReasons:      rec.FraudReasons,
		VerificationScore: rec.VerificationScore,
		Performance:       rec.Metrics,
		Trades:            rec.Trades,
		RejectedTrades:    rejected,
		UpdatedAt:         rec.UpdatedAt,
	}
}
