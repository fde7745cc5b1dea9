package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SignalType is the direction of a claimed trade or signal.
type SignalType string

// Trade directions.
const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
)

// ParseSignalType accepts BUY/SELL in any case, plus the long/short aliases
// some collectors emit.
func ParseSignalType(s string) (SignalType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return SignalBuy, nil
	case "SELL", "SHORT":
		return SignalSell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSignalType, s)
	}
}

// quoteAssets are stripped from concatenated pairs such as ETHUSDT.
var quoteAssets = []string{"USDT", "USDC", "BUSD", "TUSD", "DAI", "USD", "EUR", "BTC", "ETH", "BNB"} //nolint:gochecknoglobals // fixed lookup table

// TradeRecord is one claimed, closed trade. Verified, VerificationSource and
// ConfidenceScore are written by the verification client only.
type TradeRecord struct {
	ID                 string     `json:"id" db:"id"`
	TraderUsername     string     `json:"trader_username" db:"username"`
	Platform           Platform   `json:"platform" db:"platform"`
	Pair               string     `json:"pair" db:"pair"`
	SignalType         SignalType `json:"signal_type" db:"signal_type"`
	EntryPrice         float64    `json:"entry_price" db:"entry_price"`
	ExitPrice          float64    `json:"exit_price" db:"exit_price"`
	EntryTimestamp     time.Time  `json:"entry_timestamp" db:"entry_timestamp"`
	ExitTimestamp      time.Time  `json:"exit_timestamp" db:"exit_timestamp"`
	ProfitLoss         float64    `json:"profit_loss" db:"profit_loss"`
	ProfitLossPct      float64    `json:"profit_loss_pct" db:"profit_loss_pct"`
	Network            string     `json:"network,omitempty" db:"network"`
	Verified           bool       `json:"verified" db:"verified"`
	VerificationSource string     `json:"verification_source" db:"verification_source"`
	ConfidenceScore    float64    `json:"confidence_score" db:"confidence_score"`
}

// Validate checks the structural invariants of a claimed trade.
func (t TradeRecord) Validate() error {
	if _, err := ParseSignalType(string(t.SignalType)); err != nil {
		return err
	}
	if strings.TrimSpace(t.Pair) == "" {
		return ErrMissingPair
	}
	if t.EntryTimestamp.IsZero() || t.ExitTimestamp.IsZero() {
		return ErrMissingTimestamp
	}
	if t.ExitTimestamp.Before(t.EntryTimestamp) {
		return ErrExitBeforeEntry
	}
	for _, p := range []float64{t.EntryPrice, t.ExitPrice} {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return ErrNonFinitePrice
		}
		if p <= 0 {
			return ErrNonPositivePrice
		}
	}
	if _, pct := t.profit(); math.IsInf(pct, 0) || math.IsNaN(pct) {
		return ErrNonFiniteReturn
	}
	return nil
}

// Derive recomputes the profit fields from prices. ProfitLossPct is in percent
// units, so +50 means a 50% gain.
func (t *TradeRecord) Derive() {
	t.SignalType, _ = ParseSignalType(string(t.SignalType))
	t.ProfitLoss, t.ProfitLossPct = t.profit()
}

func (t TradeRecord) profit() (diff, pct float64) {
	diff = t.ExitPrice - t.EntryPrice
	if side, _ := ParseSignalType(string(t.SignalType)); side == SignalSell {
		diff = -diff
	}
	return diff, diff / t.EntryPrice * 100
}

// BaseAsset returns the upper-cased traded asset of the pair, e.g. "ETH" for
// "ETH/USDT", "eth-usd" or "ETHUSDT".
func (t TradeRecord) BaseAsset() string {
	pair := strings.ToUpper(strings.TrimSpace(t.Pair))
	if i := strings.IndexAny(pair, "/-_:"); i > 0 {
		return pair[:i]
	}
	for _, q := range quoteAssets {
		if strings.HasSuffix(pair, q) && len(pair) > len(q) {
			return strings.TrimSuffix(pair, q)
		}
	}
	return pair
}

// ResetVerification clears any verification fields supplied by a collector.
func (t *TradeRecord) ResetVerification() {
	t.Verified = false
	t.VerificationSource = ""
	t.ConfidenceScore = 0
}

// Rejection pairs a discarded trade with the reason it was discarded.
type Rejection struct {
	Trade TradeRecord
	Err   error
}

// Reason returns a stable label for the rejection cause.
func (r Rejection) Reason() string {
	for _, e := range []error{
		ErrExitBeforeEntry, ErrNonFinitePrice, ErrNonPositivePrice, ErrNonFiniteReturn,
		ErrMissingTimestamp, ErrUnknownSignalType, ErrMissingPair, ErrTraderMismatch,
		ErrDuplicateTradeID,
	} {
		if errors.Is(r.Err, e) {
			return strings.ReplaceAll(e.Error(), " ", "_")
		}
	}
	return "invalid"
}

// Sanitize splits trades into the valid set, normalized for the given trader,
// and the rejected ones. Valid trades get an ID when missing, derived profit
// fields and cleared verification fields. A trade ID may appear once per
// trader; later trades reusing it are rejected.
func Sanitize(key TraderKey, trades []TradeRecord) ([]TradeRecord, []Rejection) {
	valid := make([]TradeRecord, 0, len(trades))
	var rejected []Rejection
	ids := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		t.TraderUsername = strings.TrimSpace(t.TraderUsername)
		if t.TraderUsername == "" {
			t.TraderUsername = key.Username
		}
		if t.Platform == "" {
			t.Platform = key.Platform
		}
		if t.TraderUsername != key.Username || t.Platform != key.Platform {
			rejected = append(rejected, Rejection{Trade: t, Err: ErrTraderMismatch})
			continue
		}
		if err := t.Validate(); err != nil {
			rejected = append(rejected, Rejection{Trade: t, Err: err})
			continue
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if _, dup := ids[t.ID]; dup {
			rejected = append(rejected, Rejection{Trade: t, Err: fmt.Errorf("%w: %q", ErrDuplicateTradeID, t.ID)})
			continue
		}
		ids[t.ID] = struct{}{}
		t.Derive()
		t.ResetVerification()
		valid = append(valid, t)
	}
	return valid, rejected
}

// SortChronologically orders trades by exit time, then entry time, pair and
// return so equal inputs always produce the same sequence.
func SortChronologically(trades []TradeRecord) {
	sort.SliceStable(trades, func(i, j int) bool {
		a, b := trades[i], trades[j]
		if !a.ExitTimestamp.Equal(b.ExitTimestamp) {
			return a.ExitTimestamp.Before(b.ExitTimestamp)
		}
		if !a.EntryTimestamp.Equal(b.EntryTimestamp) {
			return a.EntryTimestamp.Before(b.EntryTimestamp)
		}
		if a.Pair != b.Pair {
			return a.Pair < b.Pair
		}
		return a.ProfitLossPct < b.ProfitLossPct
	})
}

// Signal is a raw claim used only for textual and timing analysis.
type Signal struct {
	Pair       string     `json:"pair"`
	SignalType SignalType `json:"signal_type"`
	Reasoning  string     `json:"reasoning"`
	Timestamp  time.Time  `json:"timestamp"`
}

// VerificationOutcome is the verification client's verdict for one trade.
type VerificationOutcome struct {
	Matched    bool    `json:"matched"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Apply writes the outcome onto the trade's verification fields.
func (o VerificationOutcome) Apply(t *TradeRecord) {
	t.Verified = o.Matched
	t.ConfidenceScore = o.Confidence
	t.VerificationSource = o.Source
}
