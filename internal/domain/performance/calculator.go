// Package performance turns a trader's closed trades into risk and return
// statistics. Every function here is pure and never yields NaN or Inf.
package performance

import (
	"math"

	"github.com/okian/traderscore/internal/domain/model"
)

// Defaults for the calculator.
const (
	DefaultRatioCap       = 100.0
	DefaultVolatilityNorm = 50.0
	DefaultDrawdownNorm   = 50.0

	minSample = 2

	// Bounds that keep fabricated histories finite: a single trade counts at
	// most ±1e6 percent and compounded equity stops at 1e12 times the start.
	maxTradeReturnPct = 1e6
	maxEquity         = 1e12

	consistencyCVWeight      = 0.7
	consistencyWinRateWeight = 0.3

	riskVolatilityWeight = 0.4
	riskDrawdownWeight   = 0.4
	riskLossRateWeight   = 0.2
)

// Calculator computes PerformanceMetrics.
type Calculator struct {
	ratioCap       float64
	volatilityNorm float64
	drawdownNorm   float64
}

// New creates a Calculator with default normalization constants.
func New(opts ...Option) *Calculator {
	c := &Calculator{
		ratioCap:       DefaultRatioCap,
		volatilityNorm: DefaultVolatilityNorm,
		drawdownNorm:   DefaultDrawdownNorm,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compute derives the metrics for trades. The input slice is not modified and
// its order does not matter: trades are replayed chronologically.
func (c *Calculator) Compute(trades []model.TradeRecord) model.PerformanceMetrics {
	n := len(trades)
	if n == 0 {
		return model.PerformanceMetrics{LowSample: true}
	}

	ordered := append([]model.TradeRecord(nil), trades...)
	model.SortChronologically(ordered)

	returns := make([]float64, n)
	var m model.PerformanceMetrics
	var sumWins, sumLosses float64
	for i, t := range ordered {
		r := clampAbs(t.ProfitLossPct, maxTradeReturnPct)
		returns[i] = r
		switch {
		case r > 0:
			m.WinningTrades++
			sumWins += r
		case r < 0:
			m.LosingTrades++
			sumLosses += r
		}
	}
	m.TotalTrades = n
	m.WinRate = float64(m.WinningTrades) / float64(n)
	if m.WinningTrades > 0 {
		m.AverageWinPct = sumWins / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLossPct = sumLosses / float64(m.LosingTrades)
	}

	equity, drawdown := equityCurve(returns)
	m.TotalReturnPct = (equity - 1) * 100
	m.MaxDrawdownPct = drawdown * 100

	if n < minSample {
		m.LowSample = true
		m.ConsistencyScore = Clamp01(consistencyWinRateWeight * m.WinRate)
		m.RiskScore = Clamp01(riskLossRateWeight * (1 - m.WinRate))
		return m
	}

	mu := mean(returns)
	sigma := stddev(returns)
	m.VolatilityPct = sigma
	m.SharpeRatio = c.sharpe(mu, sigma)
	m.SortinoRatio = c.sortino(mu, returns)
	m.ProfitFactor = c.profitFactor(sumWins, sumLosses)
	if m.MaxDrawdownPct > 0 {
		m.CalmarRatio = clampAbs(m.TotalReturnPct/m.MaxDrawdownPct, c.ratioCap)
	}
	m.ConsistencyScore = Clamp01(consistencyCVWeight*cvTerm(mu, sigma) + consistencyWinRateWeight*m.WinRate)
	m.RiskScore = Clamp01(riskVolatilityWeight*Clamp01(sigma/c.volatilityNorm) +
		riskDrawdownWeight*Clamp01(m.MaxDrawdownPct/c.drawdownNorm) +
		riskLossRateWeight*Clamp01(1-m.WinRate))
	return m
}

func (c *Calculator) sharpe(mu, sigma float64) float64 {
	if sigma == 0 {
		return 0
	}
	return clampAbs(mu/sigma, c.ratioCap)
}

// sortino uses the deviation of the losing returns only. With no measurable
// downside a profitable history gets the cap instead of infinity.
func (c *Calculator) sortino(mu float64, returns []float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	d := stddev(downside)
	if d == 0 {
		if mu > 0 {
			return c.ratioCap
		}
		return 0
	}
	return clampAbs(mu/d, c.ratioCap)
}

func (c *Calculator) profitFactor(sumWins, sumLosses float64) float64 {
	if sumLosses == 0 {
		if sumWins > 0 {
			return c.ratioCap
		}
		return 0
	}
	return math.Min(sumWins/math.Abs(sumLosses), c.ratioCap)
}

// cvTerm is 1 - coefficient of variation, bounded to [0,1]. A zero mean
// makes the coefficient undefined and earns nothing.
func cvTerm(mu, sigma float64) float64 {
	if mu == 0 {
		return 0
	}
	return Clamp01(1 - sigma/math.Abs(mu))
}

// equityCurve compounds the returns and reports the final equity (starting
// from 1, capped at maxEquity) and the largest peak-to-trough decline as a
// fraction. The curve holds the value after each trade, so a single trade has
// no drawdown.
func equityCurve(returns []float64) (equity, maxDrawdown float64) {
	equity = 1
	peak := 0.0
	for i, r := range returns {
		equity = math.Min(equity*(1+r/100), maxEquity)
		if equity < 0 {
			equity = 0
		}
		if i == 0 || equity > peak {
			peak = equity
			continue
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}
	return equity, maxDrawdown
}
