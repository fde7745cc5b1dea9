package performance

// Option applies a configuration option to the Calculator.
type Option func(*Calculator)

// WithRatioCap sets the finite bound used for Sortino, Calmar and profit
// factor when their denominator is zero.
func WithRatioCap(limit float64) Option {
	return func(c *Calculator) {
		if limit > 0 {
			c.ratioCap = limit
		}
	}
}

// WithVolatilityNorm sets the return volatility (percent) that maps to a
// fully risky volatility term.
func WithVolatilityNorm(pct float64) Option {
	return func(c *Calculator) {
		if pct > 0 {
			c.volatilityNorm = pct
		}
	}
}

// WithDrawdownNorm sets the drawdown (percent) that maps to a fully risky
// drawdown term.
func WithDrawdownNorm(pct float64) Option {
	return func(c *Calculator) {
		if pct > 0 {
			c.drawdownNorm = pct
		}
	}
}
