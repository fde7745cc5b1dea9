package performance_test

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/okian/traderscore/internal/domain/model"
	"github.com/okian/traderscore/internal/domain/performance"
	. "github.com/smartystreets/goconvey/convey"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// closed builds a trade whose return is pct percent and which closes at the
// given hour offset.
func closed(pct float64, hour int) model.TradeRecord {
	t := model.TradeRecord{
		Pair:           "BTC/USDT",
		SignalType:     model.SignalBuy,
		EntryPrice:     100,
		ExitPrice:      100 * (1 + pct/100),
		EntryTimestamp: base.Add(time.Duration(hour) * time.Hour),
		ExitTimestamp:  base.Add(time.Duration(hour)*time.Hour + 30*time.Minute),
	}
	t.Derive()
	t.ProfitLossPct = pct
	return t
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

func TestComputeEdgeCases(t *testing.T) {
	calc := performance.New()

	Convey("Given no trades", t, func() {
		m := calc.Compute(nil)

		Convey("Then every field is zero and the sample is flagged", func() {
			So(m, ShouldResemble, model.PerformanceMetrics{LowSample: true})
		})
	})

	Convey("Given a single winning trade", t, func() {
		m := calc.Compute([]model.TradeRecord{closed(50, 0)})

		Convey("Then ratios degrade to zero", func() {
			So(m.LowSample, ShouldBeTrue)
			So(m.TotalTrades, ShouldEqual, 1)
			So(m.WinRate, ShouldEqual, 1)
			So(m.SharpeRatio, ShouldEqual, 0)
			So(m.SortinoRatio, ShouldEqual, 0)
			So(m.MaxDrawdownPct, ShouldEqual, 0)
			So(m.TotalReturnPct, ShouldAlmostEqual, 50, 1e-9)
		})
	})

	Convey("Given one win and one loss of equal magnitude", t, func() {
		m := calc.Compute([]model.TradeRecord{closed(10, 0), closed(-10, 1)})

		Convey("Then the win rate is one half and Sharpe is finite", func() {
			So(m.WinRate, ShouldEqual, 0.5)
			So(finite(m.SharpeRatio), ShouldBeTrue)
			So(m.SharpeRatio, ShouldAlmostEqual, 0, 1e-9)
			So(m.SortinoRatio, ShouldAlmostEqual, 0, 1e-9)
			So(m.ConsistencyScore, ShouldAlmostEqual, 0.15, 1e-9)
			So(m.WinningTrades, ShouldEqual, 1)
			So(m.LosingTrades, ShouldEqual, 1)
			So(m.ProfitFactor, ShouldAlmostEqual, 1, 1e-9)
		})
	})

	Convey("Given identical returns", t, func() {
		m := calc.Compute([]model.TradeRecord{closed(5, 0), closed(5, 1), closed(5, 2)})

		Convey("Then zero variance gives Sharpe zero and Sortino the cap", func() {
			So(m.VolatilityPct, ShouldAlmostEqual, 0, 1e-9)
			So(m.SharpeRatio, ShouldEqual, 0)
			So(m.SortinoRatio, ShouldEqual, performance.DefaultRatioCap)
			So(m.ProfitFactor, ShouldEqual, performance.DefaultRatioCap)
			So(m.ConsistencyScore, ShouldAlmostEqual, 1, 1e-9)
		})
	})
}

func TestComputeRatios(t *testing.T) {
	calc := performance.New()

	Convey("Given only winning trades of different size", t, func() {
		m := calc.Compute([]model.TradeRecord{closed(10, 0), closed(20, 1), closed(30, 2)})

		Convey("Then Sharpe is mean over population deviation", func() {
			So(m.SharpeRatio, ShouldAlmostEqual, 20/math.Sqrt(200.0/3), 1e-9)
			So(m.SortinoRatio, ShouldEqual, performance.DefaultRatioCap)
			So(m.AverageWinPct, ShouldAlmostEqual, 20, 1e-9)
		})
	})

	Convey("Given a custom ratio cap", t, func() {
		m := performance.New(performance.WithRatioCap(3)).Compute([]model.TradeRecord{closed(10, 0), closed(10, 1)})
		So(m.SortinoRatio, ShouldEqual, 3)
	})

	Convey("Given losses with spread", t, func() {
		m := calc.Compute([]model.TradeRecord{closed(30, 0), closed(-10, 1), closed(-20, 2)})

		Convey("Then Sortino uses the losing returns only", func() {
			So(m.SortinoRatio, ShouldAlmostEqual, 0, 1e-9)
			So(m.AverageLossPct, ShouldAlmostEqual, -15, 1e-9)
			So(m.ProfitFactor, ShouldAlmostEqual, 1, 1e-9)
		})
	})
}

func TestComputeDrawdown(t *testing.T) {
	calc := performance.New()

	Convey("Given a doubling followed by a halving", t, func() {
		trades := []model.TradeRecord{closed(-50, 1), closed(100, 0)}
		m := calc.Compute(trades)

		Convey("Then trades are replayed by exit time", func() {
			So(m.MaxDrawdownPct, ShouldAlmostEqual, 50, 1e-9)
			So(m.TotalReturnPct, ShouldAlmostEqual, 0, 1e-9)
			So(m.CalmarRatio, ShouldAlmostEqual, 0, 1e-9)
		})

		Convey("Then the input slice is left untouched", func() {
			So(trades[0].ProfitLossPct, ShouldAlmostEqual, -50, 1e-9)
		})
	})

	Convey("Given a total loss", t, func() {
		m := calc.Compute([]model.TradeRecord{closed(20, 0), closed(-100, 1), closed(10, 2)})

		Convey("Then equity floors at zero and drawdown is complete", func() {
			So(m.MaxDrawdownPct, ShouldAlmostEqual, 100, 1e-9)
			So(m.TotalReturnPct, ShouldAlmostEqual, -100, 1e-9)
			So(m.RiskScore, ShouldBeLessThanOrEqualTo, 1)
		})
	})
}

func TestComputeProperties(t *testing.T) {
	calc := performance.New()
	rng := rand.New(rand.NewSource(7))

	Convey("Given many random histories", t, func() {
		for i := 0; i < 200; i++ {
			n := rng.Intn(25)
			trades := make([]model.TradeRecord, n)
			for j := range trades {
				trades[j] = closed(rng.Float64()*400-99, rng.Intn(48))
			}
			m := calc.Compute(trades)

			for _, v := range []float64{m.WinRate, m.RiskScore, m.ConsistencyScore} {
				So(v, ShouldBeBetweenOrEqual, 0, 1)
			}
			for _, v := range []float64{m.SharpeRatio, m.SortinoRatio, m.CalmarRatio, m.ProfitFactor, m.MaxDrawdownPct, m.TotalReturnPct} {
				So(finite(v), ShouldBeTrue)
			}

			shuffled := append([]model.TradeRecord(nil), trades...)
			rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
			So(calc.Compute(shuffled), ShouldResemble, m)
		}
	})
}

func metricsFinite(m model.PerformanceMetrics) bool {
	for _, x := range []float64{
		m.WinRate, m.TotalReturnPct, m.AverageWinPct, m.AverageLossPct, m.ProfitFactor,
		m.SharpeRatio, m.SortinoRatio, m.CalmarRatio, m.MaxDrawdownPct, m.VolatilityPct,
		m.RiskScore, m.ConsistencyScore,
	} {
		if !finite(x) {
			return false
		}
	}
	return true
}

func TestComputeOverflow(t *testing.T) {
	calc := performance.New()

	Convey("Given a fabricated history that doubles on every one of 1100 trades", t, func() {
		trades := make([]model.TradeRecord, 1100)
		for i := range trades {
			trades[i] = closed(100, i)
		}
		m := calc.Compute(trades)

		Convey("Then compounding stops at a finite ceiling", func() {
			So(metricsFinite(m), ShouldBeTrue)
			So(m.TotalReturnPct, ShouldBeGreaterThan, 1e12)
			So(m.WinRate, ShouldEqual, 1)
		})

		Convey("Then the metrics serialize", func() {
			_, err := json.Marshal(m)
			So(err, ShouldBeNil)
		})
	})

	Convey("Given trades whose recorded returns are not finite", t, func() {
		huge := closed(0, 0)
		huge.ProfitLossPct = math.Inf(1)
		crash := closed(0, 1)
		crash.ProfitLossPct = math.Inf(-1)
		bogus := closed(0, 2)
		bogus.ProfitLossPct = math.NaN()
		m := calc.Compute([]model.TradeRecord{huge, crash, bogus, closed(5, 3)})

		Convey("Then every metric is still finite", func() {
			So(metricsFinite(m), ShouldBeTrue)
			_, err := json.Marshal(m)
			So(err, ShouldBeNil)
		})
	})
}
