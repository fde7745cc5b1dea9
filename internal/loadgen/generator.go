package loadgen

import (
	"fmt"
	"math/rand/v2"
	"time"

	service "github.com/okian/traderscore/internal/app"
	"github.com/okian/traderscore/internal/domain/model"
)

// Trader is one generated input together with the archetype behind it.
type Trader struct {
	Archetype Archetype
	Input     service.ValidationInput
}

var (
	pairs = []string{"ETH/USDT", "BTC/USDT", "SOL/USDT", "LINK/USDT", "ARB/USDT"} //nolint:gochecknoglobals // fixed lookup table

	researchNotes = []string{ //nolint:gochecknoglobals // fixed lookup table
		"daily close above the 200 day average with rising volume",
		"funding turned negative while open interest climbs",
		"retest of prior resistance as support on the four hour chart",
		"divergence between price and RSI after a three week range",
		"token unlock already priced in, spot bid absorbing supply",
		"weekly structure intact, adding on pullback to the range low",
	}

	hypeNotes = []string{ //nolint:gochecknoglobals // fixed lookup table
		"guaranteed 100x, this will moon tonight",
		"insider tip, get rich before the pump",
	}
)

// Generator produces synthetic traders. It is not safe for concurrent use.
type Generator struct {
	rng   *rand.Rand
	start time.Time
}

// NewGenerator creates a generator whose output depends only on seed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Generate returns n traders cycling through every archetype and platform.
func (g *Generator) Generate(n int) []Trader {
	archetypes := []Archetype{ArchetypeSteady, ArchetypeGambler, ArchetypeSteady, ArchetypePumper}
	platforms := model.Platforms()

	out := make([]Trader, 0, n)
	for i := 0; i < n; i++ {
		a := archetypes[i%len(archetypes)]
		profile := model.TraderProfile{
			Username:  fmt.Sprintf("%s-%04d-%06x", a, i, g.rng.Uint32()&0xffffff),
			Platform:  platforms[i%len(platforms)],
			Followers: g.rng.IntN(50_000),
		}
		var t Trader
		switch a {
		case ArchetypePumper:
			t = g.pumper(profile)
		case ArchetypeGambler:
			t = g.gambler(profile)
		default:
			t = g.steady(profile)
		}
		out = append(out, t)
	}
	return out
}

// steady trades modestly once a day, loses every third trade, and posts one
// distinct research note per day for the first days.
func (g *Generator) steady(p model.TraderProfile) Trader {
	in := service.ValidationInput{Profile: p}
	for i := 0; i < 12; i++ {
		opened := g.start.Add(time.Duration(i)*24*time.Hour + time.Duration(g.rng.IntN(600))*time.Minute)
		move := 1 + g.rng.Float64()*4
		if i%3 == 2 {
			move = -move / 2
		}
		pair := pairs[g.rng.IntN(len(pairs))]
		in.Trades = append(in.Trades, g.trade(pair, model.SignalBuy, opened, 8*time.Hour, move))
		if i < len(researchNotes) {
			in.Signals = append(in.Signals, model.Signal{
				Pair:       pair,
				SignalType: model.SignalBuy,
				Reasoning:  researchNotes[i],
				Timestamp:  opened.Add(-30 * time.Minute),
			})
		}
	}
	return Trader{Archetype: ArchetypeSteady, Input: in}
}

// gambler takes large, random swings in both directions.
func (g *Generator) gambler(p model.TraderProfile) Trader {
	in := service.ValidationInput{Profile: p}
	for i := 0; i < 10; i++ {
		opened := g.start.Add(time.Duration(i) * 36 * time.Hour)
		side := model.SignalBuy
		if g.rng.IntN(2) == 0 {
			side = model.SignalSell
		}
		move := (g.rng.Float64()*2 - 1) * 30
		in.Trades = append(in.Trades, g.trade(pairs[g.rng.IntN(len(pairs))], side, opened, 4*time.Hour, move))
	}
	return Trader{Archetype: ArchetypeGambler, Input: in}
}

// pumper claims huge wins minutes apart and repeats hype copy.
func (g *Generator) pumper(p model.TraderProfile) Trader {
	in := service.ValidationInput{Profile: p}
	note := hypeNotes[g.rng.IntN(len(hypeNotes))]
	for i := 0; i < 4; i++ {
		opened := g.start.Add(time.Duration(i) * 2 * time.Minute)
		in.Trades = append(in.Trades, g.trade("PEPE/USDT", model.SignalBuy, opened, 20*time.Minute, 80+g.rng.Float64()*40))
		in.Signals = append(in.Signals, model.Signal{
			Pair:       "PEPE/USDT",
			SignalType: model.SignalBuy,
			Reasoning:  note,
			Timestamp:  opened,
		})
	}
	return Trader{Archetype: ArchetypePumper, Input: in}
}

// trade builds a closed trade whose price moved by movePct in the trader's favor.
func (g *Generator) trade(pair string, side model.SignalType, opened time.Time, held time.Duration, movePct float64) model.TradeRecord {
	entry := 10 + g.rng.Float64()*990
	exit := entry * (1 + movePct/100)
	if side == model.SignalSell {
		exit = entry * (1 - movePct/100)
	}
	return model.TradeRecord{
		Pair:           pair,
		SignalType:     side,
		EntryPrice:     entry,
		ExitPrice:      exit,
		EntryTimestamp: opened,
		ExitTimestamp:  opened.Add(held),
	}
}
