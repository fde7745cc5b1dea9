package loadgen_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/traderscore/internal/app"
	"github.com/okian/traderscore/internal/adapters/http/api"
	"github.com/okian/traderscore/internal/domain/model"
	"github.com/okian/traderscore/internal/loadgen"
)

func TestGenerator(t *testing.T) {
	Convey("Given two generators with the same seed", t, func() {
		a := loadgen.NewGenerator(7).Generate(12)
		b := loadgen.NewGenerator(7).Generate(12)

		Convey("They produce identical traders", func() {
			So(a, ShouldResemble, b)
		})

		Convey("Every archetype and platform appears", func() {
			archetypes := map[loadgen.Archetype]int{}
			platforms := map[model.Platform]int{}
			for _, tr := range a {
				archetypes[tr.Archetype]++
				platforms[tr.Input.Profile.Platform]++
			}
			So(archetypes, ShouldContainKey, loadgen.ArchetypeSteady)
			So(archetypes, ShouldContainKey, loadgen.ArchetypeGambler)
			So(archetypes, ShouldContainKey, loadgen.ArchetypePumper)
			So(len(platforms), ShouldEqual, len(model.Platforms()))
		})

		Convey("Every generated input is valid and unique", func() {
			seen := map[model.TraderKey]bool{}
			for _, tr := range a {
				So(tr.Input.Profile.Validate(), ShouldBeNil)
				So(seen[tr.Input.Profile.Key()], ShouldBeFalse)
				seen[tr.Input.Profile.Key()] = true
				for _, trade := range tr.Input.Trades {
					So(trade.Validate(), ShouldBeNil)
				}
			}
		})
	})

	Convey("A different seed changes the traders", t, func() {
		So(loadgen.NewGenerator(1).Generate(4), ShouldNotResemble, loadgen.NewGenerator(2).Generate(4))
	})
}

func TestRun(t *testing.T) {
	Convey("Given a server backed by a real validation service", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithTraderWorkers(4), service.WithMaxRankingsLimit(1000))
		So(svc.Start(ctx), ShouldBeNil)
		Reset(svc.Stop)

		srv := httptest.NewServer(api.NewServer(svc, svc).Routes())
		Reset(srv.Close)

		cfg := loadgen.Config{
			BaseURL:   srv.URL,
			Traders:   24,
			BatchSize: 5,
			Workers:   3,
			Timeout:   5 * time.Second,
			Seed:      42,
		}

		Convey("A run validates every trader and passes its checks", func() {
			stats, err := loadgen.Run(ctx, cfg)
			So(err, ShouldBeNil)
			So(stats.TradersGenerated, ShouldEqual, 24)
			So(stats.TradersValidated, ShouldEqual, 24)
			So(stats.BatchesSubmitted, ShouldEqual, 5)
			So(stats.BatchesFailed, ShouldEqual, 0)
			So(stats.TradersChecked, ShouldEqual, 24)
			So(stats.RankingsFetched, ShouldEqual, 1+len(model.Platforms()))
			So(svc.GetStats()["tracked_traders"], ShouldEqual, 24)
		})

		Convey("Batches larger than the server accepts fail the run", func() {
			small := httptest.NewServer(api.NewServer(svc, svc, api.WithMaxBatchSize(2)).Routes())
			Reset(small.Close)
			cfg.BaseURL = small.URL

			_, err := loadgen.Run(ctx, cfg)
			So(errors.Is(err, loadgen.ErrUnexpectedStatus), ShouldBeTrue)
		})
	})

	Convey("An unhealthy server stops the run before submitting", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		stats, err := loadgen.Run(context.Background(), loadgen.Config{
			BaseURL: srv.URL, Traders: 4, BatchSize: 2, Workers: 1, Timeout: time.Second,
		})
		So(errors.Is(err, loadgen.ErrUnexpectedStatus), ShouldBeTrue)
		So(stats.BatchesSubmitted, ShouldEqual, 0)
	})

	Convey("Invalid configurations are rejected", t, func() {
		base := loadgen.Config{BaseURL: "http://localhost", Traders: 1, BatchSize: 1, Workers: 1, Timeout: time.Second}
		for _, mutate := range []func(*loadgen.Config){
			func(c *loadgen.Config) { c.BaseURL = "" },
			func(c *loadgen.Config) { c.Traders = 0 },
			func(c *loadgen.Config) { c.BatchSize = -1 },
			func(c *loadgen.Config) { c.Workers = 0 },
			func(c *loadgen.Config) { c.Timeout = 0 },
		} {
			cfg := base
			mutate(&cfg)
			_, err := loadgen.Run(context.Background(), cfg)
			So(errors.Is(err, loadgen.ErrInvalidConfig), ShouldBeTrue)
		}
	})
}
