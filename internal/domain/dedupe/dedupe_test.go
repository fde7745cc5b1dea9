package dedupe_test

import (
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	dedupe "github.com/okian/traderscore/internal/domain/dedupe"
	"github.com/okian/traderscore/internal/domain/model"
)

func key(name string, p model.Platform) model.TraderKey {
	return model.TraderKey{Username: name, Platform: p}
}

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(4)
		So(d.Size(), ShouldEqual, 0)

		Convey("When claiming a trader", func() {
			seen := d.SeenAndRecord(key("alice", model.PlatformTwitter))

			Convey("Then the first claim succeeds and the second is refused", func() {
				So(seen, ShouldBeFalse)
				So(d.SeenAndRecord(key("alice", model.PlatformTwitter)), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("Then the same username on another platform is a different trader", func() {
				So(d.SeenAndRecord(key("alice", model.PlatformReddit)), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 2)
			})
		})

		Convey("When releasing a claim", func() {
			d.SeenAndRecord(key("alice", model.PlatformTwitter))
			d.Unrecord(key("alice", model.PlatformTwitter))

			Convey("Then the trader can be claimed again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(key("alice", model.PlatformTwitter)), ShouldBeFalse)
			})
		})

		Convey("When releasing an unknown key", func() {
			d.SeenAndRecord(key("alice", model.PlatformTwitter))
			d.Unrecord(key("bob", model.PlatformTwitter))
			So(d.Size(), ShouldEqual, 1)
		})
	})

	Convey("Given a negative size hint", t, func() {
		d := dedupe.NewInMemoryDeduper(-1)
		So(d.SeenAndRecord(key("alice", model.PlatformDiscord)), ShouldBeFalse)
	})
}

func TestInMemoryDeduper_Concurrent(t *testing.T) {
	Convey("Given many goroutines racing for the same traders", t, func() {
		d := dedupe.NewInMemoryDeduper(0)
		const traders, racers = 50, 8

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins = map[model.TraderKey]int{}
		)
		for r := 0; r < racers; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < traders; i++ {
					k := key(fmt.Sprintf("trader-%d", i), model.PlatformTwitter)
					if !d.SeenAndRecord(k) {
						mu.Lock()
						wins[k]++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then every trader is claimed exactly once", func() {
			So(d.Size(), ShouldEqual, traders)
			So(wins, ShouldHaveLength, traders)
			for _, n := range wins {
				So(n, ShouldEqual, 1)
			}
		})

		Convey("Then concurrent releases empty the set", func() {
			for i := 0; i < traders; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					d.Unrecord(key(fmt.Sprintf("trader-%d", i), model.PlatformTwitter))
				}(i)
			}
			wg.Wait()
			So(d.Size(), ShouldEqual, 0)
		})
	})
}
