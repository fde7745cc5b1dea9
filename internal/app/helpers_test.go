package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/traderscore/internal/adapters/repository"
	service "github.com/okian/traderscore/internal/app"
	"github.com/okian/traderscore/internal/domain/model"
)

var base = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

// fakeVerifier matches every trade with a fixed confidence.
type fakeVerifier struct {
	confidence float64
	calls      atomic.Int32
}

func (f *fakeVerifier) Verify(_ context.Context, _ model.TradeRecord, wallet string) model.VerificationOutcome {
	f.calls.Add(1)
	if wallet == "" {
		return model.VerificationOutcome{Source: "no_wallet"}
	}
	return model.VerificationOutcome{Matched: true, Confidence: f.confidence, Source: "blockchain_verified:ethereum"}
}

// blockingVerifier holds every call until its context ends.
type blockingVerifier struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingVerifier) Verify(ctx context.Context, _ model.TradeRecord, _ string) model.VerificationOutcome {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return model.VerificationOutcome{Source: "verification_error"}
}

// failingStore rejects every write.
type failingStore struct {
	*repository.TreapStore
}

func (failingStore) Upsert(context.Context, model.TraderRecord) error {
	return errors.New("connection reset by peer")
}

func newService(opts ...service.Option) *service.Service {
	defaults := []service.Option{
		service.WithVerifier(&fakeVerifier{confidence: 0.8}),
		service.WithStore(repository.NewTreapStore()),
		service.WithTraderWorkers(4),
		service.WithVerifyWorkers(4, 64),
		service.WithClock(func() time.Time { return base.Add(48 * time.Hour) }),
	}
	svc := service.New(append(defaults, opts...)...)
	if err := svc.Start(context.Background()); err != nil {
		panic(err)
	}
	return svc
}

func trade(pair string, entry, exit float64, openedAt time.Time, held time.Duration) model.TradeRecord {
	return model.TradeRecord{
		Pair:           pair,
		SignalType:     model.SignalBuy,
		EntryPrice:     entry,
		ExitPrice:      exit,
		EntryTimestamp: openedAt,
		ExitTimestamp:  openedAt.Add(held),
	}
}

// steadyTrader has modest, mixed results spread over days.
func steadyTrader(username string, platform model.Platform, n int) service.ValidationInput {
	pairs := []string{"ETH/USDT", "BTC/USDT"}
	trades := make([]model.TradeRecord, 0, n)
	for i := 0; i < n; i++ {
		exit := 104.0
		if i%3 == 2 {
			exit = 98
		}
		trades = append(trades, trade(pairs[i%len(pairs)], 100, exit, base.Add(time.Duration(i)*24*time.Hour), 6*time.Hour))
	}
	return service.ValidationInput{
		Profile: model.TraderProfile{Username: username, Platform: platform, Followers: 500},
		Trades:  trades,
		Wallet:  "0x00000000000000000000000000000000000000aa",
	}
}
