// Package repository persists per-trader metrics and trades and serves them
// back in ranking order.
package repository

import (
	"context"

	"github.com/okian/traderscore/internal/domain/model"
)

// Store provides read/write access to trader metrics rows.
type Store interface {
	// Upsert replaces the trader's row and its trade set in one step.
	// Readers see either the previous row or the new one, never a mix.
	Upsert(ctx context.Context, rec model.TraderRecord) error

	// Get returns the row and trades for a trader.
	// Returns ErrNotFound if the trader is unknown.
	Get(ctx context.Context, key model.TraderKey) (model.TraderRecord, error)

	// List returns rows in ranking order, optionally scoped to a platform.
	// A zero limit means no limit. Returned rows carry no trades.
	List(ctx context.Context, platform model.Platform, limit int) ([]model.TraderRecord, error)

	// Trades returns the stored trades of a trader.
	Trades(ctx context.Context, key model.TraderKey) ([]model.TradeRecord, error)

	// Count returns the number of traders stored.
	Count(ctx context.Context) (int, error)

	Close() error
}

func validateKey(key model.TraderKey) error {
	if key.Username == "" || !key.Platform.Valid() {
		return ErrInvalidKey
	}
	return nil
}
