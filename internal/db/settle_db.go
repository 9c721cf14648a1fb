package db

import (
	"context"
	"log/slog"

	"leadninja/internal/types"
)

// Settler performs the settlement write: one transaction that appends the
// usage event and increments the subscription counter. The two writes commit
// or roll back together; the ledger is never left half-updated.
type Settler struct {
	pool   TxBeginner
	logger *slog.Logger
}

// NewSettler creates a Settler over the given connection pool.
func NewSettler(pool TxBeginner, logger *slog.Logger) *Settler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Settler{pool: pool, logger: logger}
}

// Settle atomically records the usage event and adds its unit count to the
// account's subscription counter. The increment is an update-by-delta
// statement executed inside the same transaction as the insert, so concurrent
// settlements for one account serialize on the row and sum correctly.
func (s *Settler) Settle(ctx context.Context, ev *types.UsageEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin settlement transaction", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := NewUsageEventRepo(tx).Insert(ctx, ev); err != nil {
		return err
	}
	if err := NewSubscriptionRepo(tx, s.logger).IncrementUsage(ctx, ev.AccountID, ev.UnitCount); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit settlement transaction", err)
	}
	return nil
}
