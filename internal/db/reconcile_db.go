package db

import (
	"context"
	"log/slog"

	"leadninja/internal/types"
)

// ReconcileTxManager implements types.ReconcileTxManager over the connection
// pool. Each RunInTx call opens one transaction and hands back repositories
// bound to it, so the processor-event dedup insert and the event's ledger
// mutations commit or roll back together. A transient failure mid-apply rolls
// back the dedup row too, and the queue's redelivery re-applies the event
// from scratch.
type ReconcileTxManager struct {
	pool   TxBeginner
	logger *slog.Logger
}

// NewReconcileTxManager creates a ReconcileTxManager over the given pool.
func NewReconcileTxManager(pool TxBeginner, logger *slog.Logger) *ReconcileTxManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileTxManager{pool: pool, logger: logger}
}

// RunInTx executes fn against transaction-scoped stores, committing when fn
// returns nil and rolling back otherwise.
func (m *ReconcileTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context, stores types.ReconcileStores) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin reconcile transaction", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx) //nolint:errcheck

	stores := types.ReconcileStores{
		Events:        NewProcessorEventRepo(tx),
		Subscriptions: NewSubscriptionRepo(tx, m.logger),
		Invoices:      NewInvoiceRepo(tx),
	}
	if err := fn(ctx, stores); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit reconcile transaction", err)
	}
	return nil
}
