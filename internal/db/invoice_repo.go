package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"leadninja/internal/types"
)

// InvoiceRepo manages invoice records mirrored from the payment processor.
// The external invoice reference is the idempotent-upsert key: a second
// delivery of the same processor event updates the existing row instead of
// creating a duplicate.
type InvoiceRepo struct {
	db DBTX
}

// NewInvoiceRepo creates a new InvoiceRepo backed by the given database
// connection (pool or transaction).
func NewInvoiceRepo(db DBTX) *InvoiceRepo {
	return &InvoiceRepo{db: db}
}

// GetByExternalRef returns the invoice carrying the given processor-side
// invoice reference, or pgx.ErrNoRows wrapped as not-found.
func (r *InvoiceRepo) GetByExternalRef(ctx context.Context, externalRef string) (*types.Invoice, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, account_id, subscription_id, external_ref, status,
		        period_start, period_end, total_cents, paid_at
		 FROM invoices
		 WHERE external_ref = $1`,
		externalRef,
	)

	var inv types.Invoice
	err := row.Scan(
		&inv.ID,
		&inv.AccountID,
		&inv.SubscriptionID,
		&inv.ExternalRef,
		&inv.Status,
		&inv.PeriodStart,
		&inv.PeriodEnd,
		&inv.TotalCents,
		&inv.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeUnknownExternalRef, "no invoice for external reference", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load invoice", err)
	}
	return &inv, nil
}

// Upsert inserts or updates an invoice keyed by its external reference.
// Re-delivery of the same processor event lands on the ON CONFLICT arm and
// leaves exactly one row. The amount is written only on insert; a duplicate
// delivery never changes total_cents.
func (r *InvoiceRepo) Upsert(ctx context.Context, inv *types.Invoice) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO invoices
		   (id, account_id, subscription_id, external_ref, status,
		    period_start, period_end, total_cents, paid_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (external_ref)
		 DO UPDATE SET status = EXCLUDED.status,
		               paid_at = COALESCE(EXCLUDED.paid_at, invoices.paid_at)`,
		inv.ID,
		inv.AccountID,
		inv.SubscriptionID,
		inv.ExternalRef,
		inv.Status,
		inv.PeriodStart,
		inv.PeriodEnd,
		inv.TotalCents,
		inv.PaidAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert invoice", err)
	}
	return nil
}

// MarkPaid stamps an existing invoice paid. Kept separate from Upsert for the
// common re-delivery path where only the status transition matters.
func (r *InvoiceRepo) MarkPaid(ctx context.Context, externalRef string, paidAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE invoices
		 SET status = 'paid',
		     paid_at = $1
		 WHERE external_ref = $2`,
		paidAt,
		externalRef,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark invoice paid", err)
	}
	return tag.RowsAffected() > 0, nil
}
