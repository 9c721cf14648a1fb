package types

import (
	"context"
	"time"
)

// EventDedupStore is the processed-event ledger for payment-processor
// webhooks.
type EventDedupStore interface {
	// MarkProcessed records the event id and reports whether this delivery
	// is the first.
	MarkProcessed(ctx context.Context, eventID, eventType string, receivedAt time.Time) (bool, error)
}

// ReconcileSubscriptionStore is the subscription-ledger access a processor
// event mutation needs.
type ReconcileSubscriptionStore interface {
	GetByExternalRef(ctx context.Context, externalRef string) (*Subscription, error)
	ApplyProcessorUpdate(ctx context.Context, externalRef string, status SubscriptionStatus, periodStart, periodEnd, eventTime time.Time) error
	Cancel(ctx context.Context, externalRef string, canceledAt time.Time) error
	MarkPastDue(ctx context.Context, externalRef string, eventTime time.Time) error
}

// ReconcileInvoiceStore mirrors processor invoices locally.
type ReconcileInvoiceStore interface {
	GetByExternalRef(ctx context.Context, externalRef string) (*Invoice, error)
	Upsert(ctx context.Context, inv *Invoice) error
	MarkPaid(ctx context.Context, externalRef string, paidAt time.Time) (bool, error)
}

// ReconcileStores bundles the stores one processor event may touch, all
// scoped to the same transaction.
type ReconcileStores struct {
	Events        EventDedupStore
	Subscriptions ReconcileSubscriptionStore
	Invoices      ReconcileInvoiceStore
}

// ReconcileTxManager runs fn inside a single database transaction. Every
// write fn issues through the provided stores commits when fn returns nil and
// rolls back when it returns an error. The dedup insert for an event and the
// event's ledger mutations must share one transaction: if they committed
// separately, a transient failure after the dedup insert would leave the
// event marked processed but never applied.
type ReconcileTxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, stores ReconcileStores) error) error
}
