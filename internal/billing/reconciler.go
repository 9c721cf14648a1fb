package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"leadninja/internal/external"
	"leadninja/internal/types"
)

// maxConcurrentReferences bounds how many subscription references a batch
// reconciles in parallel. Events for the SAME reference are always applied
// sequentially in processor order; only distinct references fan out.
const maxConcurrentReferences = 8

// Reconciler applies payment-processor webhook events to the local
// subscription ledger. It tolerates everything the processor's delivery
// model throws at it:
//
//   - Re-delivery: every event id passes through the dedup ledger first; a
//     second delivery is a logged no-op.
//   - Transient storage failures: each event runs as ONE transaction holding
//     both the dedup insert and the ledger mutation, so a failed apply rolls
//     back its dedup row and redelivery re-applies the event from scratch.
//   - Out-of-order delivery: subscription updates carry the event timestamp
//     and the store's optimistic lock discards anything older than what has
//     already been applied; a paid invoice is never regressed to failed.
//   - Unknown references: logged and skipped, never an error, so one orphaned
//     event cannot wedge the queue.
type Reconciler struct {
	txm    types.ReconcileTxManager
	logger *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(txm types.ReconcileTxManager, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		txm:    txm,
		logger: logger,
	}
}

// ProcessEvent applies a single processor event inside one transaction.
// Returning nil acknowledges the message; only infrastructure failures
// (database unavailable) return an error so the queue redelivers.
func (r *Reconciler) ProcessEvent(ctx context.Context, msg *types.ProcessorEventMessage) error {
	return r.txm.RunInTx(ctx, func(ctx context.Context, stores types.ReconcileStores) error {
		first, err := stores.Events.MarkProcessed(ctx, msg.EventID, msg.EventType, msg.ReceivedAt)
		if err != nil {
			return err
		}
		if !first {
			r.logger.InfoContext(ctx, "duplicate processor event skipped",
				slog.String("event_id", msg.EventID),
				slog.String("event_type", msg.EventType),
			)
			return nil
		}

		ev, err := parseProcessorEvent(msg)
		if err != nil {
			// Malformed payloads cannot succeed on retry. Log and
			// acknowledge; the committed dedup row absorbs any replay of
			// the same poison event.
			r.logger.ErrorContext(ctx, "unparseable processor event dropped",
				slog.String("event_id", msg.EventID),
				slog.String("event_type", msg.EventType),
				slog.String("error", err.Error()),
			)
			return nil
		}

		return r.applyEvent(ctx, stores, ev)
	})
}

// ProcessBatch applies a batch of processor events. Events are grouped by
// subscription reference and each group is applied sequentially in processor
// timestamp order; distinct references reconcile concurrently. The first
// infrastructure error cancels the batch.
func (r *Reconciler) ProcessBatch(ctx context.Context, msgs []types.ProcessorEventMessage) error {
	groups := make(map[string][]types.ProcessorEventMessage)
	for _, msg := range msgs {
		key := referenceKey(&msg)
		groups[key] = append(groups[key], msg)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReferences)

	for _, group := range groups {
		group := group
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].ReceivedAt.Before(group[j].ReceivedAt)
		})
		g.Go(func() error {
			for i := range group {
				if err := r.ProcessEvent(ctx, &group[i]); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}

func (r *Reconciler) applyEvent(ctx context.Context, stores types.ReconcileStores, ev *processorEvent) error {
	switch ev.Type {
	case external.EventSubscriptionUpdated:
		return r.applySubscriptionUpdated(ctx, stores, ev)
	case external.EventSubscriptionDeleted:
		return r.applySubscriptionDeleted(ctx, stores, ev)
	case external.EventInvoicePaid:
		return r.applyInvoicePaid(ctx, stores, ev)
	case external.EventPaymentFailed:
		return r.applyPaymentFailed(ctx, stores, ev)
	default:
		r.logger.InfoContext(ctx, "ignoring unhandled processor event type",
			slog.String("event_id", ev.ID),
			slog.String("event_type", ev.Type),
		)
		return nil
	}
}

// applySubscriptionUpdated overwrites status and period bounds from the
// processor's subscription object. The store's optimistic lock makes stale
// events no-ops.
func (r *Reconciler) applySubscriptionUpdated(ctx context.Context, stores types.ReconcileStores, ev *processorEvent) error {
	sub, err := ev.subscriptionObject()
	if err != nil {
		r.logger.ErrorContext(ctx, "malformed subscription payload dropped",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	local, err := r.resolveReference(ctx, stores, ev, sub.ID)
	if err != nil {
		return err
	}
	if local == nil {
		return nil
	}

	return stores.Subscriptions.ApplyProcessorUpdate(ctx,
		sub.ID,
		mapProcessorStatus(sub.Status),
		time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		ev.timestamp(),
	)
}

// applySubscriptionDeleted cancels the local subscription. Canceled is
// terminal, so re-delivery and late updates are absorbed by the store.
func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, stores types.ReconcileStores, ev *processorEvent) error {
	sub, err := ev.subscriptionObject()
	if err != nil {
		r.logger.ErrorContext(ctx, "malformed subscription payload dropped",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	local, err := r.resolveReference(ctx, stores, ev, sub.ID)
	if err != nil {
		return err
	}
	if local == nil {
		return nil
	}

	return stores.Subscriptions.Cancel(ctx, sub.ID, ev.timestamp())
}

// applyInvoicePaid mirrors the paid invoice locally, keyed by the processor's
// invoice id so re-delivery updates rather than duplicates. When the invoice
// is already mirrored (the usual dunning sequence: payment_failed first, paid
// after the retry) only the status transition is written.
func (r *Reconciler) applyInvoicePaid(ctx context.Context, stores types.ReconcileStores, ev *processorEvent) error {
	inv, err := ev.invoiceObject()
	if err != nil {
		r.logger.ErrorContext(ctx, "malformed invoice payload dropped",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	paidAt := ev.timestamp()
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		paidAt = time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
	}

	updated, err := stores.Invoices.MarkPaid(ctx, inv.ID, paidAt)
	if err != nil {
		return err
	}
	if updated {
		return nil
	}

	local, err := r.resolveReference(ctx, stores, ev, inv.Subscription)
	if err != nil {
		return err
	}
	if local == nil {
		return nil
	}

	return stores.Invoices.Upsert(ctx, &types.Invoice{
		ID:             uuid.New().String(),
		AccountID:      local.AccountID,
		SubscriptionID: local.ID,
		ExternalRef:    inv.ID,
		Status:         types.InvoicePaid,
		PeriodStart:    time.Unix(inv.PeriodStart, 0).UTC(),
		PeriodEnd:      time.Unix(inv.PeriodEnd, 0).UTC(),
		TotalCents:     inv.AmountPaid,
		PaidAt:         &paidAt,
	})
}

// applyPaymentFailed records the dunning state and mirrors the failed
// invoice. A locally paid invoice is left alone: an out-of-order
// payment_failed arriving after the paid event must not regress it.
func (r *Reconciler) applyPaymentFailed(ctx context.Context, stores types.ReconcileStores, ev *processorEvent) error {
	inv, err := ev.invoiceObject()
	if err != nil {
		r.logger.ErrorContext(ctx, "malformed invoice payload dropped",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	existing, err := stores.Invoices.GetByExternalRef(ctx, inv.ID)
	if err != nil && !isUnknownReference(err) {
		return err
	}
	if existing != nil && existing.Status == types.InvoicePaid {
		r.logger.InfoContext(ctx, "stale payment failure ignored, invoice already paid",
			slog.String("event_id", ev.ID),
			slog.String("invoice_ref", inv.ID),
		)
		return nil
	}

	local, err := r.resolveReference(ctx, stores, ev, inv.Subscription)
	if err != nil {
		return err
	}
	if local == nil {
		return nil
	}

	if err := stores.Subscriptions.MarkPastDue(ctx, inv.Subscription, ev.timestamp()); err != nil {
		return err
	}

	r.logger.WarnContext(ctx, "payment failed for subscription",
		slog.String("event_id", ev.ID),
		slog.String("account_id", local.AccountID),
		slog.String("external_ref", inv.Subscription),
	)

	return stores.Invoices.Upsert(ctx, &types.Invoice{
		ID:             uuid.New().String(),
		AccountID:      local.AccountID,
		SubscriptionID: local.ID,
		ExternalRef:    inv.ID,
		Status:         types.InvoiceFailed,
		PeriodStart:    time.Unix(inv.PeriodStart, 0).UTC(),
		PeriodEnd:      time.Unix(inv.PeriodEnd, 0).UTC(),
		TotalCents:     inv.AmountDue,
	})
}

// resolveReference loads the local subscription owning the processor-side
// reference. An unknown reference is logged and reported as (nil, nil) so the
// event is acknowledged with its dedup row committed. Any other failure is
// infrastructure and propagates so the transaction rolls back and the queue
// redelivers.
func (r *Reconciler) resolveReference(ctx context.Context, stores types.ReconcileStores, ev *processorEvent, externalRef string) (*types.Subscription, error) {
	if externalRef == "" {
		r.logger.WarnContext(ctx, "processor event carries no subscription reference",
			slog.String("event_id", ev.ID),
			slog.String("event_type", ev.Type),
		)
		return nil, nil
	}

	sub, err := stores.Subscriptions.GetByExternalRef(ctx, externalRef)
	if err != nil {
		if isUnknownReference(err) {
			r.logger.WarnContext(ctx, "processor event references unknown subscription",
				slog.String("event_id", ev.ID),
				slog.String("event_type", ev.Type),
				slog.String("external_ref", externalRef),
			)
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// isUnknownReference distinguishes "no local row for this reference" from
// infrastructure failures.
func isUnknownReference(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeUnknownExternalRef
}

// ---------------------------------------------------------------------------
// Processor event parsing
// ---------------------------------------------------------------------------

// processorEvent is a minimal view of a processor webhook event, decoded only
// as far as routing and application require. The full stripe.Event type is
// deliberately not imported here; the queue message carries raw JSON and the
// reconciler owns its interpretation.
type processorEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

type processorEventData struct {
	Object json.RawMessage `json:"object"`
}

// processorSubscriptionObj is the subset of the processor's subscription
// object the reconciler reads.
type processorSubscriptionObj struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
}

// processorInvoiceObj is the subset of the processor's invoice object the
// reconciler reads.
type processorInvoiceObj struct {
	ID                string                      `json:"id"`
	Subscription      string                      `json:"subscription"`
	AmountDue         int64                       `json:"amount_due"`
	AmountPaid        int64                       `json:"amount_paid"`
	PeriodStart       int64                       `json:"period_start"`
	PeriodEnd         int64                       `json:"period_end"`
	StatusTransitions *processorStatusTransitions `json:"status_transitions"`
}

type processorStatusTransitions struct {
	PaidAt int64 `json:"paid_at"`
}

func parseProcessorEvent(msg *types.ProcessorEventMessage) (*processorEvent, error) {
	var ev processorEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	if ev.ID == "" {
		ev.ID = msg.EventID
	}
	if ev.Type == "" {
		ev.Type = msg.EventType
	}
	return &ev, nil
}

// timestamp returns the processor-side creation time of the event, which is
// what ordering decisions are made against. Delivery time is useless for
// ordering because retries arrive arbitrarily late.
func (e *processorEvent) timestamp() time.Time {
	if e.Created > 0 {
		return time.Unix(e.Created, 0).UTC()
	}
	return time.Now().UTC()
}

func (e *processorEvent) subscriptionObject() (*processorSubscriptionObj, error) {
	var data processorEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("decode event data: %w", err)
	}
	var sub processorSubscriptionObj
	if err := json.Unmarshal(data.Object, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription object: %w", err)
	}
	return &sub, nil
}

func (e *processorEvent) invoiceObject() (*processorInvoiceObj, error) {
	var data processorEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("decode event data: %w", err)
	}
	var inv processorInvoiceObj
	if err := json.Unmarshal(data.Object, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice object: %w", err)
	}
	return &inv, nil
}

// referenceKey groups a queue message by the subscription reference its
// payload carries, falling back to the event id so unparseable or
// reference-free events never serialize behind unrelated work.
func referenceKey(msg *types.ProcessorEventMessage) string {
	ev, err := parseProcessorEvent(msg)
	if err != nil {
		return msg.EventID
	}

	switch ev.Type {
	case external.EventSubscriptionUpdated, external.EventSubscriptionDeleted:
		if sub, err := ev.subscriptionObject(); err == nil && sub.ID != "" {
			return sub.ID
		}
	case external.EventInvoicePaid, external.EventPaymentFailed:
		if inv, err := ev.invoiceObject(); err == nil && inv.Subscription != "" {
			return inv.Subscription
		}
	}
	return msg.EventID
}

// mapProcessorStatus converts a processor subscription status string to the
// local status enum. Unknown statuses map to past_due so a new processor
// state degrades access instead of silently granting it.
func mapProcessorStatus(status string) types.SubscriptionStatus {
	switch status {
	case "active":
		return types.SubStatusActive
	case "trialing":
		return types.SubStatusTrial
	case "past_due":
		return types.SubStatusPastDue
	case "canceled":
		return types.SubStatusCanceled
	case "unpaid":
		return types.SubStatusUnpaid
	default:
		return types.SubStatusPastDue
	}
}
