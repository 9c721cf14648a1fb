package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"leadninja/internal/types"
)

// SubscriptionRepo manages the subscription ledger: one row per account,
// holding the current plan, billing-period window, and the units-used counter.
//
// Key invariants:
//   - Provision is idempotent: a conflict on the unique account_id is a no-op.
//   - IncrementUsage is a single atomic update-by-delta statement so that
//     concurrent settlements for the same account sum correctly with no lost
//     updates.
//   - ApplyProcessorUpdate uses optimistic locking via last_event_at to handle
//     out-of-order processor webhooks, and treats canceled as terminal.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a new SubscriptionRepo backed by the given
// database connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

const subscriptionColumns = `id, account_id, plan_id, external_ref, status,
	period_start, period_end, units_used, auto_renew, last_event_at,
	canceled_at, created_at, updated_at`

// GetByAccount returns the subscription ledger row for the given account.
// Returns a billing_no_active_subscription error if no row exists; given
// auto-provisioning this should not occur, but callers must handle it.
func (r *SubscriptionRepo) GetByAccount(ctx context.Context, accountID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE account_id = $1`,
		accountID,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNoActiveSubscription, "no subscription for account", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}
	return sub, nil
}

// GetByExternalRef returns the subscription holding the given processor-side
// subscription reference. Returns a reconcile_unknown_reference error when no
// local row carries the reference; the reconciler logs and skips in that case.
func (r *SubscriptionRepo) GetByExternalRef(ctx context.Context, externalRef string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_ref = $1`,
		externalRef,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeUnknownExternalRef, "no subscription for external reference", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription by external reference", err)
	}
	return sub, nil
}

// Provision inserts the initial free-tier subscription for a newly created
// account. Safe under duplicate invocation: the conflict on the unique
// account_id column is a no-op, not an error.
//
// SQL: INSERT INTO subscriptions (...) VALUES (...)
//
//	ON CONFLICT (account_id) DO NOTHING
func (r *SubscriptionRepo) Provision(ctx context.Context, sub *types.Subscription) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions
		   (id, account_id, plan_id, status, period_start, period_end,
		    units_used, auto_renew, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7, NOW(), NOW())
		 ON CONFLICT (account_id) DO NOTHING`,
		sub.ID,
		sub.AccountID,
		sub.PlanID,
		sub.Status,
		sub.PeriodStart,
		sub.PeriodEnd,
		sub.AutoRenew,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to provision subscription", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.InfoContext(ctx, "subscription already provisioned",
			slog.String("account_id", sub.AccountID),
		)
	}
	return nil
}

// IncrementUsage adds delta to the units-used counter for the given account
// as a single atomic statement. This is the settlement write path: it must
// never be expressed as read-modify-write.
//
// Returns billing_no_active_subscription when the account has no ledger row.
func (r *SubscriptionRepo) IncrementUsage(ctx context.Context, accountID string, delta int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET units_used = units_used + $1,
		     updated_at = NOW()
		 WHERE account_id = $2`,
		delta,
		accountID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to increment usage counter", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNoActiveSubscription, "no subscription for account", nil)
	}
	return nil
}

// ApplyProcessorUpdate applies a subscription-updated processor event: status
// and period bounds are overwritten from the event payload.
//
// Invariants enforced:
//  1. Terminal state: a canceled subscription ignores further updates.
//  2. Optimistic locking: the update is skipped if eventTime is not newer than
//     the stored last_event_at. Old or duplicate events become idempotent
//     no-ops, which is how out-of-order webhook delivery is absorbed.
func (r *SubscriptionRepo) ApplyProcessorUpdate(
	ctx context.Context,
	externalRef string,
	status types.SubscriptionStatus,
	periodStart, periodEnd time.Time,
	eventTime time.Time,
) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = $1,
		     period_start = $2,
		     period_end = $3,
		     last_event_at = $4,
		     updated_at = NOW()
		 WHERE external_ref = $5
		   AND status <> 'canceled'
		   AND (last_event_at IS NULL OR last_event_at < $4)`,
		status,
		periodStart,
		periodEnd,
		eventTime,
		externalRef,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply subscription update", err)
	}

	if tag.RowsAffected() == 0 {
		// Stale event, terminal subscription, or unknown reference.
		// The reconciler resolves the reference before calling, so in
		// practice this is the optimistic-lock no-op path.
		r.logger.InfoContext(ctx, "stale subscription event ignored",
			slog.String("external_ref", externalRef),
			slog.Time("event_time", eventTime),
		)
	}
	return nil
}

// Cancel marks the subscription canceled and records the cancellation time.
// Canceled is terminal; re-delivery is an idempotent no-op.
func (r *SubscriptionRepo) Cancel(ctx context.Context, externalRef string, canceledAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = 'canceled',
		     canceled_at = $1,
		     last_event_at = $1,
		     updated_at = NOW()
		 WHERE external_ref = $2
		   AND status <> 'canceled'`,
		canceledAt,
		externalRef,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to cancel subscription", err)
	}
	return nil
}

// MarkPastDue records a payment failure on the subscription owning the given
// external reference. Canceled subscriptions are left untouched.
func (r *SubscriptionRepo) MarkPastDue(ctx context.Context, externalRef string, eventTime time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = 'past_due',
		     last_event_at = $1,
		     updated_at = NOW()
		 WHERE external_ref = $2
		   AND status <> 'canceled'`,
		eventTime,
		externalRef,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark subscription past due", err)
	}
	return nil
}

// RolloverExpired rolls every expired, non-terminal subscription into a fresh
// billing period and zeroes its usage counter. Guarded purely by the
// period_end predicate: a row already rolled over by a concurrent pass is
// excluded, so re-application is self-excluding and no external lock is
// needed. SKIP LOCKED keeps concurrent sweepers and in-flight settlements
// from serializing against each other.
//
// Returns the number of subscriptions rolled over.
func (r *SubscriptionRepo) RolloverExpired(ctx context.Context, now time.Time, interval time.Duration, limit int) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET units_used = 0,
		     period_start = $1,
		     period_end = $2,
		     updated_at = NOW()
		 WHERE id IN (
		   SELECT id FROM subscriptions
		   WHERE period_end <= $1
		     AND status NOT IN ('canceled', 'unpaid')
		   ORDER BY period_end
		   LIMIT $3
		   FOR UPDATE SKIP LOCKED
		 )`,
		now,
		now.Add(interval),
		limit,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to roll over billing periods", err)
	}
	return tag.RowsAffected(), nil
}

func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var s types.Subscription
	var externalRef *string
	err := row.Scan(
		&s.ID,
		&s.AccountID,
		&s.PlanID,
		&externalRef,
		&s.Status,
		&s.PeriodStart,
		&s.PeriodEnd,
		&s.UnitsUsed,
		&s.AutoRenew,
		&s.LastEventAt,
		&s.CanceledAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if externalRef != nil {
		s.ExternalRef = *externalRef
	}
	return &s, nil
}
