package db

import (
	"context"
	"time"

	"leadninja/internal/types"
)

// UsageEventRepo provides data access for the usage_events table, the
// append-only audit log of unit consumption. Rows are inserted and read but
// never updated or deleted; the subscription counter must always be
// reconstructible as the sum of rows created since the period start.
type UsageEventRepo struct {
	db DBTX
}

// NewUsageEventRepo creates a new UsageEventRepo backed by the given database
// connection (pool or transaction).
func NewUsageEventRepo(db DBTX) *UsageEventRepo {
	return &UsageEventRepo{db: db}
}

// Insert appends a usage event. Called inside the settlement transaction so
// that the event and the counter increment commit or roll back together.
func (r *UsageEventRepo) Insert(ctx context.Context, ev *types.UsageEvent) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO usage_events
		   (id, account_id, campaign_ref, source_action, unit_count,
		    related_job_id, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`,
		ev.ID,
		ev.AccountID,
		ev.CampaignRef,
		ev.SourceAction,
		ev.UnitCount,
		ev.RelatedJobID,
		ev.Note,
		ev.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert usage event", err)
	}
	return nil
}

// SumSince returns the total units recorded for the account since the given
// time. This is the authoritative recomputation of the subscription counter
// used by the drift audit.
//
// SQL: SELECT COALESCE(SUM(unit_count), 0) FROM usage_events
//
//	WHERE account_id = $1 AND created_at >= $2
func (r *UsageEventRepo) SumSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var total int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(unit_count), 0)
		 FROM usage_events
		 WHERE account_id = $1
		   AND created_at >= $2`,
		accountID,
		since,
	).Scan(&total)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to sum usage events", err)
	}
	return total, nil
}

// ListByAccount returns the most recent usage events for an account, newest
// first. Serves the billing dashboard's activity view.
func (r *UsageEventRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]types.UsageEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, account_id, campaign_ref, source_action, unit_count,
		        COALESCE(related_job_id, ''), note, created_at
		 FROM usage_events
		 WHERE account_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		accountID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query usage events", err)
	}
	defer rows.Close()

	var events []types.UsageEvent
	for rows.Next() {
		var ev types.UsageEvent
		if err := rows.Scan(
			&ev.ID,
			&ev.AccountID,
			&ev.CampaignRef,
			&ev.SourceAction,
			&ev.UnitCount,
			&ev.RelatedJobID,
			&ev.Note,
			&ev.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan usage event row", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating usage event rows", err)
	}

	return events, nil
}

// CounterDrift is one subscription whose stored counter disagrees with the
// sum of its usage events for the current period.
type CounterDrift struct {
	SubscriptionID string
	AccountID      string
	CounterValue   int
	EventSum       int
}

// FindCounterDrift compares units_used against the usage-event sum since
// period_start for up to limit non-terminal subscriptions and returns the
// rows that disagree. Read-only: repair is an operator decision, never
// automatic.
func (r *UsageEventRepo) FindCounterDrift(ctx context.Context, limit int) ([]CounterDrift, error) {
	rows, err := r.db.Query(ctx,
		`SELECT s.id, s.account_id, s.units_used, COALESCE(SUM(e.unit_count), 0) AS event_sum
		 FROM subscriptions s
		 LEFT JOIN usage_events e
		   ON e.account_id = s.account_id
		  AND e.created_at >= s.period_start
		 WHERE s.status NOT IN ('canceled', 'unpaid')
		 GROUP BY s.id, s.account_id, s.units_used
		 HAVING s.units_used <> COALESCE(SUM(e.unit_count), 0)
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query counter drift", err)
	}
	defer rows.Close()

	var drifts []CounterDrift
	for rows.Next() {
		var d CounterDrift
		if err := rows.Scan(&d.SubscriptionID, &d.AccountID, &d.CounterValue, &d.EventSum); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan counter drift row", err)
		}
		drifts = append(drifts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating counter drift rows", err)
	}

	return drifts, nil
}
