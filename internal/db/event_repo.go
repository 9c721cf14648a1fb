package db

import (
	"context"
	"time"

	"leadninja/internal/types"
)

// ProcessorEventRepo is the dedup ledger for payment-processor events. The
// processor re-delivers events and does not guarantee ordering, so every
// event id is recorded before its effects are applied; a second delivery of
// the same id conflicts and is skipped.
type ProcessorEventRepo struct {
	db DBTX
}

// NewProcessorEventRepo creates a new ProcessorEventRepo backed by the given
// database connection (pool or transaction).
func NewProcessorEventRepo(db DBTX) *ProcessorEventRepo {
	return &ProcessorEventRepo{db: db}
}

// MarkProcessed records the event id and reports whether this delivery is the
// first. A false return means the event was already applied and must be
// skipped.
//
// SQL: INSERT INTO processor_events (event_id, event_type, received_at)
//
//	VALUES ($1, $2, $3) ON CONFLICT (event_id) DO NOTHING
func (r *ProcessorEventRepo) MarkProcessed(ctx context.Context, eventID, eventType string, receivedAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO processor_events (event_id, event_type, received_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID,
		eventType,
		receivedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record processor event", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PurgeOlderThan deletes up to limit dedup entries received before cutoff and
// returns how many rows it removed. The cutoff must stay comfortably past the
// processor's redelivery window, or a late redelivery would re-apply the
// event.
func (r *ProcessorEventRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM processor_events
		 WHERE event_id IN (
		     SELECT event_id FROM processor_events
		     WHERE received_at < $1
		     ORDER BY received_at
		     LIMIT $2
		 )`,
		cutoff,
		limit,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge processor events", err)
	}
	return tag.RowsAffected(), nil
}
