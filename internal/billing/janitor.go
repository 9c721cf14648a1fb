package billing

import (
	"context"
	"log/slog"
	"time"
)

// PurgeStore is the dedup-ledger write used by the retention janitor.
type PurgeStore interface {
	// PurgeOlderThan deletes up to limit dedup entries received before
	// cutoff and returns how many rows it removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// Janitor enforces retention on the processor-event dedup ledger. The ledger
// only has to remember event ids for as long as the processor might redeliver
// them; entries past that window are dead weight in the hot dedup index.
type Janitor struct {
	store      PurgeStore
	metrics    MetricSink
	retention  time.Duration
	batchLimit int
	logger     *slog.Logger
	now        func() time.Time
}

// NewJanitor creates a Janitor removing dedup entries older than retention,
// at most batchLimit rows per store call.
func NewJanitor(store PurgeStore, metrics MetricSink, retention time.Duration, batchLimit int, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:      store,
		metrics:    metrics,
		retention:  retention,
		batchLimit: batchLimit,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Purge removes expired dedup entries batch by batch until a batch comes back
// short. The cutoff is fixed once at the start of the pass.
//
// Returns the total number of entries removed.
func (j *Janitor) Purge(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention)
	var total int64

	for {
		purged, err := j.store.PurgeOlderThan(ctx, cutoff, j.batchLimit)
		if err != nil {
			return total, err
		}
		total += purged
		if purged < int64(j.batchLimit) {
			break
		}
	}

	if total > 0 {
		j.logger.InfoContext(ctx, "processor event ledger purged",
			slog.Int64("purged", total),
			slog.Time("cutoff", cutoff),
		)
	}
	if j.metrics != nil {
		j.metrics.RecordLedgerPurge(ctx, total)
	}
	return total, nil
}
