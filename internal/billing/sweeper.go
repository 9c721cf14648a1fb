package billing

import (
	"context"
	"log/slog"
	"time"

	"leadninja/internal/types"
)

// RolloverStore is the ledger write used by the period sweeper.
type RolloverStore interface {
	// RolloverExpired resets up to limit expired subscriptions into a fresh
	// period and returns how many rows it touched.
	RolloverExpired(ctx context.Context, now time.Time, interval time.Duration, limit int) (int64, error)
}

// MetricSink receives the operational metrics the background jobs emit.
// Implementations must be fire-and-forget: a metric failure never fails the
// job that emitted it.
type MetricSink interface {
	RecordRollover(ctx context.Context, count int64)
	RecordCounterDrift(ctx context.Context, count int)
	RecordLedgerPurge(ctx context.Context, count int64)
}

// Sweeper advances expired billing periods. It runs on a schedule, works in
// bounded batches, and is safe to run concurrently with itself and with
// in-flight settlements: the store's period_end predicate makes a second
// application of the same pass a no-op, and row locking is SKIP LOCKED.
type Sweeper struct {
	store      RolloverStore
	metrics    MetricSink
	batchLimit int
	logger     *slog.Logger
	now        func() time.Time
}

// NewSweeper creates a Sweeper rolling over at most batchLimit subscriptions
// per store call.
func NewSweeper(store RolloverStore, metrics MetricSink, batchLimit int, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:      store,
		metrics:    metrics,
		batchLimit: batchLimit,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sweep rolls over every subscription whose period has ended, batch by batch,
// until a batch comes back short. The reference time is fixed once at the
// start so every batch of one pass shares the same period boundary.
//
// Returns the total number of subscriptions rolled over.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64

	for {
		rolled, err := s.store.RolloverExpired(ctx, now, types.BillingInterval, s.batchLimit)
		if err != nil {
			return total, err
		}
		total += rolled
		if rolled < int64(s.batchLimit) {
			break
		}
	}

	s.logger.InfoContext(ctx, "billing period sweep completed",
		slog.Int64("rolled_over", total),
		slog.Time("reference_time", now),
	)
	if s.metrics != nil {
		s.metrics.RecordRollover(ctx, total)
	}
	return total, nil
}
