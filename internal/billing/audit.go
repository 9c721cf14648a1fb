package billing

import (
	"context"
	"log/slog"

	"leadninja/internal/db"
)

// DriftStore finds subscriptions whose usage counter disagrees with the
// usage-event sum for the current period.
type DriftStore interface {
	FindCounterDrift(ctx context.Context, limit int) ([]db.CounterDrift, error)
}

// DriftAuditor cross-checks the denormalized units-used counter against the
// append-only usage log. The counter is only ever mutated together with a
// usage-event insert in one transaction, so any disagreement means a bug or
// manual intervention; the auditor surfaces it, it never repairs it.
type DriftAuditor struct {
	store   DriftStore
	metrics MetricSink
	limit   int
	logger  *slog.Logger
}

// NewDriftAuditor creates a DriftAuditor reporting at most limit drifted
// subscriptions per run.
func NewDriftAuditor(store DriftStore, metrics MetricSink, limit int, logger *slog.Logger) *DriftAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DriftAuditor{
		store:   store,
		metrics: metrics,
		limit:   limit,
		logger:  logger,
	}
}

// Audit reports every subscription whose counter has drifted from its event
// sum. Returns the number of drifted subscriptions found.
func (a *DriftAuditor) Audit(ctx context.Context) (int, error) {
	drifts, err := a.store.FindCounterDrift(ctx, a.limit)
	if err != nil {
		return 0, err
	}

	for _, d := range drifts {
		a.logger.ErrorContext(ctx, "usage counter drift detected",
			slog.String("subscription_id", d.SubscriptionID),
			slog.String("account_id", d.AccountID),
			slog.Int("counter_value", d.CounterValue),
			slog.Int("event_sum", d.EventSum),
			slog.Int("delta", d.CounterValue-d.EventSum),
		)
	}

	if a.metrics != nil {
		a.metrics.RecordCounterDrift(ctx, len(drifts))
	}
	return len(drifts), nil
}
