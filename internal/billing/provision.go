package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"leadninja/internal/types"
)

// ProvisionStore is the ledger write used when creating the initial
// subscription row.
type ProvisionStore interface {
	Provision(ctx context.Context, sub *types.Subscription) error
}

// Provisioner creates the free-tier subscription for newly registered
// accounts. Every account must hold exactly one subscription row from the
// moment it exists, so read paths never have to handle an absent ledger.
type Provisioner struct {
	store  ProvisionStore
	plans  PlanStore
	logger *slog.Logger
	now    func() time.Time
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(store ProvisionStore, plans PlanStore, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		store:  store,
		plans:  plans,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSubscription creates the account's initial active free-tier
// subscription with a full billing period starting now. Idempotent: if the
// account already holds a subscription the insert is a no-op, so retried
// account-creation flows are safe.
func (p *Provisioner) EnsureSubscription(ctx context.Context, accountID string) error {
	planID := fallbackFreePlan.ID
	plan, err := p.plans.GetByTier(ctx, types.PlanFree)
	if err != nil {
		p.logger.WarnContext(ctx, "free plan lookup failed, provisioning with fallback plan id",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
	} else {
		planID = plan.ID
	}

	now := p.now()
	sub := &types.Subscription{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		PlanID:      planID,
		Status:      types.SubStatusActive,
		PeriodStart: now,
		PeriodEnd:   now.Add(types.BillingInterval),
		AutoRenew:   true,
	}

	if err := p.store.Provision(ctx, sub); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "account provisioned",
		slog.String("account_id", accountID),
		slog.String("plan_id", planID),
	)
	return nil
}
