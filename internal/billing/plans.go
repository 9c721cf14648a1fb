// Package billing implements the metering core: admission control, usage
// settlement, payment-processor event reconciliation, period rollover, and
// the usage-counter drift audit.
package billing

import (
	"context"

	"leadninja/internal/types"
)

// PlanStore provides read access to the plan catalog.
type PlanStore interface {
	// GetByID returns the plan with the given id.
	GetByID(ctx context.Context, planID string) (*types.PlanDefinition, error)
	// GetByTier returns the active plan for the given tier.
	GetByTier(ctx context.Context, tier types.PlanTier) (*types.PlanDefinition, error)
}

// fallbackFreePlan is used when a subscription references a plan row that
// cannot be loaded. Enforcement falls back to the most restrictive limits
// rather than failing open.
var fallbackFreePlan = types.PlanDefinition{
	ID:               "plan_free",
	Tier:             types.PlanFree,
	MonthlyUnitLimit: 1000,
	Active:           true,
}

// FallbackFreePlan returns a copy of the fail-safe free plan definition.
func FallbackFreePlan() types.PlanDefinition {
	return fallbackFreePlan
}
