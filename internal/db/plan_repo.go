package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"leadninja/internal/types"
)

// PlanRepo provides read access to the plans table. The plan catalog is
// reference data from this service's viewpoint: rows are created and edited
// through an administrative path elsewhere and never deleted while referenced.
type PlanRepo struct {
	db DBTX
}

// NewPlanRepo creates a new PlanRepo backed by the given database connection
// (pool or transaction).
func NewPlanRepo(db DBTX) *PlanRepo {
	return &PlanRepo{db: db}
}

const planColumns = `id, tier, monthly_unit_limit, monthly_price_cents, overage_unit_price_cents, active`

// GetByID returns the plan with the given id.
func (r *PlanRepo) GetByID(ctx context.Context, planID string) (*types.PlanDefinition, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1`,
		planID,
	)
	return scanPlan(row)
}

// GetByTier returns the active plan for the given tier. Used by provisioning
// to resolve the free tier.
func (r *PlanRepo) GetByTier(ctx context.Context, tier types.PlanTier) (*types.PlanDefinition, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE tier = $1 AND active`,
		tier,
	)
	return scanPlan(row)
}

func scanPlan(row pgx.Row) (*types.PlanDefinition, error) {
	var p types.PlanDefinition
	err := row.Scan(
		&p.ID,
		&p.Tier,
		&p.MonthlyUnitLimit,
		&p.MonthlyPriceCents,
		&p.OverageUnitPriceCents,
		&p.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPlan, "plan not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load plan", err)
	}
	return &p, nil
}
