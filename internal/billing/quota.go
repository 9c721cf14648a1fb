package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"leadninja/internal/types"
)

// SubscriptionStore is the ledger access the admission controller needs.
type SubscriptionStore interface {
	GetByAccount(ctx context.Context, accountID string) (*types.Subscription, error)
}

// SettleStore performs the atomic settlement write: usage event insert plus
// counter increment in one transaction.
type SettleStore interface {
	Settle(ctx context.Context, ev *types.UsageEvent) error
}

// AdmissionController answers "may this account consume N more units now?"
// and performs the settle-after-the-fact increment.
//
// The two operations are deliberately asymmetric: CheckQuota is an advisory,
// lock-free pre-flight estimate (the actual unit count produced by a scrape
// is unknown until it finishes), while SettleUsage is the authoritative,
// atomic mutation point and is never itself blocked by quota -- the work
// already happened. Overshoot is therefore bounded by the size of the jobs
// admitted concurrently while near the limit, which callers cap upstream.
type AdmissionController struct {
	subs    SubscriptionStore
	plans   PlanStore
	settler SettleStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewAdmissionController creates an AdmissionController.
func NewAdmissionController(subs SubscriptionStore, plans PlanStore, settler SettleStore, logger *slog.Logger) *AdmissionController {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdmissionController{
		subs:    subs,
		plans:   plans,
		settler: settler,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CheckQuota reports whether the account can consume requestedUnits more
// units in the current billing period.
//
// The result is advisory: the counter it reflects can be stale the moment it
// is returned, and callers must not treat an allowed decision as a
// reservation.
func (a *AdmissionController) CheckQuota(ctx context.Context, accountID string, requestedUnits int) (*types.QuotaDecision, error) {
	if requestedUnits <= 0 {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidUsage, "requested units must be a positive integer", nil)
	}

	sub, err := a.subs.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sub.Status.Terminal() {
		return nil, types.NewAppError(types.ErrCodeNoActiveSubscription, "subscription is not active", nil)
	}

	plan := a.resolvePlan(ctx, sub.PlanID)

	if plan.Unlimited() {
		return &types.QuotaDecision{
			Allowed:     true,
			Tier:        plan.Tier,
			Remaining:   types.UnlimitedUnits,
			PercentUsed: 0,
		}, nil
	}

	remaining := plan.MonthlyUnitLimit - sub.UnitsUsed
	if remaining < 0 {
		remaining = 0
	}

	decision := &types.QuotaDecision{
		Allowed:     sub.UnitsUsed+requestedUnits <= plan.MonthlyUnitLimit,
		Tier:        plan.Tier,
		Remaining:   remaining,
		PercentUsed: percentUsed(sub.UnitsUsed, plan.MonthlyUnitLimit),
	}
	if !decision.Allowed {
		decision.Reason = fmt.Sprintf("monthly limit of %d units reached for the %s plan", plan.MonthlyUnitLimit, plan.Tier)
	}
	return decision, nil
}

// SettleUsage records the actual unit count produced by completed work. It is
// the sole authoritative mutation of the usage counter: one transaction
// appends the immutable usage event and increments units_used by actualUnits.
// Quota is enforced only at admission time, never here.
//
// Returns the id of the persisted usage event.
func (a *AdmissionController) SettleUsage(
	ctx context.Context,
	accountID, campaignRef string,
	actualUnits int,
	source types.SourceAction,
	relatedJobID, note string,
) (string, error) {
	if actualUnits <= 0 {
		return "", types.NewAppError(types.ErrCodeValidationInvalidUsage, "actual units must be a positive integer", nil)
	}
	if !types.ValidSourceAction(source) {
		return "", types.NewAppError(types.ErrCodeValidationInvalidSource, fmt.Sprintf("unknown source action %q", source), nil)
	}

	ev := &types.UsageEvent{
		ID:           uuid.New().String(),
		AccountID:    accountID,
		CampaignRef:  campaignRef,
		SourceAction: source,
		UnitCount:    actualUnits,
		RelatedJobID: relatedJobID,
		Note:         note,
		CreatedAt:    a.now(),
	}

	if err := a.settler.Settle(ctx, ev); err != nil {
		return "", err
	}

	a.logger.InfoContext(ctx, "usage settled",
		slog.String("account_id", accountID),
		slog.String("usage_event_id", ev.ID),
		slog.Int("units", actualUnits),
		slog.String("source", string(source)),
	)
	return ev.ID, nil
}

// BillingSummary assembles the account-facing billing view served by the API.
func (a *AdmissionController) BillingSummary(ctx context.Context, accountID string) (*types.BillingInfo, error) {
	sub, err := a.subs.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	plan := a.resolvePlan(ctx, sub.PlanID)

	info := &types.BillingInfo{
		PlanName:    planName(plan.Tier),
		Tier:        plan.Tier,
		UnitLimit:   plan.MonthlyUnitLimit,
		UnitsUsed:   sub.UnitsUsed,
		PeriodEnd:   sub.PeriodEnd,
		Status:      sub.Status,
		ExternalRef: sub.ExternalRef,
	}

	if plan.Unlimited() {
		info.UnitsRemaining = types.UnlimitedUnits
		info.PercentUsed = 0
		return info, nil
	}

	info.UnitsRemaining = plan.MonthlyUnitLimit - sub.UnitsUsed
	if info.UnitsRemaining < 0 {
		info.UnitsRemaining = 0
	}
	info.PercentUsed = percentUsed(sub.UnitsUsed, plan.MonthlyUnitLimit)
	return info, nil
}

// resolvePlan loads the subscription's plan, falling back to the restrictive
// free-tier limits if the catalog row cannot be read. Failing closed keeps a
// broken catalog reference from granting unlimited consumption.
func (a *AdmissionController) resolvePlan(ctx context.Context, planID string) types.PlanDefinition {
	plan, err := a.plans.GetByID(ctx, planID)
	if err != nil {
		var appErr *types.AppError
		if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundPlan {
			a.logger.WarnContext(ctx, "plan lookup failed, using free-tier fallback",
				slog.String("plan_id", planID),
				slog.String("error", err.Error()),
			)
		} else {
			a.logger.WarnContext(ctx, "subscription references missing plan, using free-tier fallback",
				slog.String("plan_id", planID),
			)
		}
		return FallbackFreePlan()
	}
	return *plan
}

// percentUsed returns the share of the limit consumed, clamped to [0, 100].
// Overage beyond the limit is visible through the used/limit pair; the
// percentage is a display value and never exceeds 100.
func percentUsed(used, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	pct := float64(used) * 100 / float64(limit)
	if pct > 100 {
		return 100
	}
	return pct
}

// planName maps a tier to its display name.
func planName(tier types.PlanTier) string {
	switch tier {
	case types.PlanFree:
		return "Free"
	case types.PlanPro:
		return "Pro"
	case types.PlanEnterprise:
		return "Enterprise"
	default:
		return string(tier)
	}
}
