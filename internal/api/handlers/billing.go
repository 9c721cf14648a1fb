// Package handlers contains the HTTP handler implementations for the
// LeadNinja metering API: the account-facing billing endpoints, the
// privileged usage-settlement endpoint, and the payment-processor webhook.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"leadninja/internal/core"
	"leadninja/internal/types"
)

// --- Service Interfaces ---
//
// The service contract is defined locally and injected via the constructor,
// which keeps the handler decoupled from concrete types and enables test
// mocking.

// MeteringService is the domain surface the billing endpoints call into.
type MeteringService interface {
	// BillingSummary returns the account's plan, usage, and period snapshot.
	BillingSummary(ctx context.Context, accountID string) (*types.BillingInfo, error)

	// CheckQuota reports whether the account can consume requestedUnits more
	// units. The result is advisory, never a reservation.
	CheckQuota(ctx context.Context, accountID string, requestedUnits int) (*types.QuotaDecision, error)

	// SettleUsage atomically records completed work and returns the usage
	// event id.
	SettleUsage(ctx context.Context, accountID, campaignRef string, actualUnits int, source types.SourceAction, relatedJobID, note string) (string, error)
}

// AccountProvisioner creates the free-tier subscription backing a new account.
type AccountProvisioner interface {
	// EnsureSubscription is idempotent: provisioning an account that already
	// has a subscription is a no-op.
	EnsureSubscription(ctx context.Context, accountID string) error
}

// --- Request / Response Payloads ---

// CheckLimitsRequest is the body of POST /v1/billing/check-limits.
type CheckLimitsRequest struct {
	RequestedUnits int `json:"requested_units" validate:"required,gt=0"`
}

// LogUsageRequest is the body of POST /v1/internal/usage. Only privileged
// internal callers reach this endpoint, so the target account travels in the
// payload rather than coming from the actor.
type LogUsageRequest struct {
	AccountID    string `json:"account_id" validate:"required"`
	CampaignRef  string `json:"campaign_ref,omitempty" validate:"max=128"`
	ActualUnits  int    `json:"actual_units" validate:"required,gt=0"`
	SourceAction string `json:"source_action" validate:"required,source_action"`
	RelatedJobID string `json:"related_job_id,omitempty" validate:"max=128"`
	Note         string `json:"note,omitempty" validate:"max=512"`
}

// LogUsageResponse is the body returned by POST /v1/internal/usage.
type LogUsageResponse struct {
	UsageEventID string `json:"usage_event_id"`
}

// ProvisionAccountRequest is the body of POST /v1/internal/accounts.
type ProvisionAccountRequest struct {
	AccountID string `json:"account_id" validate:"required,max=128"`
}

// --- Billing Handler ---

// BillingHandler serves the billing, quota-check, and usage-settlement
// endpoints.
type BillingHandler struct {
	metering    MeteringService
	provisioner AccountProvisioner
	validator   *core.Validator
	logger      *slog.Logger
}

// NewBillingHandler creates a BillingHandler with the provided dependencies.
func NewBillingHandler(metering MeteringService, provisioner AccountProvisioner, v *core.Validator, l *slog.Logger) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BillingHandler{
		metering:    metering,
		provisioner: provisioner,
		validator:   v,
		logger:      l,
	}
}

// RegisterRoutes mounts the account-facing billing endpoints. The parent
// router applies account authentication.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/billing", h.GetBilling)
	r.Post("/billing/check-limits", h.CheckLimits)
}

// RegisterInternalRoutes mounts the privileged endpoints. The parent router
// applies internal API key authentication.
func (h *BillingHandler) RegisterInternalRoutes(r chi.Router) {
	r.Post("/internal/usage", h.LogUsage)
	r.Post("/internal/accounts", h.ProvisionAccount)
}

// GetBilling handles GET /v1/billing: the account's plan, usage counters,
// remaining quota, and billing-period boundary.
func (h *BillingHandler) GetBilling(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFromContext(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	info, err := h.metering.BillingSummary(r.Context(), accountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: info})
}

// CheckLimits handles POST /v1/billing/check-limits: the advisory pre-flight
// quota check a caller runs before starting work.
//
// An allowed decision returns 200 with the decision payload. A denied
// decision returns 403 billing_quota_exceeded with the decision fields in the
// error details, which the dashboard surfaces as an upgrade prompt.
func (h *BillingHandler) CheckLimits(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountFromContext(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req CheckLimitsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	decision, err := h.metering.CheckQuota(r.Context(), accountID, req.RequestedUnits)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if !decision.Allowed {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeQuotaExceeded,
			decision.Reason,
			nil,
			map[string]any{
				"allowed":      false,
				"tier":         decision.Tier,
				"remaining":    decision.Remaining,
				"percent_used": decision.PercentUsed,
			},
		))
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: decision})
}

// LogUsage handles POST /v1/internal/usage: the authoritative settlement of
// completed work. It is called by job workers after a scrape or import
// finishes with the actual unit count produced; it is never blocked by quota.
func (h *BillingHandler) LogUsage(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok || !actor.Privileged() {
		// The internal auth middleware guards this route; reaching here
		// without a privileged actor means a route wiring mistake.
		core.Error(w, r, types.NewAppError(
			types.ErrCodePermissionInternalOnly,
			"this endpoint is restricted to internal callers",
			nil,
		))
		return
	}

	var req LogUsageRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	eventID, err := h.metering.SettleUsage(
		r.Context(),
		req.AccountID,
		req.CampaignRef,
		req.ActualUnits,
		types.SourceAction(req.SourceAction),
		req.RelatedJobID,
		req.Note,
	)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: LogUsageResponse{UsageEventID: eventID}})
}

// ProvisionAccount handles POST /v1/internal/accounts: sign-up flows and
// back-office tooling call it to attach the free-tier subscription to a new
// account. Re-provisioning an existing account returns 201 without changes.
func (h *BillingHandler) ProvisionAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok || !actor.Privileged() {
		core.Error(w, r, types.NewAppError(
			types.ErrCodePermissionInternalOnly,
			"this endpoint is restricted to internal callers",
			nil,
		))
		return
	}

	var req ProvisionAccountRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.provisioner.EnsureSubscription(r.Context(), req.AccountID); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: map[string]string{
		"account_id": req.AccountID,
		"status":     "provisioned",
	}})
}

// accountFromContext extracts the acting account id, rejecting requests
// without an account-scoped actor.
func accountFromContext(ctx context.Context) (string, error) {
	actor, ok := types.GetActor(ctx)
	if !ok {
		return "", types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil)
	}
	if actor.Type != types.ActorTypeAccount || actor.AccountID == "" {
		return "", types.NewAppError(types.ErrCodeAuthTokenInvalid, "an account-scoped token is required", nil)
	}
	return actor.AccountID, nil
}
