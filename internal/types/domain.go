// Package types defines the shared domain model for the LeadNinja metering
// service: plans, subscriptions, usage events, invoices, and the error and
// context plumbing used across all layers.
package types

import "time"

// PlanTier identifies a subscription plan tier.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// UnlimitedUnits is the sentinel value for MonthlyUnitLimit meaning the plan
// has no monthly cap. Enforcement code must treat it as "always allowed".
const UnlimitedUnits = -1

// PlanDefinition is a row of the plan catalog. The catalog is reference data:
// created once per tier, edited rarely through an administrative path that is
// not part of this service, and never deleted while referenced.
type PlanDefinition struct {
	ID                    string   `json:"id"`
	Tier                  PlanTier `json:"tier"`
	MonthlyUnitLimit      int      `json:"monthly_unit_limit"` // -1 = unlimited
	MonthlyPriceCents     int64    `json:"monthly_price_cents"`
	OverageUnitPriceCents int64    `json:"overage_unit_price_cents"`
	Active                bool     `json:"active"`
}

// Unlimited reports whether the plan has no monthly unit cap.
func (p PlanDefinition) Unlimited() bool {
	return p.MonthlyUnitLimit == UnlimitedUnits
}

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubStatusTrial    SubscriptionStatus = "trial"
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
	SubStatusUnpaid   SubscriptionStatus = "unpaid"
)

// Terminal reports whether the status is an end state. Terminal subscriptions
// are excluded from period rollover and ignore further non-deletion processor
// events.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubStatusCanceled || s == SubStatusUnpaid
}

// Subscription is the per-account ledger row: exactly one non-deleted row per
// account, created automatically when the account is provisioned.
//
// UnitsUsed is mutated only by the Admission Controller (atomic settle
// increment), the Event Reconciler (status and period bounds), and the Period
// Sweeper (counter reset and period bounds). It is always reconstructible as
// the sum of usage_events rows created since PeriodStart.
type Subscription struct {
	ID          string             `json:"id"`
	AccountID   string             `json:"account_id"`
	PlanID      string             `json:"plan_id"`
	ExternalRef string             `json:"external_ref,omitempty"` // payment-processor subscription id
	Status      SubscriptionStatus `json:"status"`
	PeriodStart time.Time          `json:"period_start"`
	PeriodEnd   time.Time          `json:"period_end"`
	UnitsUsed   int                `json:"units_used"`
	AutoRenew   bool               `json:"auto_renew"`
	LastEventAt *time.Time         `json:"last_event_at,omitempty"` // optimistic lock against out-of-order events
	CanceledAt  *time.Time         `json:"canceled_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// SourceAction identifies what kind of work produced a usage event.
type SourceAction string

const (
	SourceScrape SourceAction = "scrape"
	SourceImport SourceAction = "import"
	SourceManual SourceAction = "manual"
)

// ValidSourceAction reports whether s is a known source action.
func ValidSourceAction(s SourceAction) bool {
	switch s {
	case SourceScrape, SourceImport, SourceManual:
		return true
	}
	return false
}

// UsageEvent is one append-only entry of the usage audit log. Rows are never
// updated or deleted; the subscription counter is derived from them.
type UsageEvent struct {
	ID           string       `json:"id"`
	AccountID    string       `json:"account_id"`
	CampaignRef  string       `json:"campaign_ref,omitempty"`
	SourceAction SourceAction `json:"source_action"`
	UnitCount    int          `json:"unit_count"`
	RelatedJobID string       `json:"related_job_id,omitempty"`
	Note         string       `json:"note,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// InvoiceStatus is the lifecycle state of an invoice record.
type InvoiceStatus string

const (
	InvoiceDraft   InvoiceStatus = "draft"
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceFailed  InvoiceStatus = "failed"
	InvoiceVoided  InvoiceStatus = "voided"
)

// Invoice mirrors a payment-processor invoice. ExternalRef is the idempotency
// key: re-delivery of the same processor event updates the existing row
// instead of inserting a duplicate.
type Invoice struct {
	ID             string        `json:"id"`
	AccountID      string        `json:"account_id"`
	SubscriptionID string        `json:"subscription_id"`
	ExternalRef    string        `json:"external_ref,omitempty"`
	Status         InvoiceStatus `json:"status"`
	PeriodStart    time.Time     `json:"period_start"`
	PeriodEnd      time.Time     `json:"period_end"`
	TotalCents     int64         `json:"total_cents"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
}

// QuotaDecision is the result of an admission check. It is advisory: another
// settlement may land between the check and the work it admits, so the
// counter it reflects can be stale the moment it is returned.
type QuotaDecision struct {
	Allowed     bool     `json:"allowed"`
	Reason      string   `json:"reason,omitempty"`
	Tier        PlanTier `json:"tier"`
	Remaining   int      `json:"remaining"` // -1 when unlimited
	PercentUsed float64  `json:"percent_used"`
}

// BillingInfo is the account-facing billing summary served by GET /v1/billing.
type BillingInfo struct {
	PlanName       string             `json:"plan_name"`
	Tier           PlanTier           `json:"tier"`
	UnitLimit      int                `json:"unit_limit"` // -1 = unlimited
	UnitsUsed      int                `json:"units_used"`
	UnitsRemaining int                `json:"units_remaining"` // -1 when unlimited
	PercentUsed    float64            `json:"percent_used"`
	PeriodEnd      time.Time          `json:"period_end"`
	Status         SubscriptionStatus `json:"status"`
	ExternalRef    string             `json:"external_ref,omitempty"`
}

// BillingInterval is the length of one billing period. The sweeper and the
// provisioner both advance periods by this amount.
const BillingInterval = 30 * 24 * time.Hour

// AccountToken is an API credential issued to an account. Only the SHA-256
// hash of the raw token is stored; the plaintext is shown once at creation
// and never persisted.
type AccountToken struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"account_id"`
	TokenHash  string     `json:"-"`
	Name       string     `json:"name,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"` // nil = non-expiring
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
