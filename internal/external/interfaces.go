// Package external holds the integration points with the payment processor.
// The metering service never calls the processor's API outbound; its only
// processor-facing surface is inbound webhook verification.
package external

// WebhookVerifier abstracts processor webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature header
	// and signing secret. Returns nil on success, an error on failure.
	Verify(payload []byte, header string, secret string) error
}

// Processor event type constants prevent magic strings in the webhook
// handler and the reconciler.
const (
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.paid"
	EventPaymentFailed       = "invoice.payment_failed"
)
