package types

import (
	"encoding/json"
	"time"
)

// ProcessorEventMessage is the wire format for payment-processor webhook
// events queued between the webhook ingress handler and the reconcile worker.
// The raw event payload travels untouched; the reconciler owns all parsing.
type ProcessorEventMessage struct {
	// EventID is the processor-assigned event id. It is the idempotency key:
	// re-delivery of the same id must not re-apply effects.
	EventID string `json:"event_id"`
	// EventType is the processor event type (e.g. "invoice.paid").
	EventType string `json:"event_type"`
	// ReceivedAt is when the ingress handler verified and accepted the event.
	ReceivedAt time.Time `json:"received_at"`
	// Payload is the raw, signature-verified event body.
	Payload json.RawMessage `json:"payload"`
}
