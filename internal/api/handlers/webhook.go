package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"leadninja/internal/core"
	"leadninja/internal/external"
	"leadninja/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a processor webhook
// payload (64 KB). Processor payloads are typically small; this limit
// protects against abuse.
const maxWebhookBodySize = 64 * 1024

// signatureHeader is the header carrying the processor's payload signature.
const signatureHeader = "Stripe-Signature"

// EventEnqueuer hands a verified processor event to the reconcile queue.
type EventEnqueuer interface {
	Publish(ctx context.Context, msg *types.ProcessorEventMessage) error
}

// WebhookHandler receives asynchronous events from the payment processor.
// It is unauthenticated (no bearer token) but verifies the provider
// signature, and it never touches the ledger itself: verified events are
// enqueued for the reconcile worker, so a slow database cannot back up the
// processor's delivery pipeline.
type WebhookHandler struct {
	verifier  external.WebhookVerifier
	publisher EventEnqueuer
	secret    string
	logger    *slog.Logger
	now       func() time.Time
}

// NewWebhookHandler creates a WebhookHandler with the provided dependencies.
func NewWebhookHandler(verifier external.WebhookVerifier, publisher EventEnqueuer, secret string, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		verifier:  verifier,
		publisher: publisher,
		secret:    secret,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes mounts the processor webhook endpoint. This is separate from
// BillingHandler.RegisterRoutes because webhook routes are public (no auth
// middleware).
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/payments", h.Handle)
}

// webhookEnvelope is the minimal decode needed to extract the event id and
// type for the queue message; the raw payload rides along untouched.
type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Handle processes an incoming processor webhook delivery.
//
//  1. Reads the body and the signature header.
//  2. Verifies the signature using the webhook signing secret. A failed
//     verification is rejected with 401 before anything else happens.
//  3. Extracts the event id and type.
//  4. Enqueues the verified event for the reconcile worker.
//  5. Returns 200 OK so the processor stops redelivering.
//
// An enqueue failure returns 500 so the processor retries the delivery; the
// reconciler's dedup ledger absorbs the eventual duplicate.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get(signatureHeader)
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing webhook signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookSignatureInvalid,
			"missing webhook signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookSignatureInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event JSON",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	eventID := envelope.ID
	if eventID == "" {
		// Processor events always carry an id; synthesize one so the
		// delivery is still traceable through the queue.
		eventID = "evt_unidentified_" + uuid.New().String()
	}

	msg := &types.ProcessorEventMessage{
		EventID:    eventID,
		EventType:  envelope.Type,
		ReceivedAt: h.now(),
		Payload:    json.RawMessage(payload),
	}

	if err := h.publisher.Publish(r.Context(), msg); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to enqueue webhook event",
			"event_id", eventID,
			"event_type", envelope.Type,
			"error", err,
		)
		// Non-200 makes the processor redeliver; dedup handles the repeat.
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "webhook event accepted",
		"event_id", eventID,
		"event_type", envelope.Type,
	)

	w.WriteHeader(http.StatusOK)
}
