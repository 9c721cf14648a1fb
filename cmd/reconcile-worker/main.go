// Package main is the entrypoint for the Reconcile Worker Lambda function.
//
// The worker consumes verified payment-processor events from the processor
// event SQS queue and applies them to the subscription ledger and invoice
// store through the reconciler: deduplication first, then per-subscription
// ordering, then the event-specific ledger mutation.
//
// Cold start wires the database pool and transaction manager once; each
// invocation unmarshals the batch and hands it to the reconciler. Every event
// runs in its own transaction, so a failed event rolls back its dedup row and
// is applied in full on redelivery, while fully applied events dedupe to
// no-ops.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadninja/internal/billing"
	"leadninja/internal/config"
	"leadninja/internal/db"
	"leadninja/internal/types"
)

// Handler holds the dependencies for the reconcile worker.
type Handler struct {
	reconciler *billing.Reconciler
	logger     *slog.Logger
}

// Handle processes an SQS event containing one or more processor event
// messages. Unparseable message bodies are acknowledged after logging: they
// can never become parseable, so redelivering them only clogs the queue.
// Infrastructure failures fail the whole batch for redelivery.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	msgs := make([]types.ProcessorEventMessage, 0, len(sqsEvent.Records))
	for _, record := range sqsEvent.Records {
		var msg types.ProcessorEventMessage
		if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
			h.logger.ErrorContext(ctx, "dropping unparseable queue message",
				"message_id", record.MessageId,
				"error", err,
			)
			continue
		}
		msgs = append(msgs, msg)
	}

	if len(msgs) == 0 {
		return events.SQSEventResponse{}, nil
	}

	h.logger.InfoContext(ctx, "processing processor event batch",
		"batch_size", len(msgs),
	)

	if err := h.reconciler.ProcessBatch(ctx, msgs); err != nil {
		h.logger.ErrorContext(ctx, "batch reconciliation failed",
			"batch_size", len(msgs),
			"error", err,
		)
		// Fail every message so SQS redelivers the batch. Events that
		// already applied are absorbed by the dedup ledger on replay.
		response := events.SQSEventResponse{}
		for _, record := range sqsEvent.Records {
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
		return response, nil
	}

	return events.SQSEventResponse{}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("reconcile worker initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(context.Background(), cfg.Database.URL.Unmask())
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}

	reconciler := billing.NewReconciler(db.NewReconcileTxManager(pool, logger), logger)

	handler := &Handler{
		reconciler: reconciler,
		logger:     logger,
	}

	logger.Info("reconcile worker initialized",
		"environment", cfg.Environment,
		"queue", cfg.AWS.ProcessorEventQueue,
	)

	lambda.Start(handler.Handle)
}
