// Package main is the entrypoint for the Period Sweeper Lambda function.
//
// The sweeper runs on a fixed EventBridge schedule. Each invocation performs
// three passes:
//
//  1. Rollover: close out subscriptions whose billing period has expired,
//     resetting the usage counter and advancing the period bounds.
//  2. Drift audit: compare each subscription's usage counter against the sum
//     of its usage events for the current period and report mismatches.
//  3. Ledger purge: drop processor-event dedup entries past their retention.
//
// All passes are idempotent; a crash mid-pass leaves unprocessed rows for
// the next scheduled run to pick up. Outcomes are published to CloudWatch.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadninja/internal/billing"
	"leadninja/internal/config"
	"leadninja/internal/db"
	"leadninja/internal/telemetry"
)

// Handler holds the dependencies for the sweeper Lambda handler.
type Handler struct {
	sweeper *billing.Sweeper
	auditor *billing.DriftAuditor
	janitor *billing.Janitor
	logger  *slog.Logger
}

// Handle runs one sweep pass followed by one drift-audit pass. A rollover
// failure aborts the invocation (EventBridge will fire again on schedule); an
// audit failure is logged but does not fail the run, since the audit is
// purely observational.
func (h *Handler) Handle(ctx context.Context, event events.CloudWatchEvent) (string, error) {
	start := time.Now()

	rolled, err := h.sweeper.Sweep(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "period rollover failed",
			"rolled_over", rolled,
			"error", err,
		)
		return "", fmt.Errorf("period rollover: %w", err)
	}

	drifted, err := h.auditor.Audit(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "counter drift audit failed", "error", err)
	}

	purged, err := h.janitor.Purge(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "event ledger purge failed", "error", err)
	}

	summary := fmt.Sprintf("rolled_over=%d drifted=%d purged=%d duration=%s",
		rolled, drifted, purged, time.Since(start).Round(time.Millisecond))
	h.logger.InfoContext(ctx, "sweep complete",
		"rolled_over", rolled,
		"drifted", drifted,
		"purged", purged,
		"duration_ms", time.Since(start).Milliseconds(),
		"schedule_time", event.Time,
	)
	return summary, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("period sweeper initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.Database.URL.Unmask())
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	metrics := telemetry.NewCloudWatchMetrics(
		cloudwatch.NewFromConfig(awsCfg),
		cfg.Observability.MetricNamespace,
		logger,
	)

	subRepo := db.NewSubscriptionRepo(pool, logger)
	usageRepo := db.NewUsageEventRepo(pool)
	eventRepo := db.NewProcessorEventRepo(pool)

	handler := &Handler{
		sweeper: billing.NewSweeper(subRepo, metrics, cfg.Sweeper.BatchLimit, logger),
		auditor: billing.NewDriftAuditor(usageRepo, metrics, cfg.Sweeper.AuditBatchLimit, logger),
		janitor: billing.NewJanitor(eventRepo, metrics, cfg.Sweeper.EventRetention, cfg.Sweeper.PurgeBatchLimit, logger),
		logger:  logger,
	}

	logger.Info("period sweeper initialized",
		"environment", cfg.Environment,
		"batch_limit", cfg.Sweeper.BatchLimit,
		"audit_batch_limit", cfg.Sweeper.AuditBatchLimit,
	)

	lambda.Start(handler.Handle)
}
