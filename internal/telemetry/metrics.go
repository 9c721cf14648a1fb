// Package telemetry emits operational metrics for the metering background
// jobs to CloudWatch.
package telemetry

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names published under the service namespace.
const (
	MetricPeriodRollover = "PeriodRolloverCount"
	MetricCounterDrift   = "UsageCounterDrift"
	MetricLedgerPurge    = "ProcessorEventPurgeCount"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics publishes sweep and audit outcomes to CloudWatch.
// Emission is fire-and-forget: a PutMetricData failure is logged, never
// returned, so metrics can never fail the job that produced them.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing under the given
// namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordRollover emits the number of subscriptions rolled into a fresh
// billing period by one sweep pass.
func (m *CloudWatchMetrics) RecordRollover(ctx context.Context, count int64) {
	m.put(ctx, MetricPeriodRollover, float64(count))
}

// RecordCounterDrift emits the number of subscriptions whose usage counter
// disagrees with the usage-event sum. Any non-zero value is alarm-worthy.
func (m *CloudWatchMetrics) RecordCounterDrift(ctx context.Context, count int) {
	m.put(ctx, MetricCounterDrift, float64(count))
}

// RecordLedgerPurge emits the number of processor-event dedup entries removed
// by one retention pass.
func (m *CloudWatchMetrics) RecordLedgerPurge(ctx context.Context, count int64) {
	m.put(ctx, MetricLedgerPurge, float64(count))
}

func (m *CloudWatchMetrics) put(ctx context.Context, name string, value float64) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish metric",
			slog.String("metric", name),
			slog.Float64("value", value),
			slog.String("error", err.Error()),
		)
	}
}
