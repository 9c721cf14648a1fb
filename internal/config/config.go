// Package config defines the global configuration structure for the LeadNinja
// metering service. Configuration is loaded once at process initialization and
// is immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Secret Store (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup.
package config

import (
	"time"

	"leadninja/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the metering service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"leadninja-metering"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Auth          AuthConfig
	Sweeper       SweeperConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// ProcessorEventQueue is the SQS queue that buffers verified payment
	// processor events between the webhook ingress and the reconcile worker.
	ProcessorEventQueue string `envconfig:"SQS_PROCESSOR_EVENTS" validate:"required,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds payment-processor integration secrets.
type BillingConfig struct {
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
}

// AuthConfig holds credentials for request authentication.
type AuthConfig struct {
	// InternalAPIKeyHash is the bcrypt hash of the API key that privileged
	// service-to-service callers (job workers) present on internal endpoints.
	// Only the hash is configured; the plaintext never reaches this service's
	// configuration.
	InternalAPIKeyHash SecretString `envconfig:"INTERNAL_API_KEY_HASH" validate:"required"`
}

// SweeperConfig holds tuning for the period rollover job.
type SweeperConfig struct {
	// BatchLimit caps the number of subscriptions rolled over per pass.
	BatchLimit int `envconfig:"SWEEPER_BATCH_LIMIT" default:"500"`
	// AuditBatchLimit caps the number of subscriptions checked for counter
	// drift per pass.
	AuditBatchLimit int `envconfig:"SWEEPER_AUDIT_BATCH_LIMIT" default:"200"`

	// EventRetention is how long processor-event dedup entries are kept.
	// Must exceed the processor's redelivery window (Stripe retries for up
	// to 3 days; 90 days leaves a wide margin for manual replays).
	EventRetention time.Duration `envconfig:"SWEEPER_EVENT_RETENTION" default:"2160h"`
	// PurgeBatchLimit caps the number of dedup entries deleted per pass.
	PurgeBatchLimit int `envconfig:"SWEEPER_PURGE_BATCH_LIMIT" default:"1000"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"LeadNinja"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a failure when fetching values from the
	// secret store.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
