// Package config defines the configuration structure for the adoption
// outcome notifier. Configuration is loaded once at process start (Lambda
// cold start or API boot) and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"adoptnotify/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"adoptnotify"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	AWS      AWSConfig
	Email    EmailConfig
	Upstream UpstreamConfig
	Notify   NotifyConfig
	Security SecurityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// SiteBaseURL prefixes links in outcome emails (no trailing slash).
	SiteBaseURL    string        `envconfig:"SITE_BASE_URL" default:"https://homelesshounds.com.au" validate:"required,url"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"5"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"ap-southeast-2"`

	// PollQueueURL receives on-demand poll requests from the admin API.
	// Empty disables the "run now" endpoint.
	PollQueueURL    string `envconfig:"SQS_POLL_REQUESTS" validate:"omitempty,url"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"AdoptionNotifier"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EmailConfig holds email delivery provider credentials and sender identity.
type EmailConfig struct {
	Provider        string       `envconfig:"EMAIL_PROVIDER" default:"sendgrid" validate:"oneof=sendgrid ses"`
	SendGridAPIKey  SecretString `envconfig:"SENDGRID_API_KEY" validate:"required_if=Provider sendgrid"`
	SendGridBaseURL string       `envconfig:"SENDGRID_BASE_URL" default:"https://api.sendgrid.com" validate:"url"`
	SESConfigSet    string       `envconfig:"SES_CONFIGURATION_SET"`

	FromAddress    string `envconfig:"SENDGRID_FROM_EMAIL" validate:"required,email"`
	FromName       string `envconfig:"SENDGRID_FROM_NAME" default:"Homeless Hounds"`
	ReplyToAddress string `envconfig:"EMAIL_REPLY_TO" default:"web@homelesshounds.com.au" validate:"omitempty,email"`
	ReplyToName    string `envconfig:"EMAIL_REPLY_TO_NAME" default:"Homeless Hounds"`
	BCC            string `envconfig:"EMAIL_BCC" validate:"omitempty,email"`

	// WebhookPublicKey verifies SendGrid Event Webhook signatures. Empty
	// skips verification.
	WebhookPublicKey  SecretString `envconfig:"SENDGRID_WEBHOOK_PUBLIC_KEY"`
	AdminAlertAddress string       `envconfig:"EMAIL_ADMIN_DEFAULT" default:"web@homelesshounds.com.au" validate:"email"`
	AlertFromAddress  string       `envconfig:"EMAIL_ALERT_FROM" default:"noreply@homelesshounds.com.au" validate:"email"`
}

// UpstreamConfig holds the shelter-management (ASM) service credentials.
type UpstreamConfig struct {
	BaseURL  string        `envconfig:"ASM_BASE_URL" validate:"required,url"`
	Account  string        `envconfig:"ASM_ACCOUNT" validate:"required"`
	Username string        `envconfig:"ASM_USERNAME"`
	Password SecretString  `envconfig:"ASM_PASSWORD"`
	Timeout  time.Duration `envconfig:"ASM_TIMEOUT" default:"30s"`
	// Timezone is the zone ASM reports naive timestamps in.
	Timezone     string `envconfig:"ASM_TIMEZONE" default:"UTC"`
	ImageBaseURL string `envconfig:"ASM_IMAGE_BASE_URL" default:"https://service.sheltermanager.com/asmservice" validate:"url"`
}

// NotifyConfig holds the outcome pipeline's mode and pacing controls.
type NotifyConfig struct {
	Mode              types.NotificationMode `envconfig:"NOTIFICATION_MODE" default:"production" validate:"oneof=production testing"`
	TestRecipient     string                 `envconfig:"TEST_EMAIL_RECIPIENT" default:"web@homelesshounds.com.au" validate:"email"`
	TestTriggerValue  string                 `envconfig:"TEST_TRIGGER_VALUE" default:"TEST_ADOPTION_NOTIFICATION"`
	DefaultDelayHours int                    `envconfig:"ADOPTION_NOTIFY_DELAY_HOURS" default:"12" validate:"min=0"`
	ProductionLimit   int                    `envconfig:"MATURED_BATCH_LIMIT" default:"50" validate:"min=1"`
	TestLimit         int                    `envconfig:"MATURED_BATCH_LIMIT_TEST" default:"10" validate:"min=1"`
	LockTTL           time.Duration          `envconfig:"POLL_LOCK_TTL" default:"9m"`
}

// SecurityConfig holds admin access and CORS settings.
type SecurityConfig struct {
	// AdminKeyHash is the bcrypt hash of the x-admin-key header value.
	// Required by the API binary only.
	AdminKeyHash       SecretString `envconfig:"ADMIN_KEY_HASH"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
