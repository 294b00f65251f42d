// Package config defines the configuration structure for the event digest
// service. Configuration is loaded once at process start (or Lambda cold
// start) and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Invalid formats fail startup. Settings a digest run needs but that are
// absent (the Resend API key, the site URL) do not: they are reported per
// run as configuration errors so the HTTP trigger can answer 503.
package config

import (
	"strings"
	"time"

	"eventdigest/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subset they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain Configurations
	Server        ServerConfig
	Digest        DigestConfig
	Resend        ResendConfig
	Upstream      UpstreamConfig
	Lock          LockConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5m"` // A digest run may take minutes
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Per-IP limit on the public subscribe endpoint. Zero disables it.
	SubscribeRateLimit  int           `envconfig:"SUBSCRIBE_RATE_LIMIT" default:"10" validate:"min=0"`
	SubscribeRateWindow time.Duration `envconfig:"SUBSCRIBE_RATE_WINDOW" default:"1h" validate:"gt=0"`
}

// DigestConfig holds the digest content and trigger settings.
type DigestConfig struct {
	// Public site hosting the events feed (no trailing slash required).
	SiteURL string `envconfig:"SITE_URL" validate:"omitempty,url"`
	// Bare deployment host used when SITE_URL is unset, e.g. eventis.vercel.app.
	SiteHost      string       `envconfig:"SITE_HOST" validate:"omitempty,hostname_port|hostname"`
	Timezone      string       `envconfig:"DIGEST_TIMEZONE" default:"America/Lima" validate:"required"`
	TriggerSecret SecretString `envconfig:"CRON_SECRET"`
}

// ResolvedSiteURL returns SITE_URL without trailing slashes, falling back to
// https://<SITE_HOST>. Returns "" when neither is set.
func (c DigestConfig) ResolvedSiteURL() string {
	if c.SiteURL != "" {
		return strings.TrimRight(c.SiteURL, "/")
	}
	if c.SiteHost != "" {
		return "https://" + c.SiteHost
	}
	return ""
}

// Location loads the configured calendar timezone.
func (c DigestConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// ResendConfig holds the email provider settings.
type ResendConfig struct {
	APIKey        SecretString  `envconfig:"RESEND_API_KEY"`
	BaseURL       string        `envconfig:"RESEND_BASE_URL" default:"https://api.resend.com" validate:"required,url"`
	SegmentID     string        `envconfig:"RESEND_SEGMENT_ID"`
	FromAddress   string        `envconfig:"RESEND_FROM_EMAIL" default:"onboarding@resend.dev" validate:"required"`
	TestRecipient string        `envconfig:"RESEND_TEST_TO" validate:"omitempty,email"`
	SendTimeout   time.Duration `envconfig:"RESEND_SEND_TIMEOUT" default:"10s" validate:"gt=0"`
}

// UpstreamConfig tunes outbound fetches (contacts listing and the feed).
// Email sends are never retried regardless of MaxRetries.
type UpstreamConfig struct {
	Timeout    time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"15s" validate:"gt=0"`
	MaxRetries int           `envconfig:"UPSTREAM_MAX_RETRIES" default:"0" validate:"min=0,max=5"`
}

// LockConfig holds the cross-process run lock settings. An empty RedisURL
// disables the lock.
type LockConfig struct {
	RedisURL SecretString  `envconfig:"REDIS_URL"`
	TTL      time.Duration `envconfig:"RUN_LOCK_TTL" default:"15m" validate:"gt=0"`
}

// AWSConfig holds AWS regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// ObservabilityConfig holds metrics settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"EventDigest"`
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
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
