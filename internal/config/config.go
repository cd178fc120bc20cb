// Package config defines the global configuration structure for the Newsline
// backend. Configuration is loaded once at process startup and is immutable
// thereafter. It follows 12-Factor App principles by strictly separating
// code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes startup to fail
// immediately (fail fast).
package config

import (
	"time"

	"newsline/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the Newsline backend.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server  ServerConfig
	Store   StoreConfig
	Billing BillingConfig
	Auth    AuthConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URL of the web application, used for OAuth redirects and
	// checkout return URLs (no trailing slash), e.g. https://app.newsline.io
	AppURL string `envconfig:"APP_URL" validate:"required,url"`
}

// StoreConfig holds MongoDB connection settings.
type StoreConfig struct {
	URI      SecretString  `envconfig:"MONGO_URI" validate:"required"`
	Database string        `envconfig:"MONGO_DB" default:"newsline"`
	Timeout  time.Duration `envconfig:"MONGO_TIMEOUT" default:"10s"`
}

// BillingConfig holds Stripe payment integration credentials and the
// checkout session return URLs.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	CheckoutSuccessURL  string       `envconfig:"STRIPE_CHECKOUT_SUCCESS_URL" validate:"required,url"`
	CheckoutCancelURL   string       `envconfig:"STRIPE_CHECKOUT_CANCEL_URL" validate:"required,url"`
}

// AuthConfig holds OAuth provider credentials and session settings.
type AuthConfig struct {
	GithubClientID     string        `envconfig:"GITHUB_CLIENT_ID" validate:"required"`
	GithubClientSecret SecretString  `envconfig:"GITHUB_CLIENT_SECRET" validate:"required"`
	SessionTTL         time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	SecureCookies      bool          `envconfig:"SECURE_COOKIES" default:"true"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
