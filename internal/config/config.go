// Package config defines the configuration for the melding service.
// Configuration is loaded once at process initialization and is immutable
// thereafter, following 12-Factor principles: values come from the OS
// environment, optionally seeded from a .env file for local development.
//
// Any missing required value or invalid format fails the process immediately
// on startup.
package config

import (
	"time"
)

// Config is the top-level configuration struct for the melding service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"melding"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server     ServerConfig
	Database   DatabaseConfig
	Submission SubmissionConfig
	Scheduler  SchedulerConfig
	Intake     IntakeConfig
}

// ServerConfig holds HTTP server settings for the intake endpoint.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// SubmissionConfig holds the outbound submission endpoint settings.
type SubmissionConfig struct {
	// Endpoint is the external authority's submission URL.
	Endpoint string `envconfig:"SUBMISSION_ENDPOINT" validate:"required,url"`

	// Key authenticates this publisher with the authority.
	Key string `envconfig:"SUBMISSION_KEY" validate:"required"`

	// PublisherURI identifies the publishing vendor in the payload.
	PublisherURI string `envconfig:"PUBLISHER_URI" default:"http://data.lblod.info/vendors/gelinkt-notuleren"`

	// SourceHost is the public host where submitted documents are served.
	// It is the base of the href included in every payload and of the
	// preflight check.
	SourceHost string `envconfig:"SOURCE_HOST" validate:"required,url"`

	// Timeout bounds a single outbound call (preflight or submit).
	Timeout time.Duration `envconfig:"SUBMISSION_TIMEOUT" default:"30s"`
}

// SchedulerConfig holds the retry and reconciliation tuning knobs.
type SchedulerConfig struct {
	// MaxAttempts caps the number of failed submission attempts per task.
	// Beyond it the task stays failed and recovery is an operator concern.
	MaxAttempts int `envconfig:"MAX_ATTEMPTS" default:"10" validate:"min=1"`

	// SweepCronPattern schedules the periodic reconciliation sweep.
	SweepCronPattern string `envconfig:"RESCHEDULE_CRON_PATTERN" default:"0 0 * * *"`

	// RuleRefreshCronPattern schedules the wholesale rule cache refresh.
	RuleRefreshCronPattern string `envconfig:"RULE_REFRESH_CRON_PATTERN" default:"*/15 * * * *"`

	// PendingStaleness is the age past which a pending task is considered
	// stale. Informational: surfaced in sweep logs, not acted upon.
	PendingStaleness time.Duration `envconfig:"PENDING_STALENESS" default:"3h"`
}

// IntakeConfig holds the delta-changeset filter for the intake endpoint.
// A changeset insert matching Predicate/Object marks its subject as a newly
// published resource.
type IntakeConfig struct {
	Predicate string `envconfig:"DELTA_STATUS_PREDICATE" default:"http://mu.semte.ch/vocabularies/ext/besluit-publicatie-publish-service/status"`
	Object    string `envconfig:"DELTA_STATUS_OBJECT" default:"http://mu.semte.ch/vocabularies/ext/besluit-publicatie-publish-service/status/success"`
}
