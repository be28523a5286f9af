// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(...) to build a Config with defaults.
// - Load layers defaults, an optional YAML file, and environment variables.
// - External errors are wrapped via this package's error helpers.
package config

import (
	"runtime"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory event ingestion queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of append workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the event-id idempotency cache.
	DedupeSize int `koanf:"dedupe_size"`

	// ShardCount configures the number of shards in the event store.
	ShardCount int `koanf:"shard_count"`

	// BaseURL is the public base used in generated dashboard URLs and
	// tracking snippets, e.g. "https://splitlab.example".
	BaseURL string `koanf:"base_url"`

	// TrackEndpoint is the path the generated snippet posts events to.
	TrackEndpoint string `koanf:"track_endpoint"`

	// MaxVariants caps the number of variants accepted per experiment.
	MaxVariants int `koanf:"max_variants"`

	// DefaultDurationDays applies when an experiment is created without an
	// explicit duration.
	DefaultDurationDays int `koanf:"default_duration_days"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		QueueSize:           100_000,
		WorkerCount:         runtime.NumCPU() * 2,
		DedupeSize:          500_000,
		ShardCount:          8,
		BaseURL:             "http://localhost:9080",
		TrackEndpoint:       "/events",
		MaxVariants:         10,
		DefaultDurationDays: 14,
	}
}
