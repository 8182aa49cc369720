package config

import "time"

// Default runtime limits and guardrails for the leverlab server. They are
// referenced by internal/runtime and can be overridden through Load.

const (
	// Concurrency
	DefaultMaxConcurrentRequests = 10
	DefaultMaxOpenDatasets       = 4

	// Payload and size limits
	DefaultMaxPayloadBytes = 128 * 1024 // 128KB
	DefaultMaxFileBytes    = 32 << 20   // 32MB
	DefaultTreePageSize    = 200
	DefaultMaxTreePageSize = 2_000
)

const (
	// Timeouts
	DefaultOperationTimeout      = 30 * time.Second
	DefaultAcquireRequestTimeout = 2 * time.Second

	// Dataset cache
	DefaultDatasetIdleTTL        = 30 * time.Minute
	DefaultDatasetCleanupPeriod  = time.Minute
	DefaultMaxSessionsPerDataset = 16
)

const (
	// Levers
	DefaultLeverMin  = -50.0
	DefaultLeverMax  = 50.0
	DefaultLeverUnit = "%"

	// Elasticity estimation
	DefaultElasticityMin        = 0.1
	DefaultElasticityMax        = 2.0
	DefaultCorrelationThreshold = 0.3

	// Result token budget, as a share of the configured model's context window
	DefaultModelContextShare = 0.25
)
