// Package runtime holds the guardrails shared by every tool call: request
// concurrency, loaded dataset slots, page and payload bounds, and timeouts.
package runtime

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vinodismyname/leverlab/config"
)

// Limits are the resolved guardrails. Zero config values fall back to the
// config package defaults.
type Limits struct {
	MaxConcurrentRequests int
	MaxOpenDatasets       int

	MaxPayloadBytes int
	MaxFileBytes    int64
	TreePageSize    int
	MaxTreePageSize int

	OperationTimeout      time.Duration
	AcquireRequestTimeout time.Duration
}

func orDefault[T int | int64 | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

// NewLimits returns default limits with the two capacity caps overridden
// when positive.
func NewLimits(maxConcurrentRequests, maxOpenDatasets int) Limits {
	return Limits{
		MaxConcurrentRequests: orDefault(maxConcurrentRequests, config.DefaultMaxConcurrentRequests),
		MaxOpenDatasets:       orDefault(maxOpenDatasets, config.DefaultMaxOpenDatasets),
		MaxPayloadBytes:       config.DefaultMaxPayloadBytes,
		MaxFileBytes:          config.DefaultMaxFileBytes,
		TreePageSize:          config.DefaultTreePageSize,
		MaxTreePageSize:       config.DefaultMaxTreePageSize,
		OperationTimeout:      config.DefaultOperationTimeout,
		AcquireRequestTimeout: config.DefaultAcquireRequestTimeout,
	}
}

// LimitsFromConfig resolves Limits from a loaded configuration.
func LimitsFromConfig(cfg config.Config) Limits {
	l := NewLimits(cfg.MaxConcurrentRequests, cfg.MaxOpenDatasets)
	l.MaxFileBytes = orDefault(cfg.MaxFileBytes, l.MaxFileBytes)
	l.OperationTimeout = orDefault(cfg.OperationTimeout, l.OperationTimeout)
	l.AcquireRequestTimeout = orDefault(cfg.AcquireRequestTimeout, l.AcquireRequestTimeout)
	return l
}

// PageSize maps a requested tree page size into (0, MaxTreePageSize].
func (l Limits) PageSize(requested int) int {
	if requested <= 0 {
		return l.TreePageSize
	}
	return min(requested, l.MaxTreePageSize)
}

// Controller owns the request and dataset semaphores.
type Controller struct {
	limits   Limits
	requests *semaphore.Weighted
	datasets *semaphore.Weighted
}

func NewController(limits Limits) *Controller {
	return &Controller{
		limits:   limits,
		requests: semaphore.NewWeighted(int64(limits.MaxConcurrentRequests)),
		datasets: semaphore.NewWeighted(int64(limits.MaxOpenDatasets)),
	}
}

// AcquireRequest blocks until a request slot is free or ctx ends.
func (c *Controller) AcquireRequest(ctx context.Context) error { return c.requests.Acquire(ctx, 1) }

func (c *Controller) ReleaseRequest() { c.requests.Release(1) }

// AcquireDataset blocks until a dataset slot is free or ctx ends.
func (c *Controller) AcquireDataset(ctx context.Context) error { return c.datasets.Acquire(ctx, 1) }

func (c *Controller) ReleaseDataset() { c.datasets.Release(1) }

// LimitsSnapshot returns the limits the controller was built with.
func (c *Controller) LimitsSnapshot() Limits { return c.limits }
