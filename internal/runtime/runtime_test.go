package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/leverlab/config"
)

func TestControllerAcquireRelease(t *testing.T) {
	limits := NewLimits(1, 1)
	controller := NewController(limits)

	require.Equal(t, limits, controller.LimitsSnapshot())

	require.NoError(t, controller.AcquireRequest(context.Background()))
	controller.ReleaseRequest()

	require.NoError(t, controller.AcquireDataset(context.Background()))
	controller.ReleaseDataset()
}

func TestControllerDatasetSlotsBounded(t *testing.T) {
	controller := NewController(NewLimits(1, 1))
	require.NoError(t, controller.AcquireDataset(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, controller.AcquireDataset(ctx))

	controller.ReleaseDataset()
	require.NoError(t, controller.AcquireDataset(context.Background()))
}

func TestNewLimitsFallbacks(t *testing.T) {
	l := NewLimits(0, -1)
	require.Equal(t, config.DefaultMaxConcurrentRequests, l.MaxConcurrentRequests)
	require.Equal(t, config.DefaultMaxOpenDatasets, l.MaxOpenDatasets)
}

func TestLimitsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MaxOpenDatasets = 9
	cfg.OperationTimeout = 5 * time.Second
	cfg.MaxFileBytes = 0

	l := LimitsFromConfig(cfg)
	require.Equal(t, 9, l.MaxOpenDatasets)
	require.Equal(t, 5*time.Second, l.OperationTimeout)
	require.Equal(t, int64(config.DefaultMaxFileBytes), l.MaxFileBytes)
}

func TestLimitsPageSize(t *testing.T) {
	l := NewLimits(1, 1)
	require.Equal(t, config.DefaultTreePageSize, l.PageSize(0))
	require.Equal(t, 10, l.PageSize(10))
	require.Equal(t, config.DefaultMaxTreePageSize, l.PageSize(1_000_000))
}
