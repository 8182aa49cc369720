package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
max_open_datasets: 2
operation_timeout: 45s
model: gpt-4o
allowed_dirs:
  - /data/a
  - /data/b
elasticity:
  max: 1.5
levers:
  - id: AvgAUM
    name: Average AUM
  - id: Price
    min: -10
    max: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leverlab.yaml"), []byte(yaml), 0o644))
	t.Setenv("LEVERLAB_MAX_OPEN_DATASETS", "7")
	t.Setenv("LEVERLAB_TELEMETRY_ENDPOINT", "localhost:4317")
	t.Setenv("LEVERLAB_MODEL_CONTEXT_SHARE", "0.5")

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.MaxOpenDatasets, "env overrides file")
	require.Equal(t, 45*time.Second, cfg.OperationTimeout)
	require.Equal(t, []string{"/data/a", "/data/b"}, cfg.AllowedDirs)
	require.Equal(t, 1.5, cfg.Elasticity.Max)
	require.Equal(t, DefaultElasticityMin, cfg.Elasticity.Min)
	require.Equal(t, "localhost:4317", cfg.Telemetry.Endpoint)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, "gpt-4o", cfg.Model)
	require.Equal(t, 0.5, cfg.ModelContextShare)

	require.Len(t, cfg.Levers, 2)
	require.Equal(t, Lever{ID: "AvgAUM", Name: "Average AUM", Field: "AvgAUM", Min: DefaultLeverMin, Max: DefaultLeverMax}, cfg.Levers[0])
	require.Equal(t, -10.0, cfg.Levers[1].Min)
	require.Equal(t, "Price", cfg.Levers[1].Field)
}

func TestLoad_ExplicitFileAndBadBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("elasticity:\n  min: 3\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("model_context_share: 1.5\n"), 0o644))
	_, err = Load(path)
	require.ErrorContains(t, err, "model_context_share")
}

func TestDirList(t *testing.T) {
	sep := string(filepath.ListSeparator)
	require.Equal(t, []string{"/a", "/b"}, dirList("/a"+sep+" "+sep+"/b"))
	require.Equal(t, []string{"x"}, dirList([]any{"x", " "}))
	require.Empty(t, dirList(nil))
}
