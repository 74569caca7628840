package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, c.NClusters)
	assert.Equal(t, 300, c.MaxIterations)
	assert.Equal(t, 50, c.HistogramResolution)
	assert.Equal(t, 100, c.FeatureResolution)
	assert.Equal(t, []float64{0.01, 0.1, 0.25, 0.5, 0.75, 0.9, 0.99}, c.Percentiles)
	assert.Equal(t, 10, c.TopFeatures)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "127.0.0.1:7100", c.ServerAddr)
	assert.NoError(t, Defaults().Validate())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("n_clusters: 6\nmetric: residual\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, c.NClusters)
	assert.Equal(t, "residual", c.Metric)

	t.Setenv("MANIFOLD_N_CLUSTERS", "3")
	c, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.NClusters)
}

func TestSaveRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	c, err := Load("")
	require.NoError(t, err)
	c.NClusters = 5
	c.Seed = 42
	require.NoError(t, Save(c, ""))
	assert.FileExists(t, filepath.Join(home, ".manifold", "config.yaml"))

	got, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("n_clusters: 0\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
