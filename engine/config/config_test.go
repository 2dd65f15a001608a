package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), cfg.FramesInFlight)
	assert.Equal(t, uint64(12*1024*1024), cfg.StagingRingSize)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renderer.toml")
	require.NoError(t, os.WriteFile(path, []byte(
		"frames_in_flight = 3\nstaging_ring_size = 1024\nenable_validation = true\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), cfg.FramesInFlight)
	assert.Equal(t, uint64(1024), cfg.StagingRingSize)
	assert.True(t, cfg.EnableValidation)
	// Untouched fields keep defaults.
	assert.Equal(t, uint64(512*1024), cfg.UniformRingSize)
}

func TestLoadRejectsMalformedToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "renderer.toml")
	require.NoError(t, os.WriteFile(path, []byte("frames_in_flight = [[["), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
