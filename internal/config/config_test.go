package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "lenient", cfg.Proof.DefaultParsePolicy)
	require.Equal(t, 2, cfg.Cascade.MaxScoutRetries)
	require.Equal(t, "daily", cfg.Portal.DefaultToolset)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Store.Path, cfg.Store.Path)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("proof:\n  default_parse_policy: strict\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "strict", cfg.Proof.DefaultParsePolicy)
	require.Equal(t, 2, cfg.Cascade.MaxScoutRetries) // untouched fields keep defaults
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BRANCHMIND_JOBS_MESH_V1", "1")
	t.Setenv("BRANCHMIND_PROJECT_GUARD", "tok-123")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	require.True(t, cfg.Jobs.MeshEnabled)
	require.Equal(t, "tok-123", cfg.ProjectGuard)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "config.yaml")

	cfg := DefaultConfig()
	cfg.Store.Path = "custom.db"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "custom.db", loaded.Store.Path)
}
