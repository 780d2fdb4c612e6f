package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/keep/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv(config.EnvPath, "")

	configDir := filepath.Join(dir, "keep")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	p := filepath.Join(configDir, "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(config.EnvPath, "")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.Defaults.Verify)
	assert.Nil(t, cfg.Defaults.Workers)
	assert.Empty(t, cfg.Jobs)
}

func TestLoad_FullConfig(t *testing.T) {
	writeConfig(t, `
[defaults]
workers = 16
tolerance = "5s"
compress = false
multithread = true
verify = true
threshold = "64M"
bwlimit = "100MB"

[[jobs]]
name = "home"
sources = ["/home/me/docs", "/home/me/notes.txt"]
destination = "/mnt/backup"
mode = "versioned"
exclude = ["cache"]
compress = true

[[jobs]]
name = "photos"
sources = ["/srv/photos"]
destination = "/mnt/photos"
compare_trees = true
`)

	cfg, err := config.Load()
	require.NoError(t, err)

	require.NotNil(t, cfg.Defaults.Workers)
	assert.Equal(t, 16, *cfg.Defaults.Workers)
	require.NotNil(t, cfg.Defaults.Tolerance)
	assert.Equal(t, "5s", *cfg.Defaults.Tolerance)
	require.NotNil(t, cfg.Defaults.Compress)
	assert.False(t, *cfg.Defaults.Compress)
	require.NotNil(t, cfg.Defaults.Multithread)
	assert.True(t, *cfg.Defaults.Multithread)
	require.NotNil(t, cfg.Defaults.Verify)
	assert.True(t, *cfg.Defaults.Verify)
	require.NotNil(t, cfg.Defaults.Threshold)
	assert.Equal(t, "64M", *cfg.Defaults.Threshold)
	require.NotNil(t, cfg.Defaults.BWLimit)
	assert.Equal(t, "100MB", *cfg.Defaults.BWLimit)

	require.Len(t, cfg.Jobs, 2)
	home, ok := cfg.Job("home")
	require.True(t, ok)
	assert.Equal(t, []string{"/home/me/docs", "/home/me/notes.txt"}, home.Sources)
	assert.Equal(t, "versioned", home.Mode)
	assert.Equal(t, []string{"cache"}, home.Exclude)
	require.NotNil(t, home.Compress)
	assert.True(t, *home.Compress)
	assert.Nil(t, home.Multithread)

	photos, ok := cfg.Job("photos")
	require.True(t, ok)
	assert.True(t, photos.CompareTrees)

	_, ok = cfg.Job("nope")
	assert.False(t, ok)
}

func TestLoad_PartialConfig(t *testing.T) {
	writeConfig(t, `
[defaults]
workers = 2
`)

	cfg, err := config.Load()
	require.NoError(t, err)

	require.NotNil(t, cfg.Defaults.Workers)
	assert.Equal(t, 2, *cfg.Defaults.Workers)
	// Unset fields should remain nil.
	assert.Nil(t, cfg.Defaults.Verify)
	assert.Nil(t, cfg.Defaults.Tolerance)
	assert.Empty(t, cfg.Jobs)
}

func TestLoad_InvalidTOML(t *testing.T) {
	writeConfig(t, "invalid [[[")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_UnknownKey(t *testing.T) {
	writeConfig(t, `
[defaults]
tui = true
`)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defaults.tui")
}

func TestPath(t *testing.T) {
	t.Setenv(config.EnvPath, "")
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/keep/config.toml", config.Path())
}

func TestPath_EnvOverride(t *testing.T) {
	t.Setenv(config.EnvPath, "/etc/keep.toml")
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/etc/keep.toml", config.Path())
}

func TestLoad_EnvOverride(t *testing.T) {
	p := filepath.Join(t.TempDir(), "other.toml")
	require.NoError(t, os.WriteFile(p, []byte("[defaults]\nverify = true\n"), 0o644))
	t.Setenv(config.EnvPath, p)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.Defaults.Verify)
	assert.True(t, *cfg.Defaults.Verify)
}
