package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/keep/internal/config"
)

func TestJobValidate(t *testing.T) {
	valid := config.Job{Name: "home", Sources: []string{"/home"}, Destination: "/backup"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name string
		job  config.Job
		want string
	}{
		{"no name", config.Job{Sources: []string{"/a"}, Destination: "/b"}, "missing name"},
		{"no sources", config.Job{Name: "x", Destination: "/b"}, "no sources"},
		{"no destination", config.Job{Name: "x", Sources: []string{"/a"}}, "missing destination"},
		{"empty source", config.Job{Name: "x", Sources: []string{""}, Destination: "/b"}, "empty source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			require.ErrorIs(t, err, config.ErrInvalidJob)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWriteJobsRoundTrip(t *testing.T) {
	compress := true
	jobs := []config.Job{
		{Name: "home", Sources: []string{"/home/me"}, Destination: "/backup", Mode: "versioned", Compress: &compress},
		{Name: "etc", Sources: []string{"/etc"}, Destination: "/backup/etc", CompareTrees: true},
	}

	var buf bytes.Buffer
	require.NoError(t, config.WriteJobs(&buf, jobs))
	assert.Contains(t, buf.String(), "[[jobs]]")
	assert.NotContains(t, buf.String(), "filter_file", "empty fields are omitted")

	p := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	cfg, err := config.LoadFile(p)
	require.NoError(t, err)
	assert.Equal(t, jobs, cfg.Jobs)
}
