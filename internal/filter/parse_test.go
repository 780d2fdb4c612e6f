package filter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	filterFile := filepath.Join(dir, "filter.rules")

	content := `# This is a comment
+ src
- build

noprefix
`
	require.NoError(t, os.WriteFile(filterFile, []byte(content), 0o644))

	s := NewSpec()
	require.NoError(t, s.LoadFile(filterFile))

	assert.Equal(t, []string{"src"}, s.Includes())
	assert.Equal(t, []string{"build", "noprefix"}, s.Excludes())

	// includes win: excludes are never consulted.
	assert.True(t, s.Include("src/main.go"))
	assert.False(t, s.Include("build"))
}

func TestLoadFileEmpty(t *testing.T) {
	dir := t.TempDir()
	filterFile := filepath.Join(dir, "empty.rules")
	require.NoError(t, os.WriteFile(filterFile, []byte("# only comments\n\n"), 0o644))

	s := NewSpec()
	require.NoError(t, s.LoadFile(filterFile))
	assert.True(t, s.Empty())
}

func TestLoadFileNotExists(t *testing.T) {
	s := NewSpec()
	assert.Error(t, s.LoadFile("/nonexistent/path"))
}

func TestLoadFileBareSign(t *testing.T) {
	dir := t.TempDir()
	filterFile := filepath.Join(dir, "bare.rules")
	require.NoError(t, os.WriteFile(filterFile, []byte("+ \n"), 0o644))

	// "+ " trims to "+", which is read as a bare exclude.
	s := NewSpec()
	require.NoError(t, s.LoadFile(filterFile))
	assert.Equal(t, []string{"+"}, s.Excludes())
}
