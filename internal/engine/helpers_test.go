package engine

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// writeFile creates root/rel with content, creating parents as needed.
func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// listTree returns the slash-separated relative paths of everything under
// root, sorted. Directories carry a trailing slash.
func listTree(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			rel += "/"
		}
		out = append(out, rel)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(out)
	return out
}

// touchTree sets the times of root and everything below it to tm.
func touchTree(t *testing.T, root string, tm time.Time) {
	t.Helper()
	err := filepath.WalkDir(root, func(p string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Chtimes(p, tm, tm)
	})
	require.NoError(t, err)
}

// memTree builds an in-memory tree. Keys ending in "/" are directories.
func memTree(t *testing.T, root string, entries map[string]string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll(root, 0o755))
	for rel, content := range entries {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if rel[len(rel)-1] == '/' {
			require.NoError(t, fsys.MkdirAll(p, 0o755))
			continue
		}
		require.NoError(t, fsys.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, afero.WriteFile(fsys, p, []byte(content), 0o644))
	}
	return fsys
}

func mustExist(t *testing.T, p string) {
	t.Helper()
	_, err := os.Stat(p)
	require.NoError(t, err, "expected %s to exist", p)
}

func mustNotExist(t *testing.T, p string) {
	t.Helper()
	_, err := os.Stat(p)
	require.ErrorIs(t, err, fs.ErrNotExist, "expected %s to be absent", p)
}
