package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/keep/internal/filter"
)

var refTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)

func TestIsStale(t *testing.T) {
	tests := []struct {
		name      string
		tolerance time.Duration
		src, dst  time.Time
		want      bool
	}{
		{"equal", DefaultTolerance, refTime, refTime, false},
		{"within tolerance", DefaultTolerance, refTime.Add(time.Second), refTime, false},
		{"at tolerance", DefaultTolerance, refTime.Add(2 * time.Second), refTime, false},
		{"beyond tolerance", DefaultTolerance, refTime.Add(3 * time.Second), refTime, true},
		{"destination newer", DefaultTolerance, refTime, refTime.Add(time.Hour), false},
		{"zero tolerance jitter", 0, refTime.Add(time.Nanosecond), refTime, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Oracle{Tolerance: tt.tolerance}
			assert.Equal(t, tt.want, o.IsStale(tt.src, tt.dst))
		})
	}
}

func TestNewOracleDefaultTolerance(t *testing.T) {
	assert.Equal(t, DefaultTolerance, NewOracle(0).Tolerance)
	assert.Equal(t, time.Second, NewOracle(time.Second).Tolerance)
}

func TestHasChanged(t *testing.T) {
	fsys := memTree(t, "/", map[string]string{
		"src/f":   "data",
		"dst/f":   "data",
		"dst/old": "old",
	})
	require.NoError(t, fsys.Chtimes("/src/f", refTime, refTime))
	require.NoError(t, fsys.Chtimes("/dst/f", refTime, refTime))
	o := Oracle{Fs: fsys, Tolerance: DefaultTolerance}

	changed, err := o.HasChanged("/src/missing", "/dst/f")
	require.NoError(t, err)
	assert.False(t, changed, "absent source is never stale")

	changed, err = o.HasChanged("/src/f", "/dst/missing")
	require.NoError(t, err)
	assert.True(t, changed, "absent destination is always stale")

	changed, err = o.HasChanged("/src/f", "/dst/f")
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, fsys.Chtimes("/src/f", refTime, refTime.Add(time.Minute)))
	changed, err = o.HasChanged("/src/f", "/dst/f")
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestLatestModTime(t *testing.T) {
	fsys := memTree(t, "/src", map[string]string{
		"a/1":    "1",
		"skip/2": "2",
	})
	for _, p := range []string{"/src", "/src/a", "/src/a/1", "/src/skip", "/src/skip/2"} {
		require.NoError(t, fsys.Chtimes(p, refTime, refTime))
	}
	o := Oracle{Fs: fsys, Tolerance: DefaultTolerance}

	latest, err := o.LatestModTime("/src", "/src", nil)
	require.NoError(t, err)
	assert.True(t, latest.Equal(refTime))

	require.NoError(t, fsys.Chtimes("/src/skip/2", refTime, refTime.Add(time.Hour)))
	latest, err = o.LatestModTime("/src", "/src", nil)
	require.NoError(t, err)
	assert.True(t, latest.Equal(refTime.Add(time.Hour)))

	latest, err = o.LatestModTime("/src", "/src", filter.NewSpecFrom(nil, []string{"skip"}))
	require.NoError(t, err)
	assert.True(t, latest.Equal(refTime), "filtered entries do not count")

	// Directory mtimes move when excluded files come and go; only files count.
	require.NoError(t, fsys.Chtimes("/src", refTime, refTime.Add(2*time.Hour)))
	require.NoError(t, fsys.Chtimes("/src/a", refTime, refTime.Add(2*time.Hour)))
	latest, err = o.LatestModTime("/src", "/src", filter.NewSpecFrom(nil, []string{"skip"}))
	require.NoError(t, err)
	assert.True(t, latest.Equal(refTime))
}

func TestLatestModTimeNoFiles(t *testing.T) {
	fsys := memTree(t, "/src", map[string]string{"empty/": ""})

	latest, err := Oracle{Fs: fsys}.LatestModTime("/src", "/src", nil)
	require.NoError(t, err)
	assert.True(t, latest.IsZero())
}

func TestEntriesChanged(t *testing.T) {
	fsys := memTree(t, "/", map[string]string{
		"src/docs/a.txt":      "a",
		"src/docs/sub/b.txt":  "b",
		"src/docs/scratch":    "s",
		"src/docs/empty/":     "",
		"snap/docs/a.txt":     "a",
		"snap/docs/sub/b.txt": "b",
		"snap/docs/empty/":    "",
	})
	o := Oracle{Fs: fsys}
	f := filter.NewSpecFrom(nil, []string{"docs/scratch"})

	changed, err := o.EntriesChanged("/src", "/src", f, "/snap")
	require.NoError(t, err)
	assert.False(t, changed, "excluded entries are ignored")

	opts := WalkOptions{Filter: f, Order: PreOrder, IncludeDirs: true}
	info, err := fsys.Stat("/src/docs")
	require.NoError(t, err)
	_, err = WriteArchive(context.Background(), fsys,
		treeMembers(fsys, "/src/docs", "/src", "docs", info, opts), "/out/docs.tgz", refTime, ArchiveOptions{})
	require.NoError(t, err)

	changed, err = o.EntriesChanged("/src/docs", "/src", f, "/out/docs.tgz")
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, fsys.Remove("/src/docs/sub/b.txt"))
	changed, err = o.EntriesChanged("/src", "/src", f, "/snap")
	require.NoError(t, err)
	assert.True(t, changed, "removal from the snapshot tree")
	changed, err = o.EntriesChanged("/src/docs", "/src", f, "/out/docs.tgz")
	require.NoError(t, err)
	assert.True(t, changed, "removal from the archive")

	require.NoError(t, afero.WriteFile(fsys, "/out/bad.tgz", []byte("not gzip"), 0o644))
	changed, err = o.EntriesChanged("/src/docs", "/src", f, "/out/bad.tgz")
	require.NoError(t, err)
	assert.True(t, changed, "unreadable archive")
}

func TestLatestModTimeFile(t *testing.T) {
	fsys := memTree(t, "/", map[string]string{"f": "x"})
	require.NoError(t, fsys.Chtimes("/f", refTime, refTime))

	latest, err := Oracle{Fs: fsys}.LatestModTime("/f", "/", nil)
	require.NoError(t, err)
	assert.True(t, latest.Equal(refTime))
}

func TestLatestVersion(t *testing.T) {
	fsys := memTree(t, "/dst", map[string]string{
		"docs_2024_03_01_120000/":     "",
		"docs_2024_03_01_120000-1/":   "",
		"docs_2024_02_01_120000.tgz":  "x",
		"docs_garbage/":               "",
		"docsx_2025_01_01_000000/":    "",
		"other_2030_01_01_000000.tgz": "x",
	})
	o := Oracle{Fs: fsys}

	v, ok, err := o.LatestVersion("/dst", "docs")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "docs_2024_03_01_120000-1", v.Name)
	assert.Equal(t, filepath.Join("/dst", v.Name), v.Path)
	assert.Equal(t, 1, v.Seq)
	assert.True(t, v.Time.Equal(refTime))

	_, ok, err = o.LatestVersion("/dst", "nothing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = o.LatestVersion("/missing", "docs")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVersionChanged(t *testing.T) {
	fsys := memTree(t, "/", map[string]string{
		"src/f": "data",
		"dst/":  "",
	})
	for _, p := range []string{"/src", "/src/f"} {
		require.NoError(t, fsys.Chtimes(p, refTime.Add(-time.Hour), refTime.Add(-time.Hour)))
	}
	o := Oracle{Fs: fsys, Tolerance: DefaultTolerance}

	changed, err := o.VersionChanged("/src", "/dst", "src", nil)
	require.NoError(t, err)
	assert.True(t, changed, "no version yet")

	snap := filepath.Join("/dst", VersionName("src", refTime, 0))
	require.NoError(t, fsys.MkdirAll(snap, 0o755))
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(snap, "f"), []byte("data"), 0o644))
	changed, err = o.VersionChanged("/src", "/dst", "src", nil)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, fsys.Chtimes("/src/f", refTime.Add(time.Minute), refTime.Add(time.Minute)))
	changed, err = o.VersionChanged("/src", "/dst", "src", nil)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestVersionChangedRemovedEntry(t *testing.T) {
	fsys := memTree(t, "/", map[string]string{
		"src/f":    "data",
		"src/gone": "old",
	})
	for _, p := range []string{"/src", "/src/f", "/src/gone"} {
		require.NoError(t, fsys.Chtimes(p, refTime.Add(-time.Hour), refTime.Add(-time.Hour)))
	}
	snap := filepath.Join("/dst", VersionName("src", refTime, 0))
	require.NoError(t, fsys.MkdirAll(snap, 0o755))
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(snap, "f"), []byte("data"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(snap, "gone"), []byte("old"), 0o644))
	o := Oracle{Fs: fsys, Tolerance: DefaultTolerance}

	changed, err := o.VersionChanged("/src", "/dst", "src", nil)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, fsys.Remove("/src/gone"))
	changed, err = o.VersionChanged("/src", "/dst", "src", nil)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestVersionChangedMissingDestination(t *testing.T) {
	fsys := memTree(t, "/src", map[string]string{"f": "x"})

	changed, err := Oracle{Fs: fsys}.VersionChanged("/src", "/dst", "src", nil)
	require.NoError(t, err)
	assert.True(t, changed)
}
