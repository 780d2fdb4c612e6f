package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/bamsammich/keep/internal/filter"
)

// DefaultTolerance absorbs timestamp jitter introduced by copying and by
// coarse filesystem clocks.
const DefaultTolerance = 2 * time.Second

// Oracle decides whether a destination artifact is out of date relative to
// its source by comparing modification times.
//
// Tolerance is applied as given; a zero tolerance is legal but reports
// changes on filesystems that do not round-trip timestamps exactly.
type Oracle struct {
	Fs        afero.Fs
	Tolerance time.Duration
}

// NewOracle returns an Oracle on the OS filesystem. A zero tolerance
// selects DefaultTolerance.
func NewOracle(tolerance time.Duration) Oracle {
	if tolerance == 0 {
		tolerance = DefaultTolerance
	}
	return Oracle{Fs: afero.NewOsFs(), Tolerance: tolerance}
}

func (o Oracle) fs() afero.Fs {
	if o.Fs == nil {
		return afero.NewOsFs()
	}
	return o.Fs
}

// IsStale reports whether src is newer than dst by more than the tolerance.
func (o Oracle) IsStale(src, dst time.Time) bool {
	return src.Sub(dst) > o.Tolerance
}

// HasChanged reports whether dstPath needs to be rewritten from srcPath.
// A missing source never needs copying; a missing destination always does.
func (o Oracle) HasChanged(srcPath, dstPath string) (bool, error) {
	srcInfo, err := o.fs().Stat(srcPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", srcPath, err)
	}

	dstInfo, err := o.fs().Stat(dstPath)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", dstPath, err)
	}

	return o.IsStale(srcInfo.ModTime(), dstInfo.ModTime()), nil
}

// LatestModTime returns the most recent modification time among the files
// of the filtered subtree at root, or root's own time when root is a file.
// Filter paths are relative to base. Directory times are not counted:
// adding an excluded file moves them. Removals are caught by
// EntriesChanged instead. A tree without files yields the zero time.
func (o Oracle) LatestModTime(root, base string, f *filter.Spec) (time.Time, error) {
	info, err := o.fs().Stat(root)
	if err != nil {
		return time.Time{}, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return info.ModTime(), nil
	}

	var latest time.Time
	for e, err := range Walk(o.fs(), root, base, WalkOptions{Filter: f}) {
		if err != nil {
			return time.Time{}, err
		}
		if mt := e.Info.ModTime(); mt.After(latest) {
			latest = mt
		}
	}
	return latest, nil
}

// EntriesChanged reports whether the accepted entries under root differ
// from those held by artifact, a .tgz container or a snapshot directory.
// Names are relative to base; when root lies below base, root itself is
// expected as a directory member. An unreadable artifact counts as
// changed.
func (o Oracle) EntriesChanged(root, base string, f *filter.Spec, artifact string) (bool, error) {
	want, err := o.entries(root, base, f)
	if err != nil {
		return false, err
	}
	if rel, err := filepath.Rel(base, root); err == nil && rel != "." {
		if rel = filepath.ToSlash(rel); f.Include(rel) {
			want = append(want, rel)
		}
	}

	var have []string
	if strings.HasSuffix(artifact, archiveExt) {
		have, err = ListArchive(o.fs(), artifact)
	} else {
		have, err = o.entries(artifact, artifact, f)
	}
	if err != nil {
		return true, nil
	}

	slices.Sort(want)
	slices.Sort(have)
	return !slices.Equal(want, have), nil
}

// entries returns the relative names of every accepted entry under root,
// directories included.
func (o Oracle) entries(root, base string, f *filter.Spec) ([]string, error) {
	var names []string
	for e, err := range Walk(o.fs(), root, base, WalkOptions{Filter: f, IncludeDirs: true}) {
		if err != nil {
			return nil, err
		}
		names = append(names, e.Rel)
	}
	return names, nil
}

// LatestVersion returns the most recent snapshot for base under dstRoot.
// The boolean is false when dstRoot is missing or holds no snapshot.
func (o Oracle) LatestVersion(dstRoot, base string) (Version, bool, error) {
	infos, err := afero.ReadDir(o.fs(), dstRoot)
	if errors.Is(err, fs.ErrNotExist) {
		return Version{}, false, nil
	}
	if err != nil {
		return Version{}, false, fmt.Errorf("list versions in %s: %w", dstRoot, err)
	}

	var latest Version
	found := false
	for _, info := range infos {
		v, ok := ParseVersion(base, info.Name())
		if !ok {
			continue
		}
		if !found || v.After(latest) {
			latest = v
			found = true
		}
	}
	if found {
		latest.Path = filepath.Join(dstRoot, latest.Name)
	}
	return latest, found, nil
}

// VersionChanged reports whether the filtered tree at src differs from the
// latest snapshot of base in dstRoot: a file is newer than the snapshot
// time, or an entry was added or removed. No snapshot means changed.
func (o Oracle) VersionChanged(src, dstRoot, base string, f *filter.Spec) (bool, error) {
	v, ok, err := o.LatestVersion(dstRoot, base)
	if err != nil || !ok {
		return true, err
	}
	latest, err := o.LatestModTime(src, src, f)
	if err != nil {
		return false, err
	}
	if o.IsStale(latest, v.Time) {
		return true, nil
	}
	return o.EntriesChanged(src, src, f, v.Path)
}
