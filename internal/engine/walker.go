package engine

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/bamsammich/keep/internal/filter"
)

// Order selects where a directory is yielded relative to its children.
type Order int

const (
	PreOrder  Order = iota // directory before its children
	PostOrder              // directory after its children
)

// WalkOptions controls which entries Walk yields.
type WalkOptions struct {
	Filter *filter.Spec
	Order  Order

	// IncludeDirs yields every accepted directory at its order position.
	IncludeDirs bool

	// IncludeEmptyDirs yields accepted directories that are empty on disk
	// even when IncludeDirs is false.
	IncludeEmptyDirs bool
}

// Walk lazily enumerates the tree under root. Entry.Rel is computed against
// base, which must be root or one of its ancestors. Entries rejected by the
// filter are pruned together with their subtree, except that directories
// leading to an include prefix are still descended without being yielded.
//
// Symlinks to regular files are followed. Other symlinks and special files
// are skipped. A read error is yielded once and ends the walk.
func Walk(fsys afero.Fs, root, base string, opts WalkOptions) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		w := &walker{fsys: fsys, base: base, opts: opts, yield: yield}
		infos, err := afero.ReadDir(fsys, root)
		if err != nil {
			yield(Entry{}, fmt.Errorf("read dir %s: %w", root, err))
			return
		}
		w.children(root, infos)
	}
}

type walker struct {
	fsys  afero.Fs
	base  string
	opts  WalkOptions
	yield func(Entry, error) bool
}

// children visits a directory listing. It returns false once the consumer
// has stopped or an error was yielded.
func (w *walker) children(dir string, infos []os.FileInfo) bool {
	for _, info := range infos {
		p := filepath.Join(dir, info.Name())
		rel, err := filepath.Rel(w.base, p)
		if err != nil {
			w.yield(Entry{}, fmt.Errorf("relative path %s: %w", p, err))
			return false
		}
		rel = filepath.ToSlash(rel)

		info, ok := resolveInfo(w.fsys, p, info)
		if !ok {
			continue
		}

		if info.IsDir() {
			if !w.opts.Filter.Descend(rel) {
				continue
			}
			if !w.dir(p, rel, info) {
				return false
			}
			continue
		}

		if !w.opts.Filter.Include(rel) {
			continue
		}
		if !w.yield(Entry{Rel: rel, Path: p, Kind: KindFile, Info: info}, nil) {
			return false
		}
	}
	return true
}

func (w *walker) dir(p, rel string, info os.FileInfo) bool {
	infos, err := afero.ReadDir(w.fsys, p)
	if err != nil {
		w.yield(Entry{}, fmt.Errorf("read dir %s: %w", p, err))
		return false
	}

	e := Entry{Rel: rel, Path: p, Kind: KindDir, Empty: len(infos) == 0, Info: info}
	emit := w.opts.Filter.Include(rel) &&
		(w.opts.IncludeDirs || (e.Empty && w.opts.IncludeEmptyDirs))

	if emit && w.opts.Order == PreOrder {
		if !w.yield(e, nil) {
			return false
		}
	}
	if !w.children(p, infos) {
		return false
	}
	if emit && w.opts.Order == PostOrder {
		return w.yield(e, nil)
	}
	return true
}

// resolveInfo returns the info to act on for a listed entry, following
// symlinks to regular files.
func resolveInfo(fsys afero.Fs, p string, info os.FileInfo) (os.FileInfo, bool) {
	mode := info.Mode()
	switch {
	case mode.IsDir(), mode.IsRegular():
		return info, true
	case mode&os.ModeSymlink != 0:
		target, err := fsys.Stat(p)
		if err != nil || !target.Mode().IsRegular() {
			return nil, false
		}
		return target, true
	default:
		return nil, false
	}
}
