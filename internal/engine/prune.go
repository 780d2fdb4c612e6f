package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/bamsammich/keep/internal/event"
	"github.com/bamsammich/keep/internal/filter"
)

// PruneConfig controls the mirror deletion pass.
type PruneConfig struct {
	Fs      afero.Fs
	SrcRoot string
	DstRoot string
	Filter  *filter.Spec

	// TopLevel restricts the pass to entries directly under DstRoot, where
	// a compressed mirror keeps one <child>.tgz per source child.
	TopLevel bool

	Events chan<- event.Event
	Now    func() time.Time
	Logger *slog.Logger
}

// Prune removes destination entries that no longer exist in the source,
// changed kind, or are rejected by the filter. A file <name>.tgz is kept
// while <name> is an accepted source entry, since it is that entry's
// archive. Files are removed first, then directories deepest-first.
// It returns the number of entries removed.
func Prune(ctx context.Context, cfg PruneConfig) (int, error) {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := pruner{cfg: cfg}
	srcRoot := filepath.Clean(cfg.SrcRoot)

	var files, dirs []string
	err := afero.Walk(cfg.Fs, cfg.DstRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == cfg.DstRoot {
			return nil
		}

		rel, err := filepath.Rel(cfg.DstRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		isDir := info.IsDir()

		// Never remove the source, or a directory holding it.
		if path == srcRoot {
			return filepath.SkipDir
		}
		if _, ok := within(path, srcRoot); ok {
			return nil
		}

		if !p.wanted(rel, isDir) {
			if isDir {
				dirs = append(dirs, rel)
				return filepath.SkipDir
			}
			files = append(files, rel)
			return nil
		}
		if isDir && cfg.TopLevel {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk destination for delete: %w", err)
	}

	deleted := 0
	for _, rel := range files {
		if err := p.remove(ctx, rel, cfg.Fs.Remove); err != nil {
			return deleted, err
		}
		deleted++
	}

	// Deepest first.
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, rel := range dirs {
		if err := p.remove(ctx, rel, cfg.Fs.RemoveAll); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

type pruner struct {
	cfg PruneConfig
}

func (p pruner) remove(ctx context.Context, rel string, rm func(string) error) error {
	dst := filepath.Join(p.cfg.DstRoot, filepath.FromSlash(rel))
	if err := rm(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: delete %s: %w", ErrTransfer, dst, err)
	}
	p.cfg.Logger.Debug("deleted", "path", dst)
	emitEvent(ctx, p.cfg.Events, event.Event{
		Type:      event.Deleted,
		Timestamp: p.cfg.Now(),
		Path:      rel,
		Artifact:  dst,
	})
	return nil
}

// wanted reports whether the destination entry rel still corresponds to
// an accepted source entry.
func (p pruner) wanted(rel string, dstIsDir bool) bool {
	if p.srcMatches(rel, dstIsDir) {
		return true
	}
	name, ok := strings.CutSuffix(rel, archiveExt)
	if !ok || dstIsDir {
		return false
	}
	if p.cfg.TopLevel {
		// Either kind of top-level child is archived.
		return p.srcMatches(name, true) || p.srcMatches(name, false)
	}
	return p.srcMatches(name, false)
}

func (p pruner) srcMatches(rel string, isDir bool) bool {
	src := filepath.Join(p.cfg.SrcRoot, filepath.FromSlash(rel))
	info, err := p.cfg.Fs.Stat(src)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.cfg.Logger.Warn("keeping destination entry, source unreadable", "path", src, "error", err)
			return true
		}
		return false
	}
	if info.IsDir() != isDir {
		return false
	}
	if isDir {
		return p.cfg.Filter.Descend(rel)
	}
	return p.cfg.Filter.Include(rel)
}
