package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/bamsammich/keep/internal/event"
	"github.com/bamsammich/keep/internal/filter"
	"github.com/bamsammich/keep/internal/stats"
)

// Mode selects how a directory source is reconciled into the destination.
type Mode int

const (
	ModeMirror Mode = iota
	ModeVersioned
	ModeSingleFile
)

var modeNames = [...]string{
	ModeMirror:     "mirror",
	ModeVersioned:  "versioned",
	ModeSingleFile: "single-file",
}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses a mode name as printed by Mode.String.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, s)
}

// State is a reconciler state. Every run starts in StateNotStarted and ends
// in StateDone or StateFailed.
type State int

const (
	StateNotStarted State = iota
	StateChoosingStrategy
	StateSkipped
	StateTransferring
	StateArchiving
	StateDeleting
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateNotStarted:       "NotStarted",
	StateChoosingStrategy: "ChoosingStrategy",
	StateSkipped:          "Skipped",
	StateTransferring:     "Transferring",
	StateArchiving:        "Archiving",
	StateDeleting:         "Deleting",
	StateDone:             "Done",
	StateFailed:           "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Outcome tags a successful run.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeUpToDate
	OutcomeTransferred
	OutcomeArchived
	OutcomeVersionCreated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpToDate:
		return "up to date"
	case OutcomeTransferred:
		return "transferred"
	case OutcomeArchived:
		return "archived"
	case OutcomeVersionCreated:
		return "version created"
	default:
		return "none"
	}
}

// Config describes one backup target. It is not modified by Run.
type Config struct {
	Src  string
	Dst  string
	Mode Mode

	Filter       *filter.Spec
	Compress     bool
	Force        bool
	Multithread  bool
	Workers      int           // leaf transfer goroutines; 0 means runtime.NumCPU()
	Threshold    int64         // files larger than this are archived individually; 0 disables
	BaseName     string        // snapshot and single-file artifact name; defaults to the source base name
	CompareTrees bool          // mirror only: delete destination entries missing from the source
	Tolerance    time.Duration // 0 means DefaultTolerance
	Verify       bool
	BWLimit      int64 // bytes per second; 0 means unlimited

	Clock  clockwork.Clock
	Logger *slog.Logger
	Events chan<- event.Event
	Stats  *stats.Collector
}

// Validate checks option combinations without touching the filesystem.
func (c Config) Validate() error {
	switch {
	case c.Src == "":
		return fmt.Errorf("%w: source path is required", ErrInvalidConfig)
	case c.Dst == "":
		return fmt.Errorf("%w: destination path is required", ErrInvalidConfig)
	case c.Compress && c.Multithread:
		return fmt.Errorf("%w: compress and multithread are mutually exclusive", ErrInvalidConfig)
	case c.Mode < ModeMirror || c.Mode > ModeSingleFile:
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidConfig, int(c.Mode))
	case c.Threshold < 0:
		return fmt.Errorf("%w: negative threshold %d", ErrInvalidConfig, c.Threshold)
	case c.Tolerance < 0:
		return fmt.Errorf("%w: negative tolerance %s", ErrInvalidConfig, c.Tolerance)
	case c.Workers < 0:
		return fmt.Errorf("%w: negative worker count %d", ErrInvalidConfig, c.Workers)
	case c.BWLimit < 0:
		return fmt.Errorf("%w: negative bandwidth limit %d", ErrInvalidConfig, c.BWLimit)
	case c.BaseName == "." || c.BaseName == ".." || strings.ContainsAny(c.BaseName, `/\`):
		return fmt.Errorf("%w: invalid base name %q", ErrInvalidConfig, c.BaseName)
	}
	return nil
}

// Result is the outcome of one run.
type Result struct {
	State       State
	Transitions []State
	Outcome     Outcome
	Artifact    string // directory or archive written or found current; empty if none
	Stats       stats.Snapshot
	Verify      VerifyResult
	Err         error
}

// Run reconciles cfg.Src into cfg.Dst, blocking until complete.
func Run(ctx context.Context, cfg Config) Result {
	r := newRun(cfg)
	if err := cfg.Validate(); err != nil {
		return r.finish(ctx, err)
	}

	r.transition(StateChoosingStrategy)
	r.emit(ctx, event.Event{Type: event.TargetStarted, Path: r.cfg.Src})

	info, err := os.Stat(r.cfg.Src)
	if errors.Is(err, fs.ErrNotExist) {
		return r.finish(ctx, fmt.Errorf("%w: %s", ErrSourceNotFound, r.cfg.Src))
	}
	if err != nil {
		return r.finish(ctx, fmt.Errorf("stat source %s: %w", r.cfg.Src, err))
	}
	if err := r.checkSource(info); err != nil {
		return r.finish(ctx, err)
	}

	if err := os.MkdirAll(r.cfg.Dst, 0o755); err != nil {
		return r.finish(ctx, fmt.Errorf("%w: create destination %s: %w", ErrTransfer, r.cfg.Dst, err))
	}

	switch {
	case !info.IsDir():
		r.log.Debug("strategy", "mode", ModeSingleFile, "compress", r.cfg.Compress)
		err = r.singleFile(ctx, info)
	case r.cfg.Mode == ModeVersioned:
		r.log.Debug("strategy", "mode", ModeVersioned, "compress", r.cfg.Compress)
		err = r.versioned(ctx)
	default:
		r.log.Debug("strategy", "mode", ModeMirror, "compress", r.cfg.Compress,
			"compare_trees", r.cfg.CompareTrees, "multithread", r.cfg.Multithread)
		err = r.mirror(ctx)
	}

	if err == nil && r.cfg.Verify {
		err = r.verify(ctx)
	}
	return r.finish(ctx, err)
}

type archiveCheck struct {
	path    string
	srcRoot string
}

type run struct {
	cfg    Config
	fs     afero.Fs
	oracle Oracle
	xfer   *Transferer
	stats  *stats.Collector
	log    *slog.Logger
	res    Result

	mutated atomic.Bool

	mu       sync.Mutex
	copied   []CopiedFile
	archives []archiveCheck
}

func newRun(cfg Config) *run {
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}

	osFs := afero.NewOsFs()
	xfer := &Transferer{}
	if cfg.BWLimit > 0 {
		xfer.Limiter = NewBWLimiter(cfg.BWLimit)
	}
	return &run{
		cfg:    cfg,
		fs:     osFs,
		oracle: Oracle{Fs: osFs, Tolerance: cfg.Tolerance},
		xfer:   xfer,
		stats:  cfg.Stats,
		log:    cfg.Logger.With("source", cfg.Src),
		res:    Result{State: StateNotStarted, Transitions: []State{StateNotStarted}},
	}
}

// checkSource rejects sources the selected mode cannot handle, and
// destinations that would be copied into themselves.
func (r *run) checkSource(info os.FileInfo) error {
	if !info.IsDir() && !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file or directory", ErrInvalidConfig, r.cfg.Src)
	}
	if info.IsDir() && r.cfg.Mode == ModeSingleFile {
		return fmt.Errorf("%w: single-file mode needs a file source, %s is a directory", ErrInvalidConfig, r.cfg.Src)
	}
	if !info.IsDir() {
		return nil
	}

	absSrc, err := filepath.Abs(r.cfg.Src)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", r.cfg.Src, err)
	}
	absDst, err := filepath.Abs(r.cfg.Dst)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", r.cfg.Dst, err)
	}
	if rel, ok := within(absSrc, absDst); ok {
		if rel == "." || r.cfg.Filter.Descend(filepath.ToSlash(rel)) {
			return fmt.Errorf("%w: destination %s is inside source %s", ErrInvalidConfig, r.cfg.Dst, r.cfg.Src)
		}
	}
	// A mirror of a source nested in its destination would write into,
	// and prune, the source itself.
	if _, ok := within(absDst, absSrc); ok && r.cfg.Mode == ModeMirror {
		return fmt.Errorf("%w: source %s is inside destination %s", ErrInvalidConfig, r.cfg.Src, r.cfg.Dst)
	}
	return nil
}

// within reports whether p is root or lies below it, with p relative to root.
func within(root, p string) (string, bool) {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func (r *run) transition(s State) {
	r.log.Debug("state", "from", r.res.State, "to", s)
	r.res.State = s
	r.res.Transitions = append(r.res.Transitions, s)
}

func (r *run) emit(ctx context.Context, e event.Event) {
	e.Timestamp = r.cfg.Clock.Now()
	emitEvent(ctx, r.cfg.Events, e)
}

func (r *run) finish(ctx context.Context, err error) Result {
	r.res.Stats = r.stats.Snapshot()
	if err != nil {
		r.transition(StateFailed)
		r.res.Err = err
		typ := event.TargetFailed
		if errors.Is(err, ErrSourceNotFound) {
			typ = event.TargetNotFound
		}
		r.log.Debug("run failed", "error", err)
		r.emit(ctx, event.Event{Type: typ, Path: r.cfg.Src, Error: err})
		return r.res
	}

	r.transition(StateDone)
	typ := event.TargetDone
	if r.res.Outcome == OutcomeUpToDate {
		typ = event.TargetUpToDate
	}
	r.log.Debug("run done", "outcome", r.res.Outcome, "artifact", r.res.Artifact)
	r.emit(ctx, event.Event{Type: typ, Path: r.cfg.Src, Artifact: r.res.Artifact})
	return r.res
}

func (r *run) skip() {
	r.transition(StateSkipped)
	r.res.Outcome = OutcomeUpToDate
	r.stats.AddFilesUpToDate(1)
}

// changed reports whether artifact must be rewritten from src.
func (r *run) changed(src, artifact string) (bool, error) {
	if r.cfg.Force {
		return true, nil
	}
	return r.oracle.HasChanged(src, artifact)
}

// promote reports whether a file of the given size is archived on its own.
func (r *run) promote(size int64) bool {
	return r.cfg.Threshold > 0 && size > r.cfg.Threshold
}

func (r *run) baseName() string {
	if r.cfg.BaseName != "" {
		return r.cfg.BaseName
	}
	return filepath.Base(filepath.Clean(r.cfg.Src))
}

func (r *run) singleFile(ctx context.Context, info os.FileInfo) error {
	name := r.baseName()
	archive := r.cfg.Compress || r.promote(info.Size())

	artifact := filepath.Join(r.cfg.Dst, name)
	other := artifact + archiveExt
	if archive {
		artifact, other = other, artifact
	}
	r.res.Artifact = artifact

	changed, err := r.changed(r.cfg.Src, artifact)
	if err != nil {
		return err
	}
	if !changed {
		r.skip()
		return nil
	}
	if err := r.removeArtifact(ctx, name, other); err != nil {
		return err
	}

	e := Entry{Rel: name, Path: r.cfg.Src, Kind: KindFile, Info: info}
	if archive {
		r.transition(StateArchiving)
		r.res.Outcome = OutcomeArchived
		return r.archiveFile(ctx, e, artifact)
	}
	r.transition(StateTransferring)
	r.res.Outcome = OutcomeTransferred
	return r.copyFile(ctx, 0, e, artifact)
}

func (r *run) mirror(ctx context.Context) error {
	r.res.Artifact = r.cfg.Dst

	if r.cfg.CompareTrees {
		r.transition(StateDeleting)
		n, err := Prune(ctx, PruneConfig{
			Fs:       r.fs,
			SrcRoot:  r.cfg.Src,
			DstRoot:  r.cfg.Dst,
			Filter:   r.cfg.Filter,
			TopLevel: r.cfg.Compress,
			Events:   r.cfg.Events,
			Now:      r.cfg.Clock.Now,
			Logger:   r.log,
		})
		r.stats.AddDeleted(int64(n))
		if n > 0 {
			r.mutated.Store(true)
		}
		if err != nil {
			return err
		}
	}

	var err error
	outcome := OutcomeTransferred
	if r.cfg.Compress {
		r.transition(StateArchiving)
		outcome = OutcomeArchived
		err = r.archiveChildren(ctx)
	} else {
		r.transition(StateTransferring)
		err = r.copyTree(ctx, r.cfg.Src, r.cfg.Dst, true)
	}
	if err != nil {
		return err
	}

	if r.mutated.Load() {
		r.res.Outcome = outcome
	} else {
		r.res.Outcome = OutcomeUpToDate
	}
	return nil
}

// copyTree mirrors the filtered tree under srcRoot into dstRoot. When
// incremental is false every file is written without a staleness check.
// Directories are created in walk order before any of their children is
// dispatched; files go through the worker pool. Once the pool has drained,
// a post-order pass stamps directories again, since writing children moves
// their mtime.
func (r *run) copyTree(ctx context.Context, srcRoot, dstRoot string, incremental bool) error {
	workers := 1
	if r.cfg.Multithread {
		workers = r.cfg.Workers
	}
	dispatch, wait := r.dispatcher(ctx, workers, incremental)

	var dirErrs []error
	var walkErr error
	opts := WalkOptions{Filter: r.cfg.Filter, Order: PreOrder, IncludeDirs: true}
	for e, err := range Walk(r.fs, srcRoot, srcRoot, opts) {
		if err != nil {
			walkErr = fmt.Errorf("%w: %w", ErrTransfer, err)
			break
		}
		task := leafTask{entry: e, dstPath: filepath.Join(dstRoot, filepath.FromSlash(e.Rel))}
		if e.Kind == KindDir {
			if ctx.Err() != nil {
				break
			}
			if err := r.stampDir(ctx, 0, task); err != nil {
				dirErrs = append(dirErrs, err)
			}
			continue
		}
		if !dispatch(task) {
			break
		}
	}

	errs := dirErrs
	errs = append(errs, wait()...)
	if walkErr != nil {
		errs = append([]error{walkErr}, errs...)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if walkErr == nil && len(dirErrs) == 0 {
		errs = append(errs, r.restampDirs(ctx, srcRoot, dstRoot)...)
	}
	return firstError(errs)
}

// restampDirs reapplies source metadata to every non-empty directory,
// children before parents.
func (r *run) restampDirs(ctx context.Context, srcRoot, dstRoot string) []error {
	var errs []error
	opts := WalkOptions{Filter: r.cfg.Filter, Order: PostOrder, IncludeDirs: true}
	for e, err := range Walk(r.fs, srcRoot, srcRoot, opts) {
		if err != nil {
			return append(errs, fmt.Errorf("%w: %w", ErrTransfer, err))
		}
		if e.Kind != KindDir || e.Empty {
			continue
		}
		task := leafTask{entry: e, dstPath: filepath.Join(dstRoot, filepath.FromSlash(e.Rel))}
		if err := r.stampDir(ctx, 0, task); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// dispatcher returns a function submitting a leaf task and a function
// waiting for all submitted tasks. With one worker, tasks run inline in
// walk order.
func (r *run) dispatcher(
	ctx context.Context,
	workers int,
	incremental bool,
) (func(leafTask) bool, func() []error) {
	process := func(ctx context.Context, workerID int, t leafTask) error {
		return r.syncFile(ctx, workerID, t, incremental)
	}

	if workers <= 1 {
		var errs []error
		submit := func(t leafTask) bool {
			if ctx.Err() != nil {
				return false
			}
			if err := process(ctx, 0, t); err != nil {
				errs = append(errs, err)
			}
			return true
		}
		return submit, func() []error { return errs }
	}

	tasks := make(chan leafTask, workers*2)
	done := make(chan []error, 1)
	pool := workerPool{numWorkers: workers, process: process}
	go func() { done <- pool.Run(ctx, tasks) }()

	submit := func(t leafTask) bool {
		select {
		case tasks <- t:
			return true
		case <-ctx.Done():
			return false
		}
	}
	wait := func() []error {
		close(tasks)
		return <-done
	}
	return submit, wait
}

func (r *run) stampDir(ctx context.Context, workerID int, t leafTask) error {
	res, err := r.xfer.Transfer(ctx, t.entry.Path, t.dstPath)
	if err != nil {
		r.entryFailed(ctx, workerID, t.entry, t.dstPath, err)
		return err
	}
	if res.RecoveredParent {
		r.log.Debug("created missing parent", "path", t.dstPath)
	}
	if res.CreatedDir {
		r.mutated.Store(true)
		r.stats.AddDirsCreated(1)
		r.emit(ctx, event.Event{Type: event.DirCreated, Path: t.entry.Rel, Artifact: t.dstPath, WorkerID: workerID})
	}
	return nil
}

// syncFile writes one file, or its single-member archive when it exceeds
// the threshold. The artifact of the other kind is removed before writing
// unless it belongs to another source entry.
func (r *run) syncFile(ctx context.Context, workerID int, t leafTask, incremental bool) error {
	e := t.entry
	archive := r.promote(e.Info.Size())
	artifact, other := t.dstPath, t.dstPath+archiveExt
	if archive {
		artifact, other = other, artifact
	}

	if incremental {
		changed, err := r.changed(e.Path, artifact)
		if err != nil {
			r.entryFailed(ctx, workerID, e, artifact, err)
			return err
		}
		if !changed {
			r.stats.AddFilesUpToDate(1)
			r.emit(ctx, event.Event{Type: event.FileUpToDate, Path: e.Rel, Artifact: artifact, WorkerID: workerID})
			return nil
		}
		if archive || !r.ownsTwin(e) {
			if err := r.removeArtifact(ctx, e.Rel, other); err != nil {
				r.entryFailed(ctx, workerID, e, other, err)
				return err
			}
		}
	}

	if archive {
		return r.archiveFile(ctx, e, artifact)
	}
	return r.copyFile(ctx, workerID, e, artifact)
}

// ownsTwin reports whether the source holds an accepted file named like
// e plus the archive suffix, whose plain copy is the <name>.tgz next to
// e's destination.
func (r *run) ownsTwin(e Entry) bool {
	info, err := r.fs.Stat(e.Path + archiveExt)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return r.cfg.Filter.Include(e.Rel + archiveExt)
}

func (r *run) copyFile(ctx context.Context, workerID int, e Entry, dstPath string) error {
	res, err := r.xfer.Transfer(ctx, e.Path, dstPath)
	if err != nil {
		r.entryFailed(ctx, workerID, e, dstPath, err)
		return err
	}
	if res.RecoveredParent {
		r.log.Debug("created missing parent", "path", dstPath)
	}
	r.mutated.Store(true)
	r.stats.AddFilesCopied(1)
	r.stats.AddBytesCopied(res.Bytes)
	r.record(CopiedFile{Rel: e.Rel, SrcPath: e.Path, DstPath: dstPath})
	r.emit(ctx, event.Event{
		Type:     event.FileCopied,
		Path:     e.Rel,
		Artifact: dstPath,
		Size:     res.Bytes,
		WorkerID: workerID,
	})
	return nil
}

func (r *run) archiveFile(ctx context.Context, e Entry, artifact string) error {
	members := singleMember(e.Path, filepath.Base(e.Path), e.Info)
	res, err := WriteArchive(ctx, r.fs, members, artifact, e.Info.ModTime(), ArchiveOptions{})
	if err != nil {
		r.entryFailed(ctx, 0, e, artifact, err)
		return err
	}
	r.archived(ctx, e.Rel, res, filepath.Dir(e.Path))
	return nil
}

func (r *run) archived(ctx context.Context, rel string, res ArchiveResult, srcRoot string) {
	r.mutated.Store(true)
	r.stats.AddArchivesWritten(1)
	r.stats.AddArchiveMembers(int64(res.Members))
	r.stats.AddBytesCopied(res.Bytes)
	r.mu.Lock()
	r.archives = append(r.archives, archiveCheck{path: res.Path, srcRoot: srcRoot})
	r.mu.Unlock()
	r.emit(ctx, event.Event{Type: event.ArchiveWritten, Path: rel, Artifact: res.Path, Size: res.Bytes})
}

func (r *run) record(f CopiedFile) {
	r.mu.Lock()
	r.copied = append(r.copied, f)
	r.mu.Unlock()
}

func (r *run) entryFailed(ctx context.Context, workerID int, e Entry, artifact string, err error) {
	r.stats.AddFilesFailed(1)
	r.log.Warn("entry failed", "path", e.Rel, "artifact", artifact, "error", err)
	r.emit(ctx, event.Event{
		Type:     event.FileFailed,
		Path:     e.Rel,
		Artifact: artifact,
		Error:    err,
		WorkerID: workerID,
	})
}

// removeArtifact deletes the artifact at p, file or tree, if present.
func (r *run) removeArtifact(ctx context.Context, rel, p string) error {
	if _, err := r.fs.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := r.fs.RemoveAll(p); err != nil {
		return fmt.Errorf("%w: remove %s: %w", ErrTransfer, p, err)
	}
	r.log.Debug("removed artifact of other kind", "path", p)
	r.mutated.Store(true)
	r.stats.AddDeleted(1)
	r.emit(ctx, event.Event{Type: event.Deleted, Path: rel, Artifact: p})
	return nil
}

// archiveChildren writes one <child>.tgz per accepted top-level child of
// the source, rebuilding only the stale ones.
func (r *run) archiveChildren(ctx context.Context) error {
	infos, err := afero.ReadDir(r.fs, r.cfg.Src)
	if err != nil {
		return fmt.Errorf("%w: read dir %s: %w", ErrTransfer, r.cfg.Src, err)
	}

	accepted := make(map[string]os.FileInfo, len(infos))
	var names []string
	for _, info := range infos {
		name := info.Name()
		info, ok := resolveInfo(r.fs, filepath.Join(r.cfg.Src, name), info)
		if !ok {
			continue
		}
		if info.IsDir() {
			if !r.cfg.Filter.Descend(name) {
				continue
			}
		} else if !r.cfg.Filter.Include(name) {
			continue
		}
		accepted[name] = info
		names = append(names, name)
	}

	var errs []error
	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.archiveChild(ctx, name, accepted); err != nil {
			errs = append(errs, err)
		}
	}
	return firstError(errs)
}

func (r *run) archiveChild(ctx context.Context, name string, accepted map[string]os.FileInfo) error {
	info := accepted[name]
	p := filepath.Join(r.cfg.Src, name)
	plain := filepath.Join(r.cfg.Dst, name)
	artifact := plain + archiveExt
	e := Entry{Rel: name, Path: p, Kind: KindFile, Info: info}
	if info.IsDir() {
		e.Kind = KindDir
	}

	latest, err := r.oracle.LatestModTime(p, r.cfg.Src, r.cfg.Filter)
	if err != nil {
		r.entryFailed(ctx, 0, e, artifact, err)
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	if !r.cfg.Force {
		current, err := r.archiveCurrent(p, artifact, info, latest)
		if err != nil {
			r.entryFailed(ctx, 0, e, artifact, err)
			return fmt.Errorf("%w: %w", ErrTransfer, err)
		}
		if current {
			r.stats.AddFilesUpToDate(1)
			r.emit(ctx, event.Event{Type: event.FileUpToDate, Path: name, Artifact: artifact})
			return nil
		}
	}

	// The plain path may itself be the archive of a child named without
	// the suffix.
	if twin, ok := strings.CutSuffix(name, archiveExt); !ok || accepted[twin] == nil {
		if err := r.removeArtifact(ctx, name, plain); err != nil {
			r.entryFailed(ctx, 0, e, plain, err)
			return err
		}
	}

	members := singleMember(p, name, info)
	if info.IsDir() {
		opts := WalkOptions{Filter: r.cfg.Filter, Order: PreOrder, IncludeDirs: true}
		members = treeMembers(r.fs, p, r.cfg.Src, name, info, opts)
	}
	if latest.IsZero() {
		latest = info.ModTime()
	}
	res, err := WriteArchive(ctx, r.fs, members, artifact, latest, ArchiveOptions{})
	if err != nil {
		r.entryFailed(ctx, 0, e, artifact, err)
		return err
	}
	r.archived(ctx, name, res, r.cfg.Src)
	return nil
}

// archiveCurrent reports whether the per-child archive already holds the
// filtered state of p.
func (r *run) archiveCurrent(p, artifact string, info os.FileInfo, latest time.Time) (bool, error) {
	st, err := r.fs.Stat(artifact)
	if err != nil || r.oracle.IsStale(latest, st.ModTime()) {
		return false, nil
	}
	if !info.IsDir() {
		return true, nil
	}
	changed, err := r.oracle.EntriesChanged(p, r.cfg.Src, r.cfg.Filter, artifact)
	return !changed, err
}

func (r *run) versioned(ctx context.Context) error {
	base := r.baseName()
	if !r.cfg.Force {
		changed, err := r.oracle.VersionChanged(r.cfg.Src, r.cfg.Dst, base, r.cfg.Filter)
		if err != nil {
			return fmt.Errorf("check versions: %w", err)
		}
		if !changed {
			if v, ok, _ := r.oracle.LatestVersion(r.cfg.Dst, base); ok {
				r.res.Artifact = v.Path
			}
			r.skip()
			return nil
		}
	}

	name := r.nextVersionName(base)
	r.log.Debug("creating version", "name", name)
	if r.cfg.Compress {
		return r.versionArchive(ctx, name)
	}
	return r.versionTree(ctx, name)
}

// nextVersionName returns an unused snapshot name for the current time.
func (r *run) nextVersionName(base string) string {
	now := r.cfg.Clock.Now()
	for seq := 0; ; seq++ {
		name := VersionName(base, now, seq)
		p := filepath.Join(r.cfg.Dst, name)
		if exists, _ := afero.Exists(r.fs, p); exists {
			continue
		}
		if exists, _ := afero.Exists(r.fs, p+archiveExt); exists {
			continue
		}
		return name
	}
}

func (r *run) versionArchive(ctx context.Context, name string) error {
	r.transition(StateArchiving)
	latest, err := r.oracle.LatestModTime(r.cfg.Src, r.cfg.Src, r.cfg.Filter)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	if latest.IsZero() {
		latest = r.cfg.Clock.Now()
	}

	artifact := filepath.Join(r.cfg.Dst, name+archiveExt)
	opts := WalkOptions{Filter: r.cfg.Filter, Order: PreOrder, IncludeDirs: true}
	res, err := WriteArchive(ctx, r.fs, Walk(r.fs, r.cfg.Src, r.cfg.Src, opts), artifact, latest, ArchiveOptions{})
	if err != nil {
		return err
	}
	r.archived(ctx, name+archiveExt, res, r.cfg.Src)
	r.res.Artifact = artifact
	r.res.Outcome = OutcomeVersionCreated
	return nil
}

// versionTree copies the whole filtered tree into a hidden sibling and
// renames it into place once complete.
func (r *run) versionTree(ctx context.Context, name string) error {
	r.transition(StateTransferring)
	final := filepath.Join(r.cfg.Dst, name)
	tmp := filepath.Join(r.cfg.Dst, fmt.Sprintf(".%s.keep-tmp-%s", name, uuid.New().String()[:8]))

	if err := os.Mkdir(tmp, 0o700); err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrTransfer, tmp, err)
	}
	RegisterTmp(tmp)
	defer func() {
		DeregisterTmp(tmp)
		_ = os.RemoveAll(tmp) // no-op if rename succeeded
	}()

	if err := r.copyTree(ctx, r.cfg.Src, tmp, false); err != nil {
		return err
	}
	if _, err := r.xfer.Transfer(ctx, r.cfg.Src, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("%w: rename %s -> %s: %w", ErrTransfer, tmp, final, err)
	}

	// Copied paths now live under the final name.
	r.mu.Lock()
	for i := range r.copied {
		if rel, err := filepath.Rel(tmp, r.copied[i].DstPath); err == nil {
			r.copied[i].DstPath = filepath.Join(final, rel)
		}
	}
	for i := range r.archives {
		if rel, err := filepath.Rel(tmp, r.archives[i].path); err == nil {
			r.archives[i].path = filepath.Join(final, rel)
		}
	}
	r.mu.Unlock()

	r.mutated.Store(true)
	r.res.Artifact = final
	r.res.Outcome = OutcomeVersionCreated
	return nil
}

func (r *run) verify(ctx context.Context) error {
	workers := 1
	if r.cfg.Multithread {
		workers = r.cfg.Workers
	}
	res := Verify(ctx, VerifyConfig{
		Pairs:   r.copied,
		Workers: workers,
		Events:  r.cfg.Events,
		Stats:   r.stats,
		Now:     r.cfg.Clock.Now,
	})

	for _, a := range r.archives {
		ar, err := VerifyArchive(ctx, r.fs, a.path, a.srcRoot)
		if err != nil {
			return fmt.Errorf("verify %s: %w", a.path, err)
		}
		res.Verified += ar.Verified
		res.Failed += ar.Failed
		res.Errors = append(res.Errors, ar.Errors...)
		r.stats.AddFilesVerified(ar.Verified)
		r.stats.AddFilesVerifyFailed(ar.Failed)
		for _, ve := range ar.Errors {
			r.emit(ctx, event.Event{Type: event.VerifyFailed, Path: ve.Path, Artifact: a.path, Error: ve.Err})
		}
	}

	r.res.Verify = res
	if res.Failed > 0 {
		return fmt.Errorf("%w: verify: %d of %d files mismatched",
			ErrTransfer, res.Failed, res.Failed+res.Verified)
	}
	return nil
}
