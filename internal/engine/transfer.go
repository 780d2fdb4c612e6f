package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/bamsammich/keep/internal/platform"
)

// Transferer materializes one source entry at a destination path.
type Transferer struct {
	// Limiter caps the data rate of file copies when set.
	Limiter *rate.Limiter
}

// TransferResult describes what a transfer did.
type TransferResult struct {
	Kind            Kind
	Bytes           int64
	Method          platform.CopyMethod
	CreatedDir      bool
	RecoveredParent bool
}

// Transfer copies srcPath to dstPath. Directories are created if absent and
// stamped with the source times, without recursion. Files are written to a
// temporary sibling and renamed into place, overwriting any previous copy,
// so the destination mtime equals the source mtime afterwards.
//
// When the destination parent is missing, the parent chain is created and
// the transfer is retried exactly once.
func (t *Transferer) Transfer(ctx context.Context, srcPath, dstPath string) (TransferResult, error) {
	info, err := os.Stat(srcPath)
	if err != nil {
		return TransferResult{}, fmt.Errorf("%w: stat %s: %w", ErrTransfer, srcPath, err)
	}

	var res TransferResult
	recovered, err := withMissingParent(afero.NewOsFs(), dstPath, func() error {
		var attemptErr error
		res, attemptErr = t.attempt(ctx, srcPath, dstPath, info)
		return attemptErr
	})
	res.RecoveredParent = recovered
	if err != nil && !errors.Is(err, ErrTransfer) {
		err = fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	return res, err
}

// withMissingParent runs op and, when it fails with ErrMissingParent,
// creates the parent chain of path and runs op exactly once more. It
// reports whether the parent chain had to be created.
func withMissingParent(fsys afero.Fs, path string, op func() error) (bool, error) {
	err := op()
	if !errors.Is(err, ErrMissingParent) {
		return false, err
	}
	parent := filepath.Dir(path)
	if mkErr := fsys.MkdirAll(parent, 0o755); mkErr != nil {
		return true, fmt.Errorf("%w: create parents %s: %w", ErrTransfer, parent, mkErr)
	}
	return true, op()
}

func (t *Transferer) attempt(ctx context.Context, srcPath, dstPath string, info os.FileInfo) (TransferResult, error) {
	if err := ctx.Err(); err != nil {
		return TransferResult{}, err
	}
	if info.IsDir() {
		return t.transferDir(dstPath, info)
	}
	return t.transferFile(ctx, srcPath, dstPath, info)
}

func (t *Transferer) transferDir(dstPath string, info os.FileInfo) (TransferResult, error) {
	res := TransferResult{Kind: KindDir}

	err := os.Mkdir(dstPath, info.Mode().Perm()|0o700)
	switch {
	case err == nil:
		res.CreatedDir = true
	case errors.Is(err, fs.ErrExist):
		// Another worker, or an earlier run, got here first.
		st, statErr := os.Stat(dstPath)
		if statErr != nil {
			return res, fmt.Errorf("%w: stat %s: %w", ErrTransfer, dstPath, statErr)
		}
		if !st.IsDir() {
			return res, fmt.Errorf("%w: %s exists and is not a directory", ErrTransfer, dstPath)
		}
	case errors.Is(err, fs.ErrNotExist):
		return res, fmt.Errorf("%w: mkdir %s: %w", ErrMissingParent, dstPath, err)
	default:
		return res, fmt.Errorf("%w: mkdir %s: %w", ErrTransfer, dstPath, err)
	}

	if err := os.Chmod(dstPath, info.Mode().Perm()); err != nil {
		return res, fmt.Errorf("%w: chmod dir %s: %w", ErrTransfer, dstPath, err)
	}
	if err := os.Chtimes(dstPath, atime(info), info.ModTime()); err != nil {
		return res, fmt.Errorf("%w: set times %s: %w", ErrTransfer, dstPath, err)
	}
	return res, nil
}

func (t *Transferer) transferFile(
	ctx context.Context,
	srcPath, dstPath string,
	info os.FileInfo,
) (TransferResult, error) {
	res := TransferResult{Kind: KindFile}

	src, err := os.Open(srcPath)
	if err != nil {
		return res, fmt.Errorf("%w: open %s: %w", ErrTransfer, srcPath, err)
	}
	defer src.Close()

	tmpPath := tmpSibling(dstPath)
	RegisterTmp(tmpPath)
	defer func() {
		DeregisterTmp(tmpPath)
		_ = os.Remove(tmpPath) // no-op if rename succeeded
	}()

	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm()|0o200)
	if errors.Is(err, fs.ErrNotExist) {
		return res, fmt.Errorf("%w: create %s: %w", ErrMissingParent, tmpPath, err)
	}
	if err != nil {
		return res, fmt.Errorf("%w: create tmp %s: %w", ErrTransfer, tmpPath, err)
	}

	if t.Limiter != nil {
		res.Bytes, err = platform.CopyReader(tmp, newRateLimitedReader(ctx, src, t.Limiter))
		res.Method = platform.ReadWrite
	} else {
		var cr platform.CopyResult
		cr, err = platform.CopyFile(tmp, src, info.Size())
		res.Bytes, res.Method = cr.BytesWritten, cr.Method
	}
	if err != nil {
		tmp.Close()
		return res, fmt.Errorf("%w: copy data %s: %w", ErrTransfer, srcPath, err)
	}

	if err := setFileMetadata(tmp, info); err != nil {
		tmp.Close()
		return res, fmt.Errorf("%w: set metadata %s: %w", ErrTransfer, dstPath, err)
	}

	if err := tmp.Close(); err != nil {
		return res, fmt.Errorf("%w: close tmp %s: %w", ErrTransfer, tmpPath, err)
	}

	if err := os.Rename(tmpPath, dstPath); err != nil {
		return res, fmt.Errorf("%w: rename %s -> %s: %w", ErrTransfer, tmpPath, dstPath, err)
	}
	return res, nil
}

//nolint:gosec // G115: fd values are small non-negative integers
func setFileMetadata(fd *os.File, info os.FileInfo) error {
	rawFd := int(fd.Fd())
	if err := unix.Fchmod(rawFd, uint32(info.Mode().Perm())); err != nil {
		return fmt.Errorf("fchmod: %w", err)
	}
	return setFileTimes(rawFd, fd.Name(), atime(info), info.ModTime())
}

// tmpSibling returns a unique hidden name next to path.
func tmpSibling(path string) string {
	dir, base := filepath.Split(path)
	return filepath.Join(dir, fmt.Sprintf(".%s.%s.keep-tmp", base, uuid.New().String()[:8]))
}
