package engine

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
)

// ArchiveOptions tunes the container encoding.
type ArchiveOptions struct {
	// Level is the gzip compression level. Zero selects the default level.
	Level int
}

// ArchiveResult describes a written container.
type ArchiveResult struct {
	Path    string
	Members int
	Bytes   int64 // uncompressed payload bytes
}

// WriteArchive streams members into a gzip-compressed tar container at
// archivePath. Each member is named by its Entry.Rel. Directories are
// added as directory members whether or not any descendant follows.
//
// The container is written to a temporary sibling, closed once, stamped
// with modTime and renamed into place. On failure the temporary file is
// removed and any previous container at archivePath is left as it was.
func WriteArchive(
	ctx context.Context,
	fsys afero.Fs,
	members iter.Seq2[Entry, error],
	archivePath string,
	modTime time.Time,
	opts ArchiveOptions,
) (ArchiveResult, error) {
	res := ArchiveResult{Path: archivePath}
	level := opts.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}

	tmpPath := tmpSibling(archivePath)
	var f afero.File
	_, err := withMissingParent(fsys, archivePath, func() error {
		var openErr error
		f, openErr = fsys.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(openErr, fs.ErrNotExist) {
			return fmt.Errorf("%w: create %s: %w", ErrMissingParent, tmpPath, openErr)
		}
		if openErr != nil {
			return fmt.Errorf("%w: create tmp %s: %w", ErrTransfer, tmpPath, openErr)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrTransfer) {
			err = fmt.Errorf("%w: %w", ErrTransfer, err)
		}
		return res, err
	}

	RegisterTmp(tmpPath)
	defer func() {
		DeregisterTmp(tmpPath)
		_ = fsys.Remove(tmpPath) // no-op if rename succeeded
	}()

	gz, err := gzip.NewWriterLevel(f, level)
	if err != nil {
		f.Close()
		return res, fmt.Errorf("%w: gzip level %d: %w", ErrTransfer, level, err)
	}
	tw := tar.NewWriter(gz)

	writeErr := writeMembers(ctx, fsys, tw, members, &res)
	if err := tw.Close(); writeErr == nil {
		writeErr = err
	}
	if err := gz.Close(); writeErr == nil {
		writeErr = err
	}
	if err := f.Close(); writeErr == nil {
		writeErr = err
	}
	if writeErr != nil {
		return res, fmt.Errorf("%w: write archive %s: %w", ErrTransfer, archivePath, writeErr)
	}

	if err := fsys.Chtimes(tmpPath, modTime, modTime); err != nil {
		return res, fmt.Errorf("%w: set times %s: %w", ErrTransfer, tmpPath, err)
	}
	if err := fsys.Rename(tmpPath, archivePath); err != nil {
		return res, fmt.Errorf("%w: rename %s -> %s: %w", ErrTransfer, tmpPath, archivePath, err)
	}
	return res, nil
}

func writeMembers(
	ctx context.Context,
	fsys afero.Fs,
	tw *tar.Writer,
	members iter.Seq2[Entry, error],
	res *ArchiveResult,
) error {
	for e, err := range members {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(e.Info, "")
		if err != nil {
			return fmt.Errorf("header %s: %w", e.Rel, err)
		}
		hdr.Name = e.Rel
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header %s: %w", e.Rel, err)
		}

		if e.Kind == KindFile {
			n, err := copyMember(fsys, tw, e.Path, hdr.Size)
			if err != nil {
				return fmt.Errorf("write member %s: %w", e.Rel, err)
			}
			res.Bytes += n
		}
		res.Members++
	}
	return nil
}

func copyMember(fsys afero.Fs, w io.Writer, p string, size int64) (int64, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.CopyN(w, f, size)
}

// singleMember yields one entry for a file archived on its own.
func singleMember(p, name string, info os.FileInfo) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		yield(Entry{Rel: name, Path: p, Kind: KindFile, Info: info}, nil)
	}
}

// treeMembers yields root itself as a directory member named by its path
// relative to base, when that name is non-empty, followed by its walk.
func treeMembers(fsys afero.Fs, root, base, rootName string, info os.FileInfo, opts WalkOptions) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if rootName != "" && opts.Filter.Include(rootName) {
			if !yield(Entry{Rel: rootName, Path: root, Kind: KindDir, Info: info}, nil) {
				return
			}
		}
		for e, err := range Walk(fsys, root, base, opts) {
			if !yield(e, err) {
				return
			}
		}
	}
}

// openArchive returns a tar reader over the gzip container at p and a
// function closing both layers.
func openArchive(fsys afero.Fs, p string) (*tar.Reader, func() error, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive %s: %w", p, err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("read archive %s: %w", p, err)
	}
	closeFn := func() error {
		gzErr := gz.Close()
		if err := f.Close(); err != nil {
			return err
		}
		return gzErr
	}
	return tar.NewReader(gz), closeFn, nil
}

// ListArchive returns the member names of the container at p in stored
// order.
func ListArchive(fsys afero.Fs, p string) ([]string, error) {
	tr, closeFn, err := openArchive(fsys, p)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var names []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return names, fmt.Errorf("read archive %s: %w", p, err)
		}
		names = append(names, hdr.Name)
	}
}

// VerifyArchive re-reads the container at p and compares the BLAKE3
// digest of every regular member against the file of the same relative
// name under srcRoot.
func VerifyArchive(ctx context.Context, fsys afero.Fs, p, srcRoot string) (VerifyResult, error) {
	var result VerifyResult
	tr, closeFn, err := openArchive(fsys, p)
	if err != nil {
		return result, err
	}
	defer closeFn()

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return result, nil
		}
		if err != nil {
			return result, fmt.Errorf("read archive %s: %w", p, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		dstHash, err := hashReader(tr)
		if err != nil {
			return result, fmt.Errorf("hash member %s: %w", hdr.Name, err)
		}
		srcHash, err := hashFs(fsys, filepath.Join(srcRoot, filepath.FromSlash(hdr.Name)))
		if err != nil {
			result.fail(VerifyError{Path: hdr.Name, SrcHash: "error", DstHash: dstHash, Err: err})
			continue
		}
		if srcHash != dstHash {
			result.fail(VerifyError{Path: hdr.Name, SrcHash: srcHash, DstHash: dstHash})
			continue
		}
		result.Verified++
	}
}

func hashFs(fsys afero.Fs, p string) (string, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return hashReader(f)
}
