//go:build linux

package platform

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// CopyFile copies size bytes from the start of src into dst, trying
// copy_file_range, then sendfile, then a plain read/write loop. Both files
// must be positioned at offset zero.
func CopyFile(dst, src *os.File, size int64) (CopyResult, error) {
	reserve(dst, size)

	result, err := copyFileRange(dst, src, size)
	if err == nil {
		return result, nil
	}
	if !isFallbackErr(err) {
		return result, err
	}

	result, err = copySendfile(dst, src, size)
	if err == nil {
		return result, nil
	}
	if !isFallbackErr(err) {
		return result, err
	}

	return copyReadWrite(dst, src)
}

//nolint:gosec // G115: fd values are small non-negative integers
func copyFileRange(dst, src *os.File, size int64) (CopyResult, error) {
	var roff, woff int64
	var total int64
	for total < size {
		n, err := unix.CopyFileRange(int(src.Fd()), &roff, int(dst.Fd()), &woff, int(size-total), 0)
		if err != nil {
			if total == 0 {
				return CopyResult{}, err
			}
			return CopyResult{BytesWritten: total, Method: CopyFileRange}, err
		}
		if n == 0 {
			break
		}
		total += int64(n)
	}
	return CopyResult{BytesWritten: total, Method: CopyFileRange}, nil
}

//nolint:gosec // G115: fd values are small non-negative integers
func copySendfile(dst, src *os.File, size int64) (CopyResult, error) {
	var offset int64
	var total int64
	for total < size {
		n, err := unix.Sendfile(int(dst.Fd()), int(src.Fd()), &offset, int(size-total))
		if err != nil {
			if total == 0 {
				return CopyResult{}, err
			}
			return CopyResult{BytesWritten: total, Method: Sendfile}, err
		}
		if n == 0 {
			break
		}
		total += int64(n)
	}
	return CopyResult{BytesWritten: total, Method: Sendfile}, nil
}

// isFallbackErr returns true if err should trigger a fallback to the next copy strategy.
func isFallbackErr(err error) bool {
	return errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EXDEV) ||
		errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTSUP)
}
