//go:build linux

package platform

import (
	"os"

	"golang.org/x/sys/unix"
)

// reserve asks the filesystem for size bytes up front so a backup copy is
// laid out contiguously. Empty files and filesystems without fallocate are
// left alone.
func reserve(f *os.File, size int64) {
	if size <= 0 {
		return
	}
	//nolint:gosec // G115: fd values are small non-negative integers
	fd := int(f.Fd())
	//nolint:errcheck // advisory only
	unix.Fallocate(fd, 0, 0, size)
}
