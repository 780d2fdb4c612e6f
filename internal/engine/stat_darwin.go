//go:build darwin

package engine

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// atime returns the access time recorded in info, falling back to the
// modification time.
func atime(info os.FileInfo) time.Time {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(stat.Atimespec.Sec, stat.Atimespec.Nsec)
	}
	return info.ModTime()
}

// setFileTimes sets atime and mtime on a file by path.
// Darwin lacks AT_EMPTY_PATH, so we always use path-based utimensat.
func setFileTimes(_ int, fdPath string, accTime, modTime time.Time) error {
	times := []unix.Timespec{
		unix.NsecToTimespec(accTime.UnixNano()),
		unix.NsecToTimespec(modTime.UnixNano()),
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, fdPath, times, 0); err != nil {
		return fmt.Errorf("utimensat: %w", err)
	}
	return nil
}
