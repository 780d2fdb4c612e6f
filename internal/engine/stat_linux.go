//go:build linux

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
		return time.Unix(stat.Atim.Sec, stat.Atim.Nsec)
	}
	return info.ModTime()
}

// setFileTimes sets atime and mtime on an open file descriptor.
func setFileTimes(rawFd int, fdPath string, accTime, modTime time.Time) error {
	times := []unix.Timespec{
		unix.NsecToTimespec(accTime.UnixNano()),
		unix.NsecToTimespec(modTime.UnixNano()),
	}
	if err := unix.UtimesNanoAt(rawFd, "", times, unix.AT_EMPTY_PATH); err != nil {
		// Fallback: some systems don't support AT_EMPTY_PATH.
		if err2 := unix.UtimesNanoAt(unix.AT_FDCWD, fdPath, times, 0); err2 != nil {
			return fmt.Errorf("utimensat: %w", err)
		}
	}
	return nil
}
