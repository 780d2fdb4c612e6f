package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bamsammich/keep/internal/stats"
)

// FormatBytes formats a byte count with binary units ("1.5 MiB").
func FormatBytes(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.IBytes(uint64(b))
}

// FormatRate formats a bytes-per-second rate.
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSec)) + "/s"
}

// FormatCount formats an integer with comma separators.
func FormatCount(n int64) string {
	return humanize.Comma(n)
}

// FormatDuration formats elapsed time concisely.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// CompletionSummary builds the final summary line from a snapshot.
// Format: done ✓  copied 1,204  up to date 88  size 2.1 GiB  avg 41 MiB/s  time 52s  errors 0
func CompletionSummary(snap stats.Snapshot) string {
	avgSpeed := 0.0
	if snap.Elapsed.Seconds() > 0 {
		avgSpeed = float64(snap.BytesCopied) / snap.Elapsed.Seconds()
	}

	icon := "✓"
	if snap.FilesFailed > 0 || snap.FilesVerifyFailed > 0 {
		icon = "✗"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "done %s  copied %s  up to date %s",
		icon, FormatCount(snap.FilesCopied), FormatCount(snap.FilesUpToDate))
	if snap.ArchivesWritten > 0 {
		fmt.Fprintf(&b, "  archived %s", FormatCount(snap.ArchivesWritten))
	}
	if snap.Deleted > 0 {
		fmt.Fprintf(&b, "  deleted %s", FormatCount(snap.Deleted))
	}
	fmt.Fprintf(&b, "  size %s  avg %s  time %s",
		FormatBytes(snap.BytesCopied), FormatRate(avgSpeed), FormatDuration(snap.Elapsed))
	if snap.FilesVerified > 0 || snap.FilesVerifyFailed > 0 {
		fmt.Fprintf(&b, "  verified %s", FormatCount(snap.FilesVerified))
	}
	fmt.Fprintf(&b, "  errors %d", snap.FilesFailed+snap.FilesVerifyFailed)
	return b.String()
}
