package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Writer is the write side of a Collector, handed to the engine.
type Writer interface {
	AddFilesCopied(n int64)
	AddFilesUpToDate(n int64)
	AddFilesFailed(n int64)
	AddBytesCopied(n int64)
	AddDirsCreated(n int64)
	AddDeleted(n int64)
	AddArchivesWritten(n int64)
	AddArchiveMembers(n int64)
	AddFilesVerified(n int64)
	AddFilesVerifyFailed(n int64)
}

// Reader is the read side of a Collector, handed to presenters.
type Reader interface {
	Snapshot() Snapshot
}

// Collector tracks backup statistics using lock-free atomic counters.
type Collector struct {
	filesCopied       atomic.Int64
	filesUpToDate     atomic.Int64
	filesFailed       atomic.Int64
	bytesCopied       atomic.Int64
	dirsCreated       atomic.Int64
	deleted           atomic.Int64
	archivesWritten   atomic.Int64
	archiveMembers    atomic.Int64
	filesVerified     atomic.Int64
	filesVerifyFailed atomic.Int64
	startTime         time.Time
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	FilesCopied       int64
	FilesUpToDate     int64
	FilesFailed       int64
	BytesCopied       int64
	DirsCreated       int64
	Deleted           int64
	ArchivesWritten   int64
	ArchiveMembers    int64
	FilesVerified     int64
	FilesVerifyFailed int64
	Elapsed           time.Duration
}

func (c *Collector) AddFilesCopied(n int64)       { c.filesCopied.Add(n) }
func (c *Collector) AddFilesUpToDate(n int64)     { c.filesUpToDate.Add(n) }
func (c *Collector) AddFilesFailed(n int64)       { c.filesFailed.Add(n) }
func (c *Collector) AddBytesCopied(n int64)       { c.bytesCopied.Add(n) }
func (c *Collector) AddDirsCreated(n int64)       { c.dirsCreated.Add(n) }
func (c *Collector) AddDeleted(n int64)           { c.deleted.Add(n) }
func (c *Collector) AddArchivesWritten(n int64)   { c.archivesWritten.Add(n) }
func (c *Collector) AddArchiveMembers(n int64)    { c.archiveMembers.Add(n) }
func (c *Collector) AddFilesVerified(n int64)     { c.filesVerified.Add(n) }
func (c *Collector) AddFilesVerifyFailed(n int64) { c.filesVerifyFailed.Add(n) }

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		FilesCopied:       c.filesCopied.Load(),
		FilesUpToDate:     c.filesUpToDate.Load(),
		FilesFailed:       c.filesFailed.Load(),
		BytesCopied:       c.bytesCopied.Load(),
		DirsCreated:       c.dirsCreated.Load(),
		Deleted:           c.deleted.Load(),
		ArchivesWritten:   c.archivesWritten.Load(),
		ArchiveMembers:    c.archiveMembers.Load(),
		FilesVerified:     c.filesVerified.Load(),
		FilesVerifyFailed: c.filesVerifyFailed.Load(),
		Elapsed:           c.Elapsed(),
	}
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

// Merge adds the counters of s, typically one finished run, into c.
// Elapsed is not merged; c keeps its own start time.
func (c *Collector) Merge(s Snapshot) {
	c.AddFilesCopied(s.FilesCopied)
	c.AddFilesUpToDate(s.FilesUpToDate)
	c.AddFilesFailed(s.FilesFailed)
	c.AddBytesCopied(s.BytesCopied)
	c.AddDirsCreated(s.DirsCreated)
	c.AddDeleted(s.Deleted)
	c.AddArchivesWritten(s.ArchivesWritten)
	c.AddArchiveMembers(s.ArchiveMembers)
	c.AddFilesVerified(s.FilesVerified)
	c.AddFilesVerifyFailed(s.FilesVerifyFailed)
}

// Changed reports whether the snapshot records any destination mutation.
func (s Snapshot) Changed() bool {
	return s.FilesCopied > 0 || s.Deleted > 0 || s.ArchivesWritten > 0
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"copied=%d uptodate=%d failed=%d bytes=%d dirs=%d deleted=%d archives=%d members=%d",
		s.FilesCopied, s.FilesUpToDate, s.FilesFailed, s.BytesCopied,
		s.DirsCreated, s.Deleted, s.ArchivesWritten, s.ArchiveMembers,
	)
}
