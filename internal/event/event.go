package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	TargetStarted Type = iota + 1
	TargetDone
	TargetUpToDate
	TargetNotFound
	TargetFailed
	FileCopied
	FileUpToDate
	FileFailed
	DirCreated
	ArchiveWritten
	Deleted
	VerifyOK
	VerifyFailed
)

var typeNames = [...]string{
	TargetStarted:  "TargetStarted",
	TargetDone:     "TargetDone",
	TargetUpToDate: "TargetUpToDate",
	TargetNotFound: "TargetNotFound",
	TargetFailed:   "TargetFailed",
	FileCopied:     "FileCopied",
	FileUpToDate:   "FileUpToDate",
	FileFailed:     "FileFailed",
	DirCreated:     "DirCreated",
	ArchiveWritten: "ArchiveWritten",
	Deleted:        "Deleted",
	VerifyOK:       "VerifyOK",
	VerifyFailed:   "VerifyFailed",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// IsTarget reports whether the event describes a whole backup target rather
// than a single entry inside it.
func (t Type) IsTarget() bool {
	return t >= TargetStarted && t <= TargetFailed
}

// Event is a single progress notification from the engine.
type Event struct {
	Type      Type
	Timestamp time.Time
	Path      string // source path for target events, relative path otherwise
	Artifact  string // destination artifact written or removed, if any
	Size      int64
	Error     error
	WorkerID  int
}
