package engine

import "os"

// Kind identifies the kind of a tree entry.
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

func (k Kind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// Entry is one node of a filtered tree enumeration.
type Entry struct {
	Rel   string // slash-separated path relative to the walk base
	Path  string // filesystem path
	Kind  Kind
	Empty bool // directory had no children on disk
	Info  os.FileInfo
}
