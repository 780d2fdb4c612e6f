package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeString(t *testing.T) {
	tests := []struct {
		want string
		typ  Type
	}{
		{want: "TargetStarted", typ: TargetStarted},
		{want: "TargetDone", typ: TargetDone},
		{want: "TargetUpToDate", typ: TargetUpToDate},
		{want: "TargetNotFound", typ: TargetNotFound},
		{want: "TargetFailed", typ: TargetFailed},
		{want: "FileCopied", typ: FileCopied},
		{want: "FileUpToDate", typ: FileUpToDate},
		{want: "FileFailed", typ: FileFailed},
		{want: "DirCreated", typ: DirCreated},
		{want: "ArchiveWritten", typ: ArchiveWritten},
		{want: "Deleted", typ: Deleted},
		{want: "VerifyOK", typ: VerifyOK},
		{want: "VerifyFailed", typ: VerifyFailed},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.String())
		})
	}
}

func TestTypeStringUnknown(t *testing.T) {
	assert.Equal(t, "Unknown", Type(999).String())
	assert.Equal(t, "Unknown", Type(0).String())
}

func TestIsTarget(t *testing.T) {
	assert.True(t, TargetStarted.IsTarget())
	assert.True(t, TargetFailed.IsTarget())
	assert.False(t, FileCopied.IsTarget())
	assert.False(t, Deleted.IsTarget())
}

func TestEventZeroValue(t *testing.T) {
	var e Event
	assert.Equal(t, Type(0), e.Type)
	assert.True(t, e.Timestamp.IsZero())
	assert.Empty(t, e.Path)
	assert.Empty(t, e.Artifact)
	assert.Zero(t, e.Size)
	require.NoError(t, e.Error)
	assert.Zero(t, e.WorkerID)
}

func TestEventFields(t *testing.T) {
	now := time.Now()
	e := Event{
		Type:      FileCopied,
		Timestamp: now,
		Path:      "dir/file.txt",
		Artifact:  "/backup/dir/file.txt",
		Size:      1024,
		WorkerID:  3,
	}
	assert.Equal(t, FileCopied, e.Type)
	assert.Equal(t, now, e.Timestamp)
	assert.Equal(t, "dir/file.txt", e.Path)
	assert.Equal(t, "/backup/dir/file.txt", e.Artifact)
	assert.Equal(t, int64(1024), e.Size)
	assert.Equal(t, 3, e.WorkerID)
}
