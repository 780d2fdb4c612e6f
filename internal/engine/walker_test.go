package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/keep/internal/filter"
)

func collect(t *testing.T, seq func(func(Entry, error) bool)) []string {
	t.Helper()
	var out []string
	for e, err := range seq {
		require.NoError(t, err)
		name := e.Rel
		if e.Kind == KindDir {
			name += "/"
		}
		out = append(out, name)
	}
	return out
}

var walkTree = map[string]string{
	"1.txt":        "one",
	"folder/a.txt": "a",
	"folder/sub/b": "b",
	"empty/":       "",
}

func TestWalkPreOrder(t *testing.T) {
	fsys := memTree(t, "/src", walkTree)

	got := collect(t, Walk(fsys, "/src", "/src", WalkOptions{Order: PreOrder, IncludeDirs: true}))
	assert.Equal(t, []string{"1.txt", "empty/", "folder/", "folder/a.txt", "folder/sub/", "folder/sub/b"}, got)
}

func TestWalkPostOrder(t *testing.T) {
	fsys := memTree(t, "/src", walkTree)

	got := collect(t, Walk(fsys, "/src", "/src", WalkOptions{Order: PostOrder, IncludeDirs: true}))
	assert.Equal(t, []string{"1.txt", "empty/", "folder/a.txt", "folder/sub/b", "folder/sub/", "folder/"}, got)
}

func TestWalkLeavesOnly(t *testing.T) {
	fsys := memTree(t, "/src", walkTree)

	got := collect(t, Walk(fsys, "/src", "/src", WalkOptions{}))
	assert.Equal(t, []string{"1.txt", "folder/a.txt", "folder/sub/b"}, got)

	got = collect(t, Walk(fsys, "/src", "/src", WalkOptions{IncludeEmptyDirs: true, Order: PostOrder}))
	assert.Equal(t, []string{"1.txt", "empty/", "folder/a.txt", "folder/sub/b"}, got)
}

func TestWalkEmptyFlag(t *testing.T) {
	fsys := memTree(t, "/src", walkTree)

	empties := map[string]bool{}
	for e, err := range Walk(fsys, "/src", "/src", WalkOptions{IncludeDirs: true}) {
		require.NoError(t, err)
		if e.Kind == KindDir {
			empties[e.Rel] = e.Empty
		}
	}
	assert.Equal(t, map[string]bool{"empty": true, "folder": false, "folder/sub": false}, empties)
}

func TestWalkRelativeToBase(t *testing.T) {
	fsys := memTree(t, "/src", walkTree)

	got := collect(t, Walk(fsys, "/src/folder", "/src", WalkOptions{IncludeDirs: true}))
	assert.Equal(t, []string{"folder/a.txt", "folder/sub/", "folder/sub/b"}, got)
}

func TestWalkFilterPrunesSubtree(t *testing.T) {
	fsys := memTree(t, "/src", walkTree)
	spec := filter.NewSpecFrom(nil, []string{"folder/sub"})

	got := collect(t, Walk(fsys, "/src", "/src", WalkOptions{Filter: spec, IncludeDirs: true}))
	assert.Equal(t, []string{"1.txt", "empty/", "folder/", "folder/a.txt"}, got)
}

func TestWalkIncludeShortCircuitsExclude(t *testing.T) {
	fsys := memTree(t, "/src", map[string]string{
		"a/b/c": "c",
		"a/d":   "d",
		"x":     "x",
	})
	spec := filter.NewSpecFrom([]string{"a"}, []string{"a/b"})

	got := collect(t, Walk(fsys, "/src", "/src", WalkOptions{Filter: spec}))
	assert.Equal(t, []string{"a/b/c", "a/d"}, got)
}

func TestWalkSegmentAligned(t *testing.T) {
	fsys := memTree(t, "/src", map[string]string{
		"ab/1":  "1",
		"abc/2": "2",
	})
	spec := filter.NewSpecFrom([]string{"ab"}, nil)

	got := collect(t, Walk(fsys, "/src", "/src", WalkOptions{Filter: spec, IncludeDirs: true}))
	assert.Equal(t, []string{"ab/", "ab/1"}, got)
}

func TestWalkDescendsToNestedInclude(t *testing.T) {
	fsys := memTree(t, "/src", map[string]string{
		"a/b/c": "c",
		"a/d":   "d",
	})
	spec := filter.NewSpecFrom([]string{"a/b"}, nil)

	got := collect(t, Walk(fsys, "/src", "/src", WalkOptions{Filter: spec, IncludeDirs: true}))
	assert.Equal(t, []string{"a/b/", "a/b/c"}, got)
}

func TestWalkStopsOnBreak(t *testing.T) {
	fsys := memTree(t, "/src", walkTree)

	n := 0
	for range Walk(fsys, "/src", "/src", WalkOptions{IncludeDirs: true}) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestWalkRestartable(t *testing.T) {
	fsys := memTree(t, "/src", walkTree)
	seq := Walk(fsys, "/src", "/src", WalkOptions{})

	assert.Equal(t, collect(t, seq), collect(t, seq))
}

func TestWalkMissingRoot(t *testing.T) {
	fsys := memTree(t, "/src", nil)

	var errs int
	for _, err := range Walk(fsys, "/nope", "/nope", WalkOptions{}) {
		require.Error(t, err)
		errs++
	}
	assert.Equal(t, 1, errs)
}
