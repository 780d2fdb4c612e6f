package filter

import (
	"path"
	"path/filepath"
	"strings"
)

// Spec holds the include and exclude prefixes that decide which relative
// paths are in scope for a backup.
//
// Includes are a strict allow-list: when any include is configured, a path
// that matches none of them is rejected and the excludes are never consulted
// for it. Excludes only apply when there are no includes.
type Spec struct {
	includes []string
	excludes []string
}

// NewSpec creates an empty filter spec that accepts everything.
func NewSpec() *Spec {
	return &Spec{}
}

// NewSpecFrom builds a spec from include and exclude prefix lists.
func NewSpecFrom(includes, excludes []string) *Spec {
	s := NewSpec()
	for _, p := range includes {
		s.AddInclude(p)
	}
	for _, p := range excludes {
		s.AddExclude(p)
	}
	return s
}

// AddInclude appends an include prefix.
func (s *Spec) AddInclude(prefix string) {
	s.includes = append(s.includes, normalize(prefix))
}

// AddExclude appends an exclude prefix.
func (s *Spec) AddExclude(prefix string) {
	s.excludes = append(s.excludes, normalize(prefix))
}

// Includes returns the normalized include prefixes in order.
func (s *Spec) Includes() []string { return append([]string(nil), s.includes...) }

// Excludes returns the normalized exclude prefixes in order.
func (s *Spec) Excludes() []string { return append([]string(nil), s.excludes...) }

// Empty reports whether the spec has no prefixes at all.
func (s *Spec) Empty() bool {
	return s == nil || (len(s.includes) == 0 && len(s.excludes) == 0)
}

// Include reports whether relPath is in scope. A nil spec accepts everything.
func (s *Spec) Include(relPath string) bool {
	if s.Empty() {
		return true
	}
	relPath = normalize(relPath)

	if len(s.includes) > 0 {
		for _, p := range s.includes {
			if hasPrefix(relPath, p) {
				return true
			}
		}
		return false
	}

	for _, p := range s.excludes {
		if hasPrefix(relPath, p) {
			return false
		}
	}
	return true
}

// Descend reports whether a walk should enter the directory at relPath.
// That is the case when the directory itself is included, or when it is an
// ancestor of an include prefix (include "a/b" must be reachable through "a").
func (s *Spec) Descend(relPath string) bool {
	if s.Include(relPath) {
		return true
	}
	relPath = normalize(relPath)
	for _, p := range s.includes {
		if hasPrefix(p, relPath) {
			return true
		}
	}
	return false
}

// hasPrefix reports whether prefix matches p on a path-segment boundary:
// "ab" matches "ab" and "ab/c" but not "abc".
func hasPrefix(p, prefix string) bool {
	if prefix == "." {
		return true
	}
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix) && p[len(prefix)] == '/'
}

// normalize converts a user-supplied prefix or relative path to a clean,
// slash-separated form with no leading "./" or "/" and no trailing "/".
func normalize(p string) string {
	p = filepath.ToSlash(p)
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "."
	}
	return p
}
