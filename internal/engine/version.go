package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// versionLayout formats snapshot timestamps as YYYY_MM_DD_HHMMSS.
	versionLayout = "2006_01_02_150405"

	archiveExt = ".tgz"
)

// Version is one snapshot found in a versioned destination.
type Version struct {
	Name    string // directory or archive file name
	Path    string
	Time    time.Time
	Seq     int // same-second disambiguator, 0 when absent
	Archive bool
}

// After orders versions by timestamp, then by sequence number.
func (v Version) After(other Version) bool {
	if !v.Time.Equal(other.Time) {
		return v.Time.After(other.Time)
	}
	return v.Seq > other.Seq
}

// VersionName formats the snapshot name for base at t in local time, with
// a -seq suffix when seq is positive.
func VersionName(base string, t time.Time, seq int) string {
	name := base + "_" + t.Local().Format(versionLayout)
	if seq > 0 {
		name += "-" + strconv.Itoa(seq)
	}
	return name
}

// ParseVersion parses a directory entry name of the form
// <base>_<YYYY_MM_DD_HHMMSS>[-N][.tgz]. Timestamps are in local time.
func ParseVersion(base, name string) (Version, bool) {
	v := Version{Name: name}
	stem := name
	if s, ok := strings.CutSuffix(stem, archiveExt); ok {
		stem = s
		v.Archive = true
	}

	rest, ok := strings.CutPrefix(stem, base+"_")
	if !ok || len(rest) < len(versionLayout) {
		return Version{}, false
	}

	ts, seq := rest[:len(versionLayout)], rest[len(versionLayout):]
	t, err := time.ParseInLocation(versionLayout, ts, time.Local)
	if err != nil {
		return Version{}, false
	}
	v.Time = t

	if seq != "" {
		digits, ok := strings.CutPrefix(seq, "-")
		if !ok {
			return Version{}, false
		}
		n, err := strconv.Atoi(digits)
		if err != nil || n <= 0 {
			return Version{}, false
		}
		v.Seq = n
	}
	return v, true
}

func (v Version) String() string {
	return fmt.Sprintf("%s (%s)", v.Name, v.Time.Format(time.DateTime))
}
