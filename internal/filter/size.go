package filter

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeUnits = map[string]int64{
	"":  1,
	"B": 1,
	"K": 1 << 10,
	"M": 1 << 20,
	"G": 1 << 30,
	"T": 1 << 40,
}

// ParseSize parses a human-readable size such as "512", "100K", "1.5M" or
// "2GiB" into bytes. Units are powers of 1024 and case-insensitive; a
// trailing "B" or "iB" after the unit letter is accepted.
func ParseSize(s string) (int64, error) {
	raw := s
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	if len(s) > 2 && strings.HasSuffix(s, "IB") {
		s = strings.TrimSuffix(s, "IB")
	} else if len(s) > 2 && strings.HasSuffix(s, "B") && strings.ContainsAny(s[len(s)-2:len(s)-1], "KMGT") {
		s = strings.TrimSuffix(s, "B")
	}

	numStr, unit := s, ""
	if last := s[len(s)-1:]; strings.ContainsAny(last, "BKMGT") {
		numStr, unit = s[:len(s)-1], last
	}
	multiplier := sizeUnits[unit]

	if numStr == "" {
		return 0, fmt.Errorf("invalid size: %q", raw)
	}
	if n, err := strconv.ParseInt(numStr, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative size: %q", raw)
		}
		return n * multiplier, nil
	}

	f, err := strconv.ParseFloat(numStr, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid size: %q", raw)
	}
	return int64(f * float64(multiplier)), nil
}
