package filter

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadFile reads prefix rules from a file and appends them to the spec.
// A line "+ prefix" adds an include, "- prefix" or a bare prefix adds an
// exclude. Blank lines and lines starting with "#" are skipped.
func (s *Spec) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open filter file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		include := false
		prefix := line
		switch {
		case strings.HasPrefix(line, "+ "):
			include = true
			prefix = strings.TrimSpace(line[2:])
		case strings.HasPrefix(line, "- "):
			prefix = strings.TrimSpace(line[2:])
		}

		if include {
			s.AddInclude(prefix)
		} else {
			s.AddExclude(prefix)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read filter file %s: %w", path, err)
	}
	return nil
}
