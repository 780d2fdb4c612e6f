package config

import (
	"errors"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
)

// ErrInvalidJob is returned by Job.Validate.
var ErrInvalidJob = errors.New("invalid job")

// Job is a named backup definition from the [[jobs]] tables. Option
// fields left unset fall back to [defaults] and then to the built-in
// defaults.
type Job struct {
	Name         string   `toml:"name"`
	Sources      []string `toml:"sources"`
	Destination  string   `toml:"destination"`
	Mode         string   `toml:"mode,omitempty"`
	Include      []string `toml:"include,omitempty"`
	Exclude      []string `toml:"exclude,omitempty"`
	FilterFile   string   `toml:"filter_file,omitempty"`
	BaseName     string   `toml:"base_name,omitempty"`
	Compress     *bool    `toml:"compress,omitempty"`
	Force        bool     `toml:"force,omitempty"`
	Multithread  *bool    `toml:"multithread,omitempty"`
	CompareTrees bool     `toml:"compare_trees,omitempty"`
	Threshold    string   `toml:"threshold,omitempty"`
	Verify       *bool    `toml:"verify,omitempty"`
}

// Validate reports the first missing required field.
func (j Job) Validate() error {
	switch {
	case j.Name == "":
		return fmt.Errorf("%w: missing name", ErrInvalidJob)
	case len(j.Sources) == 0:
		return fmt.Errorf("%w %q: no sources", ErrInvalidJob, j.Name)
	case j.Destination == "":
		return fmt.Errorf("%w %q: missing destination", ErrInvalidJob, j.Name)
	}
	for _, s := range j.Sources {
		if s == "" {
			return fmt.Errorf("%w %q: empty source path", ErrInvalidJob, j.Name)
		}
	}
	return nil
}

// WriteJobs encodes jobs as [[jobs]] tables.
func WriteJobs(w io.Writer, jobs []Job) error {
	doc := struct {
		Jobs []Job `toml:"jobs"`
	}{Jobs: jobs}
	if err := toml.NewEncoder(w).Encode(doc); err != nil {
		return fmt.Errorf("encode jobs: %w", err)
	}
	return nil
}
