package ui

import (
	"io"

	"github.com/bamsammich/keep/internal/event"
	"github.com/bamsammich/keep/internal/stats"
)

// Presenter consumes events and displays progress.
type Presenter interface {
	// Run consumes events until the channel closes. Blocks until done.
	Run(events <-chan event.Event) error
	// Summary returns the final summary line.
	Summary() string
}

// Config configures a Presenter.
type Config struct {
	Writer    io.Writer
	ErrWriter io.Writer
	Stats     stats.Reader
	IsTTY     bool // rewrite status lines in place and colour them
	Quiet     bool
	Verbose   bool
}

// NewPresenter creates the appropriate presenter based on configuration.
//
//nolint:ireturn // factory function returns interface by design
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{}
	}
	return newPlainPresenter(cfg)
}
