package ui

import "github.com/bamsammich/keep/internal/event"

// quietPresenter consumes events but produces no output. Failures still
// reach the user through the warn-level log.
type quietPresenter struct{}

func (p *quietPresenter) Run(events <-chan event.Event) error {
	// Drain so the engine never blocks on a full channel.
	for range events {
	}
	return nil
}

func (p *quietPresenter) Summary() string {
	return ""
}
