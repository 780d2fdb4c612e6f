package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/bamsammich/keep/internal/engine"
	"github.com/bamsammich/keep/internal/event"
	"github.com/bamsammich/keep/internal/stats"
	"github.com/bamsammich/keep/internal/ui"
)

// plan is one invocation: every source is backed up into dst with the
// same template.
type plan struct {
	sources []string
	dst     string
	tmpl    engine.Config
	opts    options
}

// execute runs every source of p in order, feeding one presenter. A failed
// or missing source does not stop the remaining ones.
func execute(ctx context.Context, p plan, stdout, stderr io.Writer, logger *slog.Logger) error {
	check := p.tmpl
	check.Src, check.Dst = p.sources[0], p.dst
	if err := check.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return &exitError{code: 2}
	}

	total := stats.NewCollector()
	events := make(chan event.Event, 256)

	// When --log is set, tee events through a logging goroutine that
	// writes structured records before forwarding to the presenter.
	presenterEvents := (<-chan event.Event)(events)
	if p.opts.logFile != "" {
		presenterEvents = teeEvents(events, logger)
	}

	presenter := ui.NewPresenter(ui.Config{
		Writer:    stdout,
		ErrWriter: stderr,
		Stats:     total,
		IsTTY:     isTerminal(stdout),
		Quiet:     p.opts.quiet,
		Verbose:   p.opts.verbose,
	})

	var presenterErr error
	var presenterWg sync.WaitGroup
	presenterWg.Add(1)
	go func() {
		defer presenterWg.Done()
		presenterErr = presenter.Run(presenterEvents)
	}()

	logger.Debug("starting backup",
		"sources", p.sources,
		"dst", p.dst,
		"mode", p.tmpl.Mode,
		"compress", p.tmpl.Compress,
		"multithread", p.tmpl.Multithread,
	)

	code := 0
	for _, src := range p.sources {
		if ctx.Err() != nil {
			code = max(code, 2)
			break
		}
		cfg := p.tmpl
		cfg.Src, cfg.Dst = src, p.dst
		cfg.Events = events
		cfg.Logger = logger

		res := engine.Run(ctx, cfg)
		total.Merge(res.Stats)
		code = max(code, exitCode(res))
		switch {
		case res.Err == nil:
		case errors.Is(res.Err, engine.ErrSourceNotFound):
			logger.Warn("source not found", "source", src)
		default:
			logger.Error("backup failed", "source", src, "error", res.Err)
		}
	}

	close(events)
	presenterWg.Wait()
	if presenterErr != nil {
		fmt.Fprintf(stderr, "presenter: %v\n", presenterErr)
	}
	if n := engine.CleanupTmpFiles(); n > 0 {
		logger.Debug("removed temporary files", "count", n)
	}

	if !p.opts.quiet {
		if summary := presenter.Summary(); summary != "" {
			fmt.Fprintln(stderr, summary)
		}
	}

	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// exitCode maps a run result to the process exit code: 1 when the run
// failed after changing the destination, 2 for a missing source, an
// invalid configuration or a run that changed nothing.
func exitCode(res engine.Result) int {
	switch {
	case res.Err == nil:
		return 0
	case errors.Is(res.Err, engine.ErrSourceNotFound), errors.Is(res.Err, engine.ErrInvalidConfig):
		return 2
	case res.Stats.Changed():
		return 1 // partial failure
	default:
		return 2
	}
}

func teeEvents(in <-chan event.Event, logger *slog.Logger) <-chan event.Event {
	out := make(chan event.Event, cap(in))
	go func() {
		defer close(out)
		for ev := range in {
			attrs := []slog.Attr{
				slog.String("type", ev.Type.String()),
				slog.String("path", ev.Path),
				slog.Int64("size", ev.Size),
				slog.Int("worker", ev.WorkerID),
			}
			if ev.Artifact != "" {
				attrs = append(attrs, slog.String("artifact", ev.Artifact))
			}
			if ev.Error != nil {
				attrs = append(attrs, slog.String("error", ev.Error.Error()))
			}
			logger.LogAttrs(context.Background(), slog.LevelDebug, "keep.event", attrs...)
			out <- ev
		}
	}()
	return out
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && ui.IsTTY(f.Fd())
}
