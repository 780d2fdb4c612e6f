package ui

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/bamsammich/keep/internal/event"
	"github.com/bamsammich/keep/internal/stats"
)

// Target status words shown at the end of a status line.
const (
	StatusWorking  = "WORKING"
	StatusDone     = "DONE"
	StatusUpToDate = "UP TO DATE"
	StatusNotFound = "NOT FOUND"
	StatusFailed   = "FAILED"
)

// plainPresenter prints one status line per backup target:
//
//	Backing up '/home/me/docs' ... DONE
//
// On a terminal the line first shows WORKING and is rewritten in place
// when the target finishes. Verbose mode adds one line per entry.
type plainPresenter struct {
	w       io.Writer
	errW    io.Writer
	stats   stats.Reader
	tty     bool
	verbose bool

	current string // target whose WORKING line is on screen

	green  func(a ...any) string
	cyan   func(a ...any) string
	yellow func(a ...any) string
	red    func(a ...any) string
	blue   func(a ...any) string
	gray   func(a ...any) string
}

func newPlainPresenter(cfg Config) *plainPresenter {
	p := &plainPresenter{
		w:       cfg.Writer,
		errW:    cfg.ErrWriter,
		stats:   cfg.Stats,
		tty:     cfg.IsTTY,
		verbose: cfg.Verbose,
	}
	if p.errW == nil {
		p.errW = p.w
	}

	palette := []*func(a ...any) string{&p.green, &p.cyan, &p.yellow, &p.red, &p.blue, &p.gray}
	attrs := []color.Attribute{color.FgGreen, color.FgCyan, color.FgYellow, color.FgRed, color.FgBlue, color.FgHiBlack}
	for i, fn := range palette {
		c := color.New(attrs[i])
		if cfg.IsTTY {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		*fn = c.SprintFunc()
	}
	return p
}

func (p *plainPresenter) Run(events <-chan event.Event) error {
	for ev := range events {
		p.handleEvent(ev)
	}
	if p.current != "" {
		fmt.Fprintln(p.w)
		p.current = ""
	}
	return nil
}

func (p *plainPresenter) handleEvent(ev event.Event) {
	switch ev.Type {
	case event.TargetStarted:
		// Without a terminal the WORKING line cannot be rewritten, so it
		// stands on its own and the final status follows on the next line.
		if !p.tty {
			p.statusLine(ev.Path, p.blue(StatusWorking), true)
			return
		}
		p.current = ev.Path
		p.statusLine(ev.Path, p.blue(StatusWorking), false)
	case event.TargetDone:
		p.finishTarget(ev.Path, p.green(StatusDone))
	case event.TargetUpToDate:
		p.finishTarget(ev.Path, p.cyan(StatusUpToDate))
	case event.TargetNotFound:
		p.finishTarget(ev.Path, p.yellow(StatusNotFound))
	case event.TargetFailed:
		p.finishTarget(ev.Path, p.red(StatusFailed))
		if ev.Error != nil {
			p.entryLine(p.errW, "  %s\n", p.red(ev.Error.Error()))
		}
	case event.FileFailed:
		p.entryLine(p.errW, "  %s %s: %v\n", p.red("failed  "), ev.Path, ev.Error)
	case event.VerifyFailed:
		p.entryLine(p.errW, "  %s %s\n", p.red("MISMATCH"), ev.Path)
	default:
		if p.verbose {
			p.verboseLine(ev)
		}
	}
}

func (p *plainPresenter) verboseLine(ev event.Event) {
	switch ev.Type {
	case event.FileCopied:
		p.entryLine(p.w, "  %s %s  %s\n", p.green("copied  "), ev.Path, p.gray(FormatBytes(ev.Size)))
	case event.FileUpToDate:
		p.entryLine(p.w, "  %s %s\n", p.gray("current "), ev.Path)
	case event.DirCreated:
		p.entryLine(p.w, "  %s %s/\n", p.green("mkdir   "), ev.Path)
	case event.ArchiveWritten:
		p.entryLine(p.w, "  %s %s -> %s  %s\n", p.green("archived"), ev.Path, ev.Artifact, p.gray(FormatBytes(ev.Size)))
	case event.Deleted:
		p.entryLine(p.w, "  %s %s\n", p.yellow("deleted "), ev.Artifact)
	case event.VerifyOK:
		p.entryLine(p.w, "  %s %s\n", p.gray("verified"), ev.Path)
	}
}

// entryLine prints a detail line without corrupting an in-place WORKING
// line: the line is cleared first and redrawn afterwards.
func (p *plainPresenter) entryLine(w io.Writer, format string, args ...any) {
	if p.current != "" {
		fmt.Fprint(p.w, "\r\x1b[K")
	}
	fmt.Fprintf(w, format, args...)
	if p.current != "" {
		p.statusLine(p.current, p.blue(StatusWorking), false)
	}
}

func (p *plainPresenter) finishTarget(path, status string) {
	p.statusLine(path, status, true)
	p.current = ""
}

func (p *plainPresenter) statusLine(path, status string, final bool) {
	prefix := ""
	if p.tty && p.current != "" {
		prefix = "\r\x1b[K"
	}
	line := fmt.Sprintf("%sBacking up '%s' ... %s", prefix, path, status)
	if final {
		line += "\n"
	}
	fmt.Fprint(p.w, line)
}

func (p *plainPresenter) Summary() string {
	if p.stats == nil {
		return ""
	}
	return CompletionSummary(p.stats.Snapshot())
}
