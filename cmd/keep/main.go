package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/keep/internal/config"
	"github.com/bamsammich/keep/internal/engine"
	"github.com/bamsammich/keep/internal/filter"
	"github.com/bamsammich/keep/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

// options holds the flag values shared by the root command and jobs.
type options struct {
	filter       *filter.Spec
	filterFile   string
	baseName     string
	mode         string
	compress     bool
	force        bool
	multithread  bool
	compareTrees bool
	verify       bool
	workers      int
	threshold    string
	tolerance    time.Duration
	bwLimit      string

	verbose bool
	quiet   bool
	logFile string
}

// filterFlag is a pflag.Value that appends each occurrence of --include
// or --exclude to a shared filter.Spec.
type filterFlag struct {
	spec    *filter.Spec
	include bool
	values  []string
}

var _ pflag.Value = (*filterFlag)(nil)

func (f *filterFlag) String() string { return strings.Join(f.values, ",") }
func (*filterFlag) Type() string     { return "prefix" }

func (f *filterFlag) Set(val string) error {
	if val == "" {
		return errors.New("empty prefix")
	}
	f.values = append(f.values, val)
	if f.include {
		f.spec.AddInclude(val)
	} else {
		f.spec.AddExclude(val)
	}
	return nil
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var showVersion bool
	o := &options{filter: filter.NewSpec()}

	rootCmd := &cobra.Command{
		Use:   "keep [flags] <source>... <destination>",
		Short: "Incremental, filtered backups as mirrors, snapshots or archives",
		Long: `Back up one or more sources into a destination directory.

Each source is reconciled on its own. A directory source is mirrored into
<destination> (or archived per top-level entry with --compress), or stored as
a new timestamped snapshot with --mode versioned when anything changed since
the last one. A file source is copied or archived as a single artifact.

Only entries newer than their copy are transferred, unless --force is given.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				return nil
			}
			return cobra.MinimumNArgs(2)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintf(stdout, "keep %s\n", version)
				return nil
			}

			logger, closeLog, err := setupLogging(*o, stderr)
			if err != nil {
				return err
			}
			defer closeLog()

			cfg, err := config.Load()
			if err != nil {
				logger.Warn("failed to load config", "path", config.Path(), "error", err)
			}
			if err := applyConfigDefaults(cfg.Defaults, o, cmd.Flags().Changed); err != nil {
				return fmt.Errorf("config %s: %w", config.Path(), err)
			}

			tmpl, err := engineConfig(*o)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return execute(ctx, plan{
				sources: args[:len(args)-1],
				dst:     args[len(args)-1],
				tmpl:    tmpl,
				opts:    *o,
			}, stdout, stderr, logger)
		},
	}

	flags := rootCmd.Flags()
	flags.BoolVar(&showVersion, "version", false, "print version and exit")
	flags.VarP(&filterFlag{spec: o.filter, include: true}, "include", "i",
		"back up only paths under PREFIX (repeatable; excludes are then ignored)")
	flags.VarP(&filterFlag{spec: o.filter}, "exclude", "e", "skip paths under PREFIX (repeatable)")
	flags.StringVar(&o.filterFile, "filter", "", "read include/exclude prefixes from FILE")
	flags.StringVarP(&o.baseName, "name", "n", "", "snapshot and single-file artifact name (default: source base name)")
	flags.StringVar(&o.mode, "mode", engine.ModeMirror.String(), "mirror, versioned or single-file")
	flags.BoolVarP(&o.compress, "compress", "c", false, "write gzip-compressed tar archives (.tgz)")
	flags.BoolVarP(&o.force, "force", "f", false, "rewrite artifacts even when they are up to date")
	flags.BoolVarP(&o.multithread, "multithread", "m", false, "copy files in parallel (not with --compress)")
	flags.IntVarP(&o.workers, "workers", "w", 0, "parallel copy workers with --multithread (default: NumCPU)")
	flags.StringVarP(&o.threshold, "threshold", "t", "", "archive files larger than SIZE individually (e.g. 64M)")
	flags.BoolVarP(&o.compareTrees, "compare-trees", "r", false, "delete destination entries missing from the source (mirror)")
	flags.DurationVar(&o.tolerance, "tolerance", engine.DefaultTolerance, "mtime difference treated as unchanged")
	flags.BoolVar(&o.verify, "verify", false, "verify checksums after copy (BLAKE3)")
	flags.StringVar(&o.bwLimit, "bwlimit", "", "bandwidth limit (e.g. 100M, 1G)")

	persistent := rootCmd.PersistentFlags()
	persistent.BoolVarP(&o.verbose, "verbose", "v", false, "list every entry and enable debug logging")
	persistent.BoolVarP(&o.quiet, "quiet", "q", false, "suppress all output except errors")
	persistent.StringVar(&o.logFile, "log", "", "write structured JSON log to FILE")

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
	rootCmd.AddCommand(newJobsCmd(o, stdout, stderr))
	rootCmd.AddCommand(newDocsCmd())
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	return rootCmd
}

// setupLogging builds the process logger: text on stderr, plus a JSON file
// at debug level when --log is set.
func setupLogging(o options, stderr io.Writer) (*slog.Logger, func(), error) {
	logLevel := slog.LevelInfo
	if o.verbose {
		logLevel = slog.LevelDebug
	} else if o.quiet {
		logLevel = slog.LevelWarn
	}
	textHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel})

	var logHandler slog.Handler = textHandler
	closeLog := func() {}
	if o.logFile != "" {
		lf, err := os.Create(o.logFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		closeLog = func() { lf.Close() }
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{Level: slog.LevelDebug})
		logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
	}

	logger := slog.New(logHandler)
	slog.SetDefault(logger)
	return logger, closeLog, nil
}

// applyConfigDefaults applies config file defaults for flags that changed
// reports as not set explicitly.
func applyConfigDefaults(d config.DefaultsConfig, o *options, changed func(string) bool) error {
	if !changed("workers") && d.Workers != nil {
		o.workers = *d.Workers
	}
	if !changed("compress") && d.Compress != nil {
		o.compress = *d.Compress
	}
	if !changed("multithread") && d.Multithread != nil {
		o.multithread = *d.Multithread
	}
	if !changed("verify") && d.Verify != nil {
		o.verify = *d.Verify
	}
	if !changed("threshold") && d.Threshold != nil {
		o.threshold = *d.Threshold
	}
	if !changed("bwlimit") && d.BWLimit != nil {
		o.bwLimit = *d.BWLimit
	}
	if !changed("tolerance") && d.Tolerance != nil {
		tol, err := time.ParseDuration(*d.Tolerance)
		if err != nil {
			return fmt.Errorf("invalid tolerance: %w", err)
		}
		o.tolerance = tol
	}
	return nil
}

// engineConfig converts options into a run template without Src and Dst.
func engineConfig(o options) (engine.Config, error) {
	cfg := engine.Config{
		Compress:     o.compress,
		Force:        o.force,
		Multithread:  o.multithread,
		Workers:      o.workers,
		BaseName:     o.baseName,
		CompareTrees: o.compareTrees,
		Tolerance:    o.tolerance,
		Verify:       o.verify,
	}

	if o.mode != "" {
		mode, err := engine.ParseMode(o.mode)
		if err != nil {
			return engine.Config{}, fmt.Errorf("invalid --mode: %w", err)
		}
		cfg.Mode = mode
	}
	if o.threshold != "" {
		n, err := filter.ParseSize(o.threshold)
		if err != nil {
			return engine.Config{}, fmt.Errorf("invalid --threshold: %w", err)
		}
		cfg.Threshold = n
	}
	if o.bwLimit != "" {
		n, err := filter.ParseSize(o.bwLimit)
		if err != nil {
			return engine.Config{}, fmt.Errorf("invalid --bwlimit: %w", err)
		}
		cfg.BWLimit = n
	}

	spec := o.filter
	if spec == nil {
		spec = filter.NewSpec()
	}
	if o.filterFile != "" {
		if err := spec.LoadFile(o.filterFile); err != nil {
			return engine.Config{}, fmt.Errorf("load filter file: %w", err)
		}
	}
	if !spec.Empty() {
		cfg.Filter = spec
	}
	return cfg, nil
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
