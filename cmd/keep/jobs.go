package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bamsammich/keep/internal/config"
	"github.com/bamsammich/keep/internal/filter"
)

func newJobsCmd(global *options, stdout, stderr io.Writer) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "jobs [name...]",
		Short: "Run the backup jobs defined in the config file",
		Long: `Run named backup jobs from the [[jobs]] tables of the config file
($KEEP_CONFIG, or $XDG_CONFIG_HOME/keep/config.toml). Without names every job
runs in file order. Job options fall back to the [defaults] table.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, names []string) error {
			logger, closeLog, err := setupLogging(*global, stderr)
			if err != nil {
				return err
			}
			defer closeLog()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			jobs := cfg.Jobs
			if len(names) > 0 {
				jobs = nil
				for _, name := range names {
					j, ok := cfg.Job(name)
					if !ok {
						return fmt.Errorf("no job named %q in %s", name, config.Path())
					}
					jobs = append(jobs, j)
				}
			}

			if list {
				return config.WriteJobs(stdout, jobs)
			}
			if len(jobs) == 0 {
				return fmt.Errorf("no jobs defined in %s", config.Path())
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			code := 0
			for _, j := range jobs {
				if ctx.Err() != nil {
					break
				}
				p, err := jobPlan(j, cfg.Defaults, *global)
				if err != nil {
					logger.Error("invalid job", "job", j.Name, "error", err)
					code = max(code, 2)
					continue
				}
				logger.Debug("running job", "job", j.Name)
				if err := execute(ctx, p, stdout, stderr, logger); err != nil {
					var exitErr *exitError
					if !errors.As(err, &exitErr) {
						return err
					}
					code = max(code, exitErr.code)
				}
			}
			if code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "print the selected jobs as TOML instead of running them")
	return cmd
}

// jobPlan resolves a job against the config defaults. Only the output
// flags of the command line apply to jobs.
func jobPlan(j config.Job, defaults config.DefaultsConfig, global options) (plan, error) {
	if err := j.Validate(); err != nil {
		return plan{}, err
	}

	o := options{
		filter:       filter.NewSpecFrom(j.Include, j.Exclude),
		filterFile:   j.FilterFile,
		baseName:     j.BaseName,
		mode:         j.Mode,
		force:        j.Force,
		compareTrees: j.CompareTrees,
		verbose:      global.verbose,
		quiet:        global.quiet,
		logFile:      global.logFile,
	}
	noFlags := func(string) bool { return false }
	if err := applyConfigDefaults(defaults, &o, noFlags); err != nil {
		return plan{}, err
	}
	if j.Compress != nil {
		o.compress = *j.Compress
	}
	if j.Multithread != nil {
		o.multithread = *j.Multithread
	}
	if j.Verify != nil {
		o.verify = *j.Verify
	}
	if j.Threshold != "" {
		o.threshold = j.Threshold
	}

	tmpl, err := engineConfig(o)
	if err != nil {
		return plan{}, fmt.Errorf("job %q: %w", j.Name, err)
	}
	return plan{sources: j.Sources, dst: j.Destination, tmpl: tmpl, opts: o}, nil
}
