// Package cli is the command-line surface of timecampetl.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/config"
	"github.com/dmitrijs2005/timecampetl/internal/logging"
	"github.com/dmitrijs2005/timecampetl/internal/timex"
	"github.com/spf13/cobra"
)

// now is a seam for tests.
var now = time.Now

// NewRootCmd builds the command tree. Output goes to stdout, logs and
// errors to stderr.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	app := &App{stdout: stdout}

	root := &cobra.Command{
		Use:   "timecampetl",
		Short: "Extract TimeCamp time records and upsert them into a warehouse",
		Long: `timecampetl fetches time entries for a date range from the TimeCamp API,
enriches them with user and group hierarchy, and merges them into PostgreSQL
or BigQuery (keyed on the entry id) or uploads them to S3 as weekly files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	})

	loader := config.BindFlags(root.PersistentFlags())
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := loader.Load()
		if err != nil {
			return err
		}
		app.cfg = cfg
		app.log = logging.New(stderr, cfg.LogLevel)
		return nil
	}

	root.AddCommand(
		newFetchCmd(app),
		newFetchActivitiesCmd(app),
		newLoadCmd(app),
		newUploadCmd(app),
		newRunCmd(app),
		newConvertCmd(app),
		newMigrateCmd(app),
	)
	return root
}

// Execute runs the command line in args and returns the exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
	}
	return ExitCode(err)
}

// parseRange resolves both ends of a date range relative to now.
func parseRange(from, to string) (time.Time, time.Time, error) {
	n := now()
	f, err := timex.ParseDate(from, n)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
	}
	t, err := timex.ParseDate(to, n)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
	}
	if f.After(t) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from %s is after to %s", common.ErrInvalidRange, timex.FormatDate(f), timex.FormatDate(t))
	}
	return f, t, nil
}

func addRangeFlags(cmd *cobra.Command, from, to *string) {
	cmd.Flags().StringVar(from, "from", "yesterday", "first day: yesterday, today, YYYY-MM-DD, DD/MM/YYYY, MM/DD/YYYY")
	cmd.Flags().StringVar(to, "to", "yesterday", "last day, inclusive")
}
