package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/config"
	"github.com/dmitrijs2005/timecampetl/internal/filex"
	"github.com/dmitrijs2005/timecampetl/internal/pipeline"
	"github.com/dmitrijs2005/timecampetl/internal/stream"
	"github.com/dmitrijs2005/timecampetl/internal/timecamp"
	"github.com/spf13/cobra"
)

func newFetchCmd(app *App) *cobra.Command {
	var from, to, output string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a date range into a local JSONL or JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := app.request(from, to)
			if err != nil {
				return err
			}
			src, err := app.fetcher()
			if err != nil {
				return err
			}
			opts, err := app.baseOptions()
			if err != nil {
				return err
			}

			if output == "" {
				dir, err := filex.EnsureDir(app.cfg.WorkDir)
				if err != nil {
					return err
				}
				output = filepath.Join(dir, "timecamp_data."+app.cfg.OutputFormat)
			}

			n, err := pipeline.New(src, app.log, opts...).Fetch(cmd.Context(), req, output)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "wrote %d records to %s\n", n, output)
			return nil
		},
	}
	addRangeFlags(cmd, &from, &to)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default <work-dir>/timecamp_data.<format>)")
	return cmd
}

func newFetchActivitiesCmd(app *App) *cobra.Command {
	var (
		from, to, output string
		include          []string
		noApps           bool
	)

	cmd := &cobra.Command{
		Use:   "fetch-activities",
		Short: "Fetch computer activities for a date range into a local file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, t, err := parseRange(from, to)
			if err != nil {
				return err
			}
			src, err := app.fetcher()
			if err != nil {
				return err
			}
			format, err := stream.ParseFormat(app.cfg.OutputFormat)
			if err != nil {
				return fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
			}

			if output == "" {
				dir, err := filex.EnsureDir(app.cfg.WorkDir)
				if err != nil {
					return err
				}
				output = filepath.Join(dir, "timecamp_computer_time_data."+string(format))
			}

			seq := src.FetchActivities(cmd.Context(), timecamp.ActivityQuery{
				From:             f,
				To:               t,
				UserIDs:          app.cfg.Users(),
				Include:          include,
				SkipApplications: noApps,
			})
			n, err := stream.WriteActivities(output, format, seq)
			if err != nil {
				return err
			}
			app.log.Info(cmd.Context(), "activities written", "records", n, "path", output)
			fmt.Fprintf(app.stdout, "wrote %d activities to %s\n", n, output)
			return nil
		},
	}
	addRangeFlags(cmd, &from, &to)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default <work-dir>/timecamp_computer_time_data.<format>)")
	cmd.Flags().StringSliceVar(&include, "include", timecamp.DefaultActivityInclude, "extra data embedded in each activity")
	cmd.Flags().BoolVar(&noApps, "no-enrich-applications", false, "skip application name and category lookups")
	return cmd
}

func newLoadCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "load FILE",
		Short: "Merge-upsert an interchange file into the warehouse",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.cfg.Destination == config.DestS3 {
				return fmt.Errorf("%w: load needs a warehouse destination, use upload for s3", common.ErrInvalidConfig)
			}
			opts, cleanup, err := app.destination(cmd.Context())
			defer cleanup()
			if err != nil {
				return err
			}

			rep, err := pipeline.New(nil, app.log, opts...).Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "staged %d rows, merged %d into %s\n", rep.Staged, rep.Merge.Rows, app.cfg.Destination)
			return nil
		},
	}
}

func newUploadCmd(app *App) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload an interchange file to S3 as weekly objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, t, err := parseRange(from, to)
			if err != nil {
				return err
			}
			app.cfg.Destination = config.DestS3
			opts, cleanup, err := app.destination(cmd.Context())
			defer cleanup()
			if err != nil {
				return err
			}

			rep, err := pipeline.New(nil, app.log, opts...).Upload(cmd.Context(), args[0], f, t)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "uploaded %d objects (%d records)\n", len(rep.Keys), rep.Records)
			for _, k := range rep.Keys {
				fmt.Fprintln(app.stdout, k)
			}
			return nil
		},
	}
	addRangeFlags(cmd, &from, &to)
	return cmd
}

func newRunCmd(app *App) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch a date range and deliver it to the configured destination",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := app.request(from, to)
			if err != nil {
				return err
			}
			src, err := app.fetcher()
			if err != nil {
				return err
			}
			base, err := app.baseOptions()
			if err != nil {
				return err
			}
			opts, cleanup, err := app.destination(cmd.Context())
			defer cleanup()
			if err != nil {
				return err
			}

			rep, err := pipeline.New(src, app.log, append(base, opts...)...).Run(cmd.Context(), req)
			printReport(app, rep)
			return err
		},
	}
	addRangeFlags(cmd, &from, &to)
	return cmd
}

func printReport(app *App, rep pipeline.Report) {
	fmt.Fprintf(app.stdout, "run %s -> %s\n", rep.RunID, rep.Destination)
	for _, s := range rep.Stages {
		status := "ok"
		if s.Err != nil {
			status = "failed"
		}
		fmt.Fprintf(app.stdout, "  %-8s %-6s %s\n", s.Name, status, s.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(app.stdout, "records=%d staged=%d merged=%d objects=%d total=%s\n",
		rep.Records, rep.Staged, rep.Merge.Rows, len(rep.Upload.Keys), rep.Duration.Round(time.Millisecond))
}

func newConvertCmd(app *App) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "convert FILE",
		Short: "Convert a JSONL file to CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			if output == "" {
				output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".csv"
			}
			if output == "-" {
				n, err := stream.ToCSV(in, app.stdout)
				app.log.Info(cmd.Context(), "converted", "rows", n)
				return err
			}
			out, err := os.Create(output)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := out.Close(); err == nil {
					err = cerr
				}
			}()

			n, err := stream.ToCSV(in, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "wrote %d rows to %s\n", n, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "CSV file, - for stdout (default FILE with .csv)")
	return cmd
}

func newMigrateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply run log migrations to the PostgreSQL database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if app.cfg.DatabaseDSN == "" {
				return fmt.Errorf("%w: DATABASE_DSN is required", common.ErrInvalidConfig)
			}
			pool, err := openPool(cmd.Context(), app.cfg.DatabaseDSN, true)
			if err != nil {
				return err
			}
			pool.Close()
			fmt.Fprintln(app.stdout, "migrations applied")
			return nil
		},
	}
}
