package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/health-steps/internal/fingerprint"
	"github.com/sells-group/health-steps/internal/model"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored fingerprint and recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		gate := fingerprint.NewGate(st, cfg.APIName, fingerprint.WithDevMode(cfg.Dev.Enabled))
		out := cmd.OutOrStdout()

		last, err := gate.Last(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(out, "Fingerprint:  unreadable (%v)\n", err)
		} else {
			formatFingerprint(out, last)
		}

		if cfg.Filepath != "" {
			d, err := gate.ShouldRun(ctx, cfg.Filepath)
			if err != nil {
				_, _ = fmt.Fprintf(out, "Next run:     error (%v)\n", err)
			} else {
				_, _ = fmt.Fprintf(out, "Next run:     %s (%s)\n", willRun(d.Run), d.Reason)
			}
		}
		_, _ = fmt.Fprintln(out)

		runs, err := st.ListRuns(ctx, cfg.APIName, statusLimit)
		if err != nil {
			return eris.Wrap(err, "status: list runs")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRuns(out, runs)
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of runs to show")
	rootCmd.AddCommand(statusCmd)
}

func willRun(run bool) string {
	if run {
		return "process"
	}
	return "skip"
}

func formatFingerprint(w io.Writer, fp *model.Fingerprint) {
	if fp == nil {
		_, _ = fmt.Fprintln(w, "Fingerprint:  none")
		return
	}
	_, _ = fmt.Fprintf(w, "Fingerprint:  %s\n", fp.Hash)
	_, _ = fmt.Fprintf(w, "Recorded:     %s\n", fp.Timestamp.Format(time.RFC3339))
}

// formatRuns writes a tabular representation of run history to out.
func formatRuns(out io.Writer, runs []model.RunRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tRECORDS\tDAYS\tDIGEST\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t--------\t-------\t----\t------\t-----")

	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			r.Records,
			r.Days,
			truncate(r.Digest, 12),
			truncate(r.Error, 60),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
