package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/health-steps/internal/datasite"
	"github.com/sells-group/health-steps/internal/pipeline"
	"github.com/sells-group/health-steps/internal/privacy"
)

var runForce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Aggregate and publish the export if it changed",
	Long: "Hashes the configured export and, when it differs from the last successful run, " +
		"extracts step records, aggregates them per day and publishes both tables.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		// Reject bad configuration before touching the export or the store.
		if err := cfg.Validate(); err != nil {
			return err
		}

		sink, err := datasite.NewLocal(cfg.Datasite.Root, cfg.Datasite.Email, cfg.APIName)
		if err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runner, err := pipeline.NewRunner(cfg, st, sink, privacy.Laplace(), pipeline.RunOpts{Force: runForce})
		if err != nil {
			return err
		}

		result, err := runner.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		zap.L().Info("run finished",
			zap.Bool("skipped", result.Skipped),
			zap.String("reason", result.Reason),
		)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false, "run even if the export is unchanged")
	rootCmd.AddCommand(runCmd)
}
