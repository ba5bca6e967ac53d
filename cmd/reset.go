package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/health-steps/internal/fingerprint"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the stored fingerprint so the next run processes the export",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := fingerprint.NewGate(st, cfg.APIName).Reset(ctx); err != nil {
			return err
		}
		zap.L().Info("fingerprint cleared", zap.String("app", cfg.APIName))
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Fingerprint cleared.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
