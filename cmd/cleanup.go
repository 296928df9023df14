package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cleanupRetentionHours int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished searches past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		hours := cleanupRetentionHours
		if hours == 0 {
			hours = cfg.Cleanup.RetentionHours
		}
		retention := time.Duration(hours) * time.Hour

		n, err := st.DeleteExpiredSearches(ctx, retention)
		if err != nil {
			return err
		}
		zap.L().Info("cleanup complete",
			zap.Int("deleted", n),
			zap.Duration("retention", retention),
		)
		fmt.Printf("Deleted %d expired searches\n", n)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupRetentionHours, "retention-hours", 0, "retention window (default from config)")
	rootCmd.AddCommand(cleanupCmd)
}
