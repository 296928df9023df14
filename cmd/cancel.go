package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/mediascout/internal/model"
)

var cancelReason string

var cancelCmd = &cobra.Command{
	Use:   "cancel <search-id>",
	Short: "Cancel a pending or running search",
	Args:  cobra.ExactArgs(1),
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

		job, err := st.GetSearch(ctx, args[0])
		if err != nil {
			return err
		}
		if job.Stage.Terminal() {
			return eris.Errorf("search %s is already %s", job.ID, job.Stage)
		}

		now := time.Now().UTC()
		job.Stage = model.StageCancelled
		job.Progress.CurrentStage = model.StageCancelled
		job.CancelReason = cancelReason
		job.UpdatedAt = now
		job.CompletedAt = &now
		if err := st.CompleteSearch(ctx, job); err != nil {
			return eris.Wrapf(err, "cancel search %s", job.ID)
		}

		fmt.Printf("Search %s cancelled\n", job.ID)
		return nil
	},
}

func init() {
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "cancelled via cli", "reason recorded on the search")
	rootCmd.AddCommand(cancelCmd)
}
