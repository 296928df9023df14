package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/mediascout/internal/model"
	"github.com/sells-group/mediascout/internal/store"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status [search-id]",
	Short: "Show search progress, or list recent searches",
	Args:  cobra.MaximumNArgs(1),
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

		if len(args) == 1 {
			job, err := st.GetSearch(ctx, args[0])
			if err != nil {
				return err
			}
			if statusJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(job)
			}
			printSearchSummary(job)
			return nil
		}

		stage, _ := cmd.Flags().GetString("stage")
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListSearches(ctx, store.SearchFilter{
			Stage:  model.SearchStage(stage),
			UserID: user,
			Limit:  limit,
		})
		if err != nil {
			return err
		}
		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(jobs)
		}

		for _, j := range jobs {
			fmt.Printf("%s  %-18s %5.1f%%  %s\n",
				j.ID, j.Stage, j.Progress.Percentage, j.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("stage", "", "filter by stage")
	statusCmd.Flags().String("user", "", "filter by user ID")
	statusCmd.Flags().Int("limit", 20, "max searches to list")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit JSON")
	rootCmd.AddCommand(statusCmd)
}
