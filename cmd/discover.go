package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mediascout/internal/model"
)

var (
	discoverQuery      string
	discoverCountries  []string
	discoverCategories []string
	discoverBeats      []string
	discoverLanguages  []string
	discoverDomains    []string
	discoverMaxResults int
	discoverThreshold  float64
	discoverUser       string
	discoverJSON       bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run a media contact search and wait for it to finish",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		threshold := discoverThreshold
		if threshold == 0 {
			threshold = cfg.Extract.ConfidenceThreshold
		}

		searchCfg := model.SearchConfiguration{
			Criteria: model.SearchCriteria{
				Query:      discoverQuery,
				Countries:  discoverCountries,
				Categories: discoverCategories,
				Beats:      discoverBeats,
				Languages:  discoverLanguages,
				Domains:    discoverDomains,
			},
			Options: model.SearchOptions{
				MaxResults:          discoverMaxResults,
				ConfidenceThreshold: threshold,
				EnableAIEnhancement: cfg.Query.EnableAIEnhancement,
			},
		}

		id, err := env.Orchestrator.Start(ctx, searchCfg, discoverUser)
		if err != nil {
			return err
		}
		zap.L().Info("search started", zap.String("search_id", id))

		if err := env.Orchestrator.Run(ctx, id); err != nil {
			return err
		}

		job, err := env.Orchestrator.Status(ctx, id)
		if err != nil {
			return err
		}
		contacts, err := env.Store.GetContacts(ctx, id)
		if err != nil {
			return err
		}

		if discoverJSON {
			out := struct {
				Search   *model.SearchJob         `json:"search"`
				Contacts []model.ExtractedContact `json:"contacts"`
			}{job, contacts}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		printSearchSummary(job)
		printContacts(contacts)
		return nil
	},
}

func printSearchSummary(job *model.SearchJob) {
	fmt.Printf("Search %s: %s (%.0f%%)\n", job.ID, job.Stage, job.Progress.Percentage)
	if job.CancelReason != "" {
		fmt.Printf("Cancelled: %s\n", job.CancelReason)
	}
	if agg := job.Aggregated; agg != nil {
		fmt.Printf("Results: %d pages, %d unique contacts, %d duplicates folded\n",
			agg.TotalResults, agg.UniqueContacts, agg.DuplicateContacts)
		fmt.Printf("Confidence: avg %.2f, quality avg %.2f\n",
			agg.AverageConfidence, agg.AverageQuality)
	}
	for _, serr := range job.Errors {
		fmt.Printf("  warning [%s] %s\n", serr.Stage, serr.Message)
	}
}

func printContacts(contacts []model.ExtractedContact) {
	if len(contacts) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTITLE\tOUTLET\tEMAIL\tCONFIDENCE")
	for _, c := range contacts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\n", c.Name, c.Title, c.Outlet, c.Email, c.Confidence)
	}
	_ = w.Flush()
}

func init() {
	discoverCmd.Flags().StringVarP(&discoverQuery, "query", "q", "", "free-text search intent")
	discoverCmd.Flags().StringSliceVar(&discoverCountries, "countries", nil, "target countries")
	discoverCmd.Flags().StringSliceVar(&discoverCategories, "categories", nil, "outlet categories (newspaper, broadcast, ...)")
	discoverCmd.Flags().StringSliceVar(&discoverBeats, "beats", nil, "journalist beats (climate, tech, ...)")
	discoverCmd.Flags().StringSliceVar(&discoverLanguages, "languages", nil, "publication languages")
	discoverCmd.Flags().StringSliceVar(&discoverDomains, "domains", nil, "restrict to these domains")
	discoverCmd.Flags().IntVar(&discoverMaxResults, "max-results", 0, "cap on scraped pages (default from config)")
	discoverCmd.Flags().Float64Var(&discoverThreshold, "threshold", 0, "contact confidence threshold (default from config)")
	discoverCmd.Flags().StringVar(&discoverUser, "user", "", "user ID to attribute the search to")
	discoverCmd.Flags().BoolVar(&discoverJSON, "json", false, "emit the full search record as JSON")
	rootCmd.AddCommand(discoverCmd)
}
