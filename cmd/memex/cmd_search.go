package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/memex/internal/types"
)

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringP("project", "p", "", "project id (default: control.project_id)")
	searchCmd.Flags().Int("limit", 20, "max results (<= 20)")
	searchCmd.Flags().Float64("min-score", 0, "minimum score")
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Query the memory facade directly, bypassing injection policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		project, _ := cmd.Flags().GetString("project")
		if project == "" {
			project = cfg.Control.ProjectID
		}
		limit, _ := cmd.Flags().GetInt("limit")
		minScore, _ := cmd.Flags().GetFloat64("min-score")

		mem, cleanup, err := buildMemory(cfg)
		if err != nil {
			return withExitCode(2, err)
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), timeoutOrForever(cfg.Control.SearchTimeout))
		defer cancel()

		results, err := mem.Search(ctx, types.SearchPayload{
			ProjectID: project,
			Query:     args[0],
			Limit:     limit,
			MinScore:  minScore,
		})
		if err != nil {
			return withExitCode(1, err)
		}

		if len(results) == 0 {
			fmt.Println("No matches.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "QA ID\tSCORE\tTRUST\tLEVEL\tSTATUS\tQUERY")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%.3f\t%.3f\t%d\t%s\t%s\n", r.QAID, r.Score, r.Trust, r.ValidationLevel, r.Status, truncateLine(r.Query, 60))
		}
		return w.Flush()
	},
}

func truncateLine(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
