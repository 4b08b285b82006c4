package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/memex/internal/types"
)

func init() {
	rootCmd.AddCommand(recordCandidateCmd, recordHitCmd, recordSessionCmd)

	recordCandidateCmd.Flags().String("query", "", "candidate's query text (required)")
	recordCandidateCmd.Flags().String("answer", "", "candidate's answer text (required)")
	recordCandidateCmd.Flags().String("context", "", "supporting context")
	recordCandidateCmd.Flags().StringSlice("tags", nil, "comma-separated tags")
	recordCandidateCmd.Flags().Float64("confidence", 0.5, "confidence score in [0,1]")
	_ = recordCandidateCmd.MarkFlagRequired("query")
	_ = recordCandidateCmd.MarkFlagRequired("answer")

	recordHitCmd.Flags().StringP("project", "p", "", "project id (default: control.project_id)")
	recordHitCmd.Flags().Bool("shown", true, "mark the qa_id as shown")
	recordHitCmd.Flags().Bool("used", false, "mark the qa_id as used")

	recordSessionCmd.Flags().StringP("project", "p", "", "project id (default: control.project_id)")
	recordSessionCmd.Flags().String("result", types.ValidationPass, "pass|partial|fail")
	recordSessionCmd.Flags().String("notes", "", "free-text validation notes")
}

var recordCandidateCmd = &cobra.Command{
	Use:   "record-candidate",
	Short: "Manually record a candidate Q/A draft",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		query, _ := cmd.Flags().GetString("query")
		answer, _ := cmd.Flags().GetString("answer")
		ctxText, _ := cmd.Flags().GetString("context")
		tags, _ := cmd.Flags().GetStringSlice("tags")
		confidence, _ := cmd.Flags().GetFloat64("confidence")

		mem, cleanup, err := buildMemory(cfg)
		if err != nil {
			return withExitCode(2, err)
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), timeoutOrForever(cfg.Control.WriteTimeout))
		defer cancel()

		if err := mem.RecordCandidate(ctx, types.CandidateDraft{
			Query:      query,
			Answer:     answer,
			Context:    ctxText,
			Tags:       tags,
			Confidence: confidence,
		}); err != nil {
			return withExitCode(1, err)
		}
		fmt.Println("Candidate recorded.")
		return nil
	},
}

var recordHitCmd = &cobra.Command{
	Use:   "record-hit <qa-id>",
	Short: "Manually record that a Q/A record was shown and/or used",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		project, _ := cmd.Flags().GetString("project")
		if project == "" {
			project = cfg.Control.ProjectID
		}
		shown, _ := cmd.Flags().GetBool("shown")
		used, _ := cmd.Flags().GetBool("used")

		mem, cleanup, err := buildMemory(cfg)
		if err != nil {
			return withExitCode(2, err)
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), timeoutOrForever(cfg.Control.WriteTimeout))
		defer cancel()

		if err := mem.RecordHit(ctx, project, []types.HitRef{{QAID: types.QAID(args[0]), Shown: shown, Used: used}}); err != nil {
			return withExitCode(1, err)
		}
		fmt.Println("Hit recorded.")
		return nil
	},
}

var recordSessionCmd = &cobra.Command{
	Use:   "record-session <qa-id>",
	Short: "Manually record a validation outcome for a Q/A record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		project, _ := cmd.Flags().GetString("project")
		if project == "" {
			project = cfg.Control.ProjectID
		}
		result, _ := cmd.Flags().GetString("result")
		notes, _ := cmd.Flags().GetString("notes")
		result = strings.ToLower(result)
		if result != types.ValidationPass && result != types.ValidationPartial && result != types.ValidationFail {
			return withExitCode(2, fmt.Errorf("--result must be one of pass|partial|fail, got %q", result))
		}

		mem, cleanup, err := buildMemory(cfg)
		if err != nil {
			return withExitCode(2, err)
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), timeoutOrForever(cfg.Control.WriteTimeout))
		defer cancel()

		if err := mem.RecordValidation(ctx, project, types.QAID(args[0]), result, notes); err != nil {
			return withExitCode(1, err)
		}
		fmt.Println("Session validation recorded.")
		return nil
	},
}
