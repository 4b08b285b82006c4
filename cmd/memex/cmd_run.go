package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/memex/internal/engine"
	"github.com/user/memex/internal/enginerr"
	"github.com/user/memex/internal/taskparse"
	"github.com/user/memex/internal/types"
)

func init() {
	rootCmd.AddCommand(runCmd, resumeCmd)

	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().StringP("project", "p", "", "project id (default: control.project_id)")
		c.Flags().StringP("backend", "b", "", "backend: codex|claude|gemini|<URL> (default: control.default_backend)")
		c.Flags().StringP("workdir", "w", "", "backend working directory")
		c.Flags().Duration("timeout", 0, "per-run wall-clock timeout (default: control.task_timeout)")
		c.Flags().String("batch", "", "path to structured batch input (mutually exclusive with a single query)")
		c.Flags().Int64("max-concurrent", 0, "max concurrent runs within a batch (default: control.max_concurrent)")
	}
	resumeCmd.Flags().String("parent-run-id", "", "run id to resume from (required)")
}

var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Run a query through a backend, with retrieval injection and memory capture",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOrResume(cmd, args, types.RunID(""))
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [query]",
	Short: "Resume a prior run with a follow-up query",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, _ := cmd.Flags().GetString("parent-run-id")
		if parent == "" {
			return withExitCode(2, fmt.Errorf("--parent-run-id is required"))
		}
		return runOrResume(cmd, args, types.RunID(parent))
	},
}

func runOrResume(cmd *cobra.Command, args []string, parentRunID types.RunID) error {
	cfg := loadConfig()
	setupLogging(cfg)

	project, _ := cmd.Flags().GetString("project")
	if project == "" {
		project = cfg.Control.ProjectID
	}
	backend, _ := cmd.Flags().GetString("backend")
	if backend == "" {
		backend = cfg.Control.DefaultBackend
	}
	workdir, _ := cmd.Flags().GetString("workdir")
	if workdir == "" {
		var err error
		workdir, err = os.Getwd()
		if err != nil {
			return withExitCode(1, fmt.Errorf("resolve working directory: %w", err))
		}
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		timeout = cfg.Control.TaskTimeout
	}
	batchPath, _ := cmd.Flags().GetString("batch")
	maxConcurrent, _ := cmd.Flags().GetInt64("max-concurrent")
	if maxConcurrent <= 0 {
		maxConcurrent = int64(cfg.Control.MaxConcurrent)
	}

	mem, cleanup, err := buildMemory(cfg)
	if err != nil {
		return withExitCode(2, err)
	}
	defer cleanup()

	eng := engine.New(mem, buildPolicy(cfg), interactiveAsker(), cfg)
	eng.Out = os.Stdout
	eng.Err = os.Stderr

	ctx, cancel := context.WithTimeout(context.Background(), timeoutOrForever(timeout))
	defer cancel()

	if batchPath != "" {
		return runBatch(ctx, eng, batchPath, project, maxConcurrent)
	}

	query := ""
	if len(args) == 1 {
		query = args[0]
	}
	if query == "" {
		return withExitCode(2, fmt.Errorf("a query is required (positional argument or --batch)"))
	}

	var exitCode int
	if parentRunID != "" {
		exitCode, err = eng.Resume(ctx, parentRunID, project, query, backend, workdir)
	} else {
		exitCode, err = eng.Run(ctx, project, query, backend, workdir)
	}
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return withExitCode(exitCode, fmt.Errorf("run exited with code %d", exitCode))
	}
	return nil
}

func timeoutOrForever(d time.Duration) time.Duration {
	if d <= 0 {
		return 365 * 24 * time.Hour
	}
	return d
}

func runBatch(ctx context.Context, eng *engine.Engine, path, project string, maxConcurrent int64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return withExitCode(2, fmt.Errorf("%w: read batch file: %w", enginerr.ErrParseInput, err))
	}

	specs, err := taskparse.ParseBatch(string(data))
	if err != nil {
		return withExitCode(2, err)
	}

	outcomes, err := eng.RunBatch(ctx, specs, project, maxConcurrent)
	if err != nil {
		return withExitCode(1, err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tEXIT CODE\tSKIPPED\tREASON")
	worstCode := 0
	for _, spec := range specs {
		o := outcomes[spec.ID]
		fmt.Fprintf(w, "%s\t%d\t%v\t%s\n", o.TaskID, o.ExitCode, o.Skipped, o.Reason)
		if !o.Skipped && o.ExitCode != 0 && worstCode == 0 {
			worstCode = o.ExitCode
		}
	}
	w.Flush()

	if worstCode != 0 {
		return withExitCode(worstCode, fmt.Errorf("one or more batch tasks failed"))
	}
	return nil
}
