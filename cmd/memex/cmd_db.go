package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/user/memex/internal/config"
	"github.com/user/memex/internal/memory"
)

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbInitCmd, dbInfoCmd, dbExportCmd, dbImportCmd)
	dbExportCmd.Flags().String("out", "", "output file (default: stdout)")
	dbImportCmd.Flags().String("in", "", "input file (required)")
	_ = dbImportCmd.MarkFlagRequired("in")
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the local memory database",
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create (or migrate) the local memory database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		local, err := memory.NewLocal(cfg.Memory.LocalPath)
		if err != nil {
			return withExitCode(1, err)
		}
		defer local.Close()
		fmt.Printf("Database ready at %s\n", cfg.Memory.LocalPath)
		return nil
	},
}

var dbInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print row counts and redacted config for the local database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		local, err := memory.NewLocal(cfg.Memory.LocalPath)
		if err != nil {
			return withExitCode(1, err)
		}
		defer local.Close()

		ctx, cancel := context.WithTimeout(context.Background(), timeoutOrForever(cfg.Control.SearchTimeout))
		defer cancel()

		info, err := local.Info(ctx)
		if err != nil {
			return withExitCode(1, err)
		}
		fmt.Printf("path:               %s\n", cfg.Memory.LocalPath)
		fmt.Printf("qa_records:         %d\n", info.QARecords)
		fmt.Printf("hits:               %d\n", info.Hits)
		fmt.Printf("validations:        %d\n", info.Validations)
		fmt.Printf("candidates:         %d\n", info.Candidates)
		fmt.Printf("unsynced candidates: %d\n", info.Unsynced)

		fmt.Println()
		fmt.Println("config:")
		printRedactedConfig(cfg)
		return nil
	},
}

// printRedactedConfig dumps the effective config as flat dot-separated keys
// with secret values masked.
func printRedactedConfig(cfg *config.Config) {
	m, err := config.ToMap(cfg)
	if err != nil {
		fmt.Printf("  (unavailable: %v)\n", err)
		return
	}
	flat := config.MaskSecrets(config.Flatten(m))
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s = %v\n", k, flat[k])
	}
}

var dbExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all qa_records as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		local, err := memory.NewLocal(cfg.Memory.LocalPath)
		if err != nil {
			return withExitCode(1, err)
		}
		defer local.Close()

		ctx, cancel := context.WithTimeout(context.Background(), timeoutOrForever(cfg.Control.SearchTimeout))
		defer cancel()

		records, err := local.ExportAll(ctx)
		if err != nil {
			return withExitCode(1, err)
		}

		out := os.Stdout
		if path, _ := cmd.Flags().GetString("out"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return withExitCode(1, fmt.Errorf("create export file: %w", err))
			}
			defer f.Close()
			out = f
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			return withExitCode(1, fmt.Errorf("encode export: %w", err))
		}
		return nil
	},
}

var dbImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import qa_records from a JSON export, upserting by qa_id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		path, _ := cmd.Flags().GetString("in")
		data, err := os.ReadFile(path)
		if err != nil {
			return withExitCode(2, fmt.Errorf("read import file: %w", err))
		}
		var records []memory.ExportRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return withExitCode(2, fmt.Errorf("parse import file: %w", err))
		}

		local, err := memory.NewLocal(cfg.Memory.LocalPath)
		if err != nil {
			return withExitCode(1, err)
		}
		defer local.Close()

		ctx, cancel := context.WithTimeout(context.Background(), timeoutOrForever(cfg.Control.WriteTimeout))
		defer cancel()

		if err := local.ImportAll(ctx, records); err != nil {
			return withExitCode(1, err)
		}
		fmt.Printf("Imported %d records.\n", len(records))
		return nil
	},
}
