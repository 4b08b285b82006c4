package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/memex/internal/config"
	"github.com/user/memex/internal/enginerr"
	"github.com/user/memex/internal/memory"
)

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncStatusCmd, syncNowCmd, syncConflictsCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Control the hybrid memory provider's local<->remote sync loop",
}

func requireHybridConfig(cfg *config.Config) error {
	if cfg.Memory.Provider != "hybrid" {
		return fmt.Errorf("%w: sync commands require memory.provider = \"hybrid\" (got %q)", enginerr.ErrConfig, cfg.Memory.Provider)
	}
	return nil
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the next sync tick and remote reachability",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		if err := requireHybridConfig(cfg); err != nil {
			return withExitCode(2, err)
		}

		local, err := memory.NewLocal(cfg.Memory.LocalPath)
		if err != nil {
			return withExitCode(1, err)
		}
		defer local.Close()
		remote := memory.NewRemote(cfg.Memory.ServiceURL, cfg.Memory.ServiceAPIKey, cfg.Control.WriteTimeout)
		hybrid := memory.NewHybrid(local, remote, cfg.Memory.SyncInterval)
		defer hybrid.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), timeoutOrForever(cfg.Control.SearchTimeout))
		defer cancel()

		reachable := "yes"
		if err := remote.Health(ctx); err != nil {
			reachable = fmt.Sprintf("no (%v)", err)
		}

		fmt.Printf("remote:      %s\n", cfg.Memory.ServiceURL)
		fmt.Printf("reachable:   %s\n", reachable)
		fmt.Printf("next tick:   %s\n", hybrid.NextTick().Format("2006-01-02T15:04:05Z07:00"))
		if lastErr := hybrid.LastError(); lastErr != nil {
			fmt.Printf("last error:  %v\n", lastErr)
		} else {
			fmt.Println("last error:  none")
		}

		fmt.Println()
		fmt.Println("config:")
		printRedactedConfig(cfg)
		return nil
	},
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Force an immediate sync tick",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		if err := requireHybridConfig(cfg); err != nil {
			return withExitCode(2, err)
		}

		local, err := memory.NewLocal(cfg.Memory.LocalPath)
		if err != nil {
			return withExitCode(1, err)
		}
		defer local.Close()
		remote := memory.NewRemote(cfg.Memory.ServiceURL, cfg.Memory.ServiceAPIKey, cfg.Control.WriteTimeout)
		hybrid := memory.NewHybrid(local, remote, cfg.Memory.SyncInterval)
		defer hybrid.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), timeoutOrForever(cfg.Control.WriteTimeout))
		defer cancel()

		if err := hybrid.SyncNow(ctx); err != nil {
			return withExitCode(1, err)
		}
		fmt.Println("Sync complete.")
		return nil
	},
}

var syncConflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List unsynced local candidates pending push to the remote",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		if err := requireHybridConfig(cfg); err != nil {
			return withExitCode(2, err)
		}

		local, err := memory.NewLocal(cfg.Memory.LocalPath)
		if err != nil {
			return withExitCode(1, err)
		}
		defer local.Close()

		ctx, cancel := context.WithTimeout(context.Background(), timeoutOrForever(cfg.Control.SearchTimeout))
		defer cancel()

		// The hybrid provider resolves conflicts by at-least-once delivery
		// rather than a merge (spec §9 open question), so "conflicts" here
		// means candidates not yet confirmed pushed — the set a real
		// conflict-resolution pass would need to inspect first.
		pending, err := local.UnsyncedCandidates(ctx, 1000)
		if err != nil {
			return withExitCode(1, err)
		}
		if len(pending) == 0 {
			fmt.Println("No unsynced candidates.")
			return nil
		}
		for _, d := range pending {
			fmt.Printf("- %q (confidence %.2f)\n", truncateLine(d.Query, 70), d.Confidence)
		}
		return nil
	},
}
