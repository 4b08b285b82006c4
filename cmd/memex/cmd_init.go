package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/memex/internal/config"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive setup wizard, writes ~/.memex/config.toml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("memex setup wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Control.ProjectID = prompt(scanner, "Default project id", cfg.Control.ProjectID)
		cfg.Control.DefaultBackend = prompt(scanner, "Default backend (codex|claude|gemini|<URL>)", cfg.Control.DefaultBackend)

		cfg.Memory.Provider = prompt(scanner, "Memory provider (local|service|hybrid)", cfg.Memory.Provider)
		cfg.Memory.LocalPath = prompt(scanner, "Local memory database path", cfg.Memory.LocalPath)
		if cfg.Memory.Provider != "local" {
			cfg.Memory.ServiceURL = prompt(scanner, "Memory service URL", cfg.Memory.ServiceURL)
			cfg.Memory.ServiceAPIKey = prompt(scanner, "Memory service API key (optional)", cfg.Memory.ServiceAPIKey)
		}

		levelStr := prompt(scanner, "Log level (debug|info|warn|error)", cfg.Logging.Level)
		cfg.Logging.Level = levelStr

		maxConcurrentStr := prompt(scanner, "Max concurrent runs in a batch", strconv.Itoa(cfg.Control.MaxConcurrent))
		if n, err := strconv.Atoi(maxConcurrentStr); err == nil {
			cfg.Control.MaxConcurrent = n
		}

		path := cfgPath
		if path == "" {
			home, _ := os.UserHomeDir()
			path = filepath.Join(home, ".memex", "config.toml")
		}
		if err := config.Save(path, cfg); err != nil {
			return withExitCode(1, fmt.Errorf("save config: %w", err))
		}

		fmt.Println()
		fmt.Println("Configuration saved to", path)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user
// input; an empty response keeps the default.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
