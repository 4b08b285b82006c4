// Command memex is the CLI surface over the engine orchestrator (spec §6):
// run/replay/resume/search/record-*/db/sync/init/http-server, with the
// exit-code contract 0=success, 2=usage error, 124=timeout, 130=cancelled,
// otherwise the backend's exit code or 1.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/memex/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "memex",
	Short:         "Interactive shell wrapping code-assistant backends with a memory/retrieval layer",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default: ~/.memex/config.toml or ./config.toml)")
}

// loadConfig resolves cfg per the priority chain and exits with a usage
// error if the file is present but malformed (spec §7 "Config ... Fatal
// before any Run starts").
func loadConfig() *config.Config {
	var cfg *config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.LoadFile(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "memex: %v\n", err)
		os.Exit(2)
	}
	return cfg
}

// setupLogging builds the process-wide slog handler from cfg.Logging.Level,
// matching the teacher's main.go wiring.
func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "memex:", err)
		os.Exit(exitCodeFor(err))
	}
}
