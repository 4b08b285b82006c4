package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/memex/internal/engine"
)

func init() {
	rootCmd.AddCommand(replayCmd)
}

var replayCmd = &cobra.Command{
	Use:   "replay <event-log-path>",
	Short: "Stream a run's event log back without executing any side effects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		// Replay is a pure read over the log file; it spawns nothing and
		// touches no memory facade, so a zero-value Engine is sufficient.
		eng := &engine.Engine{}
		exitCode, events, err := eng.Replay(args[0])
		if err != nil {
			return withExitCode(2, err)
		}

		for event := range events {
			line, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintln(os.Stdout, string(line))
		}

		fmt.Fprintf(os.Stderr, "memex: replayed run exited with code %d\n", exitCode)
		return nil
	},
}
