package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/memex/internal/httpapi"
)

func init() {
	rootCmd.AddCommand(httpServerCmd)
	httpServerCmd.Flags().String("listen", ":8080", "address to listen on")
}

var httpServerCmd = &cobra.Command{
	Use:   "http-server",
	Short: "Serve the memory service HTTP API over the configured memory provider",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		listen, _ := cmd.Flags().GetString("listen")

		mem, cleanup, err := buildMemory(cfg)
		if err != nil {
			return withExitCode(2, err)
		}
		defer cleanup()

		srv := httpapi.NewServer(mem, cfg.Memory.ServiceAPIKey)
		httpSrv := &http.Server{Addr: listen, Handler: srv}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			httpSrv.Close()
		}()

		slog.Info("memex http-server started", "listen", listen, "memory_provider", cfg.Memory.Provider)
		fmt.Fprintf(os.Stderr, "memex: serving memory API on %s\n", listen)

		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return withExitCode(1, fmt.Errorf("http server: %w", err))
		}
		return nil
	},
}
