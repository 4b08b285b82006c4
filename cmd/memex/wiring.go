package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/user/memex/internal/config"
	"github.com/user/memex/internal/enginerr"
	"github.com/user/memex/internal/memory"
	"github.com/user/memex/internal/runner"
	"github.com/user/memex/internal/toolpolicy"
	"github.com/user/memex/internal/types"
)

// buildMemory constructs the MemoryFacade variant named by
// cfg.Memory.Provider and returns a cleanup func to run on shutdown
// (spec §4.2, §6 "memory" config section).
func buildMemory(cfg *config.Config) (types.MemoryFacade, func(), error) {
	switch cfg.Memory.Provider {
	case "", "local":
		local, err := memory.NewLocal(cfg.Memory.LocalPath)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: open local memory store: %w", enginerr.ErrConfig, err)
		}
		return local, func() { local.Close() }, nil

	case "service":
		if cfg.Memory.ServiceURL == "" {
			return nil, nil, fmt.Errorf("%w: memory.service_url is required when provider=service", enginerr.ErrConfig)
		}
		remote := memory.NewRemote(cfg.Memory.ServiceURL, cfg.Memory.ServiceAPIKey, cfg.Control.WriteTimeout)
		return remote, func() {}, nil

	case "hybrid":
		if cfg.Memory.ServiceURL == "" {
			return nil, nil, fmt.Errorf("%w: memory.service_url is required when provider=hybrid", enginerr.ErrConfig)
		}
		local, err := memory.NewLocal(cfg.Memory.LocalPath)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: open local memory store: %w", enginerr.ErrConfig, err)
		}
		remote := memory.NewRemote(cfg.Memory.ServiceURL, cfg.Memory.ServiceAPIKey, cfg.Control.WriteTimeout)
		hybrid := memory.NewHybrid(local, remote, cfg.Memory.SyncInterval)
		return hybrid, func() { hybrid.Stop(); local.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown memory.provider %q", enginerr.ErrConfig, cfg.Memory.Provider)
	}
}

func buildPolicy(cfg *config.Config) *toolpolicy.Policy {
	return toolpolicy.New(cfg.Policy.Allow, cfg.Policy.Deny)
}

// interactiveAsker prints the pending tool call to stderr and reads a
// y/n decision from stdin, used to resolve policy.Ask outcomes when
// running attended (spec §4.3.4).
func interactiveAsker() runner.AskFunc {
	return func(ctx context.Context, toolName string, args []byte) (toolpolicy.Decision, error) {
		fmt.Fprintf(os.Stderr, "memex: allow tool call %q with args %s? [y/N] ", toolName, string(args))
		reply := make(chan string, 1)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			if scanner.Scan() {
				reply <- strings.TrimSpace(strings.ToLower(scanner.Text()))
				return
			}
			reply <- ""
		}()

		select {
		case <-ctx.Done():
			return toolpolicy.Deny, ctx.Err()
		case text := <-reply:
			if text == "y" || text == "yes" {
				return toolpolicy.Allow, nil
			}
			return toolpolicy.Deny, nil
		}
	}
}
