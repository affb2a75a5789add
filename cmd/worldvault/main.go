// Package main provides the world vault maintenance CLI.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/louisbranch/worldvault/internal/platform/cmd"
	"github.com/louisbranch/worldvault/internal/platform/config"
	"github.com/louisbranch/worldvault/internal/tools/worldvault"
)

func main() {
	cfg, err := worldvault.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := cmd.RunWithTelemetry(ctx, cmd.ServiceVault, func(ctx context.Context) error {
		return worldvault.Run(ctx, cfg, os.Stdout, os.Stderr)
	}); err != nil {
		config.Exitf("Error: %v", err)
	}
}
