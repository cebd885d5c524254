// Package main is the entry point for the mog command.
// It loads configuration, sets up logging and dispatches to internal/app.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/j-veylop/mosoblgaz-tui/internal/app"
	"github.com/j-veylop/mosoblgaz-tui/internal/config"
	"github.com/j-veylop/mosoblgaz-tui/internal/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, app.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// run contains the main application logic, separated for cleaner error handling.
func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Debug {
		logger.SetLevel(slog.LevelDebug)
	}
	logger.SetPrivacy(cfg.PrivacyLogging)

	opts, err := config.LoadOptions(cfg.OptionsPath)
	if err != nil {
		return fmt.Errorf("failed to load options: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.New(cfg, opts, os.Stdin, os.Stdout).Run(ctx, args)
}
