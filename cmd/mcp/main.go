package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/prosecheck/adapter/cli"
	"github.com/felixgeelhaar/prosecheck/internal/app"
	mcpinternal "github.com/felixgeelhaar/prosecheck/internal/mcp"
	"github.com/felixgeelhaar/prosecheck/pkg/config"
	"github.com/felixgeelhaar/prosecheck/pkg/observability"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger(observability.DefaultLogConfig()).Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(observability.LogConfigFor(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat, "prosecheck-mcp", cli.Version))

	container, err := app.NewContainer(ctx, cfg, logger, app.WithVersion(cli.Version))
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	defer container.Close(context.WithoutCancel(ctx))

	cliApp := mcpinternal.NewCLIApp(container)

	if err := mcpinternal.Serve(ctx, cfg, cliApp, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("mcp server error", "error", err)
		os.Exit(1)
	}
}
