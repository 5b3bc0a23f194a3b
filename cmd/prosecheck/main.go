package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/prosecheck/adapter/cli"
	"github.com/felixgeelhaar/prosecheck/adapter/cli/mcp"
)

func main() {
	// Create context with cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Register commands
	cli.AddCommand(mcp.Cmd)

	// Execute CLI
	cli.Execute(ctx)
}
