package mcp

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/prosecheck/adapter/cli"
	mcpinternal "github.com/felixgeelhaar/prosecheck/internal/mcp"
)

var addr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Container == nil {
			return errors.New("app not initialized")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg := *app.Container.Config
		if addr != "" {
			cfg.MCPAddr = addr
		}
		err := mcpinternal.Serve(ctx, &cfg, app, cli.Logger())
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (default MCP_ADDR)")
}
