package cli

import (
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/prosecheck/adapter/api"
)

type serveFlags struct {
	addr     string
	grpcAddr string
	rps      float64
}

var serveOpts serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP JSON API and gRPC health service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Container == nil {
			return errors.New("app not initialized")
		}
		c := app.Container
		log := Logger()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg := api.DefaultServerConfig()
		cfg.Addr = c.Config.APIAddr
		if serveOpts.addr != "" {
			cfg.Addr = serveOpts.addr
		}
		if cmd.Flags().Changed("rps") {
			cfg.RequestsPerSecond = serveOpts.rps
		}
		handler := api.NewHandler(app.handlerConfig(log))
		server := api.NewServer(cfg, handler, log)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return server.Run(ctx) })

		grpcAddr := c.Config.GRPCAddr
		if serveOpts.grpcAddr != "" {
			grpcAddr = serveOpts.grpcAddr
		}
		if grpcAddr != "" {
			g.Go(func() error { return api.ServeGRPCHealth(ctx, grpcAddr, c.Health, log) })
		}
		return g.Wait()
	},
}

// handlerConfig keeps absent services as nil interfaces so the handler's
// nil checks see them as disabled.
func (a *App) handlerConfig(log *slog.Logger) api.HandlerConfig {
	cfg := api.HandlerConfig{Checker: a.Checker, Logger: log}
	if a.Feedback != nil {
		cfg.Feedback = a.Feedback
	}
	if a.Learner != nil {
		cfg.Learner = a.Learner
	}
	if a.Container != nil && a.Container.Probes != nil {
		cfg.Probes = a.Container.Probes
	}
	return cfg
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.addr, "addr", "", "HTTP listen address (default API_ADDR)")
	serveCmd.Flags().StringVar(&serveOpts.grpcAddr, "grpc-addr", "", "gRPC health listen address (default GRPC_ADDR, off when empty)")
	serveCmd.Flags().Float64Var(&serveOpts.rps, "rps", 0, "request rate limit, 0 disables")

	rootCmd.AddCommand(serveCmd)
}
