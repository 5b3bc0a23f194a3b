package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/prosecheck/internal/app"
	"github.com/felixgeelhaar/prosecheck/internal/feedback"
	"github.com/felixgeelhaar/prosecheck/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/prosecheck/pkg/config"
	"github.com/felixgeelhaar/prosecheck/pkg/observability"
)

var version = "dev"

func main() {
	// Create context with cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(observability.LogConfigFor(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat, "prosecheck-worker", version))
	logger.Info("starting prosecheck worker")

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.RabbitMQURL == "" {
		return errors.New("RABBITMQ_URL is required")
	}
	if !cfg.PersistentFeedback() {
		logger.Warn("feedback store is in memory; the worker will not see records written by other processes")
	}

	// The worker learns from events; it never republishes them.
	container, err := app.NewContainer(ctx, cfg, logger,
		app.WithVersion(version),
		app.WithPublisher(eventbus.NoopPublisher{}),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer container.Close(context.WithoutCancel(ctx))

	consumer, err := eventbus.NewRabbitMQConsumer(cfg.RabbitMQURL, "", logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	if err := consumer.Subscribe(feedback.NewRecordedHandler(container.Learner, logger)); err != nil {
		return err
	}
	container.Probes.Register("rabbitmq", true, func(context.Context) error {
		if consumer.IsClosed() {
			return errors.New("connection closed")
		}
		return nil
	})

	if cfg.WorkerHealthAddr != "" {
		healthSrv := &http.Server{
			Addr:              cfg.WorkerHealthAddr,
			Handler:           healthMux(container),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			logger.Info("health server starting", "addr", cfg.WorkerHealthAddr)
			if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", "error", err)
			}
		}()

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := healthSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("health server shutdown error", "error", err)
			}
		}()
	}

	logger.Info("consuming feedback events", "routing_key", feedback.RoutingKeyRecorded)
	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// healthMux serves liveness with learner state and readiness from the
// container's probes.
func healthMux(container *app.Container) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := container.Learner.Status()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"pending":  status.Pending,
			"running":  status.Running,
			"last_seq": status.LastSeq,
			"rules":    len(status.Rules),
		})
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		res := container.Probes.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !res.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(res)
	})
	return mux
}
