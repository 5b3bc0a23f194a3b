// Package cli implements the prosecheck command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/prosecheck/internal/app"
	"github.com/felixgeelhaar/prosecheck/pkg/config"
	"github.com/felixgeelhaar/prosecheck/pkg/observability"
)

var (
	cfgFile    string
	verbose    bool
	jsonOutput bool
	logger     *slog.Logger
)

type commandContext struct {
	correlationID uuid.UUID
	startedAt     time.Time
}

type commandContextKey struct{}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "prosecheck",
	Short: "prosecheck - grammar, spelling and style checking",
	Long: `prosecheck checks prose with several engines at once, merges their
findings into one ranked list, and learns from how you react to them.

Text is read from a file argument, or from stdin when the argument is "-"
or missing.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logger == nil {
			logger = observability.Discard()
		}
		info := commandContext{
			correlationID: uuid.New(),
			startedAt:     time.Now(),
		}
		ctx := observability.WithCorrelationID(cmd.Context(), info.correlationID.String())
		cmd.SetContext(context.WithValue(ctx, commandContextKey{}, info))
		logger.DebugContext(ctx, "command start", "command", cmd.CommandPath())

		if cmd.Annotations[annotationNoApp] == "true" || application != nil {
			return nil
		}
		return initApp(ctx)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		info, ok := cmd.Context().Value(commandContextKey{}).(commandContext)
		if !ok {
			return
		}
		logger.DebugContext(cmd.Context(), "command end",
			"command", cmd.CommandPath(),
			"duration_ms", time.Since(info.startedAt).Milliseconds(),
		)
	},
}

// annotationNoApp marks commands that run without a container.
const annotationNoApp = "prosecheck/no-app"

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) {
	err := rootCmd.ExecuteContext(ctx)
	if owned != nil {
		owned.Close(context.WithoutCancel(ctx))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "TOML config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of text")
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// SetLogger sets the CLI logger.
func SetLogger(l *slog.Logger) {
	logger = l
}

// Logger returns the CLI logger.
func Logger() *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// Config returns the loaded configuration, or nil before a command runs.
func Config() *config.Config {
	if application == nil || application.Container == nil {
		return nil
	}
	return application.Container.Config
}

// owned is the container built by initApp, closed when Execute returns.
var owned *app.Container

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFile(cfgFile)
	}
	return config.Load()
}

func initApp(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Interactive commands stay quiet unless asked.
	level := "warn"
	if verbose {
		level = "debug"
	}
	logger = observability.NewLogger(observability.LogConfigFor(cfg.AppEnv, level, cfg.LogFormat, "prosecheck", Version))

	container, err := app.NewContainer(ctx, cfg, logger, app.WithVersion(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	owned = container
	SetApp(NewApp(container))
	return nil
}
