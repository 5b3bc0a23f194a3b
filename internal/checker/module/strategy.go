package module

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/prosecheck/internal/shared/infrastructure/security"
)

// Strategy is one way of obtaining the analysis module.
type Strategy interface {
	// Name identifies the strategy in status and errors.
	Name() string

	// Load obtains a ready module.
	Load(ctx context.Context) (*Module, error)
}

// FileStrategy reads a ruleset from the local filesystem.
type FileStrategy struct {
	name     string
	path     string
	checksum string
}

// NewFileStrategy creates a file strategy. checksum is optional and has the
// form "sha256:HEX".
func NewFileStrategy(name, path, checksum string) *FileStrategy {
	return &FileStrategy{name: name, path: path, checksum: checksum}
}

// Name implements Strategy.
func (s *FileStrategy) Name() string { return s.name }

// Load implements Strategy.
func (s *FileStrategy) Load(_ context.Context) (*Module, error) {
	if s.path == "" {
		return nil, fmt.Errorf("no path configured")
	}
	data, err := security.SafeReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}
	if s.checksum != "" {
		if err := security.VerifyChecksum(data, s.checksum); err != nil {
			return nil, err
		}
	}
	return LoadModule(data, "file:"+s.path)
}

// EmbeddedStrategy compiles the ruleset shipped inside the binary.
type EmbeddedStrategy struct{}

// NewEmbeddedStrategy creates the last-resort strategy.
func NewEmbeddedStrategy() *EmbeddedStrategy {
	return &EmbeddedStrategy{}
}

// Name implements Strategy.
func (s *EmbeddedStrategy) Name() string { return "embedded" }

// Load implements Strategy.
func (s *EmbeddedStrategy) Load(_ context.Context) (*Module, error) {
	return LoadModule(DefaultRuleset(), "embedded")
}

// StrategyFunc adapts a function into a Strategy.
type StrategyFunc struct {
	StrategyName string
	Fn           func(ctx context.Context) (*Module, error)
}

// Name implements Strategy.
func (f StrategyFunc) Name() string { return f.StrategyName }

// Load implements Strategy.
func (f StrategyFunc) Load(ctx context.Context) (*Module, error) { return f.Fn(ctx) }

// StrategyConfig lists the sources the loader may use, in order.
type StrategyConfig struct {
	BundledPath   string
	AlternatePath string

	// Checksum pins the ruleset bytes of the file, remote and WebDAV
	// sources. PluginChecksum pins the plugin binary.
	Checksum       string
	PluginPath     string
	PluginChecksum string

	RemoteURL          string
	OAuthClientID      string
	OAuthClientSecret  string
	OAuthTokenURL      string
	RemoteBreakerTrips int

	WebDAVURL      string
	WebDAVPath     string
	WebDAVUser     string
	WebDAVPassword string

	// DisableEmbedded removes the built-in ruleset fallback.
	DisableEmbedded bool
}

// BuildStrategies returns the configured strategies in load order: bundled
// file, alternate file, plugin, remote HTTP, WebDAV, embedded.
func BuildStrategies(cfg StrategyConfig, observer BreakerObserver, logger *slog.Logger) []Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	var strategies []Strategy
	if cfg.BundledPath != "" {
		strategies = append(strategies, NewFileStrategy("bundled", cfg.BundledPath, cfg.Checksum))
	}
	if cfg.AlternatePath != "" {
		strategies = append(strategies, NewFileStrategy("alternate", cfg.AlternatePath, cfg.Checksum))
	}
	if cfg.PluginPath != "" {
		strategies = append(strategies, NewPluginStrategy(cfg.PluginPath, cfg.PluginChecksum, logger))
	}
	if cfg.RemoteURL != "" {
		strategies = append(strategies, NewHTTPStrategy(HTTPConfig{
			URL:               cfg.RemoteURL,
			Checksum:          cfg.Checksum,
			OAuthClientID:     cfg.OAuthClientID,
			OAuthClientSecret: cfg.OAuthClientSecret,
			OAuthTokenURL:     cfg.OAuthTokenURL,
			FailureThreshold:  cfg.RemoteBreakerTrips,
		}, observer, logger))
	}
	if cfg.WebDAVURL != "" {
		strategies = append(strategies, NewWebDAVStrategy(WebDAVConfig{
			Endpoint: cfg.WebDAVURL,
			Path:     cfg.WebDAVPath,
			Username: cfg.WebDAVUser,
			Password: cfg.WebDAVPassword,
			Checksum: cfg.Checksum,
		}))
	}
	if !cfg.DisableEmbedded {
		strategies = append(strategies, NewEmbeddedStrategy())
	}
	return strategies
}
