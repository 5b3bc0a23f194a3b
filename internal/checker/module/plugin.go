package module

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
	"github.com/felixgeelhaar/prosecheck/internal/shared/infrastructure/security"
	"github.com/felixgeelhaar/prosecheck/pkg/modulesdk"
)

// remoteAnalyzer is the host side of a module plugin.
type remoteAnalyzer interface {
	Describe() (modulesdk.Description, error)
	Analyze(ctx context.Context, text string) ([]types.RangeFinding, error)
}

// PluginStrategy runs the analysis module as a child process.
type PluginStrategy struct {
	path     string
	checksum string
	logger   *slog.Logger
}

// NewPluginStrategy creates a plugin strategy for the binary at path.
func NewPluginStrategy(path, checksum string, logger *slog.Logger) *PluginStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &PluginStrategy{path: path, checksum: checksum, logger: logger}
}

// Name implements Strategy.
func (s *PluginStrategy) Name() string { return "plugin" }

// Load implements Strategy.
func (s *PluginStrategy) Load(_ context.Context) (*Module, error) {
	binary, err := security.ValidateExecutable(s.path)
	if err != nil {
		return nil, err
	}
	if s.checksum != "" {
		if err := security.VerifyFileChecksum(binary, s.checksum); err != nil {
			return nil, err
		}
	}

	s.logger.Info("starting module plugin", "binary", binary)

	// #nosec G204 -- binary path is validated by ValidateExecutable
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  modulesdk.HandshakeConfig,
		Plugins:          modulesdk.PluginMap(nil),
		Cmd:              exec.Command(binary),
		Logger:           newHclogAdapter(s.logger),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("connect to plugin: %w", err)
	}
	raw, err := rpcClient.Dispense(modulesdk.PluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("dispense analyzer: %w", err)
	}

	m, err := newPluginModule(raw, binary, client.Kill)
	if err != nil {
		client.Kill()
		return nil, err
	}
	return m, nil
}

// newPluginModule wraps a dispensed analyzer. kill stops the child process
// when the module is closed.
func newPluginModule(raw interface{}, source string, kill func()) (*Module, error) {
	analyzer, ok := raw.(remoteAnalyzer)
	if !ok {
		return nil, fmt.Errorf("plugin does not implement the analyzer interface")
	}
	desc, err := analyzer.Describe()
	if err != nil {
		return nil, fmt.Errorf("describe plugin: %w", err)
	}
	return New(Info{
		Name:      desc.Name,
		Version:   desc.Version,
		Language:  desc.Language,
		Source:    "plugin:" + source,
		RuleCount: desc.RuleCount,
	}, &pluginBackend{analyzer: analyzer, kill: kill}), nil
}

type pluginBackend struct {
	analyzer remoteAnalyzer
	kill     func()
}

func (b *pluginBackend) Analyze(ctx context.Context, text string) ([]types.RangeFinding, error) {
	return b.analyzer.Analyze(ctx, text)
}

func (b *pluginBackend) Close() error {
	if b.kill != nil {
		b.kill()
	}
	return nil
}

// ServeAnalyzer adapts an in-process analyzer for modulesdk.Serve.
type ServeAnalyzer struct {
	Analyzer *Analyzer
	Info     Info
}

// Describe implements modulesdk.Analyzer.
func (s ServeAnalyzer) Describe() (modulesdk.Description, error) {
	return modulesdk.Description{
		Name:      s.Info.Name,
		Version:   s.Info.Version,
		Language:  s.Info.Language,
		RuleCount: s.Info.RuleCount,
	}, nil
}

// Analyze implements modulesdk.Analyzer.
func (s ServeAnalyzer) Analyze(text string) ([]types.RangeFinding, error) {
	return s.Analyzer.Analyze(context.Background(), text)
}

// hclogAdapter routes go-plugin logging into slog.
type hclogAdapter struct {
	logger *slog.Logger
	name   string
}

func newHclogAdapter(logger *slog.Logger) *hclogAdapter {
	return &hclogAdapter{logger: logger.With("component", "module-plugin"), name: "prosecheck"}
}

func (h *hclogAdapter) Log(level hclog.Level, msg string, args ...interface{}) {
	switch level {
	case hclog.Info:
		h.Info(msg, args...)
	case hclog.Warn:
		h.Warn(msg, args...)
	case hclog.Error:
		h.Error(msg, args...)
	default:
		h.Debug(msg, args...)
	}
}

func (h *hclogAdapter) Trace(msg string, args ...interface{}) { h.logger.Debug(msg, args...) }
func (h *hclogAdapter) Debug(msg string, args ...interface{}) { h.logger.Debug(msg, args...) }
func (h *hclogAdapter) Info(msg string, args ...interface{})  { h.logger.Info(msg, args...) }
func (h *hclogAdapter) Warn(msg string, args ...interface{})  { h.logger.Warn(msg, args...) }
func (h *hclogAdapter) Error(msg string, args ...interface{}) { h.logger.Error(msg, args...) }

func (h *hclogAdapter) IsTrace() bool { return false }
func (h *hclogAdapter) IsDebug() bool { return h.logger.Enabled(context.Background(), slog.LevelDebug) }
func (h *hclogAdapter) IsInfo() bool  { return h.logger.Enabled(context.Background(), slog.LevelInfo) }
func (h *hclogAdapter) IsWarn() bool  { return true }
func (h *hclogAdapter) IsError() bool { return true }

func (h *hclogAdapter) ImpliedArgs() []interface{} { return nil }

func (h *hclogAdapter) With(args ...interface{}) hclog.Logger {
	return &hclogAdapter{logger: h.logger.With(args...), name: h.name}
}

func (h *hclogAdapter) Name() string { return h.name }

func (h *hclogAdapter) Named(name string) hclog.Logger {
	return &hclogAdapter{logger: h.logger, name: h.name + "." + name}
}

func (h *hclogAdapter) ResetNamed(name string) hclog.Logger {
	return &hclogAdapter{logger: h.logger, name: name}
}

func (h *hclogAdapter) SetLevel(hclog.Level) {}

func (h *hclogAdapter) GetLevel() hclog.Level { return hclog.Debug }

func (h *hclogAdapter) StandardLogger(*hclog.StandardLoggerOptions) *log.Logger {
	return slog.NewLogLogger(h.logger.Handler(), slog.LevelInfo)
}

func (h *hclogAdapter) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return h.StandardLogger(opts).Writer()
}
