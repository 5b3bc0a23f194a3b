// Command prosecheck-module serves a grammar ruleset as an analysis module
// plugin. Point PROSECHECK_MODULE_PLUGIN at the built binary.
package main

import (
	"fmt"
	"os"

	"github.com/felixgeelhaar/prosecheck/internal/checker/module"
	"github.com/felixgeelhaar/prosecheck/pkg/modulesdk"
	"github.com/felixgeelhaar/prosecheck/pkg/observability"
)

func main() {
	logger := observability.NewLogger(observability.DefaultLogConfig())

	impl, err := build(os.Getenv("PROSECHECK_RULESET"))
	if err != nil {
		logger.Error("failed to build analysis module", "error", err)
		os.Exit(1)
	}
	modulesdk.Serve(impl)
}

// build compiles the ruleset at path, or the bundled one when path is empty.
func build(path string) (module.ServeAnalyzer, error) {
	data := module.DefaultRuleset()
	source := "embedded"
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return module.ServeAnalyzer{}, fmt.Errorf("read ruleset: %w", err)
		}
		data, source = b, path
	}

	rs, err := module.ParseRuleset(data)
	if err != nil {
		return module.ServeAnalyzer{}, err
	}
	analyzer, err := rs.Compile()
	if err != nil {
		return module.ServeAnalyzer{}, fmt.Errorf("compile ruleset %s: %w", rs.Name, err)
	}
	return module.ServeAnalyzer{
		Analyzer: analyzer,
		Info: module.Info{
			Name:      rs.Name,
			Version:   rs.Version,
			Language:  rs.Language,
			Source:    source,
			RuleCount: rs.RuleCount(),
		},
	}, nil
}
