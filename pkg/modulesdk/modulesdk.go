// Package modulesdk lets an analysis module run as a separate process.
// The host launches the binary through go-plugin and talks to it over
// net/rpc; the binary calls Serve with its Analyzer.
package modulesdk

import (
	"context"
	"net/rpc"

	"github.com/hashicorp/go-plugin"

	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// PluginName is the key the analyzer is dispensed under.
const PluginName = "analyzer"

// HandshakeConfig must match between host and module binary.
var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PROSECHECK_MODULE_PLUGIN",
	MagicCookieValue: "prosecheck-module-v1",
}

// Analyzer is what a module binary implements.
type Analyzer interface {
	// Describe returns the module name, version and language.
	Describe() (Description, error)

	// Analyze returns findings with rune offsets into text.
	Analyze(text string) ([]types.RangeFinding, error)
}

// Description identifies the served module.
type Description struct {
	Name      string
	Version   string
	Language  string
	RuleCount int
}

// PluginMap returns the plugin set for impl. impl is nil on the host side.
func PluginMap(impl Analyzer) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{PluginName: &AnalyzerPlugin{Impl: impl}}
}

// Serve blocks serving impl to the host process.
func Serve(impl Analyzer) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         PluginMap(impl),
	})
}

// AnalyzerPlugin is the plugin.Plugin implementation for analyzers.
type AnalyzerPlugin struct {
	// Impl is the concrete implementation (module side).
	Impl Analyzer
}

// Server implements plugin.Plugin.
func (p *AnalyzerPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{impl: p.Impl}, nil
}

// Client implements plugin.Plugin.
func (p *AnalyzerPlugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// AnalyzeReply carries the findings back over rpc.
type AnalyzeReply struct {
	Findings []types.RangeFinding
}

// RPCServer runs in the module process.
type RPCServer struct {
	impl Analyzer
}

// Describe is the rpc endpoint for Analyzer.Describe.
func (s *RPCServer) Describe(_ interface{}, reply *Description) error {
	d, err := s.impl.Describe()
	if err != nil {
		return err
	}
	*reply = d
	return nil
}

// Analyze is the rpc endpoint for Analyzer.Analyze.
func (s *RPCServer) Analyze(text string, reply *AnalyzeReply) error {
	findings, err := s.impl.Analyze(text)
	if err != nil {
		return err
	}
	reply.Findings = findings
	return nil
}

// RPCClient runs in the host process.
type RPCClient struct {
	client *rpc.Client
}

// Describe calls the module.
func (c *RPCClient) Describe() (Description, error) {
	var d Description
	err := c.client.Call("Plugin.Describe", new(interface{}), &d)
	return d, err
}

// Analyze calls the module. The context bounds how long the host waits;
// the call itself is not interrupted in the module.
func (c *RPCClient) Analyze(ctx context.Context, text string) ([]types.RangeFinding, error) {
	var reply AnalyzeReply
	call := c.client.Go("Plugin.Analyze", text, &reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case done := <-call.Done:
		if done.Error != nil {
			return nil, done.Error
		}
		return reply.Findings, nil
	}
}
