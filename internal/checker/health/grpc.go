package health

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCSink mirrors monitor status into a gRPC health server. Each engine is
// exposed as its own service name; the empty name carries the overall status.
type GRPCSink struct {
	server *health.Server
	prefix string
}

// NewGRPCSink creates a sink over server. Engine service names are prefixed
// with prefix, e.g. "prosecheck.engine.".
func NewGRPCSink(server *health.Server, prefix string) *GRPCSink {
	return &GRPCSink{server: server, prefix: prefix}
}

// Server returns the underlying gRPC health server.
func (s *GRPCSink) Server() *health.Server {
	return s.server
}

// ServiceName returns the health service name of an engine.
func (s *GRPCSink) ServiceName(engine string) string {
	return s.prefix + engine
}

// EngineStatusChanged implements StatusSink.
func (s *GRPCSink) EngineStatusChanged(engine string, status Status) {
	s.server.SetServingStatus(s.ServiceName(engine), engineServingStatus(status))
}

// OverallStatusChanged implements StatusSink.
func (s *GRPCSink) OverallStatusChanged(overall Overall) {
	st := healthpb.HealthCheckResponse_SERVING
	if overall == OverallCritical {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.server.SetServingStatus("", st)
}

// Sync publishes the current state of every tracked engine.
func (s *GRPCSink) Sync(m *Monitor) {
	report := m.Report()
	for _, r := range report.Engines {
		s.EngineStatusChanged(r.EngineName, r.Status)
	}
	s.OverallStatusChanged(report.Overall)
}

// Degraded engines still serve; only failing engines are reported down.
func engineServingStatus(status Status) healthpb.HealthCheckResponse_ServingStatus {
	if status == StatusFailing {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}
