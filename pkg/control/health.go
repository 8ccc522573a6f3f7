package control

import (
	"github.com/WittorioJaro/localAgents/pkg/logging"
	"github.com/WittorioJaro/localAgents/pkg/supervisor"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthReporter mirrors supervisor state into the standard gRPC health
// service. Each supervised service is a health service name; the empty name
// reports the control server itself.
type HealthReporter struct {
	server *health.Server
	logger logging.Logger
}

func NewHealthReporter(logger logging.Logger) *HealthReporter {
	server := health.NewServer()
	server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &HealthReporter{server: server, logger: logger}
}

func (r *HealthReporter) Register(registrar grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(registrar, r.server)
}

// OnStateChange implements supervisor.StateListener
func (r *HealthReporter) OnStateChange(name string, state supervisor.State) {
	status := servingStatus(state)
	r.logger.Debugf("Health status updated, id: %s, state: %s, status: %s", name, state, status)
	r.server.SetServingStatus(name, status)
}

// Shutdown marks every service NOT_SERVING; later updates are ignored
func (r *HealthReporter) Shutdown() {
	r.server.Shutdown()
}

func servingStatus(state supervisor.State) healthpb.HealthCheckResponse_ServingStatus {
	switch state {
	case supervisor.StateRunning:
		return healthpb.HealthCheckResponse_SERVING
	case supervisor.StateUnknown:
		return healthpb.HealthCheckResponse_UNKNOWN
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}
