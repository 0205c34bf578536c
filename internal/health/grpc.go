package health

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the relay's entry in the standard gRPC health protocol.
const Service = "babel.relay.Signaling"

// Probe serves grpc.health.v1 for orchestrators that probe over gRPC.
type Probe struct {
	srv *health.Server
}

func NewProbe() *Probe {
	p := &Probe{srv: health.NewServer()}
	p.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	p.srv.SetServingStatus(Service, healthpb.HealthCheckResponse_SERVING)
	return p
}

func (p *Probe) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, p.srv)
}

// Drain reports NOT_SERVING so probes fail before connections are closed.
func (p *Probe) Drain() {
	p.srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	p.srv.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Shutdown makes the status permanent; later updates are ignored.
func (p *Probe) Shutdown() { p.srv.Shutdown() }
