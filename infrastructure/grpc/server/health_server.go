package server

import (
	"log/slog"
	"net"

	grpc3 "github.com/mama165/sdk-go/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name checkers should ask for; "" reports the whole process.
const ServiceName = "dm.relay.v1.Relay"

// HealthServer exposes the standard gRPC health protocol for orchestrators and load balancers.
type HealthServer struct {
	log    *slog.Logger
	server *grpc.Server
	health *health.Server
}

func NewHealthServer(log *slog.Logger) *HealthServer {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpc3.UnaryLoggingInterceptor(log)))
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)

	hs := &HealthServer{log: log, server: s, health: h}
	hs.SetServing(false)
	return hs
}

func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
	h.log.Debug("Health status changed", "status", status.String())
}

// Serve blocks until Stop is called.
func (h *HealthServer) Serve(listener net.Listener) error {
	return h.server.Serve(listener)
}

// Stop reports NOT_SERVING to every watcher then drains the server.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
