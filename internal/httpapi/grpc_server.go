package httpapi

import (
	"context"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"prestacao.org/internal/obs"
)

// GRPCServer answers grpc.health.v1.Health checks from the readiness probe.
type GRPCServer struct {
	healthpb.UnimplementedHealthServer

	readiness readinessChecker
}

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(r readinessChecker) *GRPCServer {
	return &GRPCServer{readiness: r}
}

// Check reports SERVING when the store answers. The empty service name and
// serviceName are recognised; anything else is NotFound.
func (s *GRPCServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != serviceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			obs.SetReady(false)
			return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
		}
	}
	obs.SetReady(true)
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
