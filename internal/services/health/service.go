package health

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"streamocr-worker-go/internal/models"
)

// ServiceName is the health service name of a source
func ServiceName(sourceID string) string {
	return "source/" + sourceID
}

// Service exposes the standard gRPC health protocol. The empty service name reports
// the worker itself; "source/<id>" reports SERVING only while the source status is OK.
type Service struct {
	server *health.Server
	grpc   *grpc.Server
	logger zerolog.Logger
}

func NewService(logger zerolog.Logger) *Service {
	s := &Service{
		server: health.NewServer(),
		grpc:   grpc.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.server)
	s.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s
}

// Notify implements models.Observer
func (s *Service) Notify(ev models.SourceEvent) {
	switch ev.Type {
	case models.EventTypeStatus:
		s.server.SetServingStatus(ServiceName(ev.SourceID), ServingStatus(ev.Status))
	case models.EventTypeRemoved:
		s.server.SetServingStatus(ServiceName(ev.SourceID), healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
	}
}

// ServingStatus maps a source status to a health status
func ServingStatus(status models.SourceStatus) healthpb.HealthCheckResponse_ServingStatus {
	switch status {
	case models.SourceStatusOK:
		return healthpb.HealthCheckResponse_SERVING
	case models.SourceStatusUnknown:
		return healthpb.HealthCheckResponse_UNKNOWN
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

// Check queries the health of a service name in-process
func (s *Service) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.server.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}

// Serve listens on port and blocks until the server stops
func (s *Service) Serve(port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen grpc health: %w", err)
	}
	s.logger.Info().Int("port", port).Msg("gRPC health service listening")
	return s.grpc.Serve(lis)
}

func (s *Service) Shutdown() {
	s.server.Shutdown()
	s.grpc.GracefulStop()
}
