package monitor

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServiceName = "passenger-counter"

// Health is the standard gRPC health service, for fleet probes.
type Health struct {
	Server *grpc.Server
	health *health.Server
	lis    net.Listener
}

// StartHealth listens on port and serves in the background.
func StartHealth(port int, log *zap.Logger) (*Health, error) {
	if log == nil {
		log = zap.NewNop()
	}
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, errors.Wrapf(err, "can't listen on port %d", port)
	}
	h := &Health{Server: grpc.NewServer(), health: health.NewServer(), lis: lis}
	healthpb.RegisterHealthServer(h.Server, h.health)
	h.SetServing(true)
	go func() {
		log.Info("health server listening", zap.String("addr", lis.Addr().String()))
		if err := h.Server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("health server failed", zap.Error(err))
		}
	}()
	return h, nil
}

func (h *Health) Addr() net.Addr {
	return h.lis.Addr()
}

// SetServing flips both the overall and the named service status.
func (h *Health) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

func (h *Health) Stop() {
	h.health.Shutdown()
	h.Server.GracefulStop()
}
