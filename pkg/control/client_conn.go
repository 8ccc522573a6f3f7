package control

import (
	"context"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Connection struct {
	conn   *grpc.ClientConn
	logger logging.Logger
}

// NewConnection creates a lazy client connection to a control server
func NewConnection(address string, logger logging.Logger) (*Connection, error) {
	logger.Debugf("Dialing control server at %s", address)

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithReadBufferSize(1 * 1024 * 1024),
		grpc.WithInitialWindowSize(1 * 1024 * 1024),
		grpc.WithInitialConnWindowSize(1 * 1024 * 1024),
	}

	conn, err := grpc.NewClient(address, dialOpts...)
	if err != nil {
		return nil, errors.NewNetworkError("failed to create control client", err).WithContext("address", address)
	}

	return &Connection{conn: conn, logger: logger}, nil
}

func (c *Connection) GRPC() grpc.ClientConnInterface {
	return c.conn
}

// ServiceHealth asks the health service about one supervised service; the
// empty name asks about the control server itself
func (c *Connection) ServiceHealth(ctx context.Context, name string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: name})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fromStatusError(err, nil, "Health/Check")
	}
	return resp.GetStatus(), nil
}

func (c *Connection) Shutdown() {
	c.logger.Debugf("Stopping gRPC client connection...")
	c.conn.Close()
	c.logger.Debugf("gRPC client connection stopped")
}
