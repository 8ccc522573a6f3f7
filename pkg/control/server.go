package control

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logging"

	"github.com/phayes/freeport"
	"google.golang.org/grpc"
)

type ServerOptions struct {
	// Port 0 allocates a free port
	Port int
}

type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	logger     logging.Logger

	serveOnce sync.Once
	served    chan struct{}
}

func NewServer(options ServerOptions, logger logging.Logger) (*Server, error) {
	port := options.Port
	if port == 0 {
		var err error
		port, err = freeport.GetFreePort()
		if err != nil {
			return nil, errors.NewNetworkError("failed allocating free port", err)
		}
		logger.Debugf("Allocated free port: %d", port)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, errors.NewNetworkError("failed to listen", err).WithContext("port", port)
	}

	logger.Infof("Listening at %s", listener.Addr().String())

	grpcServer := grpc.NewServer(
		grpc.WriteBufferSize(1*1024*1024),
		grpc.InitialWindowSize(1*1024*1024),
		grpc.InitialConnWindowSize(1*1024*1024),
	)

	return &Server{
		grpcServer: grpcServer,
		listener:   listener,
		logger:     logger,
		served:     make(chan struct{}),
	}, nil
}

func (s *Server) GRPC() grpc.ServiceRegistrar {
	return s.grpcServer
}

func (s *Server) Address() string {
	return s.listener.Addr().String()
}

func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Start serves in the background; register services before calling it
func (s *Server) Start() {
	s.serveOnce.Do(func() {
		go func() {
			defer close(s.served)
			if err := s.grpcServer.Serve(s.listener); err != nil {
				s.logger.Errorf("Control gRPC server Serve failed: %v", err)
			}
		}()
	})
}

// Stop drains in-flight calls and forces the stop when ctx is done
func (s *Server) Stop(ctx context.Context) {
	s.logger.Infof("Stopping gRPC server...")

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Infof("gRPC server stopped gracefully")
	case <-ctx.Done():
		s.logger.Infof("Shutdown timed out, forcing gRPC server to stop")
		s.grpcServer.Stop()
		<-stopped
	}

	// never started: release the listener Serve would have owned
	s.serveOnce.Do(func() {
		s.listener.Close()
		close(s.served)
	})
	<-s.served
}
