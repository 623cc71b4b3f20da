package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/tribe/internal/auth"
	"github.com/matheus3301/tribe/internal/bus"
	"github.com/matheus3301/tribe/internal/profile"
)

// SessionService is the health service name reporting whether tribed holds a usable session.
const SessionService = "tribe.session"

// Server manages the gRPC server lifecycle for a profile daemon.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	bus        *bus.Bus
	sessions   *auth.Client
	logger     *zap.Logger
	events     <-chan bus.Event
	unsub      func()
	done       chan struct{}
}

// NewServer creates a gRPC server bound to the profile's Unix domain socket.
func NewServer(p Params, b *bus.Bus, sessions *auth.Client, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.ProfileName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		bus:        b,
		sessions:   sessions,
		logger:     logger,
		done:       make(chan struct{}),
	}
	s.events, s.unsub = b.Subscribe("auth.", 16)
	_, ok := sessions.Current()
	s.setSession(ok)
	return s, nil
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	go s.watchSession()

	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("gRPC server stopping")
	s.health.Shutdown()
	s.unsub()
	close(s.done)
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}

func (s *Server) watchSession() {
	for {
		select {
		case <-s.done:
			return
		case evt := <-s.events:
			switch evt.Kind {
			case bus.SessionRefreshed:
				s.setSession(true)
			case bus.LoggedOut:
				s.setSession(false)
			}
		}
	}
}

func (s *Server) setSession(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(SessionService, st)
}
