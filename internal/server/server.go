// Package server implements the TCP sync server: the accept loop and the
// per-connection session state machine that interprets protocol frames to
// drive file reconciliation, the check/sync barrier, and build
// orchestration.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/devsync/internal/builder"
	"github.com/codefionn/devsync/internal/config"
	"github.com/codefionn/devsync/internal/consts"
	"github.com/codefionn/devsync/internal/fsutil"
	"github.com/codefionn/devsync/internal/installer"
	"github.com/codefionn/devsync/internal/logger"
	"github.com/codefionn/devsync/internal/metrics"
)

// Server accepts sync client connections and runs one session per
// connection. In the multi-process deployment every worker holds its own
// Server against the shared listening socket.
type Server struct {
	cfg      *config.Config
	fs       fsutil.FileSystem
	registry *builder.Registry
	inst     installer.Installer
	recorder *metrics.Recorder

	listener net.Listener

	// Connection tracking
	connMu  sync.RWMutex
	clients map[string]*Client

	// Control
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewServer creates a server with the default collaborators: the OS
// filesystem, a command installer, and a builder registry populated from the
// configuration.
func NewServer(cfg *config.Config) (*Server, error) {
	registry := builder.NewRegistry()
	for name, bc := range cfg.Builders {
		cb, err := builder.NewCommandBuilder(name, bc.BuildCommand, bc.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("failed to configure builder %q: %w", name, err)
		}
		registry.Register(name, cb)
	}

	return &Server{
		cfg:      cfg,
		fs:       fsutil.NewOSFS(),
		registry: registry,
		inst:     installer.NewCommandInstaller(cfg.InstallCommand),
		recorder: metrics.NewRecorder(),
		clients:  make(map[string]*Client),
		stopChan: make(chan struct{}),
	}, nil
}

// SetDependencies overrides the filesystem, installer, or builder registry.
// Nil arguments leave the current collaborator in place.
func (s *Server) SetDependencies(fs fsutil.FileSystem, inst installer.Installer, registry *builder.Registry) {
	if fs != nil {
		s.fs = fs
	}
	if inst != nil {
		s.inst = inst
	}
	if registry != nil {
		s.registry = registry
	}
}

// Recorder returns the server's metrics recorder.
func (s *Server) Recorder() *metrics.Recorder {
	return s.recorder
}

// Start begins accepting connections from the given listener. The listener
// is either bound by this process or inherited from the supervisor.
func (s *Server) Start(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	s.listener = listener

	go s.acceptLoop(ctx)

	logger.Info("sync server accepting on %s (max connections: %d)",
		listener.Addr(), s.cfg.MaxConnections)
	return nil
}

// Stop stops the server and closes every active connection.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		logger.Info("stopping sync server...")
		close(s.stopChan)

		if s.listener != nil {
			if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				logger.Error("error closing listener: %v", err)
			}
		}

		s.connMu.RLock()
		clients := make([]*Client, 0, len(s.clients))
		for _, c := range s.clients {
			clients = append(clients, c)
		}
		s.connMu.RUnlock()

		for _, c := range clients {
			c.Stop()
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		logger.Info("sync server stopped")
	})
}

// IsRunning returns whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.clients)
}

// acceptLoop accepts incoming connections until the context is cancelled or
// the server is stopped.
func (s *Server) acceptLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("accept loop stopped via context cancellation")
			return

		case <-s.stopChan:
			logger.Info("accept loop stopped via stop signal")
			return

		default:
			// Poll with a deadline so stopChan is checked periodically
			if tl, ok := s.listener.(*net.TCPListener); ok {
				if err := tl.SetDeadline(time.Now().Add(consts.Timeout1Second)); err != nil {
					logger.Error("failed to set accept deadline: %v", err)
				}
			}

			conn, err := s.listener.Accept()
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					logger.Info("listener closed, exiting accept loop")
					return
				}
				logger.Error("error accepting connection: %v", err)
				continue
			}

			if s.ClientCount() >= s.cfg.MaxConnections {
				logger.Warn("connection limit reached, rejecting %s", conn.RemoteAddr())
				conn.Close()
				continue
			}

			client := NewClient(uuid.NewString(), conn, s)
			s.trackClient(client)
			s.recorder.IncConnection()
			client.Start(ctx)

			logger.Info("connection accepted: %s from %s (total: %d)",
				client.ID, conn.RemoteAddr(), s.ClientCount())
		}
	}
}

// trackClient adds a client to tracking
func (s *Server) trackClient(c *Client) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.clients[c.ID] = c
}

// untrackClient removes a client from tracking
func (s *Server) untrackClient(id string) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.clients, id)
}
