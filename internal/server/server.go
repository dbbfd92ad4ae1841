// Package server hosts the plain TCP listener the command dispatcher
// serves connections on (spec.md §6 "Listening protocol"). Grounded on
// the teacher's internal/session/server/ssh.go (listen, accept loop in
// a goroutine, graceful Stop via listener.Close) and
// internal/session/connection/manager.go's atomic active-connection
// counter, stripped of SSH host keys, banners, and the menu system —
// this core speaks the dispatcher's own wire protocol directly, not SSH.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
)

// ConnHandler serves one accepted connection until it disconnects or
// ctx is cancelled. internal/dispatcher.Dispatcher.HandleConn satisfies
// this.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Server is the TCP listener hoststar's core accepts dispatcher
// connections on.
type Server struct {
	addr           string
	maxConnections int64
	handle         ConnHandler
	logger         *slog.Logger

	listener net.Listener
	active   int64
}

// New creates a Server that will listen on addr and hand every accepted
// connection to handle.
func New(addr string, maxConnections int, handle ConnHandler, logger *slog.Logger) *Server {
	return &Server{
		addr:           addr,
		maxConnections: int64(maxConnections),
		handle:         handle,
		logger:         logger,
	}
}

// Start binds the listener and begins accepting connections in the
// background; it returns once the listener is bound, not once it stops.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.logger.Info("dispatcher server starting", "address", s.addr)

	go s.acceptLoop(ctx)
	return nil
}

// Stop closes the listener, unblocking acceptLoop.
func (s *Server) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	s.logger.Info("dispatcher server stopping")
	return s.listener.Close()
}

// ActiveConnections reports the current number of live connections.
func (s *Server) ActiveConnections() int64 {
	return atomic.LoadInt64(&s.active)
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Error("accept failed", "error", err)
				return
			}
		}

		if s.maxConnections > 0 && atomic.LoadInt64(&s.active) >= s.maxConnections {
			s.logger.Warn("max connections reached, dropping connection", "remote_addr", conn.RemoteAddr(), "max", s.maxConnections)
			conn.Close()
			continue
		}

		atomic.AddInt64(&s.active, 1)
		go func() {
			defer atomic.AddInt64(&s.active, -1)
			s.handle(ctx, conn)
		}()
	}
}
