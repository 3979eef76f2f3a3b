package gameserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xqdev/xqgo/internal/config"
	"github.com/xqdev/xqgo/internal/game"
	"github.com/xqdev/xqgo/internal/protocol"
)

// Server accepts Xiangqi client connections and feeds their frames through
// the dispatch pool.
type Server struct {
	cfg      config.Server
	registry *Registry
	mailbox  *Mailbox
	games    *game.Manager
	handler  *Handler
	pool     *Pool

	listener net.Listener
	mu       sync.Mutex
}

// NewServer creates a game server wired to the given stores and engine.
func NewServer(cfg config.Server, stores Stores, eng AIEngine) *Server {
	registry := NewRegistry()
	mailbox := NewMailbox(registry, cfg.MailboxSize)
	games := game.NewManager()
	handler := NewHandler(registry, mailbox, games, stores, eng)

	return &Server{
		cfg:      cfg,
		registry: registry,
		mailbox:  mailbox,
		games:    games,
		handler:  handler,
		pool:     NewPool(cfg.Workers, handler.Handle),
	}
}

// Handler returns the message handler.
// Used by tests that drive messages without a socket.
func (s *Server) Handler() *Handler {
	return s.handler
}

// Registry returns the connection registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Addr returns the address the server is listening on.
// Returns nil if the server hasn't started yet.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run begins listening for client connections.
// Creates a listener on cfg.BindAddress:cfg.Port and starts the accept loop.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve accepts connections from the given listener and starts the accept loop.
// Used for testing with custom listeners.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.pool.Start(ctx)
	go s.mailbox.Run(ctx)
	go s.sweepLoop(ctx)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	slog.Info("game server started", "address", ln.Addr())
	acceptLoop(ctx, &wg, s, ln)

	wg.Wait()
	s.pool.Stop()

	return nil
}

// sweepLoop ticks clock expiry, draw-offer expiry, and challenge TTLs.
func (s *Server) sweepLoop(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.handler.Sweep(ctx)
		}
	}
}

func acceptLoop(
	ctx context.Context,
	wg *sync.WaitGroup,
	srv *Server,
	ln net.Listener,
) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("failed to accept new connection", "error", err)
			continue
		}

		// Enable TCP keepalive (detect dead connections)
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			if err := tcpConn.SetKeepAlive(true); err != nil {
				slog.Warn("set keepalive failed", "error", err)
			}
			if err := tcpConn.SetKeepAlivePeriod(30 * time.Second); err != nil {
				slog.Warn("set keepalive period failed", "error", err)
			}
		}

		wg.Go(func() {
			handleConnection(ctx, srv, conn)
		})
	}
}

func handleConnection(ctx context.Context, srv *Server, conn net.Conn) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	limit := rate.Limit(srv.cfg.MessageRate)
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := srv.cfg.MessageBurst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	client, err := NewClient(conn, limiter, srv.cfg.SendQueueSize, srv.cfg.WriteTimeout)
	if err != nil {
		slog.Error("failed to create client", "error", err)
		return
	}

	slog.Info("new client connection", "remote", client.IP())

	go client.writePump()
	defer client.Close()
	defer srv.handler.Disconnect(ctx, client)

	// Frame handling loop (read → parse → dispatch). Idle connections are
	// not policed here; TCP keepalive catches dead peers.
	for {
		body, err := protocol.ReadFrame(conn)
		if err != nil {
			switch {
			case err == io.EOF || errors.Is(err, net.ErrClosed):
				slog.Info("client disconnected", "username", client.Username(), "client", client.IP())
			case errors.Is(err, protocol.ErrFrameTooLarge):
				// Torn down without an ERROR reply; the peer is not
				// speaking our protocol.
				slog.Warn("oversized frame", "client", client.IP())
			default:
				slog.Error("frame read error", "error", err, "client", client.IP())
			}
			return
		}

		if !client.Allow() {
			slog.Warn("message rate exceeded", "username", client.Username(), "client", client.IP())
			return
		}

		msg, err := protocol.Parse(body)
		if err != nil {
			slog.Debug("unparseable frame", "error", err, "client", client.IP())
			client.SendMessage(protocol.KindError, protocol.ErrorPayload{Message: "Unknown message type"})
			continue
		}

		srv.pool.Submit(client, msg)
	}
}
