package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gkumurzhi/ExperimentalServer/internal/auth"
	"github.com/gkumurzhi/ExperimentalServer/internal/dispatch"
	"github.com/gkumurzhi/ExperimentalServer/internal/logging"
	"github.com/gkumurzhi/ExperimentalServer/internal/websocket"
	"github.com/gkumurzhi/ExperimentalServer/internal/wire"
	"go.uber.org/zap"
)

// Config holds the server configuration
type Config struct {
	Host      string
	Port      int
	ReusePort bool

	MaxBodySize int64
	Workers     int

	KeepAliveTimeout time.Duration // idle wait for the next request
	KeepAliveMax     int           // requests per connection

	HeaderTimeout       time.Duration
	BodyTimeout         time.Duration
	ReadTimeout         time.Duration // per read once a request has started
	WriteTimeout        time.Duration
	TLSHandshakeTimeout time.Duration
	AcceptPollInterval  time.Duration
	ShutdownTimeout     time.Duration

	StreamChunkSize int
	CORSOrigin      string

	WebSocketPath         string
	WebSocketIdleTimeout  time.Duration
	WebSocketMaxFrameSize int64

	// TLS enables TLS on accepted connections when non-nil.
	TLS *tls.Config
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:                  "127.0.0.1",
		Port:                  8080,
		MaxBodySize:           100 << 20,
		Workers:               10,
		KeepAliveTimeout:      15 * time.Second,
		KeepAliveMax:          100,
		HeaderTimeout:         30 * time.Second,
		BodyTimeout:           300 * time.Second,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          30 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		AcceptPollInterval:    time.Second,
		ShutdownTimeout:       30 * time.Second,
		StreamChunkSize:       64 * 1024,
		CORSOrigin:            "*",
		WebSocketPath:         "/notes/ws",
		WebSocketIdleTimeout:  websocket.DefaultIdleTimeout,
		WebSocketMaxFrameSize: websocket.DefaultMaxFrameSize,
	}
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Option customizes a Server.
type Option func(*Server)

// WithAuthorizer enables the authorization hook.
func WithAuthorizer(a auth.Authorizer) Option {
	return func(s *Server) { s.authorizer = a }
}

// WithWebSocketHandler enables upgrades on Config.WebSocketPath.
func WithWebSocketHandler(h websocket.MessageHandler) Option {
	return func(s *Server) { s.wsHandler = h }
}

// WithMetrics shares a Metrics instance, e.g. with a PING handler.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server accepts connections and drives the HTTP exchange on each.
type Server struct {
	config     *Config
	resolver   *dispatch.Resolver
	authorizer auth.Authorizer
	wsHandler  websocket.MessageHandler
	metrics    *Metrics
	reader     *wire.Reader

	listener    net.Listener
	mu          sync.Mutex
	activeConns map[net.Conn]struct{}
}

// New creates a new Server instance
func New(config *Config, resolver *dispatch.Resolver, opts ...Option) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if resolver == nil || resolver.Table == nil {
		return nil, errors.New("server: a resolver with a method table is required")
	}

	s := &Server{
		config:      config,
		resolver:    resolver,
		activeConns: make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}

	r := wire.NewReader(config.MaxBodySize)
	if config.HeaderTimeout > 0 {
		r.HeaderTimeout = config.HeaderTimeout
	}
	if config.BodyTimeout > 0 {
		r.BodyTimeout = config.BodyTimeout
	}
	if config.ReadTimeout > 0 {
		r.ReadTimeout = config.ReadTimeout
	}
	s.reader = r

	return s, nil
}

// Metrics returns the server's counters.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Listen binds the configured address. It is separate from Serve so callers
// can learn the bound port (e.g. when Port is 0) before serving.
func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	lc := listenConfig(s.config.ReusePort)
	ln, err := lc.Listen(ctx, "tcp", s.config.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down:
// queued connections are closed and in-flight ones get ShutdownTimeout to
// finish their current exchange. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	defer func() { _ = ln.Close() }()

	logging.Info("Server listening for connections",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", s.config.TLS != nil),
		zap.Bool("decoy", s.resolver.DecoyMode()),
		zap.Int("workers", s.config.Workers),
	)
	if s.config.TLS != nil {
		logging.Debug("TLS Configuration", zap.Any("tls_info", GetTLSInfo(s.config.TLS)))
	}

	workers := newPool(s.config.Workers, func(conn net.Conn) {
		s.handleConnection(ctx, conn)
	})

	err := s.acceptConnections(ctx, ln, workers)
	_ = ln.Close()

	logging.Info("Shutting down server...", zap.Int("active_connections", s.GetActiveConnections()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	if perr := workers.Close(shutdownCtx); perr != nil {
		logging.Warn("Shutdown timeout, forcing close", zap.Error(perr))
		s.closeActive()
	} else {
		logging.Info("All connections closed gracefully")
	}
	logging.Sync()
	return err
}

type deadlineListener interface {
	SetDeadline(t time.Time) error
}

// acceptConnections polls Accept with a short deadline so cancellation is
// noticed within one poll interval.
func (s *Server) acceptConnections(ctx context.Context, ln net.Listener, workers *pool) error {
	poll := s.config.AcceptPollInterval
	if poll <= 0 {
		poll = time.Second
	}
	dl, canPoll := ln.(deadlineListener)

	for ctx.Err() == nil {
		if canPoll {
			_ = dl.SetDeadline(time.Now().Add(poll))
		}
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logging.Error("Failed to accept connection", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		if err := workers.Submit(conn); err != nil {
			_ = conn.Close()
			return nil
		}
		if busy, queued := workers.Stats(); queued > 0 {
			logging.Debug("Connection queued",
				zap.Int("busy", busy),
				zap.Int("queued", queued),
			)
		}
	}
	return nil
}

// Shutdown closes the listener and every active connection. Serve's own
// graceful path runs when its context is cancelled; Shutdown is the hard stop.
func (s *Server) Shutdown() {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logging.Error("Error closing listener", zap.Error(err))
		}
	}
	s.closeActive()
}

func (s *Server) closeActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.activeConns {
		logging.Info("Closing active connection", zap.String("remote_addr", conn.RemoteAddr().String()))
		_ = conn.Close()
	}
}

// GetActiveConnections returns the number of active connections
func (s *Server) GetActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.activeConns[conn] = struct{}{}
	} else {
		delete(s.activeConns, conn)
	}
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.config.ShutdownTimeout > 0 {
		return s.config.ShutdownTimeout
	}
	return 30 * time.Second
}
