// Package server runs a game server: it boots the lifecycle modules, then
// answers Minecraft server-list pings and login attempts on a TCP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shiftsad/gameserver/internal/lifecycle"
	"github.com/shiftsad/gameserver/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	defaultHost            = "0.0.0.0"
	defaultVersionName     = "1.21.5"
	defaultProtocolVersion = 770
	defaultConnTimeout     = 10 * time.Second

	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Config describes a server instance.
type Config struct {
	Game string
	Name string

	// UUID identifies the instance; a random one is generated when nil.
	UUID uuid.UUID

	Host       string
	Port       int
	MaxPlayers int

	// MOTD is the server-list description. Defaults to "<game> | <name>".
	MOTD            string
	VersionName     string
	ProtocolVersion int32

	// Modules are registered with the server's lifecycle manager.
	Modules []lifecycle.Module

	// Registerer receives server and lifecycle metrics. Optional.
	Registerer prometheus.Registerer

	ShutdownTimeout time.Duration

	// ConnTimeout bounds the whole exchange with one client.
	ConnTimeout time.Duration
}

// Server is a running game server.
type Server struct {
	cfg     Config
	manager *lifecycle.Manager
	metrics *Metrics
	tracer  trace.Tracer
	logger  *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	handlers sync.WaitGroup

	online atomic.Int32
}

// New validates cfg and registers its modules.
func New(cfg Config) (*Server, error) {
	if cfg.Game == "" {
		return nil, fmt.Errorf("game is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("port must be greater than 0")
	}

	if cfg.UUID == uuid.Nil {
		cfg.UUID = uuid.New()
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.VersionName == "" {
		cfg.VersionName = defaultVersionName
	}
	if _, err := version.NewVersion(cfg.VersionName); err != nil {
		return nil, fmt.Errorf("invalid version name %q: %w", cfg.VersionName, err)
	}
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = defaultProtocolVersion
	}
	if cfg.MOTD == "" {
		cfg.MOTD = cfg.Game + " | " + cfg.Name
	}
	if cfg.ConnTimeout <= 0 {
		cfg.ConnTimeout = defaultConnTimeout
	}

	var opts []lifecycle.Option
	if cfg.ShutdownTimeout > 0 {
		opts = append(opts, lifecycle.WithShutdownTimeout(cfg.ShutdownTimeout))
	}
	if cfg.Registerer != nil {
		opts = append(opts, lifecycle.WithMetrics(lifecycle.NewMetrics(cfg.Registerer)))
	}

	manager := lifecycle.NewManager(opts...)
	if err := manager.Register(cfg.Modules...); err != nil {
		return nil, err
	}

	return &Server{
		cfg:     cfg,
		manager: manager,
		metrics: NewMetrics(cfg.Registerer),
		tracer:  otel.Tracer("gameserver/server"),
		logger:  logging.GetLogger("server"),
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// Game returns the game mode name
func (s *Server) Game() string { return s.cfg.Game }

// Name returns the instance name
func (s *Server) Name() string { return s.cfg.Name }

// UUID returns the instance id
func (s *Server) UUID() uuid.UUID { return s.cfg.UUID }

// Port returns the configured port
func (s *Server) Port() int { return s.cfg.Port }

// Modules returns the lifecycle manager, for manual loads and lookups.
func (s *Server) Modules() *lifecycle.Manager {
	return s.manager
}

// Online returns the number of players currently in the login state.
func (s *Server) Online() int {
	return int(s.online.Load())
}

// Addr returns the listener address, or nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start boots the modules and then binds the listener. If the listener cannot
// be bound the modules are stopped again.
func (s *Server) Start(ctx context.Context) error {
	s.logger.InfoWithFields("Starting server",
		logging.Field("game", s.cfg.Game),
		logging.Field("name", s.cfg.Name),
		logging.Field("uuid", s.cfg.UUID.String()),
	)

	if err := s.manager.Start(ctx); err != nil {
		return err
	}

	address := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		if stopErr := s.manager.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			s.logger.Error("Failed to stop modules after listen error: %v", stopErr)
		}
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("Listening on %s", listener.Addr())
	return nil
}

// Serve accepts connections until ctx is done or the listener is closed.
// Failed accepts are retried with backoff. It returns once every connection
// handler has finished.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return fmt.Errorf("server is not started")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		err := s.closeListener()
		s.closeConns()
		return err
	})

	g.Go(func() error {
		defer cancel()
		var delay time.Duration
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) || gctx.Err() != nil {
					return nil
				}
				// Errors such as EMFILE clear up once connections close.
				delay = acceptRetryDelay(delay)
				s.logger.Warn("Accept failed: %v; retrying in %v", err, delay)
				select {
				case <-time.After(delay):
					continue
				case <-gctx.Done():
					return nil
				}
			}
			delay = 0

			if !s.track(conn) {
				_ = conn.Close()
				return nil
			}
			go func() {
				defer s.untrack(conn)
				s.handleConn(ctx, conn)
			}()
		}
	})

	err := g.Wait()
	s.handlers.Wait()
	return err
}

// Stop closes the listener and open connections, then stops the modules in
// reverse load order.
func (s *Server) Stop(ctx context.Context) error {
	listenerErr := s.closeListener()
	s.closeConns()
	s.handlers.Wait()

	return errors.Join(listenerErr, s.manager.Stop(ctx))
}

// Run starts the server, serves until ctx is done and then stops it.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	serveErr := s.Serve(ctx)
	s.logger.Info("Shutting down server %s", s.cfg.Name)
	return errors.Join(serveErr, s.Stop(context.WithoutCancel(ctx)))
}

func (s *Server) closeListener() error {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	if listener == nil {
		return nil
	}
	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// track registers conn unless the server is shutting down.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	s.handlers.Add(1)
	s.metrics.Active.Inc()
	return true
}

func (s *Server) untrack(conn net.Conn) {
	_ = conn.Close()
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.metrics.Active.Dec()
	s.handlers.Done()
}

// acceptRetryDelay doubles the previous delay, starting at minAcceptDelay and
// capped at maxAcceptDelay.
func acceptRetryDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	return min(prev*2, maxAcceptDelay)
}
