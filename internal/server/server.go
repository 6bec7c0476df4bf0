// ABOUTME: Builds the scan core, frontends, store, and listeners and runs them together
// ABOUTME: Handles listener setup (TCP or tsnet), webhook registration, and ordered shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"tailscale.com/tsnet"

	"github.com/2389/scanbot/internal/auth"
	"github.com/2389/scanbot/internal/config"
	"github.com/2389/scanbot/internal/matrix"
	"github.com/2389/scanbot/internal/scan"
	"github.com/2389/scanbot/internal/store"
	"github.com/2389/scanbot/internal/telegram"
)

// Server runs scanbot.
type Server struct {
	config *config.Config
	logger *slog.Logger

	store      store.Store
	registry   *scan.Registry
	runner     *scan.Runner
	dispatcher *scan.Dispatcher
	sinks      *scan.SinkRouter

	telegram *telegram.Bot
	matrix   *matrix.Bridge

	httpServer  *http.Server
	grpcServer  *grpc.Server
	health      *health.Server
	tsnetServer *tsnet.Server

	mu        sync.RWMutex
	publicURL string
	frontends []string // running frontends, for readiness
}

// New builds a Server from cfg. The store is opened and enabled frontends
// are connected (Telegram getMe); nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	scanCfg := scan.Config{
		Steps:        cfg.Scan.Steps,
		StepDuration: cfg.Scan.StepDuration,
		TickInterval: cfg.Scan.TickInterval,
		SendTimeout:  cfg.Scan.SendTimeout,
	}
	if err := scanCfg.Validate(); err != nil {
		return nil, err
	}

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	s := &Server{
		config:    cfg,
		logger:    logger.With("component", "server"),
		store:     sqlStore,
		registry:  scan.NewRegistry(scanCfg.Steps),
		sinks:     scan.NewSinkRouter(),
		health:    health.NewServer(),
		publicURL: cfg.Server.PublicURL,
	}
	s.runner = scan.NewRunner(scan.RunnerParams{
		Registry: s.registry,
		Sink:     s.sinks,
		History:  sqlStore,
		Config:   scanCfg,
		Logger:   logger.With("component", "runner"),
	})
	s.dispatcher = scan.NewDispatcher(s.registry, s.runner, logger.With("component", "dispatcher"))

	if err := s.setupFrontends(logger); err != nil {
		_ = sqlStore.Close()
		return nil, err
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return s, nil
}

func (s *Server) setupFrontends(logger *slog.Logger) error {
	cfg := s.config

	if cfg.Telegram.Enabled {
		bot, err := telegram.New(telegram.Config{
			Token:        cfg.Telegram.Token,
			SecretToken:  cfg.Telegram.SecretToken,
			APIEndpoint:  cfg.Telegram.APIEndpoint,
			AllowedChats: cfg.Telegram.AllowedChats,
			ReplyTimeout: cfg.Scan.SendTimeout,
			Logger:       logger,
		}, s.dispatcher)
		if err != nil {
			return fmt.Errorf("creating telegram frontend: %w", err)
		}
		s.telegram = bot
		s.sinks.Register(telegram.Frontend, bot)
	}

	if cfg.Matrix.Enabled {
		bridge, err := matrix.New(matrix.Config{
			Homeserver:    cfg.Matrix.Homeserver,
			UserID:        cfg.Matrix.UserID,
			AccessToken:   cfg.Matrix.AccessToken,
			AllowedRooms:  cfg.Matrix.AllowedRooms,
			CommandPrefix: cfg.Matrix.CommandPrefix,
			ReplyTimeout:  cfg.Scan.SendTimeout,
			Logger:        logger,
		}, s.dispatcher)
		if err != nil {
			if s.telegram != nil {
				s.telegram.Close()
			}
			return fmt.Errorf("creating matrix frontend: %w", err)
		}
		s.matrix = bridge
		s.sinks.Register(matrix.Frontend, bridge)
	}

	if s.telegram == nil && s.matrix == nil {
		s.logger.Warn("no chat frontend enabled; only the admin API can observe scans")
	}
	return nil
}

// routes builds the HTTP handler.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	if s.telegram != nil {
		mux.Handle(telegram.WebhookPath, s.telegram)
	}

	var verifier auth.TokenVerifier
	if s.config.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(s.config.Auth.JWTSecret))
	} else {
		s.logger.Warn("auth.jwt_secret not set; admin API is unauthenticated")
	}
	mux.Handle("/api/", auth.RequireAdmin(verifier)(s.apiRoutes()))

	return mux
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// PublicURL returns the externally reachable base URL, if known.
func (s *Server) PublicURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publicURL
}

// Run starts listeners and frontends and blocks until ctx is cancelled or a
// component fails. It always shuts down before returning.
func (s *Server) Run(ctx context.Context) error {
	grpcLn, httpLn, err := s.setupListeners(ctx)
	if err != nil {
		_ = s.closeResources()
		return err
	}

	errCh := s.startServers(grpcLn, httpLn)

	frontendCtx, stopFrontends := context.WithCancel(ctx)
	defer stopFrontends()
	matrixDone := s.startFrontends(frontendCtx, errCh)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case runErr = <-errCh:
		s.logger.Error("component failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Scan.ShutdownGrace+5*time.Second)
	defer cancel()
	shutdownErr := s.shutdown(shutdownCtx, stopFrontends, matrixDone)

	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// startServers starts the gRPC (when it has a listener) and HTTP servers.
func (s *Server) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 4)

	if grpcLn != nil {
		go func() {
			s.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// startFrontends registers the Telegram webhook and starts the Matrix sync.
// The returned channel closes when the Matrix bridge has stopped.
func (s *Server) startFrontends(ctx context.Context, errCh chan<- error) <-chan struct{} {
	if s.telegram != nil {
		s.addFrontend(telegram.Frontend)
		if publicURL := s.PublicURL(); publicURL != "" {
			regCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := s.telegram.RegisterWebhook(regCtx, publicURL); err != nil {
				s.logger.Error("telegram webhook registration failed; updates will not arrive until it succeeds", "error", err)
			}
			cancel()
		} else {
			s.logger.Warn("no public URL configured; telegram webhook must be registered externally")
		}
	}

	done := make(chan struct{})
	if s.matrix == nil {
		close(done)
		return done
	}

	s.addFrontend(matrix.Frontend)
	go func() {
		defer close(done)
		if err := s.matrix.Run(ctx); err != nil {
			errCh <- err
		}
	}()
	return done
}

func (s *Server) addFrontend(name string) {
	s.mu.Lock()
	s.frontends = append(s.frontends, name)
	s.mu.Unlock()
}

// shutdown stops scans first, then frontends, then listeners and resources.
func (s *Server) shutdown(ctx context.Context, stopFrontends context.CancelFunc, matrixDone <-chan struct{}) error {
	s.logger.Info("shutting down")
	s.health.Shutdown()

	var errs []error

	// Scans send their final notice through the frontends, so they go first.
	s.registry.Close()
	waitCtx, cancel := context.WithTimeout(ctx, s.config.Scan.ShutdownGrace)
	if err := s.runner.Wait(waitCtx); err != nil {
		s.logger.Warn("scans still running after shutdown grace", "active", s.registry.Len())
		errs = appendCloseError(errs, "scan runners", err)
	}
	cancel()

	stopFrontends()
	select {
	case <-matrixDone:
	case <-ctx.Done():
	}

	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	s.shutdownGRPCServer(ctx)

	if err := s.closeResources(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

func (s *Server) closeResources() error {
	var errs []error
	if s.telegram != nil {
		s.telegram.Close()
	}
	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", s.store.Close())
	return errors.Join(errs...)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Close releases a Server that was built but never Run.
func (s *Server) Close() error {
	s.registry.Close()
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Scan.ShutdownGrace)
	defer cancel()
	waitErr := s.runner.Wait(ctx)
	return errors.Join(waitErr, s.closeResources())
}
