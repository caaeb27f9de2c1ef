// Package gateway serves the deposit registry over HTTP.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dework/config"
	"dework/gateway/auth"
	"dework/gateway/middleware"
	"dework/gateway/routes"
	"dework/observability/logging"
	"dework/store"
)

// Server owns the listener lifecycle.
type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// Dependencies are the collaborators injected by the daemon.
type Dependencies struct {
	Node       routes.Node
	Store      *store.Store
	KeeperHook http.Handler
	// Revocations, when set, is consulted on every token and backs
	// POST /v1/auth/revoke.
	Revocations auth.Revocations
	Logger      *slog.Logger
}

// NewHandler assembles the routed, instrumented handler.
func NewHandler(cfg config.GatewayConfig, deps Dependencies) (http.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.Component(logger, "gateway")
	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, 0)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	if deps.Revocations != nil {
		verifier.UseRevocations(deps.Revocations)
	}
	perMinute := cfg.RequestsPerMinute
	adminPerMinute := cfg.AdminRequestsPerMin
	limits := map[string]middleware.RateLimit{}
	if perMinute > 0 {
		limits[routes.LimitPositions] = middleware.RateLimit{RequestsPerMinute: perMinute, Burst: cfg.Burst}
		limits[routes.LimitToken] = middleware.RateLimit{RequestsPerMinute: perMinute, Burst: cfg.Burst}
		limits[routes.LimitEvents] = middleware.RateLimit{RequestsPerMinute: perMinute / 4, Burst: 2}
		limits[routes.LimitHooks] = middleware.RateLimit{RequestsPerMinute: perMinute, Burst: cfg.Burst}
	}
	if adminPerMinute > 0 {
		limits[routes.LimitAdmin] = middleware.RateLimit{RequestsPerMinute: adminPerMinute, Burst: 5}
	}
	router, err := routes.New(routes.Config{
		Node:          deps.Node,
		Store:         deps.Store,
		KeeperHook:    deps.KeeperHook,
		Authenticator: middleware.NewAuthenticator(verifier, logger),
		RateLimiter:   middleware.NewRateLimiter(limits, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "gateway",
			LogRequests: cfg.LogRequests,
		}, logger),
		CORS:         middleware.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		Logger:       logger,
		EnableFaucet: cfg.EnableFaucet,
		Revocations:  deps.Revocations,
	})
	if err != nil {
		return nil, err
	}
	return otelhttp.NewHandler(router, "gateway"), nil
}

// NewServer builds the HTTP server without binding.
func NewServer(cfg config.GatewayConfig, deps Dependencies) (*Server, error) {
	handler, err := NewHandler(cfg, deps)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	readHeader := time.Duration(cfg.ReadHeaderTimeoutSecs) * time.Second
	if readHeader <= 0 {
		readHeader = 10 * time.Second
	}
	shutdown := time.Duration(cfg.ShutdownTimeoutSecs) * time.Second
	if shutdown <= 0 {
		shutdown = 15 * time.Second
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddress,
			Handler:           handler,
			ReadHeaderTimeout: readHeader,
			IdleTimeout:       2 * time.Minute,
		},
		logger:          logging.Component(logger, "gateway"),
		shutdownTimeout: shutdown,
	}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("gateway: listen: %w", err)
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", listener.Addr().String()))
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown failed", slog.Any("error", err))
		return err
	}
	return nil
}
