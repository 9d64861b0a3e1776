// Package server assembles the HTTP surface: backends built from config,
// routing and resilience policies, middleware and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/modelgate/modelgate/internal/backends"
	"github.com/modelgate/modelgate/internal/balance"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/gateway"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/middleware"
	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/router"
)

type Server struct {
	manager *config.Manager
	logger  *slog.Logger

	httpServer *http.Server
	registry   *registry.Registry
}

func New(manager *config.Manager, logger *slog.Logger) *Server {
	return &Server{
		manager:  manager,
		logger:   logger,
		registry: registry.New(),
	}
}

// Registry exposes the backend registry, mainly for tests and the config
// inspection command.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// buildBackends registers one adapter per enabled backend config entry.
func (s *Server) buildBackends(cfg *config.Config) error {
	for _, bc := range cfg.Backends {
		if !bc.IsEnabled() {
			s.logger.Info("Skipping disabled backend", "backend", bc.Name)
			continue
		}
		b, err := backends.New(bc)
		if err != nil {
			return fmt.Errorf("backend %q: %w", bc.Name, err)
		}
		s.registry.Register(b)
		s.logger.Info("Registered backend", "backend", bc.Name, "vendor", bc.Vendor)
	}
	if len(s.registry.List()) == 0 {
		return errors.New("no enabled backends configured")
	}
	return nil
}

// buildGateway wires the policies the config asks for. An empty fallback
// pool and empty candidate list leave direct router resolution in place.
func (s *Server) buildGateway(cfg *config.Config, m *metrics.Metrics) *gateway.Gateway {
	opts := gateway.Options{
		Logger:   s.logger,
		Registry: s.registry,
		Router:   router.New(s.registry, cfg.Router),
		Metrics:  m,
	}

	if len(cfg.Balancer.Candidates) > 0 {
		opts.Balancer = balance.NewWeightedBalancer(
			s.registry,
			cfg.Balancer.Candidates,
			time.Duration(cfg.Balancer.CooldownSec)*time.Second,
		)
	}
	if len(cfg.Fallback.Main) > 0 {
		opts.Fallback = balance.NewFallbackRouter(
			s.registry,
			cfg.Fallback.Main,
			cfg.Fallback.Fallback,
			time.Duration(cfg.Fallback.CooldownSec)*time.Second,
		)
	}
	return gateway.New(opts)
}

// Handler builds the full chi router; split out so tests can drive the
// surface through httptest without binding a port.
func (s *Server) Handler(cfg *config.Config) (http.Handler, error) {
	if err := s.buildBackends(cfg); err != nil {
		return nil, err
	}

	m := metrics.New()
	gw := s.buildGateway(cfg, m)
	mw := middleware.NewSet(s.manager, s.logger)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "Anthropic-Version"},
		ExposedHeaders:   []string{"Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Method(http.MethodGet, "/health", mw.PublicChain().Handler(http.HandlerFunc(gw.HandleHealth)))
	r.Mount("/metrics", m.Handler())

	api := mw.DefaultChain()
	r.Method(http.MethodPost, "/v1/messages", api.Handler(http.HandlerFunc(gw.HandleMessages)))
	r.Method(http.MethodPost, "/v1/chat/completions", api.Handler(http.HandlerFunc(gw.HandleChatCompletions)))
	r.Method(http.MethodGet, "/v1/models", api.Handler(http.HandlerFunc(gw.HandleModels)))

	return r, nil
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully with a 10s drain window.
func (s *Server) Start() error {
	cfg, err := s.manager.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	handler, err := s.Handler(cfg)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Gateway listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	s.logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
