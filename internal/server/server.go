package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsemetrics/pulse/internal/config"
	"github.com/pulsemetrics/pulse/internal/handler"
	"github.com/pulsemetrics/pulse/internal/server/middleware"
	"github.com/pulsemetrics/pulse/internal/service"
	"github.com/pulsemetrics/pulse/internal/store"
)

// Deps are the components the server routes requests to.
type Deps struct {
	Store    *store.Store
	Auth     *service.AuthService
	Projects *service.ProjectService
	Keys     *service.APIKeyService
	Metrics  *service.MetricService
	// Sweeper runs for the lifetime of ListenAndServe. Nil disables
	// scheduled retention.
	Sweeper *service.Sweeper
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Version  string
}

// Server is the top-level HTTP server for Pulse. It owns the Chi router and
// the lifecycle of the background work started by the services.
type Server struct {
	cfg        config.Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	r.Use(middleware.SelfMetrics(s.deps.Metrics, s.cfg.Monitoring.ProjectID))

	health := handler.NewHealthHandler(s.deps.Store, s.cfg.Environment)
	authH := handler.NewAuthHandler(s.deps.Auth, s.logger)
	projectH := handler.NewProjectHandler(s.deps.Projects, s.deps.Keys, s.logger)
	metricH := handler.NewMetricHandler(s.deps.Metrics, s.deps.Projects, s.logger)
	openAPIH := handler.NewOpenAPIHandler(baseURL(s.cfg), s.deps.Version, s.logger)

	// --- Unauthenticated ---
	r.Get("/health", health.Health)
	r.Get("/healthz", health.Healthz)
	r.Get("/openapi.json", openAPIH.ServeSpec)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.cfg.Server.AuthRateLimit))
			r.Post("/auth/register", authH.Register)
			r.Post("/auth/login", authH.Login)
		})

		// Ingestion is authenticated by project API key.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByHeader("X-API-Key", s.cfg.Server.TrackRateLimit))
			r.Use(middleware.RequireAPIKey(s.deps.Auth))
			r.Post("/track", metricH.Track)
		})

		// Everything else needs a user session.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser(s.deps.Auth))

			r.Get("/auth/me", authH.Me)

			r.Get("/projects", projectH.ListProjects)
			r.Post("/projects", projectH.CreateProject)
			r.Route("/projects/{projectKey}", func(r chi.Router) {
				r.Get("/", projectH.GetProject)
				r.Patch("/", projectH.UpdateProject)
				r.Delete("/", projectH.DeleteProject)
				r.Get("/stats", projectH.ProjectStats)

				r.Get("/api-keys", projectH.ListAPIKeys)
				r.Post("/api-keys", projectH.CreateAPIKey)
				r.Get("/api-keys/{keyID}", projectH.GetAPIKey)
				r.Patch("/api-keys/{keyID}", projectH.UpdateAPIKey)
				r.Post("/api-keys/{keyID}/rotate", projectH.RotateAPIKey)
				r.Post("/api-keys/{keyID}/revoke", projectH.RevokeAPIKey)
				r.Delete("/api-keys/{keyID}", projectH.DeleteAPIKey)

				r.Get("/metrics", metricH.ListMetrics)
				r.Get("/metrics/summary", metricH.Summary)
				r.Get("/metrics/time-series", metricH.TimeSeries)
				r.Get("/metrics/endpoints", metricH.Endpoints)
			})
		})
	})

	s.router = r
}

func baseURL(cfg config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(cfg.Server.Port)))
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests and background writes before closing the database.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Serve(ctx, ln); err != nil {
		return err
	}
	if err := s.deps.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. The retention sweeper runs for as long as Serve does.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		if s.deps.Sweeper != nil {
			s.deps.Sweeper.Run(sweepCtx)
		}
	}()
	defer func() {
		stopSweep()
		<-sweepDone
	}()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Usage counters and self-monitoring inserts outlive their requests.
	s.deps.Auth.Wait()
	s.deps.Metrics.Wait()
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
