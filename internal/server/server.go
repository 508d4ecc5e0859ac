package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/customsops/customs/internal/authority"
	"github.com/customsops/customs/internal/config"
	"github.com/customsops/customs/internal/handler"
	"github.com/customsops/customs/internal/menu"
	"github.com/customsops/customs/internal/server/middleware"
	"github.com/customsops/customs/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	CORSMethods     []string
	TLSCertFile     string
	TLSKeyFile      string
	// LoginRateLimit bounds login attempts per client IP per minute. Zero
	// disables the limit.
	LoginRateLimit int
	// APIRateLimit bounds authenticated requests per bearer token per
	// minute. Zero disables the limit.
	APIRateLimit int
	Version      string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		CORSMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		LoginRateLimit:  10,
		APIRateLimit:    600,
		Version:         "dev",
	}
}

// FromYAML converts the server section of the configuration file.
func FromYAML(c config.ServerConfig, version string) Config {
	cfg := DefaultConfig()
	cfg.Host = c.Host
	cfg.Port = c.Port
	cfg.ShutdownTimeout = config.Duration(c.ShutdownTimeout, cfg.ShutdownTimeout)
	if len(c.CORS.Origins) > 0 {
		cfg.CORSOrigins = c.CORS.Origins
	}
	if len(c.CORS.Methods) > 0 {
		cfg.CORSMethods = c.CORS.Methods
	}
	if c.TLS.Enabled {
		cfg.TLSCertFile = c.TLS.CertFile
		cfg.TLSKeyFile = c.TLS.KeyFile
	}
	cfg.LoginRateLimit = c.RateLimit.Login
	cfg.APIRateLimit = c.RateLimit.API
	cfg.Version = version
	return cfg
}

// Pinger reports whether the directory store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the top-level HTTP server for customs. It owns the Chi router
// and wires the auth service, menu engine and directory store into the
// handlers.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *config.Store
	pinger     Pinger
	authSvc    *service.AuthService
	menu       *menu.Engine
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, store *config.Store, authSvc *service.AuthService, engine *menu.Engine, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		pinger:  store,
		authSvc: authSvc,
		menu:    engine,
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   append(append([]string(nil), s.cfg.CORSMethods...), "OPTIONS"),
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: !allowsAnyOrigin(s.cfg.CORSOrigins),
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- OpenAPI spec (no auth required) ---
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.cfg.Version).ServeSpec)

	authH := handler.NewAuthHandler(s.authSvc, s.logger)
	menuH := handler.NewMenuHandler(s.menu)
	adminH := handler.NewAdminHandler(s.store, s.logger)
	require := func(names ...string) func(http.Handler) http.Handler {
		return middleware.RequireAuthority(s.logger, names...)
	}

	r.Route("/api", func(r chi.Router) {
		// Password login is the only unauthenticated API call.
		r.With(limit(middleware.RateLimit, s.cfg.LoginRateLimit)).Post("/auth/login", authH.Login)

		r.Group(func(r chi.Router) {
			r.Use(limit(middleware.RateLimitByBearer, s.cfg.APIRateLimit))
			r.Use(middleware.Authenticate(s.authSvc, s.logger))

			r.Post("/auth/validate", authH.Validate)
			r.Get("/auth/user-info", authH.UserInfo)
			r.Post("/auth/refresh", authH.Refresh)

			r.Get("/menu/user", menuH.UserMenu)
			r.With(require(authority.ManageRoles)).Get("/menu/all", menuH.AllItems)
			r.With(require(authority.ManageRoles)).Get("/menu/by-authority/{authority}", menuH.ByAuthority)

			r.Route("/admin", func(r chi.Router) {
				r.With(require(authority.ReadUser)).Get("/users", adminH.ListUsers)
				r.With(require(authority.CreateUser)).Post("/users", adminH.CreateUser)
				r.With(require(authority.UpdateUser)).Put("/users/{username}/enabled", adminH.SetUserEnabled)
				r.With(require(authority.UpdateUser)).Put("/users/{username}/roles", adminH.SetUserRoles)

				r.Group(func(r chi.Router) {
					r.Use(require(authority.ManageRoles))
					r.Get("/roles", adminH.ListRoles)
					r.Put("/roles/{role}/authorities", adminH.SetRoleAuthorities)
					r.Get("/authorities", adminH.ListAuthorities)
				})
			})
		})
	})

	s.router = r
}

// limit applies a rate limiter unless perMinute is zero.
func limit(mw func(int) func(http.Handler) http.Handler, perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw(perMinute)
}

func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the directory store
// answers a ping, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, httpStatus := "ok", http.StatusOK
	checks := map[string]string{"store": "ok"}
	if err := s.pinger.Ping(ctx); err != nil {
		s.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
		checks["store"] = "unreachable"
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLSCertFile != "" {
			s.logger.Info("server starting", "addr", addr, "tls", true)
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			s.logger.Info("server starting", "addr", addr)
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
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
