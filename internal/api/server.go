// Package api is the HTTP surface of the control plane: command
// submission and lookup, agent status reports, registry snapshots,
// and the SSE event feed.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opsfleet/commandeer/internal/auth"
	"github.com/opsfleet/commandeer/internal/command"
	"github.com/opsfleet/commandeer/internal/dispatch"
	"github.com/opsfleet/commandeer/internal/events"
	"github.com/opsfleet/commandeer/internal/registry"
)

// Dispatcher is the slice of the coordinator the API drives.
type Dispatcher interface {
	Submit(ctx context.Context, draft command.Draft) (*command.Command, error)
	ReportStatus(ctx context.Context, id string, status command.Status, outputs map[string]string) (*command.Command, error)
}

// CommandReader is the read-side of the command repository.
type CommandReader interface {
	Get(ctx context.Context, id string) (*command.Command, error)
	List(ctx context.Context, path *command.AgentPath, types []command.Type, statuses []command.Status) ([]*command.Command, error)
	ListBySession(ctx context.Context, sessionID string) ([]*command.Command, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is the single admin bearer token (full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Server represents the HTTP API server.
type Server struct {
	config     Config
	dispatcher Dispatcher
	commands   CommandReader
	reg        *registry.Registry
	hub        *events.Hub
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates a new API server instance.
func New(config Config, dispatcher Dispatcher, commands CommandReader, reg *registry.Registry, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:     config,
		dispatcher: dispatcher,
		commands:   commands,
		reg:        reg,
		hub:        hub,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes("commands:rw")).Post("/command", s.handleSubmit)
		r.With(s.requireScopes("commands:ro")).Get("/command/{commandID}", s.handleGetCommand)
		r.With(s.requireScopes("commands:ro")).Get("/commands", s.handleListCommands)
		r.With(s.requireScopes("agents:rw")).Post("/command/{commandID}/report", s.handleReport)
		r.With(s.requireScopes("agents:ro")).Get("/agents", s.handleListAgents)
		r.With(s.requireScopes("events:ro")).Get("/events", s.handleEvents)
	})

	return r
}

// authMiddleware resolves the bearer token to a Principal.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		principal, ok := auth.Authenticate(token, s.config.APIKey, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// requireScopes gates a route on any of the listed scopes ("*" always passes).
func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok || !auth.HasAnyScope(principal, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

var _ Dispatcher = (*dispatch.Coordinator)(nil)
