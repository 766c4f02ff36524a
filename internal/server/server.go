// Package server exposes the detection engine over HTTP. Every workspace
// owns exactly one current run; starting a run replaces it.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"

	"github.com/straja-ai/piiscope/internal/auth"
	"github.com/straja-ai/piiscope/internal/config"
	"github.com/straja-ai/piiscope/internal/console"
	"github.com/straja-ai/piiscope/internal/engine"
	"github.com/straja-ai/piiscope/internal/export"
	"github.com/straja-ai/piiscope/internal/index"
	"github.com/straja-ai/piiscope/internal/redact"
)

// Deps are the collaborators the server drives. Emitter and Search are
// optional.
type Deps struct {
	Engine  *engine.Engine
	Auth    *auth.Auth
	Emitter *index.Emitter
	Search  *index.SQLiteSink
}

// Server wraps the HTTP server components for piiscope.
type Server struct {
	router       chi.Router
	cfg          *config.Config
	engine       *engine.Engine
	auth         *auth.Auth
	emitter      *index.Emitter
	search       *index.SQLiteSink
	asyncIndex   bool
	archive      export.ArchiveOptions
	maxBodyBytes int64
	runs         *runStore
	httpServer   *http.Server
}

// New creates a new server with all routes registered.
func New(cfg *config.Config, deps Deps) *Server {
	if deps.Engine == nil {
		deps.Engine = engine.New(nil, nil)
	}
	if deps.Auth == nil {
		deps.Auth, _ = auth.NewFromConfig(&config.Config{})
	}
	s := &Server{
		cfg:          cfg,
		engine:       deps.Engine,
		auth:         deps.Auth,
		emitter:      deps.Emitter,
		search:       deps.Search,
		asyncIndex:   cfg.Index.Async,
		archive:      cfg.Export.Archive,
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		runs:         newRunStore(cfg.Server.RunTTL),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/robots.txt", handleRobots)
	r.Handle("/console", console.Handler())
	r.Handle("/console/*", console.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/classify", s.handleClassify)
		r.Post("/runs", s.handleCreateRun)
		r.Get("/runs/current", s.handleCurrentRun)
		r.Get("/runs/current/entities", s.handleEntities)
		r.Get("/runs/current/summary", s.handleSummary)
		r.Get("/runs/current/records", s.handleRecords)
		r.Post("/runs/current/export", s.handleExport)
		r.Get("/search", s.handleSearch)
	})

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		redact.Logf("piiscope listening on %s (labeler=%s sinks=%v)", addr, s.engine.Labeler(), s.emitter.Sinks())
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	redact.Logf("shutting down http server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

type workspaceKey struct{}

func workspaceFrom(ctx context.Context) auth.Workspace {
	w, _ := ctx.Value(workspaceKey{}).(auth.Workspace)
	return w
}

// authenticate resolves the request's workspace from an Authorization:
// Bearer header or X-API-Key.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if h := r.Header.Get("Authorization"); h != "" {
			token, ok := parseBearerToken(h)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header", "authentication_error")
				return
			}
			apiKey = token
		}
		ws, ok := s.auth.Resolve(apiKey)
		if !ok {
			if apiKey == "" {
				writeError(w, http.StatusUnauthorized, "Missing API key", "authentication_error")
			} else {
				writeError(w, http.StatusUnauthorized, "Invalid API key", "authentication_error")
			}
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), workspaceKey{}, ws)))
	})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		redact.Debugf("http %s %s status=%d bytes=%d dur=%s req=%s",
			r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start).Round(time.Millisecond), middleware.GetReqID(r.Context()))
	})
}

const robotsTxt = "User-agent: *\nDisallow: /\n"

func handleRobots(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(robotsTxt))
}

// parseBearerToken extracts the token from an Authorization: Bearer header.
func parseBearerToken(h string) (string, bool) {
	if h == "" {
		return "", false
	}
	parts := strings.Fields(h)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeError(w http.ResponseWriter, status int, message, typ string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Message: message,
			Type:    typ,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		redact.Warnf("failed to write response: %v", err)
	}
}
