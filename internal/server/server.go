// Package server exposes the studio backend over HTTP: a chat endpoint
// that runs orchestrations, project file access, history replay, and a
// WebSocket event stream.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/history"
	"github.com/atelierhq/atelier/internal/llm"
	"github.com/atelierhq/atelier/internal/notify"
	"github.com/atelierhq/atelier/internal/ops"
	"github.com/atelierhq/atelier/internal/orchestrator"
	"github.com/atelierhq/atelier/internal/procs"
	"github.com/atelierhq/atelier/internal/sandbox"
)

// Server wires the orchestrator and its collaborators behind HTTP
// handlers.
type Server struct {
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	ops     *ops.Registry
	client  *llm.Client
	db      *history.DB
	sandbox *sandbox.Sandbox
	bus     *notify.Bus
	hub     *notify.Hub
	procs   *procs.Manager
	log     zerolog.Logger

	httpServer *http.Server
}

// Deps are the collaborators the server serves.
type Deps struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Registry     *ops.Registry
	Client       *llm.Client
	DB           *history.DB
	Sandbox      *sandbox.Sandbox
	Bus          *notify.Bus
	Hub          *notify.Hub
	Procs        *procs.Manager
	Logger       zerolog.Logger
}

// New creates a Server.
func New(deps Deps) *Server {
	s := &Server{
		cfg:     deps.Config,
		orch:    deps.Orchestrator,
		ops:     deps.Registry,
		client:  deps.Client,
		db:      deps.DB,
		sandbox: deps.Sandbox,
		bus:     deps.Bus,
		hub:     deps.Hub,
		procs:   deps.Procs,
		log:     deps.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /ws", s.hub)

	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("POST /api/projects/{id}/chat", s.handleChat)
	mux.HandleFunc("GET /api/projects/{id}/messages", s.handleMessages)
	mux.HandleFunc("DELETE /api/projects/{id}/messages", s.handleClearMessages)
	mux.HandleFunc("GET /api/projects/{id}/runs", s.handleRuns)
	mux.HandleFunc("GET /api/projects/{id}/files", s.handleListFiles)
	mux.HandleFunc("GET /api/projects/{id}/files/{name...}", s.handleReadFile)
	mux.HandleFunc("PUT /api/projects/{id}/files/{name...}", s.handleWriteFile)

	s.httpServer = &http.Server{
		Addr:         deps.Config.Server.Addr,
		Handler:      s.logRequests(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // chat runs can be slow
	}

	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe runs the HTTP server until the context is canceled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.procs.StopAll()
	return s.httpServer.Shutdown(shutdownCtx)
}

// logRequests is a minimal request-logging middleware.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
