// Package server provides the HTTP API for Kaiwa.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/auth"
	"github.com/hyperjump/kaiwa/internal/chat"
	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/ingest"
	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/storage"
	"github.com/hyperjump/kaiwa/internal/vector"
)

// Server is the HTTP server for the Kaiwa API.
type Server struct {
	turns    *chat.TurnService
	ingest   *ingest.Service
	storage  storage.Storage
	files    *storage.FileStore
	index    vector.Index
	registry *llm.Registry
	verifier *auth.Verifier
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	turns *chat.TurnService,
	ing *ingest.Service,
	store storage.Storage,
	files *storage.FileStore,
	index vector.Index,
	registry *llm.Registry,
	verifier *auth.Verifier,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		turns:    turns,
		ingest:   ing,
		storage:  store,
		files:    files,
		index:    index,
		registry: registry,
		verifier: verifier,
		config:   cfg,
		logger:   logger,
	}
}

// Router builds the chi router. Everything under /api/v1 requires a valid
// bearer token; /health does not.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.verifier.Middleware)

		r.Post("/chat", s.handleChat)
		r.Post("/chat/{conversationID}", s.handleChat)
		r.Get("/chat/{conversationID}", s.handleGetConversation)

		r.Post("/create-conversation", s.handleCreateConversation)
		r.Get("/history", s.handleListConversations)
		r.Delete("/history/{conversationID}", s.handleDeleteConversation)

		r.Post("/dataset-upload", s.handleUpload)
		r.Delete("/documents/{documentID}", s.handleDeleteDocument)

		r.Post("/messages/{messageID}/feedback", s.handleFeedback)

		r.Get("/models", s.handleModels)
		r.Get("/status", s.handleStatus)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
