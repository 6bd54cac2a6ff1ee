package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tidewater-labs/quarry/internal/api/handlers"
	"github.com/tidewater-labs/quarry/internal/config"
	"github.com/tidewater-labs/quarry/internal/core"
	"github.com/tidewater-labs/quarry/internal/core/ingest"
	"github.com/tidewater-labs/quarry/internal/core/rag"
	"github.com/tidewater-labs/quarry/internal/core/search"
	"github.com/tidewater-labs/quarry/internal/core/usage"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type serverDeps struct {
	store    core.Store
	objects  core.ObjectStore
	pipeline *ingest.Pipeline
	engine   *search.Engine
	chat     *rag.Service
	ledger   *usage.Ledger
	cache    *search.Cache
	embedder core.EmbeddingProvider
	provider core.LLMProvider
	logger   *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, deps serverDeps) *Server {
	docHandler := handlers.NewDocumentHandler(deps.store, deps.objects, deps.pipeline, cfg.BucketName, deps.logger)
	searchHandler := handlers.NewSearchHandler(deps.engine, cfg.SearchTimeout, deps.logger)
	chatHandler := handlers.NewChatHandler(deps.chat, deps.store, deps.logger)
	systemHandler := handlers.NewSystemHandler(deps.store, deps.ledger, deps.cache, deps.embedder, deps.provider)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Post("/upload-document", docHandler.Upload)
	r.Get("/document-status/{job_id}", docHandler.Status)
	r.Post("/document-status/{job_id}/cancel", docHandler.Cancel)
	r.Get("/documents", docHandler.List)
	r.Delete("/documents/{id}", docHandler.Delete)

	r.Post("/search-documents", searchHandler.Search)

	r.Post("/chat", chatHandler.Chat)
	r.Post("/rag-chat", chatHandler.RAGChat)
	r.Get("/conversations", chatHandler.ListConversations)
	r.Get("/conversations/{id}/messages", chatHandler.GetMessages)
	r.Delete("/conversations/{id}", chatHandler.DeleteConversation)

	r.Get("/usage-stats", systemHandler.UsageStats)
	r.Get("/system-status", systemHandler.Status)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, logger: deps.logger}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
