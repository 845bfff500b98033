package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jaydeelew/compareintel/internal/catalog"
	"github.com/jaydeelew/compareintel/internal/credits"
	"github.com/jaydeelew/compareintel/internal/handlers"
	"github.com/jaydeelew/compareintel/internal/orchestrator"
	"github.com/jaydeelew/compareintel/internal/repository"
)

type Server struct {
	httpAddr  string
	orch      *orchestrator.Orchestrator
	gate      *credits.Gate
	catalog   *catalog.Catalog
	repo      repository.Repository
	jwtSecret string
}

func NewServer(httpAddr string, orch *orchestrator.Orchestrator, gate *credits.Gate, cat *catalog.Catalog, repo repository.Repository, jwtSecret string) *Server {
	return &Server{
		httpAddr:  httpAddr,
		orch:      orch,
		gate:      gate,
		catalog:   cat,
		repo:      repo,
		jwtSecret: jwtSecret,
	}
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	compareHandler := handlers.NewCompareHandler(s.orch, s.gate, s.jwtSecret)
	compareHandler.RegisterRoutes(mux)

	catalogHandler := handlers.NewCatalogHandler(s.catalog, s.repo)
	catalogHandler.RegisterRoutes(mux)

	slog.Info("HTTP server starting",
		"addr", s.httpAddr,
		"endpoints", []string{"/v1/compare", "/v1/credits", "/v1/models", "/v1/usage", "/healthz"})

	srv := &http.Server{Addr: s.httpAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	return srv.ListenAndServe()
}
