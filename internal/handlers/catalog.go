package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/jaydeelew/compareintel/internal/catalog"
	"github.com/jaydeelew/compareintel/internal/repository"
)

type CatalogHandler struct {
	catalog *catalog.Catalog
	repo    repository.Repository
}

func NewCatalogHandler(cat *catalog.Catalog, repo repository.Repository) *CatalogHandler {
	return &CatalogHandler{catalog: cat, repo: repo}
}

func (h *CatalogHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/models", h.handleModels)
	mux.HandleFunc("/v1/usage", h.handleUsage)
	mux.HandleFunc("/healthz", h.handleHealth)
}

func (h *CatalogHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *CatalogHandler) handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.catalog.List())
}

func (h *CatalogHandler) handleUsage(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	records, err := h.repo.Usage().GetUsageRecords(r.Context(), limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get usage records: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}
