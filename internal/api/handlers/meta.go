package handlers

import (
	"net/http"

	"github.com/contentmill/contentmill/pkg/models"
)

// ── Catalog & Executor Metadata ──────────────────────────────

// ListExecutors returns the registered step types with their config
// schemas, for the recipe builder.
func (h *Handlers) ListExecutors(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Registry.Describe())
}

// ListModels returns the model capability catalog, optionally filtered by
// provider kind.
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	var caps []*models.ModelCapability
	if kind := r.URL.Query().Get("provider"); kind != "" {
		caps = h.Catalog.ListByProvider(kind)
	} else {
		caps = h.Catalog.ListAll()
	}
	if caps == nil {
		caps = []*models.ModelCapability{}
	}
	respondJSON(w, http.StatusOK, caps)
}
