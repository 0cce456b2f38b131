package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/contentmill/contentmill/internal/api/middleware"
	"github.com/contentmill/contentmill/internal/resolver"
	"github.com/contentmill/contentmill/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ── Company Standard Handlers ────────────────────────────────

func (h *Handlers) ListStandards(w http.ResponseWriter, r *http.Request) {
	standards, err := h.Store.ListStandards(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if standards == nil {
		standards = []models.CompanyStandard{}
	}
	respondJSON(w, http.StatusOK, standards)
}

func (h *Handlers) CreateStandard(w http.ResponseWriter, r *http.Request) {
	var req models.CompanyStandard
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "standard name is required")
		return
	}
	if _, ok := resolver.MatchStandard(req.Name); !ok {
		respondError(w, http.StatusBadRequest, "standard name does not match a reserved variable")
		return
	}

	req.ID = uuid.New().String()
	req.UserID = middleware.GetUserID(r.Context())
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = req.CreatedAt

	if err := h.Store.CreateStandard(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("standard", req.Name).Str("user", req.UserID).Msg("Standard created")
	respondJSON(w, http.StatusCreated, req)
}

func (h *Handlers) GetStandard(w http.ResponseWriter, r *http.Request) {
	std, err := h.Store.GetStandard(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, std)
}

func (h *Handlers) UpdateStandard(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserID(r.Context())
	std, err := h.Store.GetStandard(r.Context(), user, chi.URLParam(r, "name"))
	if err != nil {
		respondEngineError(w, err)
		return
	}

	var req models.CompanyStandard
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Content != "" {
		std.Content = req.Content
	}
	if req.Kind != "" {
		std.Kind = req.Kind
	}
	std.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateStandard(r.Context(), std); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, std)
}

func (h *Handlers) DeleteStandard(w http.ResponseWriter, r *http.Request) {
	err := h.Store.DeleteStandard(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListStandardVariables returns the reserved variable names the recipe
// builder can offer for autocompletion.
func (h *Handlers) ListStandardVariables(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{"variables": resolver.StandardNames()})
}
