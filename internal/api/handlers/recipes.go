package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/contentmill/contentmill/internal/api/middleware"
	"github.com/contentmill/contentmill/internal/store"
	"github.com/contentmill/contentmill/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ── Recipe Handlers ──────────────────────────────────────────

func (h *Handlers) ListRecipes(w http.ResponseWriter, r *http.Request) {
	recipes, err := h.Store.ListRecipes(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recipes == nil {
		recipes = []models.Recipe{}
	}
	respondJSON(w, http.StatusOK, recipes)
}

func (h *Handlers) CreateRecipe(w http.ResponseWriter, r *http.Request) {
	var req models.Recipe
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	for i := range req.Steps {
		if _, err := h.Registry.Get(req.Steps[i].Type); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	req.ID = uuid.New().String()
	req.CreatedBy = middleware.GetUserID(r.Context())
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = req.CreatedAt

	if err := h.Store.CreateRecipe(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("recipe", req.Name).Str("id", req.ID).Int("steps", len(req.Steps)).Msg("Recipe created")
	respondJSON(w, http.StatusCreated, req)
}

func (h *Handlers) GetRecipe(w http.ResponseWriter, r *http.Request) {
	recipe, err := h.Store.GetRecipe(r.Context(), chi.URLParam(r, "recipeId"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recipe)
}

func (h *Handlers) UpdateRecipe(w http.ResponseWriter, r *http.Request) {
	recipe, err := h.Store.GetRecipe(r.Context(), chi.URLParam(r, "recipeId"))
	if err != nil {
		respondEngineError(w, err)
		return
	}

	var req models.Recipe
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name != "" {
		recipe.Name = req.Name
	}
	if req.Description != "" {
		recipe.Description = req.Description
	}
	if req.Steps != nil {
		recipe.Steps = req.Steps
	}
	recipe.IsTemplate = req.IsTemplate
	recipe.UpdatedAt = time.Now().UTC()

	if err := recipe.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Store.UpdateRecipe(r.Context(), recipe); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, recipe)
}

func (h *Handlers) DeleteRecipe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "recipeId")
	if err := h.Store.DeleteRecipe(r.Context(), id); err != nil {
		var notFound *store.ErrNotFound
		if errors.As(err, &notFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Str("recipe", id).Msg("Recipe deleted")
	w.WriteHeader(http.StatusNoContent)
}
