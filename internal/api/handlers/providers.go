package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/contentmill/contentmill/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ── Model Provider Handlers ──────────────────────────────────

func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	list, err := h.Store.ListProviders(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	masked := make([]models.ModelProvider, 0, len(list))
	for i := range list {
		masked = append(masked, *maskProviderKey(&list[i]))
	}
	respondJSON(w, http.StatusOK, masked)
}

func (h *Handlers) CreateProvider(w http.ResponseWriter, r *http.Request) {
	var req models.ModelProvider
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" || req.Kind == "" {
		respondError(w, http.StatusBadRequest, "provider name and kind are required")
		return
	}
	switch req.Kind {
	case "openai", "anthropic", "google", "mock":
	default:
		respondError(w, http.StatusBadRequest, "unsupported provider kind: "+req.Kind)
		return
	}

	req.ID = uuid.New().String()
	req.CreatedAt = time.Now().UTC()

	if err := h.Store.CreateProvider(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("provider", req.Name).Str("kind", req.Kind).Msg("Provider configured")
	respondJSON(w, http.StatusCreated, maskProviderKey(&req))
}

func (h *Handlers) GetProvider(w http.ResponseWriter, r *http.Request) {
	provider, err := h.Store.GetProvider(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, maskProviderKey(provider))
}

func (h *Handlers) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	provider, err := h.Store.GetProvider(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondEngineError(w, err)
		return
	}

	var req models.ModelProvider
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Endpoint != "" {
		provider.Endpoint = req.Endpoint
	}
	if req.APIKey != "" {
		provider.APIKey = req.APIKey
	}
	if req.Models != nil {
		provider.Models = req.Models
	}
	provider.IsDefault = req.IsDefault

	if err := h.Store.UpdateProvider(r.Context(), provider); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, maskProviderKey(provider))
}

func (h *Handlers) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteProvider(r.Context(), chi.URLParam(r, "name")); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestProvider sends a minimal completion through the provider to verify
// connectivity and credentials.
func (h *Handlers) TestProvider(w http.ResponseWriter, r *http.Request) {
	provider, err := h.Store.GetProvider(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	result := h.Providers.Test(r.Context(), provider)
	status := http.StatusOK
	if !result.Healthy {
		status = http.StatusBadGateway
	}
	respondJSON(w, status, result)
}

// maskProviderKey redacts the API key before returning a provider to API
// consumers. The last four characters stay visible for identification.
func maskProviderKey(p *models.ModelProvider) *models.ModelProvider {
	cp := *p
	if n := len(cp.APIKey); n > 4 {
		cp.APIKey = "****" + cp.APIKey[n-4:]
	} else if n > 0 {
		cp.APIKey = "****"
	}
	return &cp
}
