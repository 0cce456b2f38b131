// Package handlers implements the HTTP handlers for the ContentMill API.
// All handlers depend on the Store interface plus the workflow engine;
// execution state only ever changes through the engine.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/contentmill/contentmill/internal/catalog"
	"github.com/contentmill/contentmill/internal/executor"
	"github.com/contentmill/contentmill/internal/providers"
	"github.com/contentmill/contentmill/internal/store"
	"github.com/contentmill/contentmill/internal/workflow"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store     store.Store
	Engine    *workflow.Engine
	Registry  *executor.Registry
	Catalog   *catalog.Catalog
	Providers *providers.Router
}

// New creates a Handlers instance with all dependencies.
func New(s store.Store, eng *workflow.Engine, reg *executor.Registry, cat *catalog.Catalog, pr *providers.Router) *Handlers {
	return &Handlers{
		Store:     s,
		Engine:    eng,
		Registry:  reg,
		Catalog:   cat,
		Providers: pr,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondEngineError maps the engine and store error taxonomy onto HTTP
// status codes.
func respondEngineError(w http.ResponseWriter, err error) {
	var (
		notFound  *store.ErrNotFound
		terminal  *store.ErrTerminal
		validErr  *workflow.ValidationError
		conflict  *workflow.ConflictError
		forbidden *workflow.AuthorizationError
		unknown   *executor.UnknownTypeError
	)
	switch {
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validErr), errors.As(err, &unknown):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &conflict), errors.As(err, &terminal):
		respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &forbidden):
		respondError(w, http.StatusForbidden, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
