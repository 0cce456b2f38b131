package api

import (
	"encoding/json"
	"net/http"

	"github.com/contentmill/contentmill/internal/api/handlers"
	"github.com/contentmill/contentmill/internal/api/middleware"
	"github.com/contentmill/contentmill/internal/config"
	"github.com/contentmill/contentmill/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers, s store.Store) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.UserExtractor)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler(s))
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Recipes
		r.Route("/recipes", func(r chi.Router) {
			r.Get("/", h.ListRecipes)
			r.Post("/", h.CreateRecipe)
			r.Route("/{recipeId}", func(r chi.Router) {
				r.Get("/", h.GetRecipe)
				r.Put("/", h.UpdateRecipe)
				r.Delete("/", h.DeleteRecipe)
			})
		})

		// Executions
		r.Route("/executions", func(r chi.Router) {
			r.Get("/", h.ListExecutions)
			r.Post("/", h.StartExecution)
			r.Route("/{executionId}", func(r chi.Router) {
				r.Get("/", h.GetExecution)
				r.Get("/status", h.GetExecutionStatus)
				r.Delete("/", h.DeleteExecution)
				r.Post("/cancel", h.CancelExecution)
				r.Route("/steps", func(r chi.Router) {
					r.Get("/", h.ListExecutionSteps)
					r.Route("/{stepId}", func(r chi.Router) {
						r.Post("/approve", h.ApproveStep)
						r.Post("/reject", h.RejectStep)
						r.Post("/retry", h.RetryStep)
					})
				})
			})
		})

		// Company standards
		r.Route("/standards", func(r chi.Router) {
			r.Get("/", h.ListStandards)
			r.Post("/", h.CreateStandard)
			r.Get("/variables", h.ListStandardVariables)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", h.GetStandard)
				r.Put("/", h.UpdateStandard)
				r.Delete("/", h.DeleteStandard)
			})
		})

		// Model providers
		r.Route("/providers", func(r chi.Router) {
			r.Get("/", h.ListProviders)
			r.Post("/", h.CreateProvider)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", h.GetProvider)
				r.Put("/", h.UpdateProvider)
				r.Delete("/", h.DeleteProvider)
				r.Post("/test", h.TestProvider)
			})
		})

		// Catalog metadata
		r.Get("/executors", h.ListExecutors)
		r.Get("/models", h.ListModels)
	})

	return r
}

func healthHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if err := s.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"service": "contentmill",
		})
	}
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "contentmill",
		})
	}
}
