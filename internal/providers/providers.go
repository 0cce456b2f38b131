// Package providers implements the LLM provider abstraction the ai executor
// dispatches through. Each configured ModelProvider row maps to one of the
// supported kinds (openai, anthropic, google, mock); the Router picks the
// provider for a requested model and speaks that provider's wire protocol.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/contentmill/contentmill/internal/catalog"
	"github.com/contentmill/contentmill/internal/store"
	"github.com/contentmill/contentmill/pkg/models"
	"github.com/rs/zerolog/log"
)

// ChatRequest is a normalized completion request. Images carry vision
// attachments (base64 payloads from user inputs).
type ChatRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature *float64
	MaxTokens   int
	Images      []models.InputValue
}

// ChatResponse is a normalized completion response.
type ChatResponse struct {
	ID       string
	Content  string
	Provider string
	Usage    models.TokenUsage
}

// ImageRequest asks a provider to generate images from a prompt.
type ImageRequest struct {
	Model  string
	Prompt string
	Count  int
}

// ImageResponse carries generated images as base64 payloads.
type ImageResponse struct {
	ID       string
	Images   []string
	Provider string
	Usage    models.TokenUsage
}

// Router resolves which configured provider serves a model and dispatches
// requests to the matching driver.
type Router struct {
	store   store.Store
	catalog *catalog.Catalog
	client  *http.Client
}

// NewRouter creates a provider router backed by the given store and catalog.
func NewRouter(s store.Store, cat *catalog.Catalog) *Router {
	return &Router{
		store:   s,
		catalog: cat,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// ForModel picks the provider that serves the given model: first a provider
// explicitly listing it, then the default provider, then a provider whose
// kind matches the model's catalog entry or name prefix.
func (r *Router) ForModel(ctx context.Context, model string) (*models.ModelProvider, error) {
	providers, err := r.store.ListProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	for i := range providers {
		for _, m := range providers[i].Models {
			if m == model {
				return &providers[i], nil
			}
		}
	}
	for i := range providers {
		if providers[i].IsDefault {
			return &providers[i], nil
		}
	}

	kind := ""
	if cap := r.catalog.Lookup("", model); cap != nil {
		kind = cap.Provider
	}
	if kind == "" {
		kind = catalog.ProviderKindFor(model)
	}
	for i := range providers {
		if providers[i].Kind == kind {
			return &providers[i], nil
		}
	}

	return nil, fmt.Errorf("no provider configured for model %q", model)
}

// Chat sends a completion request through the provider's driver. Usage cost
// is priced from the catalog.
func (r *Router) Chat(ctx context.Context, provider *models.ModelProvider, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	var resp *ChatResponse
	var err error
	switch provider.Kind {
	case "openai":
		resp, err = r.callOpenAI(ctx, provider, req)
	case "anthropic":
		resp, err = r.callAnthropic(ctx, provider, req)
	case "google":
		resp, err = r.callGoogle(ctx, provider, req)
	case "mock":
		resp, err = r.callMock(provider, req)
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", provider.Kind)
	}
	if err != nil {
		return nil, err
	}

	resp.Usage.EstimatedCost = r.catalog.EstimateCost(provider.Kind, req.Model,
		resp.Usage.InputTokens, resp.Usage.OutputTokens)

	log.Debug().
		Str("provider", provider.Name).
		Str("model", req.Model).
		Int64("tokens", resp.Usage.TotalTokens).
		Dur("latency", time.Since(start)).
		Msg("Provider call completed")
	return resp, nil
}

// GenerateImage sends an image-generation request through the provider's
// driver.
func (r *Router) GenerateImage(ctx context.Context, provider *models.ModelProvider, req ImageRequest) (*ImageResponse, error) {
	switch provider.Kind {
	case "openai":
		return r.generateOpenAIImage(ctx, provider, req)
	case "mock":
		return r.generateMockImage(provider, req)
	default:
		return nil, fmt.Errorf("provider kind %q does not support image generation", provider.Kind)
	}
}

// Test sends a minimal completion to verify connectivity and credentials.
func (r *Router) Test(ctx context.Context, provider *models.ModelProvider) *models.ProviderTestResult {
	result := &models.ProviderTestResult{
		Provider: provider.Name,
		Kind:     provider.Kind,
	}

	model := ""
	if len(provider.Models) > 0 {
		model = provider.Models[0]
	}
	if model == "" {
		result.Error = "provider has no models configured"
		return result
	}
	result.Model = model

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	_, err := r.Chat(ctx, provider, ChatRequest{
		Model:     model,
		Prompt:    "Reply with the single word: ok",
		MaxTokens: 8,
	})
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Healthy = true
	return result
}
