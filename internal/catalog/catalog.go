// Package catalog provides a process-wide model capability registry: which
// models support vision or image generation, their output limits, and their
// per-1K token costs. The ai executor consults it to validate step modes and
// to price completed calls; the API serves it to the recipe builder UI.
package catalog

import (
	"strings"
	"sync"

	"github.com/contentmill/contentmill/pkg/models"
	"github.com/rs/zerolog/log"
)

// Catalog is a thread-safe model capability registry.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]*models.ModelCapability // key: "provider/model" and bare model name
}

// New creates a catalog preloaded with the built-in model set.
func New() *Catalog {
	c := &Catalog{models: make(map[string]*models.ModelCapability)}
	c.loadBuiltinDefaults()
	return c
}

// Lookup returns capability data for a model. Tries "provider/model" first,
// then the bare model name. Returns nil when the model is unknown.
func (c *Catalog) Lookup(providerKind, modelName string) *models.ModelCapability {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if cap, ok := c.models[providerKind+"/"+modelName]; ok {
		return cap
	}
	if cap, ok := c.models[modelName]; ok {
		return cap
	}
	return nil
}

// ListAll returns all known model capabilities.
func (c *Catalog) ListAll() []*models.ModelCapability {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	var result []*models.ModelCapability
	for _, cap := range c.models {
		key := cap.Provider + "/" + cap.Model
		if !seen[key] {
			seen[key] = true
			result = append(result, cap)
		}
	}
	return result
}

// ListByProvider returns models for a specific provider kind.
func (c *Catalog) ListByProvider(providerKind string) []*models.ModelCapability {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	var result []*models.ModelCapability
	for _, cap := range c.models {
		if cap.Provider == providerKind && !seen[cap.Model] {
			seen[cap.Model] = true
			result = append(result, cap)
		}
	}
	return result
}

// Register adds or updates a capability entry, indexed both by
// provider-qualified key and bare model name.
func (c *Catalog) Register(cap *models.ModelCapability) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.models[cap.Provider+"/"+cap.Model] = cap
	c.models[cap.Model] = cap
}

// Count returns the number of unique models in the catalog.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	for _, cap := range c.models {
		seen[cap.Provider+"/"+cap.Model] = true
	}
	return len(seen)
}

// EstimateCost prices a call from the catalog cost table. Unknown models
// cost zero; accounting degrades gracefully rather than failing the step.
func (c *Catalog) EstimateCost(providerKind, modelName string, inputTokens, outputTokens int64) float64 {
	cap := c.Lookup(providerKind, modelName)
	if cap == nil {
		return 0
	}
	return float64(inputTokens)/1000*cap.InputCostPer1K +
		float64(outputTokens)/1000*cap.OutputCostPer1K
}

// ProviderKindFor guesses the provider kind from a model name for models
// the catalog doesn't know. Used as a routing fallback.
func ProviderKindFor(modelName string) string {
	switch {
	case strings.HasPrefix(modelName, "gpt-"), strings.HasPrefix(modelName, "o1"),
		strings.HasPrefix(modelName, "o3"), strings.HasPrefix(modelName, "dall-e"):
		return "openai"
	case strings.HasPrefix(modelName, "claude-"):
		return "anthropic"
	case strings.HasPrefix(modelName, "gemini-"), strings.HasPrefix(modelName, "imagen-"):
		return "google"
	default:
		return ""
	}
}

// loadBuiltinDefaults registers a set of well-known models so the catalog
// works immediately without any provider configured.
func (c *Catalog) loadBuiltinDefaults() {
	defaults := []*models.ModelCapability{
		// OpenAI
		{Provider: "openai", Model: "gpt-4o",
			SupportsVision: true, MaxOutputTokens: 16384,
			InputCostPer1K: 0.0025, OutputCostPer1K: 0.01},
		{Provider: "openai", Model: "gpt-4o-mini",
			SupportsVision: true, MaxOutputTokens: 16384,
			InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006},
		{Provider: "openai", Model: "gpt-5",
			SupportsVision: true, MaxOutputTokens: 16384,
			InputCostPer1K: 0.005, OutputCostPer1K: 0.015},
		{Provider: "openai", Model: "dall-e-3",
			SupportsImageGen: true,
			OutputCostPer1K:  0},

		// Anthropic
		{Provider: "anthropic", Model: "claude-sonnet-4-20250514",
			SupportsVision: true, MaxOutputTokens: 8192,
			InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
		{Provider: "anthropic", Model: "claude-opus-4-20250514",
			SupportsVision: true, MaxOutputTokens: 32000,
			InputCostPer1K: 0.015, OutputCostPer1K: 0.075},
		{Provider: "anthropic", Model: "claude-3-5-haiku-20241022",
			MaxOutputTokens: 8192,
			InputCostPer1K:  0.001, OutputCostPer1K: 0.005},

		// Google
		{Provider: "google", Model: "gemini-2.0-flash",
			SupportsVision: true, MaxOutputTokens: 8192,
			InputCostPer1K: 0.0001, OutputCostPer1K: 0.0004},
		{Provider: "google", Model: "gemini-1.5-pro",
			SupportsVision: true, MaxOutputTokens: 8192,
			InputCostPer1K: 0.00125, OutputCostPer1K: 0.005},
		{Provider: "google", Model: "imagen-3.0",
			SupportsImageGen: true},

		// Mock — used by tests and local dev without API keys
		{Provider: "mock", Model: "mock-model",
			SupportsVision: true, SupportsImageGen: true, MaxOutputTokens: 4096},
	}

	c.mu.Lock()
	for _, d := range defaults {
		c.models[d.Provider+"/"+d.Model] = d
		c.models[d.Model] = d
	}
	c.mu.Unlock()

	log.Debug().Int("models", len(defaults)).Msg("Catalog: built-in models registered")
}
