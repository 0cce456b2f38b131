package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/contentmill/contentmill/internal/catalog"
	"github.com/contentmill/contentmill/internal/config"
	"github.com/contentmill/contentmill/internal/providers"
	"github.com/contentmill/contentmill/pkg/models"
)

// AIExecutor runs ai steps through the provider router. Mode text sends the
// resolved prompt as a completion, vision attaches user image inputs, and
// image_generation asks the provider for images instead of text.
type AIExecutor struct {
	router  *providers.Router
	catalog *catalog.Catalog
	timeout time.Duration
}

func NewAIExecutor(r *providers.Router, cat *catalog.Catalog, cfg config.ExecutorConfig) *AIExecutor {
	return &AIExecutor{router: r, catalog: cat, timeout: cfg.AITimeout}
}

func (e *AIExecutor) Type() models.StepType  { return models.StepAI }
func (e *AIExecutor) Timeout() time.Duration { return e.timeout }
func (e *AIExecutor) ConfigSchema() []Field  { return fieldsFor(&models.AIStepConfig{}) }

func (e *AIExecutor) Execute(ctx context.Context, step *models.RecipeStep, in Input) (*Outcome, error) {
	cfg := step.AI
	if cfg == nil {
		return nil, fmt.Errorf("ai step %q has no ai config", step.Name)
	}

	provider, err := e.router.ForModel(ctx, cfg.Model)
	if err != nil {
		return nil, err
	}

	mode := cfg.Mode
	if mode == "" {
		mode = models.AIModeText
	}

	if mode == models.AIModeImageGen {
		if cap := e.catalog.Lookup(provider.Kind, cfg.Model); cap != nil && !cap.SupportsImageGen {
			return nil, fmt.Errorf("model %q does not support image generation", cfg.Model)
		}
		resp, err := e.router.GenerateImage(ctx, provider, providers.ImageRequest{
			Model:  cfg.Model,
			Prompt: in.Prompt,
		})
		if err != nil {
			return nil, err
		}
		return &Outcome{
			Format:          models.FormatImage,
			GeneratedImages: resp.Images,
			Usage:           resp.Usage,
			Model:           cfg.Model,
			Provider:        resp.Provider,
		}, nil
	}

	req := providers.ChatRequest{
		Model:       cfg.Model,
		System:      cfg.SystemPrompt,
		Prompt:      in.Prompt,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	if mode == models.AIModeVision {
		if cap := e.catalog.Lookup(provider.Kind, cfg.Model); cap != nil && !cap.SupportsVision {
			return nil, fmt.Errorf("model %q does not support vision", cfg.Model)
		}
		if len(in.Images) == 0 {
			return nil, fmt.Errorf("vision step %q has no image inputs", step.Name)
		}
		req.Images = in.Images
	}

	resp, err := e.router.Chat(ctx, provider, req)
	if err != nil {
		return nil, err
	}

	format := step.OutputFormat
	if format == "" {
		format = models.FormatText
	}
	return &Outcome{
		Content:  resp.Content,
		Format:   format,
		Usage:    resp.Usage,
		Model:    cfg.Model,
		Provider: resp.Provider,
	}, nil
}
