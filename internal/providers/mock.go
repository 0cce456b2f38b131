package providers

import (
	"fmt"

	"github.com/contentmill/contentmill/pkg/models"
	"github.com/google/uuid"
)

// The mock provider answers locally without network access. Used by tests
// and for demoing recipes before any real API key is configured.

func (r *Router) callMock(provider *models.ModelProvider, req ChatRequest) (*ChatResponse, error) {
	content := fmt.Sprintf("[mock:%s] %s", req.Model, req.Prompt)
	inTokens := int64(len(req.Prompt) / 4)
	outTokens := int64(len(content) / 4)
	return &ChatResponse{
		ID:       uuid.New().String(),
		Content:  content,
		Provider: provider.Name,
		Usage: models.TokenUsage{
			InputTokens:  inTokens,
			OutputTokens: outTokens,
			TotalTokens:  inTokens + outTokens,
		},
	}, nil
}

func (r *Router) generateMockImage(provider *models.ModelProvider, req ImageRequest) (*ImageResponse, error) {
	count := req.Count
	if count <= 0 {
		count = 1
	}
	// 1x1 transparent PNG
	const pixel = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="
	images := make([]string, count)
	for i := range images {
		images[i] = pixel
	}
	return &ImageResponse{
		ID:       uuid.New().String(),
		Images:   images,
		Provider: provider.Name,
	}, nil
}
