package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/contentmill/contentmill/internal/config"
	"github.com/contentmill/contentmill/pkg/models"
)

// maxHTTPResponseBytes caps how much of an http step's response is kept as
// step output.
const maxHTTPResponseBytes = 4 << 20

// HTTPExecutor runs http steps: one request to the configured URL with the
// resolved body, the response body becoming the step output.
type HTTPExecutor struct {
	timeout time.Duration
	client  *http.Client
}

func NewHTTPExecutor(cfg config.ExecutorConfig) *HTTPExecutor {
	return &HTTPExecutor{
		timeout: cfg.HTTPTimeout,
		client:  &http.Client{},
	}
}

func (e *HTTPExecutor) Type() models.StepType  { return models.StepHTTP }
func (e *HTTPExecutor) Timeout() time.Duration { return e.timeout }
func (e *HTTPExecutor) ConfigSchema() []Field  { return fieldsFor(&models.HTTPStepConfig{}) }

func (e *HTTPExecutor) Execute(ctx context.Context, step *models.RecipeStep, in Input) (*Outcome, error) {
	cfg := step.HTTP
	if cfg == nil {
		return nil, fmt.Errorf("http step %q has no http config", step.Name)
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = "GET"
	}

	var body io.Reader
	if in.Prompt != "" && method != "GET" {
		body = strings.NewReader(in.Prompt)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, in.URL, body)
	if err != nil {
		return nil, fmt.Errorf("http: create request: %w", err)
	}
	for k, v := range cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxHTTPResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("http: read response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("http: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	format := step.OutputFormat
	if format == "" {
		format = models.FormatText
		if strings.Contains(httpResp.Header.Get("Content-Type"), "application/json") {
			format = models.FormatJSON
		}
	}
	return &Outcome{Content: string(respBody), Format: format}, nil
}
