package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/contentmill/contentmill/internal/config"
	"github.com/contentmill/contentmill/pkg/models"
)

// ScriptExecutor runs script steps by shipping the script body and its
// resolved input to the sandboxed script-runner service.
type ScriptExecutor struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

func NewScriptExecutor(cfg config.ExecutorConfig) *ScriptExecutor {
	return &ScriptExecutor{
		endpoint: strings.TrimRight(cfg.ScriptRunnerEndpoint, "/"),
		timeout:  cfg.ScriptTimeout,
		client:   &http.Client{},
	}
}

func (e *ScriptExecutor) Type() models.StepType  { return models.StepScript }
func (e *ScriptExecutor) Timeout() time.Duration { return e.timeout }
func (e *ScriptExecutor) ConfigSchema() []Field  { return fieldsFor(&models.ScriptStepConfig{}) }

type scriptRunRequest struct {
	Source  string `json:"source"`
	Runtime string `json:"runtime,omitempty"`
	Input   string `json:"input,omitempty"`
}

type scriptRunResponse struct {
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code"`
}

func (e *ScriptExecutor) Execute(ctx context.Context, step *models.RecipeStep, in Input) (*Outcome, error) {
	cfg := step.Script
	if cfg == nil {
		return nil, fmt.Errorf("script step %q has no script config", step.Name)
	}
	if e.endpoint == "" {
		return nil, fmt.Errorf("script runner endpoint not configured")
	}

	body, _ := json.Marshal(scriptRunRequest{
		Source:  cfg.Source,
		Runtime: cfg.Runtime,
		Input:   in.Prompt,
	})
	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.endpoint+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("script: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("script: run request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("script: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var run scriptRunResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("script: decode response: %w", err)
	}
	if run.ExitCode != 0 || run.Error != "" {
		return nil, fmt.Errorf("script: exit %d: %s", run.ExitCode, run.Error)
	}

	format := step.OutputFormat
	if format == "" {
		format = models.FormatText
	}
	return &Outcome{Content: run.Output, Format: format}, nil
}
