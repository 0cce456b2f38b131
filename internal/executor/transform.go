package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/contentmill/contentmill/internal/config"
	"github.com/contentmill/contentmill/pkg/models"
	"github.com/expr-lang/expr"
)

// TransformExecutor runs transform steps: the configured expression is
// evaluated against an environment holding the resolved input text and the
// flattened variable values. String results pass through unchanged; any
// other result is JSON-encoded.
type TransformExecutor struct {
	timeout time.Duration
}

func NewTransformExecutor(cfg config.ExecutorConfig) *TransformExecutor {
	return &TransformExecutor{timeout: cfg.TransformTimeout}
}

func (e *TransformExecutor) Type() models.StepType  { return models.StepTransform }
func (e *TransformExecutor) Timeout() time.Duration { return e.timeout }
func (e *TransformExecutor) ConfigSchema() []Field  { return fieldsFor(&models.TransformStepConfig{}) }

func (e *TransformExecutor) Execute(ctx context.Context, step *models.RecipeStep, in Input) (*Outcome, error) {
	cfg := step.Transform
	if cfg == nil {
		return nil, fmt.Errorf("transform step %q has no transform config", step.Name)
	}

	vars := in.Vars
	if vars == nil {
		vars = map[string]string{}
	}
	env := map[string]any{
		"input": in.Prompt,
		"vars":  vars,
	}

	program, err := expr.Compile(cfg.Expression, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("transform: compile expression: %w", err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("transform: evaluate expression: %w", err)
	}

	format := step.OutputFormat
	content := ""
	switch v := result.(type) {
	case string:
		content = v
		if format == "" {
			format = models.FormatText
		}
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("transform: encode result: %w", err)
		}
		content = string(encoded)
		if format == "" {
			format = models.FormatJSON
		}
	}

	return &Outcome{Content: content, Format: format}, nil
}
