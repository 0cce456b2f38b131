package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contentmill/contentmill/internal/contentcheck"
	"github.com/contentmill/contentmill/internal/executor"
	"github.com/contentmill/contentmill/internal/resolver"
	"github.com/contentmill/contentmill/internal/store"
	"github.com/contentmill/contentmill/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Runner executes a single step attempt: resolve templates, dispatch to the
// step's executor, record the outcome. Each attempt overwrites the step's
// slot; there is never more than one StepExecution per (execution, order).
type Runner struct {
	store    store.Store
	registry *executor.Registry
}

// NewRunner creates a step runner.
func NewRunner(s store.Store, reg *executor.Registry) *Runner {
	return &Runner{store: s, registry: reg}
}

// Overrides carries edit-and-retry modifications. Prompt, when set, replaces
// the resolved prompt wholesale; Input entries replace individual variable
// values before resolution.
type Overrides struct {
	Prompt string
	Input  map[string]string
}

// RunStep executes one attempt of the step and records it. The returned
// slot's status says how the attempt ended: completed, awaiting_review, or
// failed. A non-nil error means the attempt could not be recorded at all
// (store failure or the execution went terminal underneath us).
func (r *Runner) RunStep(ctx context.Context, exec *models.Execution, step *models.RecipeStep, ov *Overrides) (*models.StepExecution, error) {
	attempts := 1
	slotID := uuid.New().String()
	prev, err := r.store.GetStepExecution(ctx, exec.ID, step.Order)
	switch {
	case err == nil:
		attempts = prev.Attempts + 1
		slotID = prev.ID
	case !errors.As(err, new(*store.ErrNotFound)):
		// A real store failure must not reset the attempt counter or mint
		// a fresh slot ID.
		return nil, fmt.Errorf("load previous attempt: %w", err)
	}

	now := time.Now().UTC()
	slot := &models.StepExecution{
		ID:          slotID,
		ExecutionID: exec.ID,
		StepOrder:   step.Order,
		StepName:    step.Name,
		Status:      models.StepRunning,
		Attempts:    attempts,
		StartedAt:   now,
	}

	rc, err := r.buildContext(ctx, exec, step, ov)
	if err != nil {
		return nil, err
	}

	in, resolveErr := resolveStep(step, rc, ov)
	if resolveErr != nil {
		slot.Status = models.StepFailed
		slot.ErrorMessage = resolveErr.Error()
		completed := time.Now().UTC()
		slot.CompletedAt = &completed
		if err := r.store.UpsertStepExecution(ctx, slot); err != nil {
			return nil, err
		}
		return slot, nil
	}
	slot.Input = in.Vars
	slot.Prompt = in.Prompt

	if err := r.store.UpsertStepExecution(ctx, slot); err != nil {
		return nil, err
	}

	exc, err := r.registry.Get(step.Type)
	if err != nil {
		return r.finishFailed(ctx, slot, err)
	}

	execCtx, cancel := context.WithTimeout(ctx, exc.Timeout())
	outcome, execErr := exc.Execute(execCtx, step, *in)
	cancel()

	if execErr != nil {
		log.Warn().
			Str("execution", exec.ID).
			Int("step", step.Order).
			Str("step_name", step.Name).
			Int("attempt", attempts).
			Err(execErr).
			Msg("Step attempt failed")
		return r.finishFailed(ctx, slot, execErr)
	}

	slot.Output = &models.StepOutput{
		Content:         outcome.Content,
		Format:          outcome.Format,
		GeneratedImages: outcome.GeneratedImages,
		Usage:           outcome.Usage,
		Model:           outcome.Model,
		Provider:        outcome.Provider,
	}

	violations := contentcheck.Evaluate(step.Checks, outcome.Content)
	slot.Violations = contentcheck.Messages(violations)
	if len(violations) > 0 {
		log.Warn().
			Str("execution", exec.ID).
			Int("step", step.Order).
			Int("violations", len(violations)).
			Msg("Content checks failed, holding for review")
	}

	if step.RequiresReview() || len(violations) > 0 {
		slot.Status = models.StepAwaitingReview
	} else {
		slot.Status = models.StepCompleted
		slot.Approved = true
		completed := time.Now().UTC()
		slot.CompletedAt = &completed
	}

	if err := r.store.UpsertStepExecution(ctx, slot); err != nil {
		return nil, err
	}

	log.Info().
		Str("execution", exec.ID).
		Int("step", step.Order).
		Str("step_name", step.Name).
		Str("status", string(slot.Status)).
		Msg("Step attempt recorded")
	return slot, nil
}

func (r *Runner) finishFailed(ctx context.Context, slot *models.StepExecution, cause error) (*models.StepExecution, error) {
	slot.Status = models.StepFailed
	slot.ErrorMessage = cause.Error()
	slot.Output = nil
	completed := time.Now().UTC()
	slot.CompletedAt = &completed
	if err := r.store.UpsertStepExecution(ctx, slot); err != nil {
		return nil, err
	}
	return slot, nil
}

// buildContext assembles the resolver context for a step: user inputs,
// required-field markers, prior approved step outputs, and the user's
// company standards keyed by their canonical variable names.
func (r *Runner) buildContext(ctx context.Context, exec *models.Execution, step *models.RecipeStep, ov *Overrides) (resolver.Context, error) {
	rc := resolver.Context{
		Inputs:      make(map[string]models.InputValue, len(exec.Input.Values)),
		Required:    make(map[string]bool),
		StepOutputs: make(map[int]string),
		Standards:   make(map[string]string),
	}
	for name, v := range exec.Input.Values {
		rc.Inputs[name] = v
	}
	if ov != nil {
		for name, text := range ov.Input {
			rc.Inputs[name] = models.InputValue{Type: models.InputText, Text: text}
		}
	}
	for _, f := range step.InputConfig {
		if f.Required {
			rc.Required[f.Name] = true
		}
	}

	slots, err := r.store.ListStepExecutions(ctx, exec.ID)
	if err != nil {
		return rc, err
	}
	for i := range slots {
		s := &slots[i]
		if s.Status == models.StepCompleted && s.Approved && s.Output != nil {
			rc.StepOutputs[s.StepOrder] = s.Output.Content
		}
	}

	standards, err := r.store.ListStandards(ctx, exec.UserID)
	if err != nil && !errors.As(err, new(*store.ErrNotFound)) {
		return rc, err
	}
	for i := range standards {
		if canonical, ok := resolver.MatchStandard(standards[i].Name); ok {
			rc.Standards[canonical] = standards[i].Content
		}
	}
	return rc, nil
}

// resolveStep renders the step's templates against the context and collects
// the flattened variable values the attempt used.
func resolveStep(step *models.RecipeStep, rc resolver.Context, ov *Overrides) (*executor.Input, error) {
	in := &executor.Input{Vars: make(map[string]string)}

	prompt, err := resolver.Resolve(step.Template(), rc)
	if err != nil {
		return nil, err
	}
	in.Prompt = prompt
	if ov != nil && ov.Prompt != "" {
		in.Prompt = ov.Prompt
	}

	if ut := step.URLTemplate(); ut != "" {
		url, err := resolver.Resolve(ut, rc)
		if err != nil {
			return nil, err
		}
		in.URL = url
	}

	for _, name := range resolver.Variables(step.Template() + " " + step.URLTemplate()) {
		if v, ok := rc.Inputs[name]; ok {
			in.Vars[name] = resolver.Flatten(v)
		} else if out, ok := rc.StepOutputs[orderOf(name)]; ok {
			in.Vars[name] = out
		}
	}

	for _, v := range rc.Inputs {
		if v.Type == models.InputImage && !v.Empty() {
			in.Images = append(in.Images, v)
		}
	}
	return in, nil
}

// orderOf extracts N from a step_N_output reference, or 0.
func orderOf(name string) int {
	var n int
	if _, err := fmt.Sscanf(name, "step_%d_output", &n); err != nil {
		return 0
	}
	return n
}
