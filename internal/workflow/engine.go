// Package workflow implements the recipe execution engine.
//
// An execution runs its steps strictly in order. Steps producing AI content
// pause the execution for human review unless auto-approve is set; the
// execution resumes when the reviewer approves, and a rejected or failed
// step is re-run only through an explicit retry. Execution flow:
//
//	validate recipe + inputs → snapshot effective steps → run steps in
//	order → ai output pauses at awaiting_review → approve resumes →
//	all steps approved → completed
//
// Status writes are serialized per execution, and the store discards step
// writes that land after the execution went terminal.
package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/contentmill/contentmill/internal/executor"
	"github.com/contentmill/contentmill/internal/notify"
	"github.com/contentmill/contentmill/internal/store"
	"github.com/contentmill/contentmill/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ── Error taxonomy ──────────────────────────────────────────

// ValidationError reports a request that can never succeed: bad step list,
// missing inputs, oversized payloads.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ConflictError reports an operation that does not apply to the execution's
// current state (approving a step that is not awaiting review, deleting a
// live execution).
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// AuthorizationError reports an operation by a user who does not own the
// execution.
type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string { return e.Msg }

// ── Engine ──────────────────────────────────────────────────

// Engine owns every execution state transition.
type Engine struct {
	store    store.Store
	registry *executor.Registry
	runner   *Runner
	notifier *notify.Service

	// In-flight executions: execution ID → cancel func.
	runsMu sync.Mutex
	runs   map[string]context.CancelFunc

	// Per-execution mutation locks.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewEngine creates a workflow engine.
func NewEngine(s store.Store, reg *executor.Registry, notifier *notify.Service) *Engine {
	return &Engine{
		store:    s,
		registry: reg,
		runner:   NewRunner(s, reg),
		notifier: notifier,
		runs:     make(map[string]context.CancelFunc),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(execID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[execID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[execID] = mu
	}
	return mu
}

func (e *Engine) forget(execID string) {
	e.runsMu.Lock()
	delete(e.runs, execID)
	e.runsMu.Unlock()
	e.locksMu.Lock()
	delete(e.locks, execID)
	e.locksMu.Unlock()
}

// ── Start ───────────────────────────────────────────────────

// StartRequest describes a new execution. Either Recipe or Steps must be
// set; Steps overrides the recipe's list when both are present.
type StartRequest struct {
	Recipe *models.Recipe
	Steps  []models.RecipeStep
	UserID string
	Values map[string]models.InputValue
}

// Start validates the request, snapshots the effective step list, and kicks
// off background execution. Nothing is persisted if validation fails.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*models.Execution, error) {
	steps := req.Steps
	recipeID := ""
	if req.Recipe != nil {
		recipeID = req.Recipe.ID
		if len(steps) == 0 {
			steps = req.Recipe.Steps
		}
	}
	if len(steps) == 0 {
		return nil, &ValidationError{Msg: "execution has no steps"}
	}

	snapshot := make([]models.RecipeStep, len(steps))
	copy(snapshot, steps)
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Order < snapshot[j].Order })

	if err := models.ValidateSteps(snapshot); err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	for i := range snapshot {
		if _, err := e.registry.Get(snapshot[i].Type); err != nil {
			return nil, err
		}
	}
	if err := validateInputs(snapshot, req.Values); err != nil {
		return nil, err
	}

	exec := &models.Execution{
		ID:          uuid.New().String(),
		RecipeID:    recipeID,
		UserID:      req.UserID,
		Status:      models.ExecutionRunning,
		CurrentStep: snapshot[0].Order,
		Input: models.ExecutionInput{
			Values: req.Values,
			Steps:  snapshot,
		},
		StartedAt: time.Now().UTC(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	log.Info().
		Str("execution", exec.ID).
		Str("recipe", recipeID).
		Str("user", req.UserID).
		Int("steps", len(snapshot)).
		Msg("🏭 Execution started")

	e.launch(exec.ID, nil, 0)
	return exec, nil
}

// validateInputs checks supplied values against every step's declared input
// fields.
func validateInputs(steps []models.RecipeStep, values map[string]models.InputValue) error {
	for i := range steps {
		for _, f := range steps[i].InputConfig {
			v, ok := values[f.Name]
			if !ok || v.Empty() {
				if f.Required {
					return &ValidationError{Msg: fmt.Sprintf("missing required input %q for step %d", f.Name, steps[i].Order)}
				}
				continue
			}
			if f.Type == models.InputURLList {
				n := 0
				for _, u := range v.URLs {
					if u != "" {
						n++
					}
				}
				if f.MinCount > 0 && n < f.MinCount {
					return &ValidationError{Msg: fmt.Sprintf("input %q needs at least %d urls", f.Name, f.MinCount)}
				}
				if f.MaxCount > 0 && n > f.MaxCount {
					return &ValidationError{Msg: fmt.Sprintf("input %q allows at most %d urls", f.Name, f.MaxCount)}
				}
			}
			if f.MaxSizeBytes > 0 && v.PayloadSize() > f.MaxSizeBytes {
				return &ValidationError{Msg: fmt.Sprintf("input %q exceeds %d bytes", f.Name, f.MaxSizeBytes)}
			}
		}
	}
	return nil
}

// launch registers a cancellable run and advances the execution in the
// background. retryOrder, when non-zero, re-runs that step first with the
// given overrides.
func (e *Engine) launch(execID string, ov *Overrides, retryOrder int) {
	runCtx, cancel := context.WithCancel(context.Background())
	e.runsMu.Lock()
	e.runs[execID] = cancel
	e.runsMu.Unlock()

	go func() {
		defer func() {
			e.runsMu.Lock()
			if c, ok := e.runs[execID]; ok {
				c()
				delete(e.runs, execID)
			}
			e.runsMu.Unlock()
		}()

		if retryOrder > 0 {
			exec, err := e.store.GetExecution(runCtx, execID)
			if err != nil {
				log.Error().Err(err).Str("execution", execID).Msg("Failed to load execution for retry")
				return
			}
			step := exec.StepAt(retryOrder)
			if step == nil {
				log.Error().Str("execution", execID).Int("step", retryOrder).Msg("Retry step not in snapshot")
				return
			}
			if _, err := e.runner.RunStep(runCtx, exec, step, ov); err != nil {
				log.Error().Err(err).Str("execution", execID).Int("step", retryOrder).Msg("Retry attempt not recorded")
				return
			}
		}
		e.advance(runCtx, execID)
	}()
}

// ── Advance loop ────────────────────────────────────────────

// advance walks the effective step list in order, running steps until the
// execution completes, fails, pauses for review, or is cancelled.
func (e *Engine) advance(ctx context.Context, execID string) {
	for {
		if ctx.Err() != nil {
			return
		}

		exec, err := e.store.GetExecution(ctx, execID)
		if err != nil {
			log.Error().Err(err).Str("execution", execID).Msg("Failed to load execution")
			return
		}
		if exec.Status != models.ExecutionRunning {
			return
		}

		slots, err := e.store.ListStepExecutions(ctx, execID)
		if err != nil {
			log.Error().Err(err).Str("execution", execID).Msg("Failed to list step executions")
			return
		}
		byOrder := make(map[int]*models.StepExecution, len(slots))
		for i := range slots {
			byOrder[slots[i].StepOrder] = &slots[i]
		}

		var next *models.RecipeStep
		steps := exec.EffectiveSteps()
		done := true
		for i := range steps {
			step := &steps[i]
			slot := byOrder[step.Order]
			if slot == nil || slot.Status == models.StepPending {
				next = step
				done = false
				break
			}
			switch slot.Status {
			case models.StepCompleted:
				continue
			case models.StepAwaitingReview:
				e.pauseForReview(ctx, exec, slot)
				return
			case models.StepFailed:
				e.failExecution(ctx, exec, slot)
				return
			default:
				// running slot left behind by a crashed attempt: re-run it
				next = step
				done = false
			}
			break
		}

		if done {
			e.completeExecution(ctx, exec, slots)
			return
		}

		if exec.CurrentStep != next.Order {
			exec.CurrentStep = next.Order
			if err := e.store.UpdateExecution(ctx, exec); err != nil {
				log.Error().Err(err).Str("execution", execID).Msg("Failed to update current step")
				return
			}
		}

		if _, err := e.runner.RunStep(ctx, exec, next, nil); err != nil {
			log.Error().Err(err).Str("execution", execID).Int("step", next.Order).Msg("Step attempt not recorded")
			return
		}
	}
}

func (e *Engine) pauseForReview(ctx context.Context, exec *models.Execution, slot *models.StepExecution) {
	mu := e.lockFor(exec.ID)
	mu.Lock()
	defer mu.Unlock()

	current, err := e.store.GetExecution(ctx, exec.ID)
	if err != nil || current.Status != models.ExecutionRunning {
		return
	}
	current.Status = models.ExecutionPaused
	current.CurrentStep = slot.StepOrder
	if err := e.store.UpdateExecution(ctx, current); err != nil {
		log.Error().Err(err).Str("execution", exec.ID).Msg("Failed to pause execution")
		return
	}

	log.Info().
		Str("execution", exec.ID).
		Int("step", slot.StepOrder).
		Str("step_name", slot.StepName).
		Msg("⏸️  Execution paused for review")

	e.notifier.Dispatch(notify.Event{
		Type:        notify.EventReviewRequested,
		ExecutionID: exec.ID,
		RecipeID:    exec.RecipeID,
		UserID:      exec.UserID,
		StepOrder:   slot.StepOrder,
		StepName:    slot.StepName,
	})
}

func (e *Engine) failExecution(ctx context.Context, exec *models.Execution, slot *models.StepExecution) {
	mu := e.lockFor(exec.ID)
	mu.Lock()
	defer mu.Unlock()

	current, err := e.store.GetExecution(ctx, exec.ID)
	if err != nil || current.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	current.Status = models.ExecutionFailed
	current.CurrentStep = slot.StepOrder
	current.Error = fmt.Sprintf("step %d (%s) failed: %s", slot.StepOrder, slot.StepName, slot.ErrorMessage)
	current.CompletedAt = &now
	current.DurationMs = now.Sub(current.StartedAt).Milliseconds()
	if err := e.store.UpdateExecution(ctx, current); err != nil {
		log.Error().Err(err).Str("execution", exec.ID).Msg("Failed to record execution failure")
		return
	}

	log.Error().
		Str("execution", exec.ID).
		Int("step", slot.StepOrder).
		Str("error", slot.ErrorMessage).
		Msg("💥 Execution failed")

	e.notifier.Dispatch(notify.Event{
		Type:        notify.EventStepFailed,
		ExecutionID: exec.ID,
		RecipeID:    exec.RecipeID,
		UserID:      exec.UserID,
		StepOrder:   slot.StepOrder,
		StepName:    slot.StepName,
		Error:       slot.ErrorMessage,
	})
	e.notifier.Dispatch(notify.Event{
		Type:        notify.EventExecutionFailed,
		ExecutionID: exec.ID,
		RecipeID:    exec.RecipeID,
		UserID:      exec.UserID,
		Error:       current.Error,
	})
}

func (e *Engine) completeExecution(ctx context.Context, exec *models.Execution, slots []models.StepExecution) {
	mu := e.lockFor(exec.ID)
	mu.Lock()
	defer mu.Unlock()

	current, err := e.store.GetExecution(ctx, exec.ID)
	if err != nil || current.Status.Terminal() {
		return
	}

	var tokens int64
	var cost float64
	for i := range slots {
		if slots[i].Output != nil {
			tokens += slots[i].Output.Usage.TotalTokens
			cost += slots[i].Output.Usage.EstimatedCost
		}
	}

	now := time.Now().UTC()
	current.Status = models.ExecutionCompleted
	current.CompletedAt = &now
	current.DurationMs = now.Sub(current.StartedAt).Milliseconds()
	current.TotalTokens = tokens
	current.TotalCostUSD = cost
	if err := e.store.UpdateExecution(ctx, current); err != nil {
		log.Error().Err(err).Str("execution", exec.ID).Msg("Failed to record execution completion")
		return
	}

	log.Info().
		Str("execution", exec.ID).
		Int64("duration_ms", current.DurationMs).
		Int64("total_tokens", tokens).
		Float64("total_cost_usd", cost).
		Msg("🎉 Execution completed")

	e.notifier.Dispatch(notify.Event{
		Type:        notify.EventExecutionCompleted,
		ExecutionID: exec.ID,
		RecipeID:    exec.RecipeID,
		UserID:      exec.UserID,
	})
}

// ── Review operations ───────────────────────────────────────

// Approve marks an awaiting-review step approved and resumes the execution.
func (e *Engine) Approve(ctx context.Context, execID string, stepOrder int, userID string) (*models.StepExecution, error) {
	mu := e.lockFor(execID)
	mu.Lock()
	defer mu.Unlock()

	exec, slot, err := e.loadForReview(ctx, execID, stepOrder, userID)
	if err != nil {
		return nil, err
	}
	if slot.Status != models.StepAwaitingReview {
		return nil, &ConflictError{Msg: fmt.Sprintf("step %d is %s, not awaiting review", stepOrder, slot.Status)}
	}

	now := time.Now().UTC()
	slot.Status = models.StepCompleted
	slot.Approved = true
	slot.CompletedAt = &now
	if err := e.store.UpsertStepExecution(ctx, slot); err != nil {
		return nil, err
	}

	exec.Status = models.ExecutionRunning
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	log.Info().
		Str("execution", execID).
		Int("step", stepOrder).
		Msg("✅ Step approved")

	e.launch(execID, nil, 0)
	return slot, nil
}

// Reject resets an awaiting-review step to pending. The execution stays
// paused; a retry re-runs the step.
func (e *Engine) Reject(ctx context.Context, execID string, stepOrder int, userID string) (*models.StepExecution, error) {
	mu := e.lockFor(execID)
	mu.Lock()
	defer mu.Unlock()

	_, slot, err := e.loadForReview(ctx, execID, stepOrder, userID)
	if err != nil {
		return nil, err
	}
	if slot.Status != models.StepAwaitingReview {
		return nil, &ConflictError{Msg: fmt.Sprintf("step %d is %s, not awaiting review", stepOrder, slot.Status)}
	}

	slot.Status = models.StepPending
	slot.Approved = false
	slot.Output = nil
	slot.CompletedAt = nil
	if err := e.store.UpsertStepExecution(ctx, slot); err != nil {
		return nil, err
	}

	log.Info().
		Str("execution", execID).
		Int("step", stepOrder).
		Msg("Step rejected")
	return slot, nil
}

// Retry re-runs a failed, rejected, or awaiting-review step, optionally with
// an edited prompt or edited input values, and resumes the execution. Retrying
// a step under review discards the held attempt and runs a fresh one.
func (e *Engine) Retry(ctx context.Context, execID string, stepOrder int, userID string, ov *Overrides) (*models.Execution, error) {
	mu := e.lockFor(execID)
	mu.Lock()
	defer mu.Unlock()

	exec, err := e.authorized(ctx, execID, userID)
	if err != nil {
		return nil, err
	}
	switch exec.Status {
	case models.ExecutionFailed, models.ExecutionPaused:
	default:
		return nil, &ConflictError{Msg: fmt.Sprintf("execution is %s; only failed or paused executions can retry", exec.Status)}
	}
	if exec.StepAt(stepOrder) == nil {
		return nil, &store.ErrNotFound{Entity: "step", Key: fmt.Sprintf("%s/%d", execID, stepOrder)}
	}

	slot, err := e.store.GetStepExecution(ctx, execID, stepOrder)
	if err == nil {
		switch slot.Status {
		case models.StepFailed, models.StepPending, models.StepAwaitingReview:
		default:
			return nil, &ConflictError{Msg: fmt.Sprintf("step %d is %s; completed steps cannot retry", stepOrder, slot.Status)}
		}
	}

	exec.Status = models.ExecutionRunning
	exec.Error = ""
	exec.CompletedAt = nil
	exec.DurationMs = 0
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	log.Info().
		Str("execution", execID).
		Int("step", stepOrder).
		Bool("edited", ov != nil && (ov.Prompt != "" || len(ov.Input) > 0)).
		Msg("🔁 Step retry")

	e.launch(execID, ov, stepOrder)
	return exec, nil
}

// Cancel stops an execution. Cancelling an already cancelled execution is a
// no-op; cancelling a completed or failed one is a conflict.
func (e *Engine) Cancel(ctx context.Context, execID, userID string) (*models.Execution, error) {
	mu := e.lockFor(execID)
	mu.Lock()
	defer mu.Unlock()

	exec, err := e.authorized(ctx, execID, userID)
	if err != nil {
		return nil, err
	}
	if exec.Status == models.ExecutionCancelled {
		return exec, nil
	}
	if exec.Status.Terminal() {
		return nil, &ConflictError{Msg: fmt.Sprintf("execution is already %s", exec.Status)}
	}

	e.runsMu.Lock()
	if cancel, ok := e.runs[execID]; ok {
		cancel()
		delete(e.runs, execID)
	}
	e.runsMu.Unlock()

	now := time.Now().UTC()
	exec.Status = models.ExecutionCancelled
	exec.CompletedAt = &now
	exec.DurationMs = now.Sub(exec.StartedAt).Milliseconds()
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	log.Info().Str("execution", execID).Msg("🛑 Execution cancelled")
	return exec, nil
}

// Delete removes an execution and its step records. Only the owning user may
// delete, in any state; a live run is cancelled first so late results have
// nowhere to land.
func (e *Engine) Delete(ctx context.Context, execID, userID string) error {
	mu := e.lockFor(execID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := e.authorized(ctx, execID, userID); err != nil {
		return err
	}

	e.runsMu.Lock()
	if cancel, ok := e.runs[execID]; ok {
		cancel()
		delete(e.runs, execID)
	}
	e.runsMu.Unlock()

	if err := e.store.DeleteExecution(ctx, execID); err != nil {
		return err
	}
	e.forget(execID)
	log.Info().Str("execution", execID).Msg("Execution deleted")
	return nil
}

// ── helpers ─────────────────────────────────────────────────

func (e *Engine) authorized(ctx context.Context, execID, userID string) (*models.Execution, error) {
	exec, err := e.store.GetExecution(ctx, execID)
	if err != nil {
		return nil, err
	}
	if userID != "" && exec.UserID != "" && exec.UserID != userID {
		return nil, &AuthorizationError{Msg: "execution belongs to another user"}
	}
	return exec, nil
}

func (e *Engine) loadForReview(ctx context.Context, execID string, stepOrder int, userID string) (*models.Execution, *models.StepExecution, error) {
	exec, err := e.authorized(ctx, execID, userID)
	if err != nil {
		return nil, nil, err
	}
	if exec.Status.Terminal() {
		return nil, nil, &ConflictError{Msg: fmt.Sprintf("execution is already %s", exec.Status)}
	}
	slot, err := e.store.GetStepExecution(ctx, execID, stepOrder)
	if err != nil {
		return nil, nil, err
	}
	return exec, slot, nil
}
