package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/contentmill/contentmill/internal/config"
	"github.com/contentmill/contentmill/internal/executor"
	"github.com/contentmill/contentmill/internal/notify"
	"github.com/contentmill/contentmill/internal/store"
	"github.com/contentmill/contentmill/internal/workflow"
	"github.com/contentmill/contentmill/pkg/models"
)

// stubAI stands in for the ai executor so engine tests never touch a
// provider. The fail flag makes attempts fail until cleared.
type stubAI struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (s *stubAI) Type() models.StepType          { return models.StepAI }
func (s *stubAI) Timeout() time.Duration         { return 2 * time.Second }
func (s *stubAI) ConfigSchema() []executor.Field { return nil }

func (s *stubAI) Execute(ctx context.Context, step *models.RecipeStep, in executor.Input) (*executor.Outcome, error) {
	s.calls.Add(1)
	if s.fail.Load() {
		return nil, fmt.Errorf("provider unavailable")
	}
	return &executor.Outcome{
		Content:  "generated: " + in.Prompt,
		Format:   models.FormatText,
		Usage:    models.TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30, EstimatedCost: 0.01},
		Model:    step.AI.Model,
		Provider: "stub",
	}, nil
}

func newTestEngine(t *testing.T) (*workflow.Engine, store.Store, *stubAI) {
	t.Helper()
	st := store.NewMemoryStore("")
	t.Cleanup(func() { st.Close() })

	ai := &stubAI{}
	reg := executor.NewRegistry()
	reg.Register(ai)
	reg.Register(executor.NewTransformExecutor(config.ExecutorConfig{TransformTimeout: time.Second}))

	eng := workflow.NewEngine(st, reg, notify.NewService(config.NotifyConfig{}))
	return eng, st, ai
}

func aiStep(order int, name, prompt string, autoApprove bool) models.RecipeStep {
	return models.RecipeStep{
		Order: order, Name: name, Type: models.StepAI,
		AutoApprove: autoApprove,
		AI:          &models.AIStepConfig{PromptTemplate: prompt, Model: "mock-model"},
	}
}

func waitForStatus(t *testing.T, st store.Store, execID string, want models.ExecutionStatus) *models.Execution {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := st.GetExecution(context.Background(), execID)
		if err == nil && exec.Status == want {
			return exec
		}
		time.Sleep(10 * time.Millisecond)
	}
	exec, _ := st.GetExecution(context.Background(), execID)
	got := models.ExecutionStatus("missing")
	if exec != nil {
		got = exec.Status
	}
	t.Fatalf("execution %s never reached %s (last: %s)", execID, want, got)
	return nil
}

func TestStart_AutoApprovedRunToCompletion(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	exec, err := eng.Start(ctx, workflow.StartRequest{
		UserID: "user-1",
		Steps: []models.RecipeStep{
			aiStep(1, "draft", "Write about {{product_name}}", true),
			{
				Order: 2, Name: "shout", Type: models.StepTransform,
				Transform: &models.TransformStepConfig{Expression: `upper(input)`, InputTemplate: "{{step_1_output}}"},
			},
		},
		Values: map[string]models.InputValue{
			"product_name": {Type: models.InputText, Text: "desk chair"},
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	final := waitForStatus(t, st, exec.ID, models.ExecutionCompleted)
	if final.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d, want 30", final.TotalTokens)
	}
	if final.TotalCostUSD != 0.01 {
		t.Errorf("TotalCostUSD = %v", final.TotalCostUSD)
	}

	slots, err := st.ListStepExecutions(ctx, exec.ID)
	if err != nil {
		t.Fatalf("ListStepExecutions: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2", len(slots))
	}
	if !strings.Contains(slots[0].Prompt, "desk chair") {
		t.Errorf("step 1 prompt = %q", slots[0].Prompt)
	}
	if got := slots[1].Output.Content; got != "GENERATED: WRITE ABOUT DESK CHAIR" {
		t.Errorf("step 2 output = %q", got)
	}
	for _, s := range slots {
		if !s.Approved || s.Status != models.StepCompleted {
			t.Errorf("slot %d: status=%s approved=%v", s.StepOrder, s.Status, s.Approved)
		}
	}
}

func TestStart_ValidationFailsBeforeAnyState(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Start(ctx, workflow.StartRequest{
		UserID: "user-1",
		Steps: []models.RecipeStep{
			{
				Order: 1, Name: "scrape", Type: models.StepScraping,
				Scraping: &models.ScrapingStepConfig{ProductURL: "https://amazon.com/x"},
			},
		},
	})
	var unknown *executor.UnknownTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownTypeError, got %v", err)
	}

	execs, _ := st.ListExecutions(ctx, "user-1", 0)
	if len(execs) != 0 {
		t.Errorf("validation failure persisted %d executions", len(execs))
	}
}

func TestStart_MissingRequiredInput(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	step := aiStep(1, "draft", "{{title}}", true)
	step.InputConfig = []models.InputField{{Name: "title", Type: models.InputText, Required: true}}

	_, err := eng.Start(context.Background(), workflow.StartRequest{
		UserID: "user-1",
		Steps:  []models.RecipeStep{step},
	})
	var verr *workflow.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestReviewFlow_ApproveResumes(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	exec, err := eng.Start(ctx, workflow.StartRequest{
		UserID: "user-1",
		Steps: []models.RecipeStep{
			aiStep(1, "draft", "Draft copy", false),
			aiStep(2, "polish", "Polish {{step_1_output}}", true),
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForStatus(t, st, exec.ID, models.ExecutionPaused)
	slot, err := st.GetStepExecution(ctx, exec.ID, 1)
	if err != nil {
		t.Fatalf("GetStepExecution: %v", err)
	}
	if slot.Status != models.StepAwaitingReview {
		t.Fatalf("slot status = %s", slot.Status)
	}
	if slot.Approved {
		t.Error("slot approved before review")
	}

	if _, err := eng.Approve(ctx, exec.ID, 1, "user-1"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	waitForStatus(t, st, exec.ID, models.ExecutionCompleted)
	slots, _ := st.ListStepExecutions(ctx, exec.ID)
	if len(slots) != 2 {
		t.Fatalf("got %d slots", len(slots))
	}
	if !strings.Contains(slots[1].Prompt, "generated: Draft copy") {
		t.Errorf("step 2 prompt = %q", slots[1].Prompt)
	}
}

func TestApprove_WrongStateConflicts(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	exec, err := eng.Start(ctx, workflow.StartRequest{
		UserID: "user-1",
		Steps:  []models.RecipeStep{aiStep(1, "draft", "x", true)},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, st, exec.ID, models.ExecutionCompleted)

	_, err = eng.Approve(ctx, exec.ID, 1, "user-1")
	var conflict *workflow.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestApprove_WrongUserForbidden(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	exec, err := eng.Start(ctx, workflow.StartRequest{
		UserID: "user-1",
		Steps:  []models.RecipeStep{aiStep(1, "draft", "x", false)},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, st, exec.ID, models.ExecutionPaused)

	_, err = eng.Approve(ctx, exec.ID, 1, "intruder")
	var authErr *workflow.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
}

func TestFailedStep_RetryReplacesSlot(t *testing.T) {
	eng, st, ai := newTestEngine(t)
	ctx := context.Background()
	ai.fail.Store(true)

	exec, err := eng.Start(ctx, workflow.StartRequest{
		UserID: "user-1",
		Steps:  []models.RecipeStep{aiStep(1, "draft", "x", true)},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	failed := waitForStatus(t, st, exec.ID, models.ExecutionFailed)
	if !strings.Contains(failed.Error, "provider unavailable") {
		t.Errorf("execution error = %q", failed.Error)
	}

	ai.fail.Store(false)
	if _, err := eng.Retry(ctx, exec.ID, 1, "user-1", nil); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	waitForStatus(t, st, exec.ID, models.ExecutionCompleted)

	slots, _ := st.ListStepExecutions(ctx, exec.ID)
	if len(slots) != 1 {
		t.Fatalf("retry appended a row: %d slots", len(slots))
	}
	if slots[0].Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", slots[0].Attempts)
	}
	if slots[0].Status != models.StepCompleted {
		t.Errorf("status = %s", slots[0].Status)
	}
}

func TestRetry_StepUnderReview(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	exec, err := eng.Start(ctx, workflow.StartRequest{
		UserID: "user-1",
		Steps:  []models.RecipeStep{aiStep(1, "draft", "original prompt", false)},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, st, exec.ID, models.ExecutionPaused)

	// edit-and-retry straight from awaiting_review, no reject needed
	if _, err := eng.Retry(ctx, exec.ID, 1, "user-1", &workflow.Overrides{Prompt: "edited prompt"}); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	waitForStatus(t, st, exec.ID, models.ExecutionPaused)

	slot, err := st.GetStepExecution(ctx, exec.ID, 1)
	if err != nil {
		t.Fatalf("GetStepExecution: %v", err)
	}
	if slot.Status != models.StepAwaitingReview {
		t.Fatalf("slot status = %s, want awaiting_review", slot.Status)
	}
	if slot.Prompt != "edited prompt" {
		t.Errorf("Prompt = %q, want edited prompt", slot.Prompt)
	}
	if slot.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", slot.Attempts)
	}
}

func TestReject_StaysPausedUntilRetry(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	exec, err := eng.Start(ctx, workflow.StartRequest{
		UserID: "user-1",
		Steps:  []models.RecipeStep{aiStep(1, "draft", "original prompt", false)},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, st, exec.ID, models.ExecutionPaused)

	slot, err := eng.Reject(ctx, exec.ID, 1, "user-1")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if slot.Status != models.StepPending {
		t.Errorf("slot status = %s, want pending", slot.Status)
	}
	if slot.Output != nil {
		t.Error("rejected slot kept its output")
	}

	// still paused, nothing re-ran on its own
	time.Sleep(50 * time.Millisecond)
	cur, _ := st.GetExecution(ctx, exec.ID)
	if cur.Status != models.ExecutionPaused {
		t.Fatalf("execution = %s, want paused", cur.Status)
	}

	if _, err := eng.Retry(ctx, exec.ID, 1, "user-1", &workflow.Overrides{Prompt: "edited prompt"}); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	waitForStatus(t, st, exec.ID, models.ExecutionPaused)

	slot, _ = st.GetStepExecution(ctx, exec.ID, 1)
	if slot.Status != models.StepAwaitingReview {
		t.Fatalf("slot status = %s", slot.Status)
	}
	if slot.Prompt != "edited prompt" {
		t.Errorf("Prompt = %q, want edited prompt", slot.Prompt)
	}
	if slot.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", slot.Attempts)
	}
}

func TestContentChecks_ViolationForcesReview(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	step := aiStep(1, "draft", "Write about {{product_name}}", true)
	step.Checks = []models.ContentCheck{{
		Kind:    models.CheckBannedPhrases,
		Phrases: []string{"desk chair"},
	}}

	exec, err := eng.Start(ctx, workflow.StartRequest{
		UserID: "user-1",
		Steps:  []models.RecipeStep{step},
		Values: map[string]models.InputValue{
			"product_name": {Type: models.InputText, Text: "desk chair"},
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// auto_approve is set, but the banned phrase holds the step anyway
	waitForStatus(t, st, exec.ID, models.ExecutionPaused)
	slot, err := st.GetStepExecution(ctx, exec.ID, 1)
	if err != nil {
		t.Fatalf("GetStepExecution: %v", err)
	}
	if slot.Status != models.StepAwaitingReview {
		t.Fatalf("slot status = %s, want awaiting_review", slot.Status)
	}
	if len(slot.Violations) != 1 || !strings.Contains(slot.Violations[0], "desk chair") {
		t.Errorf("Violations = %v", slot.Violations)
	}

	// a human can still approve the held content
	if _, err := eng.Approve(ctx, exec.ID, 1, "user-1"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	waitForStatus(t, st, exec.ID, models.ExecutionCompleted)
}

// brokenStepStore fails every previous-slot lookup with a non-NotFound error.
type brokenStepStore struct {
	store.Store
}

func (s *brokenStepStore) GetStepExecution(ctx context.Context, executionID string, stepOrder int) (*models.StepExecution, error) {
	return nil, fmt.Errorf("connection reset")
}

func TestRunStep_PreviousSlotLoadFailure(t *testing.T) {
	st := store.NewMemoryStore("")
	t.Cleanup(func() { st.Close() })

	ai := &stubAI{}
	reg := executor.NewRegistry()
	reg.Register(ai)
	runner := workflow.NewRunner(&brokenStepStore{Store: st}, reg)

	exec := &models.Execution{ID: "exec-1", UserID: "user-1", Status: models.ExecutionRunning}
	step := aiStep(1, "draft", "x", true)

	// A store failure surfaces as an error; it never resets the attempt
	// counter or runs the step as a fresh first attempt.
	_, err := runner.RunStep(context.Background(), exec, &step, nil)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected store failure to surface, got %v", err)
	}
	if ai.calls.Load() != 0 {
		t.Errorf("executor ran despite the store failure")
	}
}

func TestCancel_Idempotent(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	exec, err := eng.Start(ctx, workflow.StartRequest{
		UserID: "user-1",
		Steps:  []models.RecipeStep{aiStep(1, "draft", "x", false)},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, st, exec.ID, models.ExecutionPaused)

	if _, err := eng.Cancel(ctx, exec.ID, "user-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	// second cancel is a no-op
	if _, err := eng.Cancel(ctx, exec.ID, "user-1"); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}

	cur, _ := st.GetExecution(ctx, exec.ID)
	if cur.Status != models.ExecutionCancelled {
		t.Errorf("status = %s", cur.Status)
	}

	// cancelled executions reject step writes
	err = st.UpsertStepExecution(ctx, &models.StepExecution{
		ID: "late", ExecutionID: exec.ID, StepOrder: 1, Status: models.StepCompleted,
	})
	var terminal *store.ErrTerminal
	if !errors.As(err, &terminal) {
		t.Errorf("expected ErrTerminal for late write, got %v", err)
	}
}

func TestCancel_CompletedConflicts(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	exec, _ := eng.Start(ctx, workflow.StartRequest{
		UserID: "user-1",
		Steps:  []models.RecipeStep{aiStep(1, "draft", "x", true)},
	})
	waitForStatus(t, st, exec.ID, models.ExecutionCompleted)

	_, err := eng.Cancel(ctx, exec.ID, "user-1")
	var conflict *workflow.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
}

func TestDelete_OwnerAnyState(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	exec, _ := eng.Start(ctx, workflow.StartRequest{
		UserID: "user-1",
		Steps:  []models.RecipeStep{aiStep(1, "draft", "x", false)},
	})
	waitForStatus(t, st, exec.ID, models.ExecutionPaused)

	err := eng.Delete(ctx, exec.ID, "intruder")
	var authErr *workflow.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}

	// the owner deletes a live execution outright, no cancel step required
	if err := eng.Delete(ctx, exec.ID, "user-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, err = st.GetExecution(ctx, exec.ID)
	var notFound *store.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	slots, _ := st.ListStepExecutions(ctx, exec.ID)
	if len(slots) != 0 {
		t.Errorf("step records survived delete: %d", len(slots))
	}
}
