package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/contentmill/contentmill/internal/store"
	"github.com/contentmill/contentmill/pkg/models"
)

// newTestStore creates a fresh in-memory store for tests with no persistence.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSteps() []models.RecipeStep {
	return []models.RecipeStep{
		{
			Order: 1,
			Name:  "draft",
			Type:  models.StepAI,
			AI:    &models.AIStepConfig{PromptTemplate: "Write about {{topic}}", Model: "gpt-4o"},
		},
	}
}

// ─── Recipe CRUD ────────────────────────────────────────────

func TestRecipeCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recipe := &models.Recipe{
		ID:    "recipe-1",
		Name:  "listing-writer",
		Steps: sampleSteps(),
	}
	if err := s.CreateRecipe(ctx, recipe); err != nil {
		t.Fatalf("CreateRecipe() error = %v", err)
	}

	got, err := s.GetRecipe(ctx, "recipe-1")
	if err != nil {
		t.Fatalf("GetRecipe() error = %v", err)
	}
	if got.Name != "listing-writer" {
		t.Errorf("GetRecipe().Name = %q, want %q", got.Name, "listing-writer")
	}
	if len(got.Steps) != 1 {
		t.Fatalf("GetRecipe() returned %d steps, want 1", len(got.Steps))
	}

	recipes, err := s.ListRecipes(ctx)
	if err != nil {
		t.Fatalf("ListRecipes() error = %v", err)
	}
	if len(recipes) != 1 {
		t.Errorf("ListRecipes() returned %d, want 1", len(recipes))
	}

	if err := s.DeleteRecipe(ctx, "recipe-1"); err != nil {
		t.Fatalf("DeleteRecipe() error = %v", err)
	}
	recipes, _ = s.ListRecipes(ctx)
	if len(recipes) != 0 {
		t.Errorf("After delete, ListRecipes() returned %d, want 0", len(recipes))
	}
}

func TestGetRecipe_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRecipe(context.Background(), "nope")
	var nf *store.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("GetRecipe() error = %v, want ErrNotFound", err)
	}
	if nf.Entity != "recipe" {
		t.Errorf("ErrNotFound.Entity = %q, want %q", nf.Entity, "recipe")
	}
}

// ─── Execution CRUD ─────────────────────────────────────────

func newExecution(id, userID string) *models.Execution {
	return &models.Execution{
		ID:       id,
		RecipeID: "recipe-1",
		UserID:   userID,
		Status:   models.ExecutionRunning,
		Input:    models.ExecutionInput{Steps: sampleSteps()},

		StartedAt: time.Now().UTC(),
	}
}

func TestExecutionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateExecution(ctx, newExecution("exec-1", "demo-user")); err != nil {
		t.Fatalf("CreateExecution() error = %v", err)
	}

	got, err := s.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if got.Status != models.ExecutionRunning {
		t.Errorf("GetExecution().Status = %q, want %q", got.Status, models.ExecutionRunning)
	}

	got.Status = models.ExecutionPaused
	if err := s.UpdateExecution(ctx, got); err != nil {
		t.Fatalf("UpdateExecution() error = %v", err)
	}
	got, _ = s.GetExecution(ctx, "exec-1")
	if got.Status != models.ExecutionPaused {
		t.Errorf("After update, Status = %q, want %q", got.Status, models.ExecutionPaused)
	}
}

func TestListExecutions_ByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateExecution(ctx, newExecution("e1", "alice"))
	s.CreateExecution(ctx, newExecution("e2", "alice"))
	s.CreateExecution(ctx, newExecution("e3", "bob"))

	execs, err := s.ListExecutions(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(execs) != 2 {
		t.Errorf("ListExecutions(alice) returned %d, want 2", len(execs))
	}

	// Empty user lists everything (janitor path).
	all, _ := s.ListExecutions(ctx, "", 0)
	if len(all) != 3 {
		t.Errorf("ListExecutions(\"\") returned %d, want 3", len(all))
	}
}

func TestDeleteExecution_RemovesSteps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateExecution(ctx, newExecution("exec-1", "demo-user"))
	s.UpsertStepExecution(ctx, &models.StepExecution{
		ID:          "se-1",
		ExecutionID: "exec-1",
		StepOrder:   1,
		StepName:    "draft",
		Status:      models.StepRunning,
	})

	if err := s.DeleteExecution(ctx, "exec-1"); err != nil {
		t.Fatalf("DeleteExecution() error = %v", err)
	}
	steps, _ := s.ListStepExecutions(ctx, "exec-1")
	if len(steps) != 0 {
		t.Errorf("After delete, ListStepExecutions() returned %d, want 0", len(steps))
	}
}

// ─── Step Execution slots ───────────────────────────────────

func TestUpsertStepExecution_ReplacesSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateExecution(ctx, newExecution("exec-1", "demo-user"))

	first := &models.StepExecution{
		ID:          "se-1",
		ExecutionID: "exec-1",
		StepOrder:   1,
		StepName:    "draft",
		Status:      models.StepFailed,
		Attempts:    1,
	}
	if err := s.UpsertStepExecution(ctx, first); err != nil {
		t.Fatalf("UpsertStepExecution() error = %v", err)
	}

	// Retry overwrites the same slot, never appends a second row.
	second := &models.StepExecution{
		ID:          "se-1",
		ExecutionID: "exec-1",
		StepOrder:   1,
		StepName:    "draft",
		Status:      models.StepCompleted,
		Attempts:    2,
	}
	if err := s.UpsertStepExecution(ctx, second); err != nil {
		t.Fatalf("UpsertStepExecution() retry error = %v", err)
	}

	steps, err := s.ListStepExecutions(ctx, "exec-1")
	if err != nil {
		t.Fatalf("ListStepExecutions() error = %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("ListStepExecutions() returned %d rows, want 1", len(steps))
	}
	if steps[0].Status != models.StepCompleted {
		t.Errorf("Slot status = %q, want %q", steps[0].Status, models.StepCompleted)
	}
	if steps[0].Attempts != 2 {
		t.Errorf("Slot attempts = %d, want 2", steps[0].Attempts)
	}
}

func TestUpsertStepExecution_TerminalRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := newExecution("exec-1", "demo-user")
	exec.Status = models.ExecutionCancelled
	s.CreateExecution(ctx, exec)

	err := s.UpsertStepExecution(ctx, &models.StepExecution{
		ID:          "se-late",
		ExecutionID: "exec-1",
		StepOrder:   1,
		StepName:    "draft",
		Status:      models.StepCompleted,
	})
	var term *store.ErrTerminal
	if !errors.As(err, &term) {
		t.Fatalf("UpsertStepExecution() on cancelled execution error = %v, want ErrTerminal", err)
	}
	if term.Status != models.ExecutionCancelled {
		t.Errorf("ErrTerminal.Status = %q, want %q", term.Status, models.ExecutionCancelled)
	}

	// Nothing was written.
	steps, _ := s.ListStepExecutions(ctx, "exec-1")
	if len(steps) != 0 {
		t.Errorf("ListStepExecutions() returned %d rows, want 0", len(steps))
	}
}

func TestGetStepExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateExecution(ctx, newExecution("exec-1", "demo-user"))
	s.UpsertStepExecution(ctx, &models.StepExecution{
		ID:          "se-1",
		ExecutionID: "exec-1",
		StepOrder:   1,
		StepName:    "draft",
		Status:      models.StepAwaitingReview,
	})

	got, err := s.GetStepExecution(ctx, "exec-1", 1)
	if err != nil {
		t.Fatalf("GetStepExecution() error = %v", err)
	}
	if got.Status != models.StepAwaitingReview {
		t.Errorf("GetStepExecution().Status = %q, want %q", got.Status, models.StepAwaitingReview)
	}

	if _, err := s.GetStepExecution(ctx, "exec-1", 2); err == nil {
		t.Error("GetStepExecution() for missing order should return error, got nil")
	}
}

// ─── Standard CRUD ──────────────────────────────────────────

func TestStandardCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	std := &models.CompanyStandard{
		ID:      "std-1",
		UserID:  "demo-user",
		Kind:    models.StandardVoice,
		Name:    "brand_voice",
		Content: "Friendly, direct, no jargon.",
	}
	if err := s.CreateStandard(ctx, std); err != nil {
		t.Fatalf("CreateStandard() error = %v", err)
	}

	got, err := s.GetStandard(ctx, "demo-user", "brand_voice")
	if err != nil {
		t.Fatalf("GetStandard() error = %v", err)
	}
	if got.Content != "Friendly, direct, no jargon." {
		t.Errorf("GetStandard().Content = %q", got.Content)
	}

	// Standards are scoped per user.
	if _, err := s.GetStandard(ctx, "other-user", "brand_voice"); err == nil {
		t.Error("GetStandard() for other user should return error, got nil")
	}

	stds, _ := s.ListStandards(ctx, "demo-user")
	if len(stds) != 1 {
		t.Errorf("ListStandards() returned %d, want 1", len(stds))
	}

	if err := s.DeleteStandard(ctx, "demo-user", "brand_voice"); err != nil {
		t.Fatalf("DeleteStandard() error = %v", err)
	}
}

// ─── Provider CRUD ──────────────────────────────────────────

func TestProviderCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.ModelProvider{
		ID:       "prov-1",
		Name:     "openai-1",
		Kind:     "openai",
		Endpoint: "https://api.openai.com/v1",
		Models:   []string{"gpt-4o"},
	}
	if err := s.CreateProvider(ctx, p); err != nil {
		t.Fatalf("CreateProvider() error = %v", err)
	}

	got, err := s.GetProvider(ctx, "openai-1")
	if err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}
	if got.Kind != "openai" {
		t.Errorf("GetProvider().Kind = %q, want %q", got.Kind, "openai")
	}

	if err := s.DeleteProvider(ctx, "openai-1"); err != nil {
		t.Fatalf("DeleteProvider() error = %v", err)
	}
	providers, _ := s.ListProviders(ctx)
	if len(providers) != 0 {
		t.Errorf("ListProviders() after delete returned %d, want 0", len(providers))
	}
}

// ─── Close / Snapshot ───────────────────────────────────────

func TestCloseFlush(t *testing.T) {
	dir := t.TempDir()
	s := store.NewMemoryStore(dir)

	ctx := context.Background()
	s.CreateExecution(ctx, newExecution("persist-me", "demo-user"))

	// Close should flush to disk
	s.Close()

	// Reopen and verify data survived
	s2 := store.NewMemoryStore(dir)
	defer s2.Close()

	got, err := s2.GetExecution(ctx, "persist-me")
	if err != nil {
		t.Fatalf("After reopen, GetExecution() error = %v", err)
	}
	if got.UserID != "demo-user" {
		t.Errorf("After reopen, user = %q, want %q", got.UserID, "demo-user")
	}
}
