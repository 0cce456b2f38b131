// Package store provides the storage interface and implementations for
// ContentMill. The in-memory store snapshots to disk for development and
// tests; the PostgreSQL store backs production deployments.
package store

import (
	"context"

	"github.com/contentmill/contentmill/pkg/models"
)

// Store is the primary storage interface. All handler and engine code
// depends on this interface, making it easy to swap between in-memory
// (tests) and PostgreSQL (production) implementations.
type Store interface {
	RecipeStore
	ExecutionStore
	StepExecutionStore
	StandardStore
	ModelProviderStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate prepares the backing schema.
	Migrate(ctx context.Context) error
}

// ── Recipe Store ────────────────────────────────────────────

type RecipeStore interface {
	ListRecipes(ctx context.Context) ([]models.Recipe, error)
	GetRecipe(ctx context.Context, id string) (*models.Recipe, error)
	CreateRecipe(ctx context.Context, recipe *models.Recipe) error
	UpdateRecipe(ctx context.Context, recipe *models.Recipe) error
	DeleteRecipe(ctx context.Context, id string) error
}

// ── Execution Store ─────────────────────────────────────────

type ExecutionStore interface {
	// ListExecutions returns executions for a user, newest first.
	// An empty userID lists across all users (used by the janitor).
	ListExecutions(ctx context.Context, userID string, limit int) ([]models.Execution, error)
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	CreateExecution(ctx context.Context, exec *models.Execution) error
	UpdateExecution(ctx context.Context, exec *models.Execution) error

	// DeleteExecution removes an execution and its step executions.
	DeleteExecution(ctx context.Context, id string) error
}

// ── Step Execution Store ────────────────────────────────────

type StepExecutionStore interface {
	// ListStepExecutions returns the step rows for an execution ordered
	// by step_order ascending. At most one row exists per step order.
	ListStepExecutions(ctx context.Context, executionID string) ([]models.StepExecution, error)
	GetStepExecution(ctx context.Context, executionID string, stepOrder int) (*models.StepExecution, error)

	// UpsertStepExecution writes the slot for (execution_id, step_order),
	// replacing any existing row in place. Returns ErrTerminal when the
	// owning execution has already reached a terminal status.
	UpsertStepExecution(ctx context.Context, se *models.StepExecution) error
}

// ── Company Standard Store ──────────────────────────────────

type StandardStore interface {
	ListStandards(ctx context.Context, userID string) ([]models.CompanyStandard, error)
	GetStandard(ctx context.Context, userID, name string) (*models.CompanyStandard, error)
	CreateStandard(ctx context.Context, std *models.CompanyStandard) error
	UpdateStandard(ctx context.Context, std *models.CompanyStandard) error
	DeleteStandard(ctx context.Context, userID, name string) error
}

// ── Model Provider Store ────────────────────────────────────

type ModelProviderStore interface {
	ListProviders(ctx context.Context) ([]models.ModelProvider, error)
	GetProvider(ctx context.Context, name string) (*models.ModelProvider, error)
	CreateProvider(ctx context.Context, provider *models.ModelProvider) error
	UpdateProvider(ctx context.Context, provider *models.ModelProvider) error
	DeleteProvider(ctx context.Context, name string) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrTerminal is returned when a write targets an execution that already
// reached a terminal status. Late results from cancelled or failed runs
// hit this instead of mutating history.
type ErrTerminal struct {
	ExecutionID string
	Status      models.ExecutionStatus
}

func (e *ErrTerminal) Error() string {
	return "execution " + e.ExecutionID + " is terminal (" + string(e.Status) + ")"
}
