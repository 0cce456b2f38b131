// Package store — PostgreSQL Store implementation backed by pgxpool.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/contentmill/contentmill/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store against PostgreSQL. Step and recipe
// payloads are stored as JSONB; the row columns carry only what queries
// filter or order on.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the given database URL and verifies the
// connection before returning.
func NewPostgresStore(ctx context.Context, databaseURL string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().Int("max_conns", maxConns).Msg("PostgreSQL store connected")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	log.Info().Msg("PostgreSQL store closed")
	return nil
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recipes (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			is_template BOOLEAN NOT NULL DEFAULT FALSE,
			steps       JSONB NOT NULL DEFAULT '[]',
			created_by  TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id             TEXT PRIMARY KEY,
			recipe_id      TEXT NOT NULL,
			user_id        TEXT NOT NULL,
			status         TEXT NOT NULL,
			current_step   INT NOT NULL DEFAULT 0,
			input          JSONB NOT NULL DEFAULT '{}',
			error          TEXT NOT NULL DEFAULT '',
			started_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at   TIMESTAMPTZ,
			duration_ms    BIGINT NOT NULL DEFAULT 0,
			total_tokens   BIGINT NOT NULL DEFAULT 0,
			total_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_user ON executions (user_id, started_at DESC)`,
		`CREATE TABLE IF NOT EXISTS step_executions (
			id            TEXT NOT NULL,
			execution_id  TEXT NOT NULL REFERENCES executions (id) ON DELETE CASCADE,
			step_order    INT NOT NULL,
			step_name     TEXT NOT NULL,
			status        TEXT NOT NULL,
			input         JSONB NOT NULL DEFAULT '{}',
			prompt        TEXT NOT NULL DEFAULT '',
			output        JSONB,
			error_message TEXT NOT NULL DEFAULT '',
			violations    JSONB NOT NULL DEFAULT '[]',
			approved      BOOLEAN NOT NULL DEFAULT FALSE,
			attempts      INT NOT NULL DEFAULT 0,
			started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at  TIMESTAMPTZ,
			PRIMARY KEY (execution_id, step_order)
		)`,
		`CREATE TABLE IF NOT EXISTS standards (
			id         TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			name       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS providers (
			id         TEXT NOT NULL,
			name       TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			endpoint   TEXT NOT NULL DEFAULT '',
			api_key    TEXT NOT NULL DEFAULT '',
			models     JSONB NOT NULL DEFAULT '[]',
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	log.Info().Msg("PostgreSQL schema ready")
	return nil
}

// ── Recipe Store ────────────────────────────────────────────

func (s *PostgresStore) ListRecipes(ctx context.Context) ([]models.Recipe, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, is_template, steps, created_by, created_at, updated_at
		FROM recipes ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list recipes: %w", err)
	}
	defer rows.Close()

	var result []models.Recipe
	for rows.Next() {
		var r models.Recipe
		var steps []byte
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.IsTemplate, &steps, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan recipe: %w", err)
		}
		if err := json.Unmarshal(steps, &r.Steps); err != nil {
			return nil, fmt.Errorf("decode recipe steps: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetRecipe(ctx context.Context, id string) (*models.Recipe, error) {
	var r models.Recipe
	var steps []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, is_template, steps, created_by, created_at, updated_at
		FROM recipes WHERE id = $1`, id).
		Scan(&r.ID, &r.Name, &r.Description, &r.IsTemplate, &steps, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "recipe", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get recipe: %w", err)
	}
	if err := json.Unmarshal(steps, &r.Steps); err != nil {
		return nil, fmt.Errorf("decode recipe steps: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) CreateRecipe(ctx context.Context, recipe *models.Recipe) error {
	steps, err := json.Marshal(recipe.Steps)
	if err != nil {
		return fmt.Errorf("encode recipe steps: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO recipes (id, name, description, is_template, steps, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		recipe.ID, recipe.Name, recipe.Description, recipe.IsTemplate, steps, recipe.CreatedBy, recipe.CreatedAt, recipe.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create recipe: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRecipe(ctx context.Context, recipe *models.Recipe) error {
	steps, err := json.Marshal(recipe.Steps)
	if err != nil {
		return fmt.Errorf("encode recipe steps: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE recipes SET name = $2, description = $3, is_template = $4, steps = $5, updated_at = $6
		WHERE id = $1`,
		recipe.ID, recipe.Name, recipe.Description, recipe.IsTemplate, steps, recipe.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update recipe: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "recipe", Key: recipe.ID}
	}
	return nil
}

func (s *PostgresStore) DeleteRecipe(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recipes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete recipe: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "recipe", Key: id}
	}
	return nil
}

// ── Execution Store ─────────────────────────────────────────

const executionCols = `id, recipe_id, user_id, status, current_step, input, error,
	started_at, completed_at, duration_ms, total_tokens, total_cost_usd`

func scanExecution(row pgx.Row) (*models.Execution, error) {
	var e models.Execution
	var input []byte
	err := row.Scan(&e.ID, &e.RecipeID, &e.UserID, &e.Status, &e.CurrentStep, &input, &e.Error,
		&e.StartedAt, &e.CompletedAt, &e.DurationMs, &e.TotalTokens, &e.TotalCostUSD)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(input, &e.Input); err != nil {
		return nil, fmt.Errorf("decode execution input: %w", err)
	}
	return &e, nil
}

// listExecutionsQuery builds the list query. A non-positive limit means no
// LIMIT clause at all; the janitor lists every execution that way, and capping
// it would hide old terminal rows from retention sweeps.
func listExecutionsQuery(userID string, limit int) (string, []any) {
	q := `SELECT ` + executionCols + ` FROM executions`
	args := []any{}
	if userID != "" {
		q += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	q += ` ORDER BY started_at DESC`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}
	return q, args
}

func (s *PostgresStore) ListExecutions(ctx context.Context, userID string, limit int) ([]models.Execution, error) {
	q, args := listExecutionsQuery(userID, limit)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var result []models.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionCols+` FROM executions WHERE id = $1`, id)
	e, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "execution", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) CreateExecution(ctx context.Context, exec *models.Execution) error {
	input, err := json.Marshal(exec.Input)
	if err != nil {
		return fmt.Errorf("encode execution input: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (id, recipe_id, user_id, status, current_step, input, error,
			started_at, completed_at, duration_ms, total_tokens, total_cost_usd)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		exec.ID, exec.RecipeID, exec.UserID, exec.Status, exec.CurrentStep, input, exec.Error,
		exec.StartedAt, exec.CompletedAt, exec.DurationMs, exec.TotalTokens, exec.TotalCostUSD)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateExecution(ctx context.Context, exec *models.Execution) error {
	input, err := json.Marshal(exec.Input)
	if err != nil {
		return fmt.Errorf("encode execution input: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE executions SET status = $2, current_step = $3, input = $4, error = $5,
			completed_at = $6, duration_ms = $7, total_tokens = $8, total_cost_usd = $9
		WHERE id = $1`,
		exec.ID, exec.Status, exec.CurrentStep, input, exec.Error,
		exec.CompletedAt, exec.DurationMs, exec.TotalTokens, exec.TotalCostUSD)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "execution", Key: exec.ID}
	}
	return nil
}

func (s *PostgresStore) DeleteExecution(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "execution", Key: id}
	}
	return nil
}

// ── Step Execution Store ────────────────────────────────────

func (s *PostgresStore) ListStepExecutions(ctx context.Context, executionID string) ([]models.StepExecution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, execution_id, step_order, step_name, status, input, prompt, output,
			error_message, violations, approved, attempts, started_at, completed_at
		FROM step_executions WHERE execution_id = $1 ORDER BY step_order ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list step executions: %w", err)
	}
	defer rows.Close()

	var result []models.StepExecution
	for rows.Next() {
		var se models.StepExecution
		var input, output, violations []byte
		if err := rows.Scan(&se.ID, &se.ExecutionID, &se.StepOrder, &se.StepName, &se.Status,
			&input, &se.Prompt, &output, &se.ErrorMessage, &violations, &se.Approved, &se.Attempts,
			&se.StartedAt, &se.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan step execution: %w", err)
		}
		if err := decodeStepPayloads(&se, input, output, violations); err != nil {
			return nil, err
		}
		result = append(result, se)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetStepExecution(ctx context.Context, executionID string, stepOrder int) (*models.StepExecution, error) {
	var se models.StepExecution
	var input, output, violations []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, execution_id, step_order, step_name, status, input, prompt, output,
			error_message, violations, approved, attempts, started_at, completed_at
		FROM step_executions WHERE execution_id = $1 AND step_order = $2`, executionID, stepOrder).
		Scan(&se.ID, &se.ExecutionID, &se.StepOrder, &se.StepName, &se.Status,
			&input, &se.Prompt, &output, &se.ErrorMessage, &violations, &se.Approved, &se.Attempts,
			&se.StartedAt, &se.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "step execution", Key: fmt.Sprintf("%s:%d", executionID, stepOrder)}
	}
	if err != nil {
		return nil, fmt.Errorf("get step execution: %w", err)
	}
	if err := decodeStepPayloads(&se, input, output, violations); err != nil {
		return nil, err
	}
	return &se, nil
}

func decodeStepPayloads(se *models.StepExecution, input, output, violations []byte) error {
	if err := json.Unmarshal(input, &se.Input); err != nil {
		return fmt.Errorf("decode step input: %w", err)
	}
	if output != nil {
		if err := json.Unmarshal(output, &se.Output); err != nil {
			return fmt.Errorf("decode step output: %w", err)
		}
	}
	if len(violations) > 0 {
		if err := json.Unmarshal(violations, &se.Violations); err != nil {
			return fmt.Errorf("decode step violations: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertStepExecution(ctx context.Context, se *models.StepExecution) error {
	// Reject writes against terminal executions in the same statement: the
	// status check and the upsert must be atomic or a cancel racing a late
	// executor result could resurrect the run.
	var status models.ExecutionStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM executions WHERE id = $1`, se.ExecutionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return &ErrNotFound{Entity: "execution", Key: se.ExecutionID}
	}
	if err != nil {
		return fmt.Errorf("check execution status: %w", err)
	}
	if status.Terminal() {
		return &ErrTerminal{ExecutionID: se.ExecutionID, Status: status}
	}

	input, err := json.Marshal(se.Input)
	if err != nil {
		return fmt.Errorf("encode step input: %w", err)
	}
	var output []byte
	if se.Output != nil {
		output, err = json.Marshal(se.Output)
		if err != nil {
			return fmt.Errorf("encode step output: %w", err)
		}
	}

	violations, err := json.Marshal(se.Violations)
	if err != nil {
		return fmt.Errorf("encode step violations: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO step_executions (id, execution_id, step_order, step_name, status, input, prompt,
			output, error_message, violations, approved, attempts, started_at, completed_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		WHERE NOT EXISTS (
			SELECT 1 FROM executions
			WHERE id = $2 AND status IN ('completed', 'failed', 'cancelled')
		)
		ON CONFLICT (execution_id, step_order) DO UPDATE SET
			id = EXCLUDED.id,
			step_name = EXCLUDED.step_name,
			status = EXCLUDED.status,
			input = EXCLUDED.input,
			prompt = EXCLUDED.prompt,
			output = EXCLUDED.output,
			error_message = EXCLUDED.error_message,
			violations = EXCLUDED.violations,
			approved = EXCLUDED.approved,
			attempts = EXCLUDED.attempts,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		se.ID, se.ExecutionID, se.StepOrder, se.StepName, se.Status, input, se.Prompt,
		output, se.ErrorMessage, violations, se.Approved, se.Attempts, se.StartedAt, se.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert step execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrTerminal{ExecutionID: se.ExecutionID, Status: status}
	}
	return nil
}

// ── Company Standard Store ──────────────────────────────────

func (s *PostgresStore) ListStandards(ctx context.Context, userID string) ([]models.CompanyStandard, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, kind, name, content, created_at, updated_at
		FROM standards WHERE user_id = $1 ORDER BY name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list standards: %w", err)
	}
	defer rows.Close()

	var result []models.CompanyStandard
	for rows.Next() {
		var std models.CompanyStandard
		if err := rows.Scan(&std.ID, &std.UserID, &std.Kind, &std.Name, &std.Content, &std.CreatedAt, &std.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan standard: %w", err)
		}
		result = append(result, std)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetStandard(ctx context.Context, userID, name string) (*models.CompanyStandard, error) {
	var std models.CompanyStandard
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, kind, name, content, created_at, updated_at
		FROM standards WHERE user_id = $1 AND name = $2`, userID, name).
		Scan(&std.ID, &std.UserID, &std.Kind, &std.Name, &std.Content, &std.CreatedAt, &std.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "standard", Key: name}
	}
	if err != nil {
		return nil, fmt.Errorf("get standard: %w", err)
	}
	return &std, nil
}

func (s *PostgresStore) CreateStandard(ctx context.Context, std *models.CompanyStandard) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO standards (id, user_id, kind, name, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, name) DO UPDATE SET
			kind = EXCLUDED.kind, content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`,
		std.ID, std.UserID, std.Kind, std.Name, std.Content, std.CreatedAt, std.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create standard: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStandard(ctx context.Context, std *models.CompanyStandard) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE standards SET kind = $3, content = $4, updated_at = $5
		WHERE user_id = $1 AND name = $2`,
		std.UserID, std.Name, std.Kind, std.Content, std.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update standard: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "standard", Key: std.Name}
	}
	return nil
}

func (s *PostgresStore) DeleteStandard(ctx context.Context, userID, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM standards WHERE user_id = $1 AND name = $2`, userID, name)
	if err != nil {
		return fmt.Errorf("delete standard: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "standard", Key: name}
	}
	return nil
}

// ── Model Provider Store ────────────────────────────────────

func (s *PostgresStore) ListProviders(ctx context.Context) ([]models.ModelProvider, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, kind, endpoint, api_key, models, is_default, created_at
		FROM providers ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var result []models.ModelProvider
	for rows.Next() {
		var p models.ModelProvider
		var modelsJSON []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &p.Endpoint, &p.APIKey, &modelsJSON, &p.IsDefault, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		if err := json.Unmarshal(modelsJSON, &p.Models); err != nil {
			return nil, fmt.Errorf("decode provider models: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetProvider(ctx context.Context, name string) (*models.ModelProvider, error) {
	var p models.ModelProvider
	var modelsJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, kind, endpoint, api_key, models, is_default, created_at
		FROM providers WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &p.Kind, &p.Endpoint, &p.APIKey, &modelsJSON, &p.IsDefault, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "provider", Key: name}
	}
	if err != nil {
		return nil, fmt.Errorf("get provider: %w", err)
	}
	if err := json.Unmarshal(modelsJSON, &p.Models); err != nil {
		return nil, fmt.Errorf("decode provider models: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateProvider(ctx context.Context, provider *models.ModelProvider) error {
	modelsJSON, err := json.Marshal(provider.Models)
	if err != nil {
		return fmt.Errorf("encode provider models: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO providers (id, name, kind, endpoint, api_key, models, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		provider.ID, provider.Name, provider.Kind, provider.Endpoint, provider.APIKey,
		modelsJSON, provider.IsDefault, provider.CreatedAt)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProvider(ctx context.Context, provider *models.ModelProvider) error {
	modelsJSON, err := json.Marshal(provider.Models)
	if err != nil {
		return fmt.Errorf("encode provider models: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE providers SET kind = $2, endpoint = $3, api_key = $4, models = $5, is_default = $6
		WHERE name = $1`,
		provider.Name, provider.Kind, provider.Endpoint, provider.APIKey, modelsJSON, provider.IsDefault)
	if err != nil {
		return fmt.Errorf("update provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "provider", Key: provider.Name}
	}
	return nil
}

func (s *PostgresStore) DeleteProvider(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM providers WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "provider", Key: name}
	}
	return nil
}
