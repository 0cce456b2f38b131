// Package store — in-memory Store implementation.
// Used as a fallback when PostgreSQL is not available (local dev, tests).
// Supports file-based snapshot persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/contentmill/contentmill/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Recipes    map[string]*models.Recipe          `json:"recipes"`
	Executions map[string]*models.Execution       `json:"executions"`
	StepExecs  map[string][]*models.StepExecution `json:"step_executions"` // key: execution_id → slots ordered by step_order
	Standards  map[string]*models.CompanyStandard `json:"standards"`       // key: user_id:name
	Providers  map[string]*models.ModelProvider   `json:"providers"`       // key: name
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu         sync.RWMutex
	recipes    map[string]*models.Recipe          // key: id
	executions map[string]*models.Execution       // key: id
	stepExecs  map[string][]*models.StepExecution // key: execution_id
	standards  map[string]*models.CompanyStandard // key: user_id:name
	providers  map[string]*models.ModelProvider   // key: name

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
}

// NewMemoryStore creates a new in-memory store. If dataDir is non-empty,
// data is persisted to a JSON file in that directory and reloaded on start.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		recipes:    make(map[string]*models.Recipe),
		executions: make(map[string]*models.Execution),
		stepExecs:  make(map[string][]*models.StepExecution),
		standards:  make(map[string]*models.CompanyStandard),
		providers:  make(map[string]*models.ModelProvider),
		saveCh:     make(chan struct{}, 1),
		doneCh:     make(chan struct{}),
	}

	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Recipes:    m.recipes,
		Executions: m.executions,
		StepExecs:  m.stepExecs,
		Standards:  m.standards,
		Providers:  m.providers,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Recipes != nil {
		m.recipes = snap.Recipes
	}
	if snap.Executions != nil {
		m.executions = snap.Executions
	}
	if snap.StepExecs != nil {
		m.stepExecs = snap.StepExecs
	}
	if snap.Standards != nil {
		m.standards = snap.Standards
	}
	if snap.Providers != nil {
		m.providers = snap.Providers
	}

	log.Info().
		Int("recipes", len(m.recipes)).
		Int("executions", len(m.executions)).
		Int("standards", len(m.standards)).
		Int("providers", len(m.providers)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		// Already closed
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		log.Info().Msg("Flushing final snapshot before shutdown...")
		m.saveSnapshot()
	}

	log.Info().Msg("Memory store closed")
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

func key(parts ...string) string {
	k := ""
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// ── Recipe Store ────────────────────────────────────────────

func (m *MemoryStore) ListRecipes(_ context.Context) ([]models.Recipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Recipe, 0, len(m.recipes))
	for _, r := range m.recipes {
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) GetRecipe(_ context.Context, id string) (*models.Recipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recipes[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "recipe", Key: id}
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CreateRecipe(_ context.Context, recipe *models.Recipe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *recipe
	m.recipes[recipe.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateRecipe(_ context.Context, recipe *models.Recipe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recipes[recipe.ID]; !ok {
		return &ErrNotFound{Entity: "recipe", Key: recipe.ID}
	}
	cp := *recipe
	m.recipes[recipe.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteRecipe(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recipes[id]; !ok {
		return &ErrNotFound{Entity: "recipe", Key: id}
	}
	delete(m.recipes, id)
	m.requestSave()
	return nil
}

// ── Execution Store ─────────────────────────────────────────

func (m *MemoryStore) ListExecutions(_ context.Context, userID string, limit int) ([]models.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Execution
	for _, e := range m.executions {
		if userID == "" || e.UserID == userID {
			result = append(result, *e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) GetExecution(_ context.Context, id string) (*models.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "execution", Key: id}
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) CreateExecution(_ context.Context, exec *models.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *exec
	m.executions[exec.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateExecution(_ context.Context, exec *models.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[exec.ID]; !ok {
		return &ErrNotFound{Entity: "execution", Key: exec.ID}
	}
	cp := *exec
	m.executions[exec.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteExecution(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[id]; !ok {
		return &ErrNotFound{Entity: "execution", Key: id}
	}
	delete(m.executions, id)
	delete(m.stepExecs, id)
	m.requestSave()
	return nil
}

// ── Step Execution Store ────────────────────────────────────

func (m *MemoryStore) ListStepExecutions(_ context.Context, executionID string) ([]models.StepExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slots := m.stepExecs[executionID]
	result := make([]models.StepExecution, 0, len(slots))
	for _, se := range slots {
		result = append(result, *se)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StepOrder < result[j].StepOrder
	})
	return result, nil
}

func (m *MemoryStore) GetStepExecution(_ context.Context, executionID string, stepOrder int) (*models.StepExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, se := range m.stepExecs[executionID] {
		if se.StepOrder == stepOrder {
			cp := *se
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "step execution", Key: key(executionID, strconv.Itoa(stepOrder))}
}

func (m *MemoryStore) UpsertStepExecution(_ context.Context, se *models.StepExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[se.ExecutionID]
	if !ok {
		return &ErrNotFound{Entity: "execution", Key: se.ExecutionID}
	}
	if exec.Status.Terminal() {
		return &ErrTerminal{ExecutionID: se.ExecutionID, Status: exec.Status}
	}

	cp := *se
	slots := m.stepExecs[se.ExecutionID]
	for i, existing := range slots {
		if existing.StepOrder == se.StepOrder {
			slots[i] = &cp
			m.requestSave()
			return nil
		}
	}
	m.stepExecs[se.ExecutionID] = append(slots, &cp)
	m.requestSave()
	return nil
}

// ── Company Standard Store ──────────────────────────────────

func (m *MemoryStore) ListStandards(_ context.Context, userID string) ([]models.CompanyStandard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.CompanyStandard
	for _, s := range m.standards {
		if s.UserID == userID {
			result = append(result, *s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (m *MemoryStore) GetStandard(_ context.Context, userID, name string) (*models.CompanyStandard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.standards[key(userID, name)]
	if !ok {
		return nil, &ErrNotFound{Entity: "standard", Key: name}
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) CreateStandard(_ context.Context, std *models.CompanyStandard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *std
	m.standards[key(std.UserID, std.Name)] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateStandard(_ context.Context, std *models.CompanyStandard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(std.UserID, std.Name)
	if _, ok := m.standards[k]; !ok {
		return &ErrNotFound{Entity: "standard", Key: std.Name}
	}
	cp := *std
	m.standards[k] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteStandard(_ context.Context, userID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(userID, name)
	if _, ok := m.standards[k]; !ok {
		return &ErrNotFound{Entity: "standard", Key: name}
	}
	delete(m.standards, k)
	m.requestSave()
	return nil
}

// ── Model Provider Store ────────────────────────────────────

func (m *MemoryStore) ListProviders(_ context.Context) ([]models.ModelProvider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.ModelProvider, 0, len(m.providers))
	for _, p := range m.providers {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (m *MemoryStore) GetProvider(_ context.Context, name string) (*models.ModelProvider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[name]
	if !ok {
		return nil, &ErrNotFound{Entity: "provider", Key: name}
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) CreateProvider(_ context.Context, provider *models.ModelProvider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *provider
	m.providers[provider.Name] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateProvider(_ context.Context, provider *models.ModelProvider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[provider.Name]; !ok {
		return &ErrNotFound{Entity: "provider", Key: provider.Name}
	}
	cp := *provider
	m.providers[provider.Name] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteProvider(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[name]; !ok {
		return &ErrNotFound{Entity: "provider", Key: name}
	}
	delete(m.providers, name)
	m.requestSave()
	return nil
}
