package retention_test

import (
	"context"
	"testing"
	"time"

	"github.com/contentmill/contentmill/internal/config"
	"github.com/contentmill/contentmill/internal/retention"
	"github.com/contentmill/contentmill/internal/store"
	"github.com/contentmill/contentmill/pkg/models"
)

func seedExecution(t *testing.T, st store.Store, id string, status models.ExecutionStatus, age time.Duration) {
	t.Helper()
	started := time.Now().UTC().Add(-age)
	exec := &models.Execution{
		ID:        id,
		UserID:    "user-1",
		Status:    status,
		StartedAt: started,
	}
	if status.Terminal() {
		done := started.Add(time.Minute)
		exec.CompletedAt = &done
	}
	if err := st.CreateExecution(context.Background(), exec); err != nil {
		t.Fatalf("CreateExecution(%s): %v", id, err)
	}
}

func TestRunCycle_PurgesOnlyExpiredTerminal(t *testing.T) {
	st := store.NewMemoryStore("")
	t.Cleanup(func() { st.Close() })

	seedExecution(t, st, "old-done", models.ExecutionCompleted, 72*time.Hour)
	seedExecution(t, st, "old-failed", models.ExecutionFailed, 72*time.Hour)
	seedExecution(t, st, "old-paused", models.ExecutionPaused, 72*time.Hour)
	seedExecution(t, st, "fresh-done", models.ExecutionCompleted, time.Hour)

	j := retention.NewJanitor(st, config.RetentionConfig{
		TTL:      24 * time.Hour,
		Interval: time.Hour,
	})
	stats := j.RunCycle(context.Background())

	if stats.Purged != 2 {
		t.Errorf("Purged = %d, want 2", stats.Purged)
	}

	ctx := context.Background()
	for _, id := range []string{"old-paused", "fresh-done"} {
		if _, err := st.GetExecution(ctx, id); err != nil {
			t.Errorf("execution %s should survive: %v", id, err)
		}
	}
	for _, id := range []string{"old-done", "old-failed"} {
		if _, err := st.GetExecution(ctx, id); err == nil {
			t.Errorf("execution %s should be purged", id)
		}
	}
}
