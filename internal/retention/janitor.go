// Package retention purges old terminal executions. The janitor runs as a
// background goroutine on a fixed interval and deletes completed, failed,
// and cancelled executions whose finish time is older than the configured
// TTL. Live executions are never touched.
package retention

import (
	"context"
	"time"

	"github.com/contentmill/contentmill/internal/config"
	"github.com/contentmill/contentmill/internal/store"
	"github.com/rs/zerolog/log"
)

// CycleStats tracks what happened in one retention sweep.
type CycleStats struct {
	Scanned int
	Purged  int
	Errors  int
}

// Janitor periodically deletes expired terminal executions.
type Janitor struct {
	store    store.Store
	ttl      time.Duration
	interval time.Duration
}

// NewJanitor creates a retention janitor from config. Intervals under a
// minute are clamped to an hour.
func NewJanitor(s store.Store, cfg config.RetentionConfig) *Janitor {
	interval := cfg.Interval
	if interval < time.Minute {
		interval = time.Hour
	}
	return &Janitor{store: s, ttl: cfg.TTL, interval: interval}
}

// Start runs the janitor until ctx is cancelled. One sweep runs immediately
// on startup.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("ttl", j.ttl).
		Dur("interval", j.interval).
		Msg("🧹 Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep and returns what it did.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	var stats CycleStats

	execs, err := j.store.ListExecutions(ctx, "", 0)
	if err != nil {
		log.Warn().Err(err).Msg("Retention sweep: failed to list executions")
		stats.Errors++
		return stats
	}
	stats.Scanned = len(execs)

	cutoff := time.Now().UTC().Add(-j.ttl)
	for i := range execs {
		e := &execs[i]
		if !e.Status.Terminal() {
			continue
		}
		finished := e.StartedAt
		if e.CompletedAt != nil {
			finished = *e.CompletedAt
		}
		if !finished.Before(cutoff) {
			continue
		}
		if err := j.store.DeleteExecution(ctx, e.ID); err != nil {
			log.Warn().Err(err).Str("execution", e.ID).Msg("Failed to purge expired execution")
			stats.Errors++
			continue
		}
		stats.Purged++
	}

	if stats.Purged > 0 || stats.Errors > 0 {
		log.Info().
			Int("scanned", stats.Scanned).
			Int("purged", stats.Purged).
			Int("errors", stats.Errors).
			Dur("elapsed", time.Since(start)).
			Msg("Retention sweep complete")
	}
	return stats
}
