// Package jobs runs the periodic maintenance work: session sweeps,
// archive retention and breaker monitoring.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"souschef/internal/breaker"
	"souschef/internal/database"
	"souschef/internal/memory"
)

// Scheduler wraps the cron runner and the job registrations
type Scheduler struct {
	cron gocron.Scheduler
}

// NewScheduler creates an empty scheduler; register jobs, then Start
func NewScheduler() (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{cron: cron}, nil
}

// RegisterSessionSweep evicts idle sessions from the memory manager on
// a fixed interval. In-use sessions are skipped by the sweep itself.
func (s *Scheduler) RegisterSessionSweep(mem *memory.Manager, interval time.Duration) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if evicted := mem.Sweep(); evicted > 0 {
				log.Printf("🧹 [SWEEP] Evicted %d idle sessions", evicted)
			}
		}),
		gocron.WithName("session-sweep"),
	)
	if err != nil {
		return fmt.Errorf("failed to register session sweep: %w", err)
	}
	log.Printf("✅ [SCHEDULER] Registered job: session-sweep (every %v)", interval)
	return nil
}

// RegisterRetentionCleanup prunes archived transcripts older than the
// retention window once a day.
func (s *Scheduler) RegisterRetentionCleanup(db *database.DB, retention time.Duration) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			n, err := db.PruneBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Printf("❌ [RETENTION] Prune failed: %v", err)
				return
			}
			if n > 0 {
				log.Printf("🧹 [RETENTION] Pruned %d archived sessions older than %v", n, retention)
			}
		}),
		gocron.WithName("retention-cleanup"),
	)
	if err != nil {
		return fmt.Errorf("failed to register retention cleanup: %w", err)
	}
	log.Printf("✅ [SCHEDULER] Registered job: retention-cleanup (retention %v)", retention)
	return nil
}

// RegisterBreakerMonitor logs any open breakers so outages show up in
// the logs even with no traffic probing them.
func (s *Scheduler) RegisterBreakerMonitor(breakers *breaker.Registry, interval time.Duration) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			for _, snap := range breakers.Snapshots() {
				if snap.State != breaker.StateClosed {
					log.Printf("⚡ [BREAKER] %s is %s (failures=%d)", snap.Name, snap.State, snap.Failures)
				}
			}
		}),
		gocron.WithName("breaker-monitor"),
	)
	if err != nil {
		return fmt.Errorf("failed to register breaker monitor: %w", err)
	}
	log.Printf("✅ [SCHEDULER] Registered job: breaker-monitor (every %v)", interval)
	return nil
}

// Start begins running all registered jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("🚀 [SCHEDULER] Started with %d jobs", len(s.cron.Jobs()))
}

// Shutdown stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Shutdown() error {
	return s.cron.Shutdown()
}
