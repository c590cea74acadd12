// Package jobs runs the engine's background maintenance: lifecycle
// cycles, ghost sweeps, entity-graph cleanup and the deferred reindex
// backlog.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"zikaron/internal/database"
	"zikaron/internal/services"

	"go.mongodb.org/mongo-driver/bson"
)

// Default schedules. The promotion cycle is the pacemaker of the
// lifecycle automaton; the others are housekeeping.
const (
	DefaultPromotionCron = "*/15 * * * *" // every 15 minutes
	DefaultGhostSweep    = 10 * time.Minute
	DefaultOrphanCron    = "0 3 * * *" // daily at 03:00 UTC
	DefaultReindexEvery  = 5 * time.Minute

	reindexBatchSize = 50
)

// Schedules overrides the default job timing. Zero values keep the
// defaults.
type Schedules struct {
	PromotionCron string
	GhostSweep    time.Duration
	OrphanCron    string
	ReindexEvery  time.Duration
}

func (s *Schedules) withDefaults() Schedules {
	out := Schedules{
		PromotionCron: DefaultPromotionCron,
		GhostSweep:    DefaultGhostSweep,
		OrphanCron:    DefaultOrphanCron,
		ReindexEvery:  DefaultReindexEvery,
	}
	if s == nil {
		return out
	}
	if s.PromotionCron != "" {
		out.PromotionCron = s.PromotionCron
	}
	if s.GhostSweep > 0 {
		out.GhostSweep = s.GhostSweep
	}
	if s.OrphanCron != "" {
		out.OrphanCron = s.OrphanCron
	}
	if s.ReindexEvery > 0 {
		out.ReindexEvery = s.ReindexEvery
	}
	return out
}

// MaintenanceScheduler owns the gocron scheduler and the maintenance
// jobs registered on it.
type MaintenanceScheduler struct {
	scheduler gocron.Scheduler
	schedules Schedules
	mongodb   *database.MongoDB
	promotion *services.PromotionService
	ghosts    *services.GhostRegistry
	contentKG *services.ContentKGService
	storage   *services.MemoryStorageService
}

// NewMaintenanceScheduler creates the scheduler and its jobs. Jobs are
// registered immediately but nothing runs until Start.
func NewMaintenanceScheduler(
	mongodb *database.MongoDB,
	promotion *services.PromotionService,
	ghosts *services.GhostRegistry,
	contentKG *services.ContentKGService,
	storage *services.MemoryStorageService,
	schedules *Schedules,
) (*MaintenanceScheduler, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	m := &MaintenanceScheduler{
		scheduler: scheduler,
		schedules: schedules.withDefaults(),
		mongodb:   mongodb,
		promotion: promotion,
		ghosts:    ghosts,
		contentKG: contentKG,
		storage:   storage,
	}

	if err := m.register(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MaintenanceScheduler) register() error {
	if _, err := m.scheduler.NewJob(
		gocron.CronJob(m.schedules.PromotionCron, false),
		gocron.NewTask(m.runPromotionCycles),
		gocron.WithName("promotion-cycle"),
	); err != nil {
		return fmt.Errorf("failed to register promotion job: %w", err)
	}

	if _, err := m.scheduler.NewJob(
		gocron.DurationJob(m.schedules.GhostSweep),
		gocron.NewTask(m.runGhostSweep),
		gocron.WithName("ghost-sweep"),
	); err != nil {
		return fmt.Errorf("failed to register ghost sweep job: %w", err)
	}

	if _, err := m.scheduler.NewJob(
		gocron.CronJob(m.schedules.OrphanCron, false),
		gocron.NewTask(m.runOrphanCleanup),
		gocron.WithName("kg-orphan-cleanup"),
	); err != nil {
		return fmt.Errorf("failed to register orphan cleanup job: %w", err)
	}

	if _, err := m.scheduler.NewJob(
		gocron.DurationJob(m.schedules.ReindexEvery),
		gocron.NewTask(m.runReindex),
		gocron.WithName("deferred-reindex"),
	); err != nil {
		return fmt.Errorf("failed to register reindex job: %w", err)
	}

	return nil
}

// Start begins running the registered jobs.
func (m *MaintenanceScheduler) Start() {
	m.scheduler.Start()
	log.Printf("⏰ [JOBS] Maintenance scheduler started with %d jobs", len(m.scheduler.Jobs()))
}

// Stop shuts the scheduler down, waiting for running jobs.
func (m *MaintenanceScheduler) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		log.Printf("⚠️ [JOBS] Scheduler shutdown error: %v", err)
		return
	}
	log.Println("✅ [JOBS] Maintenance scheduler stopped")
}

func (m *MaintenanceScheduler) runPromotionCycles() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	results, err := m.promotion.RunCycleAll(ctx)
	if err != nil {
		log.Printf("❌ [JOBS] Promotion cycles failed: %v", err)
		return
	}

	if metrics := services.GetMetrics(); metrics != nil {
		for _, cycleStats := range results {
			metrics.RecordCycle(cycleStats)
		}
	}
}

func (m *MaintenanceScheduler) runGhostSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	m.ghosts.SweepExpired(ctx)
}

func (m *MaintenanceScheduler) runOrphanCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	owners, err := m.mongodb.Collection(database.CollectionEntityNodes).
		Distinct(ctx, "userId", bson.M{})
	if err != nil {
		log.Printf("❌ [JOBS] Orphan cleanup owner listing failed: %v", err)
		return
	}

	for _, raw := range owners {
		owner, ok := raw.(string)
		if !ok {
			continue
		}
		if _, _, err := m.contentKG.CleanupOrphans(ctx, owner); err != nil {
			log.Printf("⚠️ [JOBS] Orphan cleanup failed for user %s: %v", owner, err)
		}
	}
}

func (m *MaintenanceScheduler) runReindex() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := m.storage.ReindexPending(ctx, reindexBatchSize); err != nil {
		log.Printf("❌ [JOBS] Deferred reindex failed: %v", err)
	}
}
