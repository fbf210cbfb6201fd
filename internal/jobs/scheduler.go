package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sitepulse/internal/aggregator"
	"sitepulse/internal/config"
	"sitepulse/internal/database"
	"sitepulse/internal/sessions"
)

// Scheduler is responsible for running background jobs: the inactivity sweep,
// the snapshot refresh and the data-retention cleanup.
type Scheduler struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool
	cfg       *config.Config

	// Job instances
	sweepJob    *SweepJob
	snapshotJob *SnapshotJob
	cleanupJob  *CleanupJob

	// Tickers for each job type
	sweepTicker    *time.Ticker
	snapshotTicker *time.Ticker
	cleanupTicker  *time.Ticker

	// Guards so a slow pass of a job never overlaps with the next tick of
	// the same job. Sweep and snapshot are independent and may run in
	// parallel with each other.
	sweepGuard    jobGuard
	snapshotGuard jobGuard
	cleanupGuard  jobGuard
}

type jobGuard struct {
	mu     sync.Mutex
	active bool
}

func NewScheduler(dbManager *database.DBManager, engine *sessions.Engine, collector *aggregator.Collector, publisher *aggregator.Publisher, logger *slog.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.GetConfig()

	s := &Scheduler{
		dbManager: dbManager,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		enabled:   true,
		isRunning: false,
		cfg:       cfg,
	}

	// Initialize job instances
	s.sweepJob = NewSweepJob(engine, logger)
	s.snapshotJob = NewSnapshotJob(collector, publisher, logger)
	s.cleanupJob = NewCleanupJob(dbManager, logger, cfg)

	return s, nil
}

// executeJobSafely runs a job unless its previous pass is still executing.
func (s *Scheduler) executeJobSafely(guard *jobGuard, jobName string, jobFunc func() error) {
	guard.mu.Lock()
	if guard.active {
		s.logger.Debug("Skipping job execution - previous pass still running", slog.String("job", jobName))
		guard.mu.Unlock()
		return
	}
	guard.active = true
	guard.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		guard.mu.Lock()
		guard.active = false
		guard.mu.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")

	s.isRunning = true

	s.startSweepJob()
	s.startSnapshotJob()
	s.startCleanupJob()

	s.logger.Info("Background jobs started",
		slog.Bool("enabled", s.enabled),
		slog.Bool("isRunning", s.isRunning))

	return nil
}

func (s *Scheduler) startSweepJob() {
	interval := time.Duration(s.cfg.SweepIntervalSeconds) * time.Second
	s.logger.Info("Starting inactivity sweep job", slog.Duration("interval", interval))
	s.sweepTicker = time.NewTicker(interval)

	go func() {
		// Run initial sweep to finalize sessions left over from a restart.
		s.executeJobSafely(&s.sweepGuard, "sweep", s.sweepJob.Run)

		for {
			select {
			case <-s.sweepTicker.C:
				s.executeJobSafely(&s.sweepGuard, "sweep", s.sweepJob.Run)
			case <-s.ctx.Done():
				s.logger.Info("Inactivity sweep job stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) startSnapshotJob() {
	interval := time.Duration(s.cfg.SnapshotIntervalSeconds) * time.Second
	s.logger.Info("Starting snapshot job", slog.Duration("interval", interval))
	s.snapshotTicker = time.NewTicker(interval)

	go func() {
		// Publish an initial snapshot so dashboards have data immediately.
		s.executeJobSafely(&s.snapshotGuard, "snapshot", func() error {
			return s.snapshotJob.RunContext(s.ctx)
		})

		for {
			select {
			case <-s.snapshotTicker.C:
				s.executeJobSafely(&s.snapshotGuard, "snapshot", func() error {
					return s.snapshotJob.RunContext(s.ctx)
				})
			case <-s.ctx.Done():
				s.logger.Info("Snapshot job stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) startCleanupJob() {
	interval := 24 * time.Hour
	s.logger.Info("Starting cleanup job", slog.Duration("interval", interval))
	s.cleanupTicker = time.NewTicker(interval)

	go func() {
		s.executeJobSafely(&s.cleanupGuard, "cleanup", s.cleanupJob.Run)

		for {
			select {
			case <-s.cleanupTicker.C:
				s.executeJobSafely(&s.cleanupGuard, "cleanup", s.cleanupJob.Run)
			case <-s.ctx.Done():
				s.logger.Info("Cleanup job stopped")
				return
			}
		}
	}()
}

// Stop halts all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	if s.sweepTicker != nil {
		s.sweepTicker.Stop()
	}
	if s.snapshotTicker != nil {
		s.snapshotTicker.Stop()
	}
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
	}

	s.cancel()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}

// RunSweep allows manual triggering of the inactivity sweep.
func (s *Scheduler) RunSweep() error {
	if !s.enabled {
		return nil
	}
	return s.sweepJob.Run()
}
