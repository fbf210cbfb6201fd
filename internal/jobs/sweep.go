package jobs

import (
	"log/slog"

	"sitepulse/internal/sessions"
)

// SweepJob finalizes sessions whose last heartbeat is older than the long
// timeout. It is the compensating mechanism for unload signals that never
// arrived.
type SweepJob struct {
	engine *sessions.Engine
	logger *slog.Logger
}

func NewSweepJob(engine *sessions.Engine, logger *slog.Logger) *SweepJob {
	return &SweepJob{
		engine: engine,
		logger: logger,
	}
}

// Run executes one sweep pass.
func (j *SweepJob) Run() error {
	finalized, err := j.engine.Sweep()
	if err != nil {
		j.logger.Error("Inactivity sweep failed", slog.Any("error", err))
		return err
	}

	j.logger.Debug("Inactivity sweep completed", slog.Int("finalized", finalized))
	return nil
}
