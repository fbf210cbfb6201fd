package jobs

import (
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"sitepulse/internal/config"
	"sitepulse/internal/sessions"
)

// CleanupJob removes ended sessions and their page views once they age past
// the retention period.
type CleanupJob struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewCleanupJob(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config) *CleanupJob {
	return &CleanupJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run deletes ended sessions older than the retention period, along with
// their page view records. This keeps storage bounded and serves data
// minimization.
func (j *CleanupJob) Run() error {
	retentionDays := j.cfg.SessionsRetentionDays
	db := j.dbManager.GetConnection()
	cutoffDate := time.Now().UTC().AddDate(0, 0, -retentionDays)

	j.logger.Info("Starting cleanup of expired sessions",
		slog.Int("retention_days", retentionDays),
		slog.Time("cutoff_date", cutoffDate))

	var expiredIDs []string
	err := db.Model(&sessions.VisitorSession{}).
		Where("ended_at IS NOT NULL AND ended_at < ?", cutoffDate).
		Pluck("session_id", &expiredIDs).Error
	if err != nil {
		j.logger.Error("Failed to list expired sessions", slog.Any("error", err))
		return err
	}

	if len(expiredIDs) == 0 {
		j.logger.Debug("No expired sessions to clean up")
		return nil
	}

	// Delete in batches to avoid locking the database for too long
	batchSize := 500
	totalDeleted := 0

	for start := 0; start < len(expiredIDs); start += batchSize {
		end := start + batchSize
		if end > len(expiredIDs) {
			end = len(expiredIDs)
		}
		batch := expiredIDs[start:end]

		if err := db.Where("session_id IN ?", batch).Delete(&sessions.PageViewRecord{}).Error; err != nil {
			j.logger.Error("Failed to delete expired page views",
				slog.Any("error", err),
				slog.Int("deleted_so_far", totalDeleted))
			return err
		}
		result := db.Where("session_id IN ?", batch).Delete(&sessions.VisitorSession{})
		if result.Error != nil {
			j.logger.Error("Failed to delete expired sessions",
				slog.Any("error", result.Error),
				slog.Int("deleted_so_far", totalDeleted))
			return result.Error
		}

		totalDeleted += int(result.RowsAffected)

		// Small delay between batches to prevent database lock contention
		time.Sleep(100 * time.Millisecond)
	}

	j.logger.Info("Cleaned up expired sessions",
		slog.Int("deleted_count", totalDeleted),
		slog.Int("retention_days", retentionDays))

	return nil
}
