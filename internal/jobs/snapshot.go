package jobs

import (
	"context"
	"log/slog"

	"sitepulse/internal/aggregator"
)

// SnapshotJob refreshes the aggregated dashboard snapshot on a fixed cadence
// and broadcasts it to subscribed consumers.
type SnapshotJob struct {
	collector *aggregator.Collector
	publisher *aggregator.Publisher
	logger    *slog.Logger
}

func NewSnapshotJob(collector *aggregator.Collector, publisher *aggregator.Publisher, logger *slog.Logger) *SnapshotJob {
	return &SnapshotJob{
		collector: collector,
		publisher: publisher,
		logger:    logger,
	}
}

// RunContext collects and publishes one snapshot.
func (j *SnapshotJob) RunContext(ctx context.Context) error {
	j.collector.Refresh(ctx, j.publisher)

	if snapshot, ok := j.publisher.Latest(); ok {
		j.logger.Debug("Published snapshot",
			slog.Int("active", snapshot.ActiveCount),
			slog.Int("subscribers", j.publisher.SubscriberCount()))
	}
	return nil
}
