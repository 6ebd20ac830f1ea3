package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"discord-digest/internal/domain"
)

// EnqueueSweep ставит в очередь по задаче на каждый настроенный канал.
func EnqueueSweep(ctx context.Context, queue domain.SweepQueue, cfg domain.PipelineConfig, cause domain.SweepJobCause, now time.Time) ([]domain.SweepJob, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	jobs := make([]domain.SweepJob, 0, len(cfg.Channels))
	for _, channelID := range cfg.Channels {
		job := domain.SweepJob{
			ID:          uuid.NewString(),
			ChannelID:   channelID,
			RequestedAt: now.UTC(),
			Cause:       cause,
		}
		if err := queue.Enqueue(ctx, job); err != nil {
			return jobs, fmt.Errorf("enqueue %s: %w", channelID, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
