package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RunWatchdog periodically purges completed jobs older than grace.
// Failed jobs are never purged; operators inspect and retry them.
// It returns when ctx is cancelled.
func RunWatchdog(ctx context.Context, q *JobQueue, interval, grace time.Duration, log zerolog.Logger) {
	if q.Inline() {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	log = log.With().Str("component", "watchdog").Logger()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Dur("grace", grace).Msg("watchdog started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := q.Clean(ctx, grace)
			if err != nil {
				log.Error().Err(err).Msg("failed to clean completed jobs")
				continue
			}
			if purged > 0 {
				log.Info().Int("purged", purged).Msg("cleaned completed jobs")
			}
		}
	}
}
