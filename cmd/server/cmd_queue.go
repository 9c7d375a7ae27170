package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"shop-assist/internal/adapters/repository"
	"shop-assist/internal/core/services"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and operate the webhook job queue",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print job counts by state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withQueue(cmd.Context(), func(ctx context.Context, q *services.JobQueue) error {
			stats, err := q.Stats(ctx)
			if err != nil {
				return err
			}
			return printJSON(stats)
		})
	},
}

var queueFailedLimit int

var queueFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List terminally failed jobs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withQueue(cmd.Context(), func(ctx context.Context, q *services.JobQueue) error {
			jobs, err := q.Failed(ctx, queueFailedLimit)
			if err != nil {
				return err
			}
			return printJSON(jobs)
		})
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry [job-id]",
	Short: "Move a failed job back to waiting with a fresh attempt budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueue(cmd.Context(), func(ctx context.Context, q *services.JobQueue) error {
			job, err := q.Retry(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("job %s requeued (%s %s)\n", job.ID, job.Type, job.Event)
			return nil
		})
	},
}

var queueCleanGrace time.Duration

var queueCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove completed jobs older than the grace period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withQueue(cmd.Context(), func(ctx context.Context, q *services.JobQueue) error {
			n, err := q.Clean(ctx, queueCleanGrace)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d completed jobs\n", n)
			return nil
		})
	},
}

func init() {
	queueFailedCmd.Flags().IntVar(&queueFailedLimit, "limit", 50, "Maximum jobs to list")
	queueCleanCmd.Flags().DurationVar(&queueCleanGrace, "grace", 24*time.Hour, "Keep completed jobs younger than this")

	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueFailedCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueCleanCmd)
}

// withQueue runs fn against a queue view over the shared Redis broker.
// No workers are started.
func withQueue(ctx context.Context, fn func(context.Context, *services.JobQueue) error) error {
	rdb, err := connectRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	broker := repository.NewRedisBroker(rdb, "", cfg.Queue.CompletedRetention, log.Logger)
	return fn(ctx, services.NewJobQueue(broker, services.QueueConfig{}, log.Logger))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
