package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/ports"
)

// Ensure RedisBroker implements JobBroker
var _ ports.JobBroker = (*RedisBroker)(nil)

const (
	// priorityBand separates priorities in the waiting set score; sequence
	// numbers below it keep FIFO order within a priority.
	priorityBand = 1e12
	maxPriority  = 100
)

// popScript promotes due delayed jobs, then pops the lowest-score waiting job
// and marks it active, atomically.
// KEYS: waiting, delayed, delayedScore, active. ARGV: now (ms).
var popScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(due) do
  local score = redis.call('HGET', KEYS[3], id)
  if score then
    redis.call('ZADD', KEYS[1], score, id)
    redis.call('HDEL', KEYS[3], id)
  end
  redis.call('ZREM', KEYS[2], id)
end
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
  return false
end
redis.call('ZADD', KEYS[4], ARGV[1], popped[1])
return popped[1]
`)

// RedisBroker is a durable priority job store on Redis.
//
// Layout under prefix:
//
//	jobs          hash   id -> job JSON
//	seq           string arrival counter
//	waiting       zset   (maxPriority-priority)*band + seq
//	delayed       zset   due time (unix ms)
//	delayed:score hash   id -> waiting score applied on promotion
//	active        zset   pop time (unix ms)
//	completed     list   newest first, trimmed to retention
//	failed        list   newest first, never trimmed
type RedisBroker struct {
	client    *redis.Client
	prefix    string
	retention int
	log       zerolog.Logger
	now       func() time.Time
}

// NewRedisBroker creates a broker storing keys under prefix.
func NewRedisBroker(client *redis.Client, prefix string, completedRetention int, log zerolog.Logger) *RedisBroker {
	if prefix == "" {
		prefix = "shop-assist:webhooks"
	}
	if completedRetention <= 0 {
		completedRetention = 100
	}
	return &RedisBroker{
		client:    client,
		prefix:    prefix,
		retention: completedRetention,
		log:       log.With().Str("component", "redis-broker").Logger(),
		now:       time.Now,
	}
}

func (b *RedisBroker) key(name string) string {
	return b.prefix + ":" + name
}

func waitingScore(priority int, seq int64) float64 {
	if priority < 0 {
		priority = 0
	}
	if priority > maxPriority {
		priority = maxPriority
	}
	return float64(maxPriority-priority)*priorityBand + float64(seq)
}

func (b *RedisBroker) nextScore(ctx context.Context, priority int) (float64, error) {
	seq, err := b.client.Incr(ctx, b.key("seq")).Result()
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return waitingScore(priority, seq), nil
}

func (b *RedisBroker) save(ctx context.Context, pipe redis.Pipeliner, job *domain.WebhookJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	pipe.HSet(ctx, b.key("jobs"), job.ID, raw)
	return nil
}

func (b *RedisBroker) load(ctx context.Context, id string) (*domain.WebhookJob, error) {
	raw, err := b.client.HGet(ctx, b.key("jobs"), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	var job domain.WebhookJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// Push stores a new job as waiting.
func (b *RedisBroker) Push(ctx context.Context, job *domain.WebhookJob) error {
	score, err := b.nextScore(ctx, job.Priority)
	if err != nil {
		return err
	}
	job.State = domain.JobWaiting

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := b.save(ctx, pipe, job); err != nil {
			return err
		}
		pipe.ZAdd(ctx, b.key("waiting"), redis.Z{Score: score, Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Pop returns the next ready job, or (nil, nil) if none.
func (b *RedisBroker) Pop(ctx context.Context) (*domain.WebhookJob, error) {
	keys := []string{b.key("waiting"), b.key("delayed"), b.key("delayed:score"), b.key("active")}
	id, err := popScript.Run(ctx, b.client, keys, b.now().UnixMilli()).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop job: %w", err)
	}

	job, err := b.load(ctx, id)
	if err != nil {
		// Orphaned id without a body; drop it from active so it is not recovered forever.
		b.client.ZRem(ctx, b.key("active"), id)
		return nil, err
	}
	job.Attempts++
	job.State = domain.JobActive

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return b.save(ctx, pipe, job)
	})
	if err != nil {
		return nil, fmt.Errorf("mark job active: %w", err)
	}
	return job, nil
}

// Complete records success and trims the completed list to the retention limit.
func (b *RedisBroker) Complete(ctx context.Context, job *domain.WebhookJob) error {
	finished := b.now().UTC()
	job.State = domain.JobCompleted
	job.FinishedAt = &finished

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, b.key("active"), job.ID)
		if err := b.save(ctx, pipe, job); err != nil {
			return err
		}
		pipe.LPush(ctx, b.key("completed"), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return b.trimCompleted(ctx)
}

func (b *RedisBroker) trimCompleted(ctx context.Context) error {
	overflow, err := b.client.LRange(ctx, b.key("completed"), int64(b.retention), -1).Result()
	if err != nil {
		return fmt.Errorf("read completed overflow: %w", err)
	}
	if len(overflow) == 0 {
		return nil
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LTrim(ctx, b.key("completed"), 0, int64(b.retention-1))
		pipe.HDel(ctx, b.key("jobs"), overflow...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("trim completed jobs: %w", err)
	}
	return nil
}

// Retry parks a failed attempt in the delayed set until delay has passed.
func (b *RedisBroker) Retry(ctx context.Context, job *domain.WebhookJob, delay time.Duration) error {
	score, err := b.nextScore(ctx, job.Priority)
	if err != nil {
		return err
	}
	job.State = domain.JobDelayed
	due := b.now().Add(delay).UnixMilli()

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, b.key("active"), job.ID)
		if err := b.save(ctx, pipe, job); err != nil {
			return err
		}
		pipe.HSet(ctx, b.key("delayed:score"), job.ID, strconv.FormatFloat(score, 'f', -1, 64))
		pipe.ZAdd(ctx, b.key("delayed"), redis.Z{Score: float64(due), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

// Fail records a terminal failure. Failed jobs are retained.
func (b *RedisBroker) Fail(ctx context.Context, job *domain.WebhookJob) error {
	finished := b.now().UTC()
	job.State = domain.JobFailed
	job.FinishedAt = &finished

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, b.key("active"), job.ID)
		if err := b.save(ctx, pipe, job); err != nil {
			return err
		}
		pipe.LPush(ctx, b.key("failed"), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// Stats returns counts per state.
func (b *RedisBroker) Stats(ctx context.Context) (domain.QueueStats, error) {
	var (
		waiting, active, delayed *redis.IntCmd
		completed, failed        *redis.IntCmd
	)
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.ZCard(ctx, b.key("waiting"))
		active = pipe.ZCard(ctx, b.key("active"))
		delayed = pipe.ZCard(ctx, b.key("delayed"))
		completed = pipe.LLen(ctx, b.key("completed"))
		failed = pipe.LLen(ctx, b.key("failed"))
		return nil
	})
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	return domain.QueueStats{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
	}, nil
}

// Failed lists terminally failed jobs, newest first.
func (b *RedisBroker) Failed(ctx context.Context, limit int) ([]*domain.WebhookJob, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := b.client.LRange(ctx, b.key("failed"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	jobs := make([]*domain.WebhookJob, 0, len(ids))
	for _, id := range ids {
		job, err := b.load(ctx, id)
		if err != nil {
			b.log.Warn().Err(err).Str("job_id", id).Msg("skipping unreadable failed job")
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Requeue moves a failed job back to waiting with a fresh attempt budget.
// The job leaves the failed list only in the same transaction that makes it
// waiting again.
func (b *RedisBroker) Requeue(ctx context.Context, jobID string) (*domain.WebhookJob, error) {
	var job *domain.WebhookJob
	err := b.client.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.LPos(ctx, b.key("failed"), jobID, redis.LPosArgs{}).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed job %s: %w", jobID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("find failed job: %w", err)
		}

		loaded, err := b.load(ctx, jobID)
		if err != nil {
			return err
		}
		score, err := b.nextScore(ctx, loaded.Priority)
		if err != nil {
			return err
		}
		loaded.Attempts = 0
		loaded.FinishedAt = nil
		loaded.State = domain.JobWaiting

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, b.key("failed"), 0, jobID)
			if err := b.save(ctx, pipe, loaded); err != nil {
				return err
			}
			pipe.ZAdd(ctx, b.key("waiting"), redis.Z{Score: score, Member: jobID})
			return nil
		})
		if err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}
		job = loaded
		return nil
	}, b.key("failed"))
	if errors.Is(err, redis.TxFailedErr) {
		return nil, fmt.Errorf("requeue job %s: failed list changed concurrently: %w", jobID, err)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Clean removes completed jobs that finished more than grace ago.
func (b *RedisBroker) Clean(ctx context.Context, grace time.Duration) (int, error) {
	ids, err := b.client.LRange(ctx, b.key("completed"), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list completed jobs: %w", err)
	}
	cutoff := b.now().Add(-grace)

	removed := 0
	for _, id := range ids {
		job, err := b.load(ctx, id)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if job != nil && job.FinishedAt != nil && job.FinishedAt.After(cutoff) {
			continue
		}
		_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, b.key("completed"), 0, id)
			pipe.HDel(ctx, b.key("jobs"), id)
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("clean job %s: %w", id, err)
		}
		removed++
	}
	return removed, nil
}

// RecoverActive moves jobs still marked active back to waiting.
// Only safe at startup, before this process pops anything.
func (b *RedisBroker) RecoverActive(ctx context.Context) (int, error) {
	ids, err := b.client.ZRange(ctx, b.key("active"), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list active jobs: %w", err)
	}
	for _, id := range ids {
		job, err := b.load(ctx, id)
		if err != nil {
			b.client.ZRem(ctx, b.key("active"), id)
			continue
		}
		score, err := b.nextScore(ctx, job.Priority)
		if err != nil {
			return 0, err
		}
		job.State = domain.JobWaiting
		_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, b.key("active"), id)
			if err := b.save(ctx, pipe, job); err != nil {
				return err
			}
			pipe.ZAdd(ctx, b.key("waiting"), redis.Z{Score: score, Member: id})
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("recover job %s: %w", id, err)
		}
	}
	return len(ids), nil
}
