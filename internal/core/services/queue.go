package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/ports"
	"shop-assist/internal/metrics"
)

// JobHandler processes one webhook job. A returned error (or a panic) fails the attempt.
type JobHandler func(ctx context.Context, job *domain.WebhookJob) error

// QueueConfig tunes the worker pool
type QueueConfig struct {
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration
	Retry        RetryPolicy
}

// JobQueue is the priority-ordered, retrying webhook job queue.
// With a nil broker it runs in inline mode: Enqueue invokes the handler synchronously once.
type JobQueue struct {
	broker ports.JobBroker
	cfg    QueueConfig
	log    zerolog.Logger

	mu       sync.RWMutex
	handlers map[domain.JobType]JobHandler

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	started  atomic.Bool

	// inline mode counters
	inlineActive    atomic.Int64
	inlineCompleted atomic.Int64
	inlineFailed    atomic.Int64
}

// NewJobQueue creates a queue over broker. Pass a nil broker for inline mode.
func NewJobQueue(broker ports.JobBroker, cfg QueueConfig, log zerolog.Logger) *JobQueue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	q := &JobQueue{
		broker:   broker,
		cfg:      cfg,
		log:      log.With().Str("component", "job-queue").Logger(),
		handlers: make(map[domain.JobType]JobHandler),
		stopChan: make(chan struct{}),
	}
	if broker == nil {
		q.log.Warn().Msg("job broker unavailable, webhook jobs will be processed inline without retries")
	}
	return q
}

// Inline reports whether the queue runs without a durable broker.
func (q *JobQueue) Inline() bool {
	return q.broker == nil
}

// RegisterHandler binds the handler for a job type, replacing any previous one.
func (q *JobQueue) RegisterHandler(t domain.JobType, h JobHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.handlers[t]; exists {
		q.log.Warn().Str("type", string(t)).Msg("replacing job handler")
	}
	q.handlers[t] = h
}

func (q *JobQueue) handler(t domain.JobType) (JobHandler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[t]
	return h, ok
}

// Enqueue records a job for (type, event) and returns without waiting for processing,
// except in inline mode where the handler runs before returning. Inline handler
// failures are logged, not returned: ingest acknowledges receipt regardless.
func (q *JobQueue) Enqueue(ctx context.Context, t domain.JobType, event domain.WebhookEvent) (*domain.WebhookJob, error) {
	payload, err := domain.DecodePayload(t, event.Data)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &domain.WebhookJob{
		ID:          uuid.NewString(),
		Type:        t,
		Event:       event.Event,
		Data:        event.Data,
		Payload:     payload,
		ReceivedAt:  now,
		Priority:    PriorityFor(event.Event),
		MaxAttempts: q.cfg.Retry.MaxAttempts,
		State:       domain.JobWaiting,
		CreatedAt:   now,
	}
	metrics.JobsEnqueued.WithLabelValues(string(t), event.Event).Inc()

	if q.broker == nil {
		job.MaxAttempts = 1
		q.runInline(ctx, job)
		return job, nil
	}

	if err := q.broker.Push(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", t, err)
	}

	q.log.Info().
		Str("job_id", job.ID).
		Str("type", string(t)).
		Str("event", job.Event).
		Int("priority", job.Priority).
		Msg("job enqueued")
	return job, nil
}

func (q *JobQueue) runInline(ctx context.Context, job *domain.WebhookJob) {
	q.inlineActive.Add(1)
	defer q.inlineActive.Add(-1)

	job.State = domain.JobActive
	job.Attempts = 1
	if err := q.execute(ctx, job); err != nil {
		q.inlineFailed.Add(1)
		job.State = domain.JobFailed
		job.LastError = err.Error()
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "inline_failed").Inc()
		q.log.Error().Err(err).
			Str("job_id", job.ID).
			Str("event", job.Event).
			Msg("inline job failed")
		return
	}
	q.inlineCompleted.Add(1)
	job.State = domain.JobCompleted
	metrics.JobsProcessed.WithLabelValues(string(job.Type), "inline").Inc()
}

// Start launches the worker pool. It is a no-op in inline mode.
func (q *JobQueue) Start(ctx context.Context) error {
	if q.broker == nil {
		return nil
	}
	if !q.started.CompareAndSwap(false, true) {
		return errors.New("job queue already started")
	}

	if n, err := q.broker.RecoverActive(ctx); err != nil {
		q.log.Warn().Err(err).Msg("failed to recover orphaned active jobs")
	} else if n > 0 {
		q.log.Warn().Int("count", n).Msg("requeued jobs left active by a previous run")
	}

	q.log.Info().Int("worker_count", q.cfg.Concurrency).Msg("starting job workers")
	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go func(id int) {
			defer q.wg.Done()
			q.work(ctx, id)
		}(i + 1)
	}
	return nil
}

// Stop signals the workers and waits for in-flight jobs, up to timeout.
func (q *JobQueue) Stop(timeout time.Duration) {
	if !q.started.Load() {
		return
	}
	q.log.Info().Msg("stopping job workers")
	q.stopOnce.Do(func() { close(q.stopChan) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.log.Info().Msg("all job workers stopped gracefully")
	case <-time.After(timeout):
		q.log.Warn().Msg("job worker shutdown timed out")
	}
}

func (q *JobQueue) work(ctx context.Context, id int) {
	log := q.log.With().Int("worker_id", id).Logger()
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything ready before sleeping.
		for {
			select {
			case <-q.stopChan:
				return
			case <-ctx.Done():
				return
			default:
			}

			job, err := q.broker.Pop(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Msg("failed to pop job")
				}
				break
			}
			if job == nil {
				break
			}
			q.process(ctx, job)
		}

		select {
		case <-q.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// process runs one attempt of a popped job and settles it with the broker.
func (q *JobQueue) process(ctx context.Context, job *domain.WebhookJob) {
	if job.Payload == nil {
		if err := job.Hydrate(); err != nil {
			job.LastError = err.Error()
			job.Attempts = job.MaxAttempts
			q.settleFailure(ctx, job, err)
			return
		}
	}

	err := q.execute(ctx, job)
	if err == nil {
		if cerr := q.broker.Complete(ctx, job); cerr != nil {
			q.log.Error().Err(cerr).Str("job_id", job.ID).Msg("failed to mark job completed")
		}
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "completed").Inc()
		q.log.Info().
			Str("job_id", job.ID).
			Str("event", job.Event).
			Int("attempt", job.Attempts).
			Msg("job completed")
		return
	}

	job.LastError = err.Error()
	q.settleFailure(ctx, job, err)
}

func (q *JobQueue) settleFailure(ctx context.Context, job *domain.WebhookJob, cause error) {
	q.log.Error().Err(cause).
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Str("event", job.Event).
		Int("attempt", job.Attempts).
		Int("max_attempts", job.MaxAttempts).
		Msg("job failed")

	if q.cfg.Retry.ShouldRetry(job) {
		delay := q.cfg.Retry.Delay(job.Attempts)
		if err := q.broker.Retry(ctx, job, delay); err != nil {
			q.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to schedule retry")
			return
		}
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "retried").Inc()
		q.log.Warn().Str("job_id", job.ID).Dur("delay", delay).Msg("job scheduled for retry")
		return
	}

	if err := q.broker.Fail(ctx, job); err != nil {
		q.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job failed")
		return
	}
	metrics.JobsProcessed.WithLabelValues(string(job.Type), "failed").Inc()
	q.log.Error().
		Str("job_id", job.ID).
		Str("event", job.Event).
		Int("attempts", job.Attempts).
		Msg("job failed permanently, retained for inspection")
}

// execute invokes the registered handler with panic recovery and a per-job span.
func (q *JobQueue) execute(ctx context.Context, job *domain.WebhookJob) (err error) {
	h, ok := q.handler(job.Type)
	if !ok {
		return fmt.Errorf("%w: no handler for %q", domain.ErrUnknownJobType, job.Type)
	}

	ctx, cancel := context.WithTimeout(ctx, q.cfg.JobTimeout)
	defer cancel()

	ctx, span := otel.Tracer("shop-assist/queue").Start(ctx, "job "+job.Event)
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", string(job.Type)),
		attribute.Int("job.attempt", job.Attempts),
	)
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			q.log.Error().Str("job_id", job.ID).Interface("panic", r).Msg("PANIC recovered in job handler")
		}
		metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(started).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	return h(ctx, job)
}

// Stats returns aggregate job counts.
func (q *JobQueue) Stats(ctx context.Context) (domain.QueueStats, error) {
	if q.broker == nil {
		return domain.QueueStats{
			Active:    q.inlineActive.Load(),
			Completed: q.inlineCompleted.Load(),
			Failed:    q.inlineFailed.Load(),
		}, nil
	}
	return q.broker.Stats(ctx)
}

// Failed lists terminally failed jobs, newest first.
func (q *JobQueue) Failed(ctx context.Context, limit int) ([]*domain.WebhookJob, error) {
	if q.broker == nil {
		return nil, domain.ErrQueueUnavailable
	}
	return q.broker.Failed(ctx, limit)
}

// Retry moves a terminally failed job back to waiting with a fresh attempt budget.
func (q *JobQueue) Retry(ctx context.Context, jobID string) (*domain.WebhookJob, error) {
	if q.broker == nil {
		return nil, domain.ErrQueueUnavailable
	}
	job, err := q.broker.Requeue(ctx, jobID)
	if err != nil {
		return nil, err
	}
	q.log.Info().Str("job_id", jobID).Msg("failed job requeued by operator")
	return job, nil
}

// Clean removes completed jobs older than grace. Failed jobs are kept.
func (q *JobQueue) Clean(ctx context.Context, grace time.Duration) (int, error) {
	if q.broker == nil {
		return 0, nil
	}
	return q.broker.Clean(ctx, grace)
}
