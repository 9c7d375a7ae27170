package services

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"shop-assist/internal/core/domain"
)

// DefaultPriority applies to events without an entry in the priority table.
const DefaultPriority = 1

var eventPriorities = map[string]int{
	domain.EventOrderCreated:    10,
	domain.EventOrderUpdated:    9,
	domain.EventCustomerCreated: 8,
	domain.EventProductCreated:  5,
	domain.EventProductUpdated:  4,
	domain.EventProductDeleted:  4,
}

// PriorityFor maps an event name to its dequeue priority; higher runs first.
func PriorityFor(event string) int {
	if p, ok := eventPriorities[event]; ok {
		return p
	}
	return DefaultPriority
}

// RetryPolicy decides how failed jobs are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy is three attempts with 2s exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

// Delay returns the wait before the next try after `attempt` failed tries
// (attempt is 1-based): base, 2*base, 4*base, ...
func (p RetryPolicy) Delay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.BaseDelay << 10
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// ShouldRetry reports whether job gets another try. The budget recorded on
// the job at enqueue time wins over the policy's.
func (p RetryPolicy) ShouldRetry(job *domain.WebhookJob) bool {
	limit := job.MaxAttempts
	if limit <= 0 {
		limit = p.MaxAttempts
	}
	return job.Attempts < limit
}
