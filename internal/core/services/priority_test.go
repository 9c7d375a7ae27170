package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"shop-assist/internal/core/domain"
)

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		event string
		want  int
	}{
		{"order.created", 10},
		{"order.updated", 9},
		{"customer.created", 8},
		{"product.created", 5},
		{"product.updated", 4},
		{"product.deleted", 4},
		{"customer.deleted", DefaultPriority},
		{"", DefaultPriority},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PriorityFor(tt.event), tt.event)
	}
}

func TestRetryPolicy_DelayDoubles(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))

	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		d := p.Delay(attempt)
		assert.Greater(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
	assert.True(t, p.ShouldRetry(&domain.WebhookJob{Attempts: 1}))
	assert.True(t, p.ShouldRetry(&domain.WebhookJob{Attempts: 2}))
	assert.False(t, p.ShouldRetry(&domain.WebhookJob{Attempts: 3}))

	// the job's own budget wins
	assert.False(t, p.ShouldRetry(&domain.WebhookJob{Attempts: 1, MaxAttempts: 1}))
	assert.True(t, p.ShouldRetry(&domain.WebhookJob{Attempts: 3, MaxAttempts: 5}))
}
