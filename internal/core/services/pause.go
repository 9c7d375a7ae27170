package services

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AssistantPause is the operator switch that takes the AI assistant out of
// the chat loop. While active, customer turns get a handoff reply and the
// chat provider is not called.
type AssistantPause struct {
	mu       sync.RWMutex
	active   bool
	reason   string
	pausedBy string
	since    time.Time
	log      zerolog.Logger
}

// PauseStatus is the switch state reported to operators
type PauseStatus struct {
	Active   bool       `json:"active"`
	Reason   string     `json:"reason,omitempty"`
	PausedBy string     `json:"pausedBy,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
}

// NewAssistantPause creates an inactive switch
func NewAssistantPause(log zerolog.Logger) *AssistantPause {
	return &AssistantPause{log: log.With().Str("component", "assistant-pause").Logger()}
}

// Active returns whether the assistant is paused. A nil switch is never active.
func (p *AssistantPause) Active() bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// Pause takes the assistant offline
func (p *AssistantPause) Pause(reason, by string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		return
	}
	p.active = true
	p.reason = reason
	p.pausedBy = by
	p.since = time.Now().UTC()

	p.log.Warn().Str("reason", reason).Str("paused_by", by).Msg("assistant paused")
}

// Resume puts the assistant back in the loop
func (p *AssistantPause) Resume(by string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}
	p.log.Info().Str("resumed_by", by).Dur("paused_for", time.Since(p.since)).Msg("assistant resumed")
	p.active = false
	p.reason = ""
	p.pausedBy = ""
	p.since = time.Time{}
}

// Status returns a snapshot of the switch
func (p *AssistantPause) Status() PauseStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := PauseStatus{Active: p.active, Reason: p.reason, PausedBy: p.pausedBy}
	if p.active {
		since := p.since
		st.Since = &since
	}
	return st
}
