package services

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssistantPause(t *testing.T) {
	p := NewAssistantPause(zerolog.Nop())
	assert.False(t, p.Active())
	assert.Equal(t, PauseStatus{}, p.Status())

	p.Pause("bad answers", "alice")
	assert.True(t, p.Active())
	st := p.Status()
	assert.Equal(t, "bad answers", st.Reason)
	assert.Equal(t, "alice", st.PausedBy)
	require.NotNil(t, st.Since)

	// A second pause keeps the original reason and start.
	p.Pause("other", "bob")
	assert.Equal(t, "alice", p.Status().PausedBy)
	assert.Equal(t, *st.Since, *p.Status().Since)

	p.Resume("bob")
	assert.False(t, p.Active())
	assert.Equal(t, PauseStatus{}, p.Status())
}

func TestAssistantPause_NilIsInactive(t *testing.T) {
	var p *AssistantPause
	assert.False(t, p.Active())
}
