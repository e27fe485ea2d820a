package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStateParsing(t *testing.T) {
	s := StageState("ARCH", PhaseDone)
	assert.Equal(t, RunState("ARCH_DONE"), s)

	stage, ok := s.Stage()
	assert.True(t, ok)
	assert.Equal(t, "ARCH", stage)
	assert.Equal(t, PhaseDone, s.Phase())
	assert.True(t, s.IsDone())
	assert.False(t, s.IsFailed())

	// Stage ids may themselves contain underscores; the phase is the last
	// segment.
	s = StageState("CODE_REVIEW", PhaseFailed)
	stage, ok = s.Stage()
	assert.True(t, ok)
	assert.Equal(t, "CODE_REVIEW", stage)
	assert.True(t, s.IsFailed())

	_, ok = StateCompleted.Stage()
	assert.False(t, ok)
	assert.False(t, StateCompleted.IsDone())
}

func TestCandidateString(t *testing.T) {
	c := Candidate{Provider: "anthropic", Model: "claude-sonnet-4-5"}
	assert.Equal(t, "anthropic/claude-sonnet-4-5", c.String())
}
