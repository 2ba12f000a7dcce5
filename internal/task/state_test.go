package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerminalStatesAreTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled} {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
}

func TestCheckTransitionAllowsClaim(t *testing.T) {
	assert.NoError(t, CheckTransition(StatusPending, StatusRunning))
}

func TestCheckTransitionRejectsFromTerminal(t *testing.T) {
	err := CheckTransition(StatusCompleted, StatusRunning)
	assert.Error(t, err)
}

func TestCheckTransitionRejectsSkippingRunning(t *testing.T) {
	err := CheckTransition(StatusPending, StatusCompleted)
	assert.Error(t, err)
}

func TestParseStatusRejectsUnknown(t *testing.T) {
	_, ok := ParseStatus("scheduled")
	assert.False(t, ok)

	got, ok := ParseStatus("timeout")
	assert.True(t, ok)
	assert.Equal(t, StatusTimeout, got)
}
