package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults() Defaults {
	return Defaults{BackendType: BackendInternal, MaxSteps: 10, TimeoutMinutes: 30, Priority: 0}
}

func TestNewAppliesDefaults(t *testing.T) {
	tk := New(CreateRequest{ProblemID: "chaos-101"}, defaults())

	require.NotEmpty(t, tk.ID)
	assert.Equal(t, StatusPending, tk.Status)
	assert.Equal(t, BackendInternal, tk.BackendType)
	assert.Equal(t, 0, tk.Priority)
	assert.EqualValues(t, 10, tk.MaxSteps())
	assert.EqualValues(t, 30, tk.TimeoutMinutes())
}

func TestNewHonorsExplicitParameters(t *testing.T) {
	priority := 7
	tk := New(CreateRequest{
		ProblemID: "chaos-101",
		Parameters: map[string]interface{}{
			ParamBackendType:    "orchestrator",
			ParamMaxSteps:       5,
			ParamTimeoutMinutes: 2,
		},
		Priority: &priority,
	}, defaults())

	assert.Equal(t, "orchestrator", tk.BackendType)
	assert.Equal(t, "orchestrator", tk.Parameters[ParamBackendType])
	assert.Equal(t, 7, tk.Priority)
	assert.EqualValues(t, 5, tk.MaxSteps())
	assert.EqualValues(t, 2, tk.TimeoutMinutes())
}

func TestNewDoesNotMutateCallerParameters(t *testing.T) {
	params := map[string]interface{}{"custom": "value"}
	New(CreateRequest{ProblemID: "p", Parameters: params}, defaults())

	_, hasBackend := params[ParamBackendType]
	assert.False(t, hasBackend, "New must clone Parameters, not mutate the caller's map")
}
