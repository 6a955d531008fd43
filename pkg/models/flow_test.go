package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStatus(t *testing.T) {
	tests := []struct {
		name      string
		current   FlowStatus
		completed bool
		want      FlowStatus
	}{
		{name: "initialized moves to running", current: FlowStatusInitialized, want: FlowStatusRunning},
		{name: "running stays running", current: FlowStatusRunning, want: FlowStatusRunning},
		{name: "waiting_for_approval resumes running", current: FlowStatusWaitingForApproval, want: FlowStatusRunning},
		{name: "completed is absorbing", current: FlowStatusCompleted, completed: true, want: FlowStatusCompleted},
		{name: "complete is absorbing", current: FlowStatusComplete, completed: true, want: FlowStatusComplete},
		{name: "failed is absorbing", current: FlowStatusFailed, completed: true, want: FlowStatusFailed},
		{name: "deleted is absorbing", current: FlowStatusDeleted, want: FlowStatusDeleted},
		{name: "paused is absorbing for phase activity", current: FlowStatusPaused, completed: true, want: FlowStatusPaused},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextStatus(tt.current, PhaseDataImport, tt.completed)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlowStatusIsTerminal(t *testing.T) {
	terminal := []FlowStatus{FlowStatusComplete, FlowStatusCompleted, FlowStatusFailed, FlowStatusDeleted}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), string(s))
	}
	nonTerminal := []FlowStatus{FlowStatusInitialized, FlowStatusRunning, FlowStatusPaused, FlowStatusWaitingForApproval}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), string(s))
	}
}

func TestParseFlowStatus(t *testing.T) {
	got, err := ParseFlowStatus("waiting_for_approval")
	require.NoError(t, err)
	assert.Equal(t, FlowStatusWaitingForApproval, got)

	_, err = ParseFlowStatus("archived")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestFlowCompletionFlags(t *testing.T) {
	flow := &DiscoveryFlow{}

	for _, def := range Phases() {
		assert.False(t, flow.PhaseCompleted(def.Name))
	}

	flow.SetPhaseCompleted(PhaseDataCleansing)
	assert.True(t, flow.PhaseCompleted(PhaseDataCleansing))
	assert.False(t, flow.PhaseCompleted(PhaseDataImport))

	snap := flow.CompletionSnapshot()
	assert.True(t, snap[PhaseDataCleansing])
	assert.False(t, snap[PhaseAssetInventory])
	assert.Len(t, snap, 5)
}
