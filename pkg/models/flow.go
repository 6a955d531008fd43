// Package models defines the domain models for the migration discovery service
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FlowStatus represents the lifecycle status of a discovery flow.
type FlowStatus string

const (
	FlowStatusInitialized        FlowStatus = "initialized"
	FlowStatusRunning            FlowStatus = "running"
	FlowStatusPaused             FlowStatus = "paused"
	FlowStatusWaitingForApproval FlowStatus = "waiting_for_approval"
	FlowStatusComplete           FlowStatus = "complete"
	FlowStatusCompleted          FlowStatus = "completed"
	FlowStatusFailed             FlowStatus = "failed"
	FlowStatusDeleted            FlowStatus = "deleted"
)

// allStatuses is the closed set accepted by ParseFlowStatus.
var allStatuses = map[FlowStatus]bool{
	FlowStatusInitialized:        true,
	FlowStatusRunning:            true,
	FlowStatusPaused:             true,
	FlowStatusWaitingForApproval: true,
	FlowStatusComplete:           true,
	FlowStatusCompleted:          true,
	FlowStatusFailed:             true,
	FlowStatusDeleted:            true,
}

// ParseFlowStatus validates a caller-supplied status string.
func ParseFlowStatus(raw string) (FlowStatus, error) {
	s := FlowStatus(raw)
	if !allStatuses[s] {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// IsTerminal reports whether the status is immutable: no phase update may
// alter a terminal flow's status.
func (s FlowStatus) IsTerminal() bool {
	switch s {
	case FlowStatusComplete, FlowStatusCompleted, FlowStatusFailed, FlowStatusDeleted:
		return true
	}
	return false
}

// isAbsorbing covers the statuses the transition policy never moves out of.
// Paused is absorbing for phase-driven transitions even though it is not
// terminal: resuming a paused flow goes through the explicit status path.
func (s FlowStatus) isAbsorbing() bool {
	return s.IsTerminal() || s == FlowStatusPaused
}

// NextStatus maps (current status, phase activity) to the next status.
// Absorbing statuses are returned unchanged; any other status becomes
// running on phase activity. Pure function.
func NextStatus(current FlowStatus, phase PhaseName, completed bool) FlowStatus {
	if current.isAbsorbing() {
		return current
	}
	return FlowStatusRunning
}

// StateData is the open JSONB blob on a flow row: per-phase result payloads
// keyed by phase name, hoisted processing statistics, and the append-only
// agent_insights sequence.
type StateData map[string]any

// DiscoveryFlow is the aggregate root for one discovery workflow instance.
// flow_id is the externally-assigned identity shared with the master flow
// record; id is the internal storage key.
type DiscoveryFlow struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	FlowID          uuid.UUID  `json:"flow_id" db:"flow_id"`
	ClientAccountID uuid.UUID  `json:"client_account_id" db:"client_account_id"`
	EngagementID    uuid.UUID  `json:"engagement_id" db:"engagement_id"`
	MasterFlowID    *uuid.UUID `json:"master_flow_id,omitempty" db:"master_flow_id"`

	Status       FlowStatus `json:"status" db:"status"`
	CurrentPhase string     `json:"current_phase" db:"current_phase"`

	DataImportCompleted     bool `json:"data_import_completed" db:"data_import_completed"`
	DataValidationCompleted bool `json:"data_validation_completed" db:"data_validation_completed"`
	FieldMappingCompleted   bool `json:"field_mapping_completed" db:"field_mapping_completed"`
	DataCleansingCompleted  bool `json:"data_cleansing_completed" db:"data_cleansing_completed"`
	AssetInventoryCompleted bool `json:"asset_inventory_completed" db:"asset_inventory_completed"`

	ProgressPercentage float64   `json:"progress_percentage" db:"progress_percentage"`
	StateData          StateData `json:"state_data" db:"state_data"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Scope returns the tenant scope the flow belongs to.
func (f *DiscoveryFlow) Scope() TenantScope {
	return TenantScope{ClientAccountID: f.ClientAccountID, EngagementID: f.EngagementID}
}

// PhaseCompleted reads the completion flag for a phase.
func (f *DiscoveryFlow) PhaseCompleted(p PhaseName) bool {
	switch p {
	case PhaseDataImport:
		return f.DataImportCompleted
	case PhaseDataValidation:
		return f.DataValidationCompleted
	case PhaseFieldMapping:
		return f.FieldMappingCompleted
	case PhaseDataCleansing:
		return f.DataCleansingCompleted
	case PhaseAssetInventory:
		return f.AssetInventoryCompleted
	}
	return false
}

// SetPhaseCompleted marks a phase done. Flags only ever move false -> true;
// there is deliberately no way to unset one through this type.
func (f *DiscoveryFlow) SetPhaseCompleted(p PhaseName) {
	switch p {
	case PhaseDataImport:
		f.DataImportCompleted = true
	case PhaseDataValidation:
		f.DataValidationCompleted = true
	case PhaseFieldMapping:
		f.FieldMappingCompleted = true
	case PhaseDataCleansing:
		f.DataCleansingCompleted = true
	case PhaseAssetInventory:
		f.AssetInventoryCompleted = true
	}
}

// CompletionSnapshot captures the current completion flags for the
// progress calculator.
func (f *DiscoveryFlow) CompletionSnapshot() CompletionSnapshot {
	snap := make(CompletionSnapshot, len(phaseRegistry))
	for _, def := range phaseRegistry {
		snap[def.Name] = f.PhaseCompleted(def.Name)
	}
	return snap
}
