package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"migration-platform/backend/internal/logging"
	"migration-platform/backend/internal/repository"
	"migration-platform/backend/pkg/models"
)

// MasterFlowManager maintains the 1:1 link between a discovery flow and
// its master flow record. The master record is a secondary coordination
// aid, never the source of truth: enrichment calls are notify-don't-block.
type MasterFlowManager struct {
	store  repository.Store
	logger *logging.Logger
}

// NewMasterFlowManager creates a new MasterFlowManager.
func NewMasterFlowManager(store repository.Store, logger *logging.Logger) *MasterFlowManager {
	return &MasterFlowManager{store: store, logger: logger}
}

// EnsureMasterFlow returns the id of the master record keyed by flowID,
// creating one when absent. The existence check is mandatory; a duplicate
// is never created. tx is the caller's transaction-bound store so creation
// commits or rolls back with the flow row.
func (m *MasterFlowManager) EnsureMasterFlow(ctx context.Context, tx repository.Store, flowID uuid.UUID, flowType string, userID *string, rawDataSummary map[string]any) (uuid.UUID, error) {
	existing, err := tx.GetMasterFlowByFlowID(ctx, flowID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return uuid.Nil, err
	}

	master := &models.MasterFlow{
		ID:        uuid.New(),
		FlowID:    flowID,
		FlowType:  flowType,
		Status:    string(models.FlowStatusInitialized),
		Config:    map[string]any{"raw_data_summary": rawDataSummary},
		CreatedBy: userID,
	}
	if err := tx.CreateMasterFlow(ctx, master); err != nil {
		return uuid.Nil, err
	}
	m.logger.Info("created master flow", "flow_id", flowID, "master_flow_id", master.ID, "flow_type", flowType)
	return master.ID, nil
}

// RepairNullMasterReference sets the child flow's master_flow_id only when
// it is currently NULL. An existing non-null value is never overwritten,
// even with a different id. Returns whether a row changed.
func (m *MasterFlowManager) RepairNullMasterReference(ctx context.Context, flowID uuid.UUID, masterFlowID uuid.UUID) (bool, error) {
	changed, err := m.store.SetMasterFlowIDIfNull(ctx, flowID, masterFlowID)
	if err != nil {
		return false, err
	}
	if changed {
		m.logger.Info("repaired null master flow reference", "flow_id", flowID, "master_flow_id", masterFlowID)
	}
	return changed, nil
}

// AppendPhaseTransition records a phase transition on the master flow.
// Failures are logged and swallowed.
func (m *MasterFlowManager) AppendPhaseTransition(ctx context.Context, flowID uuid.UUID, phase string, status string, metadata map[string]any) {
	entry := map[string]any{
		"phase":     phase,
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if metadata != nil {
		entry["metadata"] = metadata
	}
	if err := m.store.UpdateMasterFlowStatus(ctx, flowID, status, entry, nil); err != nil {
		m.logger.Warn("master flow phase transition not recorded",
			"flow_id", flowID, "phase", phase, "error", err)
	}
}

// AppendAgentCollaboration records an agent collaboration entry on the
// master flow. Failures are logged and swallowed.
func (m *MasterFlowManager) AppendAgentCollaboration(ctx context.Context, flowID uuid.UUID, status string, entry map[string]any) {
	if entry == nil {
		return
	}
	if _, ok := entry["timestamp"]; !ok {
		entry["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
	if err := m.store.UpdateMasterFlowStatus(ctx, flowID, status, nil, entry); err != nil {
		m.logger.Warn("master flow collaboration entry not recorded",
			"flow_id", flowID, "error", err)
	}
}
