package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"migration-platform/backend/internal/logging"
	"migration-platform/backend/internal/repository"
	"migration-platform/backend/pkg/models"
)

// ErrFlowConflict is returned when a flow id is already claimed by a
// different tenant scope.
var ErrFlowConflict = errors.New("flow id already in use")

// CreateFlowRequest carries the inputs for flow creation.
type CreateFlowRequest struct {
	FlowID       uuid.UUID
	RawData      map[string]any
	Metadata     map[string]any
	MasterFlowID *uuid.UUID
	UserID       *string
}

// LifecycleService creates, deletes and reaps discovery flows.
type LifecycleService struct {
	store  repository.Store
	master *MasterFlowManager
	logger *logging.Logger
}

// NewLifecycleService creates a new LifecycleService.
func NewLifecycleService(store repository.Store, master *MasterFlowManager, logger *logging.Logger) *LifecycleService {
	return &LifecycleService{store: store, master: master, logger: logger}
}

// CreateFlow creates a discovery flow and its master-flow linkage in one
// transaction. Creation is idempotent by flow id: a second call returns
// the original flow untouched. The duplicate check uses the audited
// unscoped lookup and re-verifies tenant ownership before returning.
func (s *LifecycleService) CreateFlow(ctx context.Context, scope models.TenantScope, req CreateFlowRequest) (*models.DiscoveryFlow, error) {
	if req.FlowID == uuid.Nil {
		return nil, fmt.Errorf("%w: flow_id is required", models.ErrValidation)
	}
	if scope.IsZero() {
		return nil, fmt.Errorf("%w: tenant scope is required", models.ErrValidation)
	}

	existing, err := s.store.GetFlowUnscoped(ctx, req.FlowID, scope)
	if err == nil {
		if existing.Scope() != scope {
			s.logger.Warn("flow id claimed by another tenant",
				"flow_id", req.FlowID, "client_account_id", scope.ClientAccountID)
			return nil, ErrFlowConflict
		}
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	var flow *models.DiscoveryFlow
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		masterID, txErr := s.resolveMasterFlow(ctx, tx, req)
		if txErr != nil {
			return txErr
		}

		stateData := models.StateData{}
		if req.RawData != nil {
			stateData["raw_data"] = req.RawData
		}
		if req.Metadata != nil {
			stateData["metadata"] = req.Metadata
		}

		flow = &models.DiscoveryFlow{
			ID:              uuid.New(),
			FlowID:          req.FlowID,
			ClientAccountID: scope.ClientAccountID,
			EngagementID:    scope.EngagementID,
			MasterFlowID:    &masterID,
			Status:          models.FlowStatusInitialized,
			StateData:       stateData,
		}
		return tx.CreateFlow(ctx, flow)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("discovery flow created", "flow_id", flow.FlowID, "master_flow_id", flow.MasterFlowID)
	return flow, nil
}

// resolveMasterFlow ensures the master record inside the creation
// transaction. A supplied master id that resolves to nothing self-heals
// with a warning instead of failing the create.
func (s *LifecycleService) resolveMasterFlow(ctx context.Context, tx repository.Store, req CreateFlowRequest) (uuid.UUID, error) {
	summary := map[string]any{"record_count": len(req.RawData)}
	if req.MasterFlowID == nil {
		return s.master.EnsureMasterFlow(ctx, tx, req.FlowID, "discovery", req.UserID, summary)
	}

	existing, err := tx.GetMasterFlowByFlowID(ctx, req.FlowID)
	if err == nil {
		if existing.ID != *req.MasterFlowID {
			s.logger.Warn("supplied master_flow_id differs from existing master record, keeping existing",
				"flow_id", req.FlowID, "supplied", *req.MasterFlowID, "existing", existing.ID)
		}
		return existing.ID, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return uuid.Nil, err
	}

	s.logger.Warn("supplied master_flow_id does not resolve, creating master record",
		"flow_id", req.FlowID, "master_flow_id", *req.MasterFlowID)
	master := &models.MasterFlow{
		ID:        *req.MasterFlowID,
		FlowID:    req.FlowID,
		FlowType:  "discovery",
		Status:    string(models.FlowStatusInitialized),
		Config:    map[string]any{"raw_data_summary": summary},
		CreatedBy: req.UserID,
	}
	if err := tx.CreateMasterFlow(ctx, master); err != nil {
		return uuid.Nil, err
	}
	return master.ID, nil
}

// DeleteFlow removes a flow scoped by tenant. Dependent child records
// cascade at the storage layer. Returns whether a row was removed.
func (s *LifecycleService) DeleteFlow(ctx context.Context, scope models.TenantScope, flowID uuid.UUID) (bool, error) {
	rows, err := s.store.DeleteFlow(ctx, flowID, scope)
	if err != nil {
		return false, err
	}
	if rows > 0 {
		s.logger.Info("discovery flow deleted", "flow_id", flowID)
	}
	return rows > 0, nil
}

// CleanupStuckFlows fails flows that never made progress past the age
// threshold. Flows with any progress at all are never touched: a slow flow
// is not a stuck flow.
func (s *LifecycleService) CleanupStuckFlows(ctx context.Context, hoursThreshold int) (int64, error) {
	if hoursThreshold <= 0 {
		hoursThreshold = 24
	}
	cutoff := time.Now().UTC().Add(-time.Duration(hoursThreshold) * time.Hour)
	count, err := s.store.MarkStuckFlowsFailed(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("stuck flows failed by maintenance sweep", "count", count, "hours_threshold", hoursThreshold)
	}
	return count, nil
}
