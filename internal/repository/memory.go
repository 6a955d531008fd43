package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"migration-platform/backend/pkg/models"
)

// MemoryStore is an in-memory Store used by tests and local development.
// It honors the same contracts as the Postgres store: tenant scoping on
// every flow read/write, the IS NULL guard on master reference repair, and
// snapshot-rollback WithTx semantics.
type MemoryStore struct {
	mu      sync.Mutex
	flows   map[uuid.UUID]*models.DiscoveryFlow
	masters map[uuid.UUID]*models.MasterFlow

	// UnscopedLookups counts audited GetFlowUnscoped calls for assertions.
	UnscopedLookups int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flows:   make(map[uuid.UUID]*models.DiscoveryFlow),
		masters: make(map[uuid.UUID]*models.MasterFlow),
	}
}

func cloneFlow(f *models.DiscoveryFlow) *models.DiscoveryFlow {
	c := *f
	if f.StateData != nil {
		c.StateData = make(models.StateData, len(f.StateData))
		for k, v := range f.StateData {
			c.StateData[k] = v
		}
	}
	if f.MasterFlowID != nil {
		id := *f.MasterFlowID
		c.MasterFlowID = &id
	}
	if f.CompletedAt != nil {
		t := *f.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneMaster(m *models.MasterFlow) *models.MasterFlow {
	c := *m
	c.PhaseTransitions = append([]map[string]any(nil), m.PhaseTransitions...)
	c.AgentCollaborations = append([]map[string]any(nil), m.AgentCollaborations...)
	return &c
}

// CreateFlow inserts a new flow row.
func (s *MemoryStore) CreateFlow(ctx context.Context, flow *models.DiscoveryFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flow.ID == uuid.Nil {
		flow.ID = uuid.New()
	}
	if flow.StateData == nil {
		flow.StateData = models.StateData{}
	}
	now := time.Now().UTC()
	flow.CreatedAt = now
	flow.UpdatedAt = now
	s.flows[flow.FlowID] = cloneFlow(flow)
	return nil
}

// GetFlow retrieves a flow scoped by tenant.
func (s *MemoryStore) GetFlow(ctx context.Context, flowID uuid.UUID, scope models.TenantScope) (*models.DiscoveryFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getScoped(flowID, scope)
}

// GetFlowForUpdate is GetFlow; the store-wide mutex stands in for the row
// lock.
func (s *MemoryStore) GetFlowForUpdate(ctx context.Context, flowID uuid.UUID, scope models.TenantScope) (*models.DiscoveryFlow, error) {
	return s.GetFlow(ctx, flowID, scope)
}

func (s *MemoryStore) getScoped(flowID uuid.UUID, scope models.TenantScope) (*models.DiscoveryFlow, error) {
	f, ok := s.flows[flowID]
	if !ok || f.ClientAccountID != scope.ClientAccountID || f.EngagementID != scope.EngagementID {
		return nil, models.ErrNotFound
	}
	return cloneFlow(f), nil
}

// GetFlowUnscoped retrieves a flow without tenant filtering.
func (s *MemoryStore) GetFlowUnscoped(ctx context.Context, flowID uuid.UUID, requestor models.TenantScope) (*models.DiscoveryFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UnscopedLookups++
	f, ok := s.flows[flowID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneFlow(f), nil
}

// UpdateFlowFields applies whitelisted column updates.
func (s *MemoryStore) UpdateFlowFields(ctx context.Context, flowID uuid.UUID, scope models.TenantScope, fields map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[flowID]
	if !ok || f.ClientAccountID != scope.ClientAccountID || f.EngagementID != scope.EngagementID {
		return 0, nil
	}
	for col, v := range fields {
		switch col {
		case "status":
			f.Status = v.(models.FlowStatus)
		case "current_phase":
			f.CurrentPhase = v.(string)
		case "progress_percentage":
			f.ProgressPercentage = v.(float64)
		case "state_data":
			f.StateData = v.(models.StateData)
		case "master_flow_id":
			switch id := v.(type) {
			case *uuid.UUID:
				f.MasterFlowID = id
			case uuid.UUID:
				f.MasterFlowID = &id
			}
		case "completed_at":
			f.CompletedAt = v.(*time.Time)
		case "data_import_completed":
			f.DataImportCompleted = v.(bool)
		case "data_validation_completed":
			f.DataValidationCompleted = v.(bool)
		case "field_mapping_completed":
			f.FieldMappingCompleted = v.(bool)
		case "data_cleansing_completed":
			f.DataCleansingCompleted = v.(bool)
		case "asset_inventory_completed":
			f.AssetInventoryCompleted = v.(bool)
		default:
			return 0, models.ErrValidation
		}
	}
	f.UpdatedAt = time.Now().UTC()
	s.flows[flowID] = cloneFlow(f)
	return 1, nil
}

// SetMasterFlowIDIfNull repairs a NULL master reference only.
func (s *MemoryStore) SetMasterFlowIDIfNull(ctx context.Context, flowID uuid.UUID, masterFlowID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[flowID]
	if !ok || f.MasterFlowID != nil {
		return false, nil
	}
	id := masterFlowID
	f.MasterFlowID = &id
	f.UpdatedAt = time.Now().UTC()
	return true, nil
}

// DeleteFlow removes a flow scoped by tenant.
func (s *MemoryStore) DeleteFlow(ctx context.Context, flowID uuid.UUID, scope models.TenantScope) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[flowID]
	if !ok || f.ClientAccountID != scope.ClientAccountID || f.EngagementID != scope.EngagementID {
		return 0, nil
	}
	delete(s.flows, flowID)
	return 1, nil
}

// MarkStuckFlowsFailed fails zero-progress flows older than the cutoff.
func (s *MemoryStore) MarkStuckFlowsFailed(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, f := range s.flows {
		switch f.Status {
		case models.FlowStatusInitialized, models.FlowStatusRunning, models.FlowStatusWaitingForApproval:
		default:
			continue
		}
		if f.ProgressPercentage == 0.0 && f.CreatedAt.Before(cutoff) {
			f.Status = models.FlowStatusFailed
			f.UpdatedAt = time.Now().UTC()
			count++
		}
	}
	return count, nil
}

// Backdate rewrites a flow's creation time, for sweep tests.
func (s *MemoryStore) Backdate(flowID uuid.UUID, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.flows[flowID]; ok {
		f.CreatedAt = createdAt
	}
}

// GetMasterFlowByFlowID retrieves the master flow sharing the flow id.
func (s *MemoryStore) GetMasterFlowByFlowID(ctx context.Context, flowID uuid.UUID) (*models.MasterFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.masters[flowID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneMaster(m), nil
}

// CreateMasterFlow inserts a master flow record.
func (s *MemoryStore) CreateMasterFlow(ctx context.Context, master *models.MasterFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if master.ID == uuid.Nil {
		master.ID = uuid.New()
	}
	now := time.Now().UTC()
	master.CreatedAt = now
	master.UpdatedAt = now
	s.masters[master.FlowID] = cloneMaster(master)
	return nil
}

// UpdateMasterFlowStatus sets status and appends to the JSONB-equivalent
// logs.
func (s *MemoryStore) UpdateMasterFlowStatus(ctx context.Context, flowID uuid.UUID, status string, phaseData map[string]any, collaboration map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.masters[flowID]
	if !ok {
		return models.ErrNotFound
	}
	m.Status = status
	if phaseData != nil {
		m.PhaseTransitions = append(m.PhaseTransitions, phaseData)
	}
	if collaboration != nil {
		m.AgentCollaborations = append(m.AgentCollaborations, collaboration)
	}
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// WithTx runs fn with snapshot-rollback semantics: on error, state is
// restored to the snapshot taken at entry.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	flowSnap := make(map[uuid.UUID]*models.DiscoveryFlow, len(s.flows))
	for k, v := range s.flows {
		flowSnap[k] = cloneFlow(v)
	}
	masterSnap := make(map[uuid.UUID]*models.MasterFlow, len(s.masters))
	for k, v := range s.masters {
		masterSnap[k] = cloneMaster(v)
	}
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.flows = flowSnap
		s.masters = masterSnap
		s.mu.Unlock()
		return err
	}
	return nil
}
