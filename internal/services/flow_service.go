package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"migration-platform/backend/internal/logging"
	"migration-platform/backend/internal/repository"
	"migration-platform/backend/pkg/models"
)

// hoistedStatKeys are processing statistics lifted from a phase payload to
// the top level of state_data for cross-phase visibility.
var hoistedStatKeys = []string{"records_processed", "records_total", "records_valid", "records_failed"}

// PhaseUpdate carries one phase-completion event.
type PhaseUpdate struct {
	Phase         string
	Payload       map[string]any
	CrewStatus    string
	Completed     bool
	AgentInsights []any
}

// FlowService orchestrates phase-completion events end to end: validate,
// merge, apply the status policy, recompute progress, persist atomically,
// enrich the master flow and detect auto-completion.
type FlowService struct {
	store  repository.Store
	master *MasterFlowManager
	scorer ReadinessScorer
	cache  FlowCache
	logger *logging.Logger

	phaseCompletions metric.Int64Counter
	flowCompletions  metric.Int64Counter
}

// NewFlowService creates a new FlowService. scorer and cache may be nil;
// both are optional collaborators.
func NewFlowService(store repository.Store, master *MasterFlowManager, scorer ReadinessScorer, cache FlowCache, logger *logging.Logger) *FlowService {
	meter := otel.Meter("migration-platform/backend/services")
	phaseCompletions, _ := meter.Int64Counter("discovery.phase_completions")
	flowCompletions, _ := meter.Int64Counter("discovery.flow_completions")

	return &FlowService{
		store:            store,
		master:           master,
		scorer:           scorer,
		cache:            cache,
		logger:           logger,
		phaseCompletions: phaseCompletions,
		flowCompletions:  flowCompletions,
	}
}

// UpdatePhaseCompletion applies one phase update to a flow. Unknown phases
// are rejected before any mutation; a missing flow yields
// models.ErrNotFound. The row update runs under a row lock so concurrent
// phase updates never compute progress off a stale snapshot.
func (s *FlowService) UpdatePhaseCompletion(ctx context.Context, scope models.TenantScope, flowID uuid.UUID, update PhaseUpdate) (*models.DiscoveryFlow, error) {
	phase, err := models.ParsePhase(update.Phase)
	if err != nil {
		return nil, err
	}

	var flow *models.DiscoveryFlow
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		var txErr error
		flow, txErr = tx.GetFlowForUpdate(ctx, flowID, scope)
		if txErr != nil {
			return txErr
		}

		preStatus := flow.Status
		s.mergeStateData(flow, phase, update)
		if update.Completed {
			flow.SetPhaseCompleted(phase)
		}
		flow.CurrentPhase = string(phase)
		flow.Status = models.NextStatus(preStatus, phase, update.Completed)
		// The snapshot already carries the just-set flag; the calculator
		// must see the effective state, not the persisted one.
		flow.ProgressPercentage = models.ComputeProgress(flow.CompletionSnapshot())

		fields := map[string]any{
			"status":              flow.Status,
			"current_phase":       flow.CurrentPhase,
			"progress_percentage": flow.ProgressPercentage,
			"state_data":          flow.StateData,
		}
		if update.Completed {
			def, _ := models.PhaseByName(phase)
			fields[def.CompletionFlag] = true
		}

		rows, txErr := tx.UpdateFlowFields(ctx, flowID, scope, fields)
		if txErr != nil {
			return txErr
		}
		if rows == 0 {
			// The row was loaded under lock in this transaction; zero rows
			// here is a consistency bug, not a missing flow.
			return fmt.Errorf("phase update for flow %s affected no rows", flowID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if flow.MasterFlowID == nil {
		s.healMasterReference(ctx, flow)
	}
	s.invalidateFlowCache(ctx, flow)

	if update.Completed {
		s.phaseCompletions.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", string(phase))))
		s.enrichMasterFlow(ctx, flow, phase, update)

		if _, err := s.checkAndCompleteIfReady(ctx, scope, flow); err != nil {
			return nil, err
		}
	}

	return flow, nil
}

// mergeStateData folds the update payload and agent insights into the
// flow's accumulated state.
func (s *FlowService) mergeStateData(flow *models.DiscoveryFlow, phase models.PhaseName, update PhaseUpdate) {
	if flow.StateData == nil {
		flow.StateData = models.StateData{}
	}
	if update.Payload != nil {
		flow.StateData[string(phase)] = update.Payload
		for _, key := range hoistedStatKeys {
			if v, ok := update.Payload[key]; ok {
				flow.StateData[key] = v
			}
		}
	}
	if len(update.AgentInsights) > 0 {
		existing, _ := flow.StateData["agent_insights"].([]any)
		flow.StateData["agent_insights"] = append(existing, update.AgentInsights...)
	}
}

// enrichMasterFlow appends the phase transition and agent collaboration to
// the master flow record. Best-effort: the manager logs and swallows
// failures, the child flow's own commit is already durable.
func (s *FlowService) enrichMasterFlow(ctx context.Context, flow *models.DiscoveryFlow, phase models.PhaseName, update PhaseUpdate) {
	metadata := map[string]any{"progress_percentage": flow.ProgressPercentage}
	for _, key := range hoistedStatKeys {
		if v, ok := flow.StateData[key]; ok {
			metadata[key] = v
		}
	}
	s.master.AppendPhaseTransition(ctx, flow.FlowID, string(phase), string(flow.Status), metadata)

	collaboration := map[string]any{"phase": string(phase)}
	if update.CrewStatus != "" {
		collaboration["crew_status"] = update.CrewStatus
	}
	if len(update.AgentInsights) > 0 {
		collaboration["insights"] = update.AgentInsights
	}
	s.master.AppendAgentCollaboration(ctx, flow.FlowID, string(flow.Status), collaboration)
}

// healMasterReference repairs a historical flow whose master_flow_id was
// never written: it ensures the master record exists and links it through
// the NULL-only repair. Best-effort; the update that triggered it is
// already durable. flow is updated in place on success so downstream
// cache invalidation and enrichment see the repaired reference.
func (s *FlowService) healMasterReference(ctx context.Context, flow *models.DiscoveryFlow) {
	masterID, err := s.master.EnsureMasterFlow(ctx, s.store, flow.FlowID, "discovery", nil, nil)
	if err != nil {
		s.logger.Warn("master flow self-heal failed", "flow_id", flow.FlowID, "error", err)
		return
	}
	changed, err := s.master.RepairNullMasterReference(ctx, flow.FlowID, masterID)
	if err != nil {
		s.logger.Warn("master flow reference repair failed", "flow_id", flow.FlowID, "error", err)
		return
	}
	if changed {
		flow.MasterFlowID = &masterID
	}
}

// invalidateFlowCache drops the cached flow view keyed by master flow id.
// Best-effort.
func (s *FlowService) invalidateFlowCache(ctx context.Context, flow *models.DiscoveryFlow) {
	if s.cache == nil || flow.MasterFlowID == nil {
		return
	}
	key := MasterFlowCacheKey(*flow.MasterFlowID)
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Warn("flow cache invalidation failed", "key", key, "error", err)
	}
}

// checkAndCompleteIfReady auto-completes the flow when every registered
// phase is done and the flow is not already complete. Returns whether it
// triggered completion. Idempotent by construction.
func (s *FlowService) checkAndCompleteIfReady(ctx context.Context, scope models.TenantScope, flow *models.DiscoveryFlow) (bool, error) {
	// Terminal covers {complete, completed} plus failed/deleted: auto-
	// completion must never resurrect a failed flow either.
	if flow.Status.IsTerminal() {
		return false, nil
	}
	if !models.AllPhasesComplete(flow.CompletionSnapshot()) {
		return false, nil
	}
	if err := s.complete(ctx, scope, flow); err != nil {
		return false, err
	}
	return true, nil
}

// CompleteFlow marks a discovery flow completed. Calling it on an
// already-terminal flow is a no-op returning the flow unchanged.
func (s *FlowService) CompleteFlow(ctx context.Context, scope models.TenantScope, flowID uuid.UUID) (*models.DiscoveryFlow, error) {
	flow, err := s.store.GetFlow(ctx, flowID, scope)
	if err != nil {
		return nil, err
	}
	if flow.Status.IsTerminal() {
		return flow, nil
	}
	if err := s.complete(ctx, scope, flow); err != nil {
		return nil, err
	}
	return flow, nil
}

// complete is the single completion path: readiness score (with fallback),
// terminal status, progress 100, completed_at set once, then best-effort
// master notification. flow is updated in place.
func (s *FlowService) complete(ctx context.Context, scope models.TenantScope, flow *models.DiscoveryFlow) error {
	if flow.MasterFlowID == nil {
		s.healMasterReference(ctx, flow)
	}

	score := models.FallbackReadinessScore()
	if s.scorer != nil {
		computed, err := s.scorer.Compute(ctx, flow.StateData)
		if err != nil {
			s.logger.Warn("readiness scoring unavailable, using fallback",
				"flow_id", flow.FlowID, "error", err)
		} else {
			score = computed
		}
	}

	if flow.StateData == nil {
		flow.StateData = models.StateData{}
	}
	flow.StateData["readiness_score"] = score
	flow.Status = models.FlowStatusCompleted
	flow.ProgressPercentage = 100.0
	if flow.CompletedAt == nil {
		now := time.Now().UTC()
		flow.CompletedAt = &now
	}

	fields := map[string]any{
		"status":              flow.Status,
		"progress_percentage": flow.ProgressPercentage,
		"state_data":          flow.StateData,
		"completed_at":        flow.CompletedAt,
	}
	rows, err := s.store.UpdateFlowFields(ctx, flow.FlowID, scope, fields)
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrNotFound
	}

	s.flowCompletions.Add(ctx, 1)
	s.logger.Info("discovery flow completed", "flow_id", flow.FlowID, "readiness_overall", score.Overall)

	s.invalidateFlowCache(ctx, flow)
	s.master.AppendPhaseTransition(ctx, flow.FlowID, "completion", string(models.FlowStatusCompleted),
		map[string]any{"readiness_score": score.Overall, "assessment_ready": score.AssessmentReady})
	return nil
}

// UpdateFlowStatus is the externally-forced status transition, distinct
// from the phase-driven path. A waiting_for_approval transition also
// forces current_phase to field_mapping. Terminal flows are immutable.
func (s *FlowService) UpdateFlowStatus(ctx context.Context, scope models.TenantScope, flowID uuid.UUID, statusRaw string, progress *float64) (*models.DiscoveryFlow, error) {
	status, err := models.ParseFlowStatus(statusRaw)
	if err != nil {
		return nil, err
	}

	flow, err := s.store.GetFlow(ctx, flowID, scope)
	if err != nil {
		return nil, err
	}
	if flow.Status.IsTerminal() && status != flow.Status {
		return nil, fmt.Errorf("%w: flow %s is %s", models.ErrInvalidStatus, flowID, flow.Status)
	}

	fields := map[string]any{"status": status}
	flow.Status = status
	if status == models.FlowStatusWaitingForApproval {
		flow.CurrentPhase = string(models.PhaseFieldMapping)
		fields["current_phase"] = flow.CurrentPhase
	}
	if progress != nil {
		p := *progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		flow.ProgressPercentage = p
		fields["progress_percentage"] = p
	}
	if status.IsTerminal() && (status == models.FlowStatusComplete || status == models.FlowStatusCompleted) && flow.CompletedAt == nil {
		now := time.Now().UTC()
		flow.CompletedAt = &now
		fields["completed_at"] = flow.CompletedAt
	}

	rows, err := s.store.UpdateFlowFields(ctx, flowID, scope, fields)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, models.ErrNotFound
	}

	s.invalidateFlowCache(ctx, flow)
	return flow, nil
}

// GetFlow returns a flow scoped by tenant.
func (s *FlowService) GetFlow(ctx context.Context, scope models.TenantScope, flowID uuid.UUID) (*models.DiscoveryFlow, error) {
	return s.store.GetFlow(ctx, flowID, scope)
}
