package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"migration-platform/backend/internal/logging"
	"migration-platform/backend/internal/repository"
	"migration-platform/backend/pkg/models"
)

type stubScorer struct {
	score models.ReadinessScore
	err   error
}

func (s *stubScorer) Compute(ctx context.Context, stateData models.StateData) (models.ReadinessScore, error) {
	return s.score, s.err
}

type recordingCache struct {
	deleted []string
	err     error
}

func (c *recordingCache) Delete(ctx context.Context, key string) error {
	c.deleted = append(c.deleted, key)
	return c.err
}

func newTestFlowService(store repository.Store, scorer ReadinessScorer, cache FlowCache) *FlowService {
	logger := logging.NewLogger()
	master := NewMasterFlowManager(store, logger)
	return NewFlowService(store, master, scorer, cache, logger)
}

// seedFlow creates a flow with a master record, the way LifecycleService
// would, and returns it with its scope.
func seedFlow(t *testing.T, store *repository.MemoryStore, status models.FlowStatus) (*models.DiscoveryFlow, models.TenantScope) {
	t.Helper()
	ctx := context.Background()

	scope := models.TenantScope{ClientAccountID: uuid.New(), EngagementID: uuid.New()}
	flowID := uuid.New()

	master := &models.MasterFlow{
		ID:       uuid.New(),
		FlowID:   flowID,
		FlowType: "discovery",
		Status:   string(models.FlowStatusInitialized),
	}
	require.NoError(t, store.CreateMasterFlow(ctx, master))

	flow := &models.DiscoveryFlow{
		FlowID:          flowID,
		ClientAccountID: scope.ClientAccountID,
		EngagementID:    scope.EngagementID,
		MasterFlowID:    &master.ID,
		Status:          status,
		StateData:       models.StateData{},
	}
	require.NoError(t, store.CreateFlow(ctx, flow))
	return flow, scope
}

func TestUpdatePhaseCompletion_InvalidPhaseFailsFast(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestFlowService(store, nil, nil)
	flow, scope := seedFlow(t, store, models.FlowStatusInitialized)

	_, err := svc.UpdatePhaseCompletion(ctx, scope, flow.FlowID, PhaseUpdate{Phase: "quantum_analysis", Completed: true})
	assert.ErrorIs(t, err, models.ErrInvalidPhase)

	// No partial state change.
	reloaded, err := store.GetFlow(ctx, flow.FlowID, scope)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusInitialized, reloaded.Status)
	assert.Equal(t, 0.0, reloaded.ProgressPercentage)
}

func TestUpdatePhaseCompletion_FlowNotFound(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestFlowService(store, nil, nil)

	scope := models.TenantScope{ClientAccountID: uuid.New(), EngagementID: uuid.New()}
	_, err := svc.UpdatePhaseCompletion(context.Background(), scope, uuid.New(), PhaseUpdate{Phase: "data_import"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdatePhaseCompletion_TenantIsolation(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := newTestFlowService(store, nil, nil)
	flow, _ := seedFlow(t, store, models.FlowStatusRunning)

	otherScope := models.TenantScope{ClientAccountID: uuid.New(), EngagementID: uuid.New()}
	_, err := svc.UpdatePhaseCompletion(context.Background(), otherScope, flow.FlowID, PhaseUpdate{Phase: "data_import"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = svc.GetFlow(context.Background(), otherScope, flow.FlowID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdatePhaseCompletion_MergesAndTransitions(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestFlowService(store, nil, nil)
	flow, scope := seedFlow(t, store, models.FlowStatusInitialized)

	payload := map[string]any{
		"source_files":      []any{"inventory.csv"},
		"records_processed": 240,
		"records_total":     250,
	}
	updated, err := svc.UpdatePhaseCompletion(ctx, scope, flow.FlowID, PhaseUpdate{
		Phase:         "data_import",
		Payload:       payload,
		Completed:     true,
		AgentInsights: []any{map[string]any{"note": "header row detected"}},
	})
	require.NoError(t, err)

	assert.Equal(t, models.FlowStatusRunning, updated.Status)
	assert.Equal(t, "data_import", updated.CurrentPhase)
	assert.Equal(t, 20.0, updated.ProgressPercentage)
	assert.True(t, updated.DataImportCompleted)

	// Payload stored under the phase key, stats hoisted to top level.
	assert.Equal(t, payload, updated.StateData["data_import"])
	assert.Equal(t, 240, updated.StateData["records_processed"])
	assert.Equal(t, 250, updated.StateData["records_total"])

	insights, ok := updated.StateData["agent_insights"].([]any)
	require.True(t, ok)
	assert.Len(t, insights, 1)
}

func TestUpdatePhaseCompletion_AgentInsightsAppend(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestFlowService(store, nil, nil)
	flow, scope := seedFlow(t, store, models.FlowStatusRunning)

	_, err := svc.UpdatePhaseCompletion(ctx, scope, flow.FlowID, PhaseUpdate{
		Phase:         "data_import",
		AgentInsights: []any{"first"},
	})
	require.NoError(t, err)

	updated, err := svc.UpdatePhaseCompletion(ctx, scope, flow.FlowID, PhaseUpdate{
		Phase:         "data_validation",
		AgentInsights: []any{"second", "third"},
	})
	require.NoError(t, err)

	insights := updated.StateData["agent_insights"].([]any)
	assert.Equal(t, []any{"first", "second", "third"}, insights)
}

func TestUpdatePhaseCompletion_LegacyAlias(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestFlowService(store, nil, nil)
	flow, scope := seedFlow(t, store, models.FlowStatusRunning)

	updated, err := svc.UpdatePhaseCompletion(ctx, scope, flow.FlowID, PhaseUpdate{Phase: "attribute_mapping", Completed: true})
	require.NoError(t, err)

	assert.True(t, updated.FieldMappingCompleted)
	assert.Equal(t, "field_mapping", updated.CurrentPhase)
}

func TestUpdatePhaseCompletion_MonotonicFlags(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestFlowService(store, nil, nil)
	flow, scope := seedFlow(t, store, models.FlowStatusRunning)

	_, err := svc.UpdatePhaseCompletion(ctx, scope, flow.FlowID, PhaseUpdate{Phase: "data_import", Completed: true})
	require.NoError(t, err)

	// A later non-completing update for the same phase never unsets the flag.
	updated, err := svc.UpdatePhaseCompletion(ctx, scope, flow.FlowID, PhaseUpdate{
		Phase:   "data_import",
		Payload: map[string]any{"rerun": true},
	})
	require.NoError(t, err)
	assert.True(t, updated.DataImportCompleted)
	assert.Equal(t, 20.0, updated.ProgressPercentage)

	// Nor does activity on other phases.
	updated, err = svc.UpdatePhaseCompletion(ctx, scope, flow.FlowID, PhaseUpdate{Phase: "data_validation"})
	require.NoError(t, err)
	assert.True(t, updated.DataImportCompleted)
}

func TestUpdatePhaseCompletion_TerminalStatusImmutable(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestFlowService(store, nil, nil)

	for _, status := range []models.FlowStatus{models.FlowStatusFailed, models.FlowStatusDeleted} {
		flow, scope := seedFlow(t, store, status)

		updated, err := svc.UpdatePhaseCompletion(ctx, scope, flow.FlowID, PhaseUpdate{
			Phase:   "data_cleansing",
			Payload: map[string]any{"late": true},
		})
		require.NoError(t, err)

		// Status never resurrects, but state_data still accumulates.
		assert.Equal(t, status, updated.Status)
		assert.Equal(t, map[string]any{"late": true}, updated.StateData["data_cleansing"])
	}
}

func TestUpdatePhaseCompletion_AutoCompletesOnLastPhase(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestFlowService(store, nil, nil)
	flow, scope := seedFlow(t, store, models.FlowStatusRunning)

	for _, phase := range []string{"data_import", "data_validation", "field_mapping", "data_cleansing"} {
		_, err := svc.UpdatePhaseCompletion(ctx, scope, flow.FlowID, PhaseUpdate{Phase: phase, Completed: true})
		require.NoError(t, err)
	}

	mid, err := store.GetFlow(ctx, flow.FlowID, scope)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusRunning, mid.Status)
	assert.Equal(t, 80.0, mid.ProgressPercentage)
	assert.Nil(t, mid.CompletedAt)

	updated, err := svc.UpdatePhaseCompletion(ctx, scope, flow.FlowID, PhaseUpdate{Phase: "asset_inventory", Completed: true})
	require.NoError(t, err)

	assert.Equal(t, models.FlowStatusCompleted, updated.Status)
	assert.Equal(t, 100.0, updated.ProgressPercentage)
	require.NotNil(t, updated.CompletedAt)

	// Fallback readiness score recorded without a scorer configured.
	score, ok := updated.StateData["readiness_score"].(models.ReadinessScore)
	require.True(t, ok)
	assert.Equal(t, models.FallbackReadinessScore(), score)

	// Master flow saw the completion notification.
	master, err := store.GetMasterFlowByFlowID(ctx, flow.FlowID)
	require.NoError(t, err)
	assert.Equal(t, string(models.FlowStatusCompleted), master.Status)
	assert.NotEmpty(t, master.PhaseTransitions)
}

func TestCompleteFlow_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestFlowService(store, nil, nil)
	flow, scope := seedFlow(t, store, models.FlowStatusRunning)

	first, err := svc.CompleteFlow(ctx, scope, flow.FlowID)
	require.NoError(t, err)
	require.NotNil(t, first.CompletedAt)
	completedAt := *first.CompletedAt

	time.Sleep(5 * time.Millisecond)

	second, err := svc.CompleteFlow(ctx, scope, flow.FlowID)
	require.NoError(t, err)
	require.NotNil(t, second.CompletedAt)
	assert.Equal(t, completedAt, *second.CompletedAt)
	assert.Equal(t, models.FlowStatusCompleted, second.Status)
}

func TestCompleteFlow_UsesScorerWhenAvailable(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	want := models.ReadinessScore{Overall: 97.5, DataQuality: 99.0, AssessmentReady: true}
	svc := newTestFlowService(store, &stubScorer{score: want}, nil)
	flow, scope := seedFlow(t, store, models.FlowStatusRunning)

	updated, err := svc.CompleteFlow(ctx, scope, flow.FlowID)
	require.NoError(t, err)
	assert.Equal(t, want, updated.StateData["readiness_score"])
}

func TestCompleteFlow_ScorerFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestFlowService(store, &stubScorer{err: errors.New("sidecar down")}, nil)
	flow, scope := seedFlow(t, store, models.FlowStatusRunning)

	updated, err := svc.CompleteFlow(ctx, scope, flow.FlowID)
	require.NoError(t, err)
	assert.Equal(t, models.FallbackReadinessScore(), updated.StateData["readiness_score"])
	assert.Equal(t, models.FlowStatusCompleted, updated.Status)
}

func TestUpdatePhaseCompletion_CacheFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	cache := &recordingCache{err: errors.New("connection refused")}
	svc := newTestFlowService(store, nil, cache)
	flow, scope := seedFlow(t, store, models.FlowStatusRunning)

	updated, err := svc.UpdatePhaseCompletion(ctx, scope, flow.FlowID, PhaseUpdate{Phase: "data_import", Completed: true})
	require.NoError(t, err)
	assert.True(t, updated.DataImportCompleted)

	require.NotEmpty(t, cache.deleted)
	assert.Equal(t, MasterFlowCacheKey(*flow.MasterFlowID), cache.deleted[0])
}

func TestUpdateFlowStatus_WaitingForApprovalForcesFieldMapping(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestFlowService(store, nil, nil)
	flow, scope := seedFlow(t, store, models.FlowStatusRunning)

	updated, err := svc.UpdateFlowStatus(ctx, scope, flow.FlowID, "waiting_for_approval", nil)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusWaitingForApproval, updated.Status)
	assert.Equal(t, "field_mapping", updated.CurrentPhase)
}

func TestUpdateFlowStatus_RejectsUnknownAndTerminal(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestFlowService(store, nil, nil)

	flow, scope := seedFlow(t, store, models.FlowStatusRunning)
	_, err := svc.UpdateFlowStatus(ctx, scope, flow.FlowID, "archived", nil)
	assert.ErrorIs(t, err, models.ErrInvalidStatus)

	done, scope2 := seedFlow(t, store, models.FlowStatusCompleted)
	_, err = svc.UpdateFlowStatus(ctx, scope2, done.FlowID, "running", nil)
	assert.ErrorIs(t, err, models.ErrInvalidStatus)
}

func TestUpdateFlowStatus_ClampsProgress(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestFlowService(store, nil, nil)
	flow, scope := seedFlow(t, store, models.FlowStatusRunning)

	over := 140.0
	updated, err := svc.UpdateFlowStatus(ctx, scope, flow.FlowID, "running", &over)
	require.NoError(t, err)
	assert.Equal(t, 100.0, updated.ProgressPercentage)

	under := -3.0
	updated, err = svc.UpdateFlowStatus(ctx, scope, flow.FlowID, "running", &under)
	require.NoError(t, err)
	assert.Equal(t, 0.0, updated.ProgressPercentage)
}

// seedOrphanFlow creates a flow with no master record and a NULL master
// reference, the shape of rows written before master linkage existed.
func seedOrphanFlow(t *testing.T, store *repository.MemoryStore) (*models.DiscoveryFlow, models.TenantScope) {
	t.Helper()
	scope := models.TenantScope{ClientAccountID: uuid.New(), EngagementID: uuid.New()}
	flow := &models.DiscoveryFlow{
		FlowID:          uuid.New(),
		ClientAccountID: scope.ClientAccountID,
		EngagementID:    scope.EngagementID,
		Status:          models.FlowStatusRunning,
		StateData:       models.StateData{},
	}
	require.NoError(t, store.CreateFlow(context.Background(), flow))
	return flow, scope
}

func TestUpdatePhaseCompletion_HealsMissingMasterReference(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	cache := &recordingCache{}
	svc := newTestFlowService(store, nil, cache)
	flow, scope := seedOrphanFlow(t, store)

	updated, err := svc.UpdatePhaseCompletion(ctx, scope, flow.FlowID, PhaseUpdate{
		Phase:      "data_import",
		Completed:  true,
		CrewStatus: "done",
	})
	require.NoError(t, err)
	require.NotNil(t, updated.MasterFlowID)

	// The master record now exists and carries the enrichment that would
	// otherwise have been dropped.
	master, err := store.GetMasterFlowByFlowID(ctx, flow.FlowID)
	require.NoError(t, err)
	assert.Equal(t, *updated.MasterFlowID, master.ID)
	require.NotEmpty(t, master.PhaseTransitions)
	assert.Equal(t, "data_import", master.PhaseTransitions[0]["phase"])
	require.NotEmpty(t, master.AgentCollaborations)

	// The repair is persisted, not just in-memory.
	reloaded, err := store.GetFlow(ctx, flow.FlowID, scope)
	require.NoError(t, err)
	require.NotNil(t, reloaded.MasterFlowID)
	assert.Equal(t, master.ID, *reloaded.MasterFlowID)

	// Cache invalidation has a key to act on again.
	require.NotEmpty(t, cache.deleted)
	assert.Equal(t, MasterFlowCacheKey(master.ID), cache.deleted[0])
}

func TestCompleteFlow_HealsMissingMasterReference(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := newTestFlowService(store, nil, nil)
	flow, scope := seedOrphanFlow(t, store)

	completed, err := svc.CompleteFlow(ctx, scope, flow.FlowID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusCompleted, completed.Status)
	require.NotNil(t, completed.MasterFlowID)

	master, err := store.GetMasterFlowByFlowID(ctx, flow.FlowID)
	require.NoError(t, err)
	assert.Equal(t, *completed.MasterFlowID, master.ID)
	require.NotEmpty(t, master.PhaseTransitions)
	assert.Equal(t, "completion", master.PhaseTransitions[0]["phase"])
}
