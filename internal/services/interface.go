package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"migration-platform/backend/pkg/models"
)

// ReadinessScorer computes an assessment-readiness score for a completed
// discovery flow. Optional collaborator: when nil or failing, the
// coordinator substitutes models.FallbackReadinessScore.
type ReadinessScorer interface {
	Compute(ctx context.Context, stateData models.StateData) (models.ReadinessScore, error)
}

// FlowCache invalidates externally cached flow views. Best-effort: a
// failed delete is logged, never propagated.
type FlowCache interface {
	Delete(ctx context.Context, key string) error
}

// MasterFlowCacheKey is the cache key for the flow view keyed by master
// flow id.
func MasterFlowCacheKey(masterFlowID uuid.UUID) string {
	return fmt.Sprintf("v1:flow:discovery:by_master:%s", masterFlowID)
}
