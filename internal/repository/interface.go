package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"migration-platform/backend/pkg/models"
)

// Store is the persistence boundary for discovery flows and their master
// flow records. Implementations map "no rows" to models.ErrNotFound.
type Store interface {
	// CreateFlow inserts a new flow row.
	CreateFlow(ctx context.Context, flow *models.DiscoveryFlow) error
	// GetFlow retrieves a flow by its external flow id, scoped by tenant.
	GetFlow(ctx context.Context, flowID uuid.UUID, scope models.TenantScope) (*models.DiscoveryFlow, error)
	// GetFlowForUpdate is GetFlow with a row lock. Only meaningful inside
	// WithTx; it is what keeps concurrent phase updates from computing
	// progress off a stale snapshot.
	GetFlowForUpdate(ctx context.Context, flowID uuid.UUID, scope models.TenantScope) (*models.DiscoveryFlow, error)
	// GetFlowUnscoped retrieves a flow without tenant filtering. System-only
	// path used for idempotent-create deduplication; every call is audit
	// logged with the requesting tenant, and callers must re-verify
	// ownership before handing the result to a tenant-scoped caller.
	GetFlowUnscoped(ctx context.Context, flowID uuid.UUID, requestor models.TenantScope) (*models.DiscoveryFlow, error)
	// UpdateFlowFields writes the given whitelisted columns in one statement
	// scoped by (flow_id, tenant) and returns the number of rows affected.
	UpdateFlowFields(ctx context.Context, flowID uuid.UUID, scope models.TenantScope, fields map[string]any) (int64, error)
	// SetMasterFlowIDIfNull repairs a NULL master_flow_id reference. The
	// IS NULL guard is part of the contract: an existing non-null value is
	// never overwritten. Returns whether a row changed.
	SetMasterFlowIDIfNull(ctx context.Context, flowID uuid.UUID, masterFlowID uuid.UUID) (bool, error)
	// DeleteFlow removes a flow row scoped by tenant; dependent child rows
	// cascade via foreign keys. Returns the number of rows removed.
	DeleteFlow(ctx context.Context, flowID uuid.UUID, scope models.TenantScope) (int64, error)
	// MarkStuckFlowsFailed fails every flow still at zero progress, in a
	// non-terminal status, created before the cutoff. Returns the count.
	MarkStuckFlowsFailed(ctx context.Context, cutoff time.Time) (int64, error)

	// GetMasterFlowByFlowID retrieves the master flow sharing the flow id.
	GetMasterFlowByFlowID(ctx context.Context, flowID uuid.UUID) (*models.MasterFlow, error)
	// CreateMasterFlow inserts a master flow record.
	CreateMasterFlow(ctx context.Context, master *models.MasterFlow) error
	// UpdateMasterFlowStatus sets the master status and appends the given
	// phase-transition and agent-collaboration entries to its JSONB logs.
	UpdateMasterFlowStatus(ctx context.Context, flowID uuid.UUID, status string, phaseData map[string]any, collaboration map[string]any) error

	// WithTx runs fn against a transaction-bound Store, committing on nil
	// and rolling back on error.
	WithTx(ctx context.Context, fn func(Store) error) error
}
