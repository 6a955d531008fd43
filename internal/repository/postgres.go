package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"migration-platform/backend/internal/logging"
	"migration-platform/backend/pkg/models"
)

// Schema is the DDL for the tables this store owns. Applied by tests and
// by `flowctl seed`; production migrations live with the deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS master_flows (
	id UUID PRIMARY KEY,
	flow_id UUID NOT NULL UNIQUE,
	flow_type TEXT NOT NULL,
	status TEXT NOT NULL,
	config JSONB NOT NULL DEFAULT '{}'::jsonb,
	phase_transitions JSONB NOT NULL DEFAULT '[]'::jsonb,
	agent_collaborations JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_by TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS discovery_flows (
	id UUID PRIMARY KEY,
	flow_id UUID NOT NULL UNIQUE,
	client_account_id UUID NOT NULL,
	engagement_id UUID NOT NULL,
	master_flow_id UUID REFERENCES master_flows(id),
	status TEXT NOT NULL,
	current_phase TEXT NOT NULL DEFAULT '',
	data_import_completed BOOLEAN NOT NULL DEFAULT FALSE,
	data_validation_completed BOOLEAN NOT NULL DEFAULT FALSE,
	field_mapping_completed BOOLEAN NOT NULL DEFAULT FALSE,
	data_cleansing_completed BOOLEAN NOT NULL DEFAULT FALSE,
	asset_inventory_completed BOOLEAN NOT NULL DEFAULT FALSE,
	progress_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
	state_data JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_discovery_flows_tenant
	ON discovery_flows (client_account_id, engagement_id);
CREATE INDEX IF NOT EXISTS idx_discovery_flows_master
	ON discovery_flows (master_flow_id);
`

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, letting the same
// store run inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore is the PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	db     DBTX
	logger *logging.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool, logger *logging.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// updatableFlowColumns is the whitelist for UpdateFlowFields. Anything else
// is a programming error, rejected before the query is built.
var updatableFlowColumns = map[string]bool{
	"status":                    true,
	"current_phase":             true,
	"progress_percentage":       true,
	"state_data":                true,
	"master_flow_id":            true,
	"completed_at":              true,
	"data_import_completed":     true,
	"data_validation_completed": true,
	"field_mapping_completed":   true,
	"data_cleansing_completed":  true,
	"asset_inventory_completed": true,
}

const flowColumns = `id, flow_id, client_account_id, engagement_id, master_flow_id,
	status, current_phase,
	data_import_completed, data_validation_completed, field_mapping_completed,
	data_cleansing_completed, asset_inventory_completed,
	progress_percentage, state_data, created_at, updated_at, completed_at`

func scanFlow(row pgx.Row) (*models.DiscoveryFlow, error) {
	var f models.DiscoveryFlow
	err := row.Scan(
		&f.ID, &f.FlowID, &f.ClientAccountID, &f.EngagementID, &f.MasterFlowID,
		&f.Status, &f.CurrentPhase,
		&f.DataImportCompleted, &f.DataValidationCompleted, &f.FieldMappingCompleted,
		&f.DataCleansingCompleted, &f.AssetInventoryCompleted,
		&f.ProgressPercentage, &f.StateData, &f.CreatedAt, &f.UpdatedAt, &f.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateFlow inserts a new flow row.
func (s *PostgresStore) CreateFlow(ctx context.Context, flow *models.DiscoveryFlow) error {
	if flow.ID == uuid.Nil {
		flow.ID = uuid.New()
	}
	if flow.StateData == nil {
		flow.StateData = models.StateData{}
	}
	_, err := s.db.Exec(ctx, `INSERT INTO discovery_flows
		(id, flow_id, client_account_id, engagement_id, master_flow_id, status, current_phase,
		 progress_percentage, state_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())`,
		flow.ID, flow.FlowID, flow.ClientAccountID, flow.EngagementID, flow.MasterFlowID,
		flow.Status, flow.CurrentPhase, flow.ProgressPercentage, flow.StateData,
	)
	return err
}

// GetFlow retrieves a flow by flow id, scoped by tenant.
func (s *PostgresStore) GetFlow(ctx context.Context, flowID uuid.UUID, scope models.TenantScope) (*models.DiscoveryFlow, error) {
	return scanFlow(s.db.QueryRow(ctx, `SELECT `+flowColumns+`
		FROM discovery_flows
		WHERE flow_id = $1 AND client_account_id = $2 AND engagement_id = $3`,
		flowID, scope.ClientAccountID, scope.EngagementID))
}

// GetFlowForUpdate retrieves a flow with a row lock.
func (s *PostgresStore) GetFlowForUpdate(ctx context.Context, flowID uuid.UUID, scope models.TenantScope) (*models.DiscoveryFlow, error) {
	return scanFlow(s.db.QueryRow(ctx, `SELECT `+flowColumns+`
		FROM discovery_flows
		WHERE flow_id = $1 AND client_account_id = $2 AND engagement_id = $3
		FOR UPDATE`,
		flowID, scope.ClientAccountID, scope.EngagementID))
}

// GetFlowUnscoped retrieves a flow without tenant filtering. Audit logged
// on every call; see the Store interface for the contract.
func (s *PostgresStore) GetFlowUnscoped(ctx context.Context, flowID uuid.UUID, requestor models.TenantScope) (*models.DiscoveryFlow, error) {
	s.logger.Warn("security audit: unscoped flow lookup",
		"flow_id", flowID,
		"requesting_client_account_id", requestor.ClientAccountID,
		"requesting_engagement_id", requestor.EngagementID,
	)
	return scanFlow(s.db.QueryRow(ctx, `SELECT `+flowColumns+`
		FROM discovery_flows WHERE flow_id = $1`, flowID))
}

// UpdateFlowFields writes the given columns in a single statement scoped by
// (flow_id, tenant). updated_at is always refreshed.
func (s *PostgresStore) UpdateFlowFields(ctx context.Context, flowID uuid.UUID, scope models.TenantScope, fields map[string]any) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !updatableFlowColumns[col] {
			return 0, fmt.Errorf("column %q is not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	set := "updated_at = now()"
	args := []any{flowID, scope.ClientAccountID, scope.EngagementID}
	for _, col := range cols {
		args = append(args, fields[col])
		set += fmt.Sprintf(", %s = $%d", col, len(args))
	}

	tag, err := s.db.Exec(ctx, `UPDATE discovery_flows SET `+set+`
		WHERE flow_id = $1 AND client_account_id = $2 AND engagement_id = $3`, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SetMasterFlowIDIfNull repairs a NULL master_flow_id reference. The
// IS NULL guard keeps this narrowly scoped to self-healing.
func (s *PostgresStore) SetMasterFlowIDIfNull(ctx context.Context, flowID uuid.UUID, masterFlowID uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE discovery_flows
		SET master_flow_id = $2, updated_at = now()
		WHERE flow_id = $1 AND master_flow_id IS NULL`,
		flowID, masterFlowID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteFlow removes a flow row scoped by tenant.
func (s *PostgresStore) DeleteFlow(ctx context.Context, flowID uuid.UUID, scope models.TenantScope) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM discovery_flows
		WHERE flow_id = $1 AND client_account_id = $2 AND engagement_id = $3`,
		flowID, scope.ClientAccountID, scope.EngagementID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// stuckStatuses are the statuses the maintenance sweep may fail. Paused is
// excluded: a paused flow is held on purpose, however old it is.
var stuckStatuses = []string{
	string(models.FlowStatusInitialized),
	string(models.FlowStatusRunning),
	string(models.FlowStatusWaitingForApproval),
}

// MarkStuckFlowsFailed fails flows with zero progress past the cutoff.
// Flows that made any progress at all are never touched.
func (s *PostgresStore) MarkStuckFlowsFailed(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE discovery_flows
		SET status = $1, updated_at = now()
		WHERE status = ANY($2)
		  AND progress_percentage = 0.0
		  AND created_at < $3`,
		models.FlowStatusFailed, stuckStatuses, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetMasterFlowByFlowID retrieves the master flow sharing the flow id.
func (s *PostgresStore) GetMasterFlowByFlowID(ctx context.Context, flowID uuid.UUID) (*models.MasterFlow, error) {
	var m models.MasterFlow
	err := s.db.QueryRow(ctx, `SELECT id, flow_id, flow_type, status, config,
		phase_transitions, agent_collaborations, created_by, created_at, updated_at
		FROM master_flows WHERE flow_id = $1`, flowID).Scan(
		&m.ID, &m.FlowID, &m.FlowType, &m.Status, &m.Config,
		&m.PhaseTransitions, &m.AgentCollaborations, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMasterFlow inserts a master flow record.
func (s *PostgresStore) CreateMasterFlow(ctx context.Context, master *models.MasterFlow) error {
	if master.ID == uuid.Nil {
		master.ID = uuid.New()
	}
	if master.Config == nil {
		master.Config = map[string]any{}
	}
	_, err := s.db.Exec(ctx, `INSERT INTO master_flows
		(id, flow_id, flow_type, status, config, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
		master.ID, master.FlowID, master.FlowType, master.Status, master.Config, master.CreatedBy,
	)
	return err
}

// UpdateMasterFlowStatus sets the master status and appends the given
// entries to the JSONB transition and collaboration logs.
func (s *PostgresStore) UpdateMasterFlowStatus(ctx context.Context, flowID uuid.UUID, status string, phaseData map[string]any, collaboration map[string]any) error {
	set := "status = $2, updated_at = now()"
	args := []any{flowID, status}
	if phaseData != nil {
		args = append(args, []map[string]any{phaseData})
		set += fmt.Sprintf(", phase_transitions = phase_transitions || $%d::jsonb", len(args))
	}
	if collaboration != nil {
		args = append(args, []map[string]any{collaboration})
		set += fmt.Sprintf(", agent_collaborations = agent_collaborations || $%d::jsonb", len(args))
	}
	tag, err := s.db.Exec(ctx, `UPDATE master_flows SET `+set+` WHERE flow_id = $1`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// WithTx runs fn against a transaction-bound store. pgx savepoints make
// nested calls safe.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&PostgresStore{db: tx, logger: s.logger}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
