package models

import (
	"github.com/google/uuid"
)

// TenantScope identifies the (client account, engagement) pair that owns a
// flow. Every storage read and write is filtered by this pair; the only
// exception is the audited duplicate-check lookup used by idempotent create.
type TenantScope struct {
	ClientAccountID uuid.UUID `json:"client_account_id"`
	EngagementID    uuid.UUID `json:"engagement_id"`
}

// IsZero reports whether the scope is missing either identifier.
func (s TenantScope) IsZero() bool {
	return s.ClientAccountID == uuid.Nil || s.EngagementID == uuid.Nil
}
