package audit

import (
	"encoding/json"
	"time"
)

// Operation types recorded against audit records.
const (
	OpCreate         = "CREATE"
	OpUpdate         = "UPDATE"
	OpGrant          = "GRANT"
	OpRevoke         = "REVOKE"
	OpAssign         = "ASSIGN"
	OpActivate       = "ACTIVATE"
	OpUpdateWindow   = "UPDATE_WINDOW"
	OpDelete         = "DELETE"
	OpCleanupExpired = "CLEANUP_EXPIRED"
)

// Record is one immutable audit entry. Rows are append-only: database
// triggers reject UPDATE and DELETE on the backing table.
type Record struct {
	ID            int64
	BusinessType  string
	TargetID      int64
	OperationType string
	ActorID       *int64
	ActorName     string
	TenantID      *int64
	RequestID     string
	Reason        string
	Before        json.RawMessage
	After         json.RawMessage
	Metadata      json.RawMessage
	OccurredAt    time.Time
}
