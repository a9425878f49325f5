package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/errdefs"
	"github.com/wardenhq/warden/pkg/storage"
)

// Store persists audit records. It exposes Insert and Search only; the
// database triggers reject any UPDATE or DELETE regardless of access path.
type Store struct{}

// NewStore creates an audit store.
func NewStore() *Store {
	return &Store{}
}

// Insert appends a record using q, which is typically the transaction of
// the mutation being audited.
func (s *Store) Insert(ctx context.Context, q storage.Querier, rec *Record) error {
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO audit_records (
			business_type, target_id, operation_type,
			actor_id, actor_name, tenant_id, request_id, reason,
			before_state, after_state, metadata, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		rec.BusinessType, rec.TargetID, rec.OperationType,
		rec.ActorID, rec.ActorName, rec.TenantID, rec.RequestID, rec.Reason,
		nullableJSON(rec.Before), nullableJSON(rec.After), nullableJSON(rec.Metadata),
		rec.OccurredAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", translateAppendOnly(err))
	}
	return nil
}

// SearchFilter narrows a Search query. Zero-valued fields are ignored.
type SearchFilter struct {
	BusinessType  string
	OperationType string
	TargetID      *int64
	TenantID      *int64
	ActorID       *int64
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

// Search returns records matching the filter, newest first.
func (s *Store) Search(ctx context.Context, q storage.Querier, filter SearchFilter) ([]*Record, error) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.BusinessType != "" {
		add("business_type = $%d", filter.BusinessType)
	}
	if filter.OperationType != "" {
		add("operation_type = $%d", filter.OperationType)
	}
	if filter.TargetID != nil {
		add("target_id = $%d", *filter.TargetID)
	}
	if filter.TenantID != nil {
		add("tenant_id = $%d", *filter.TenantID)
	}
	if filter.ActorID != nil {
		add("actor_id = $%d", *filter.ActorID)
	}
	if filter.From != nil {
		add("occurred_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("occurred_at < $%d", *filter.To)
	}

	query := `SELECT id, business_type, target_id, operation_type,
		actor_id, actor_name, tenant_id, request_id, reason,
		before_state, after_state, metadata, occurred_at
	FROM audit_records`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		var before, after, metadata []byte
		err := rows.Scan(&rec.ID, &rec.BusinessType, &rec.TargetID, &rec.OperationType,
			&rec.ActorID, &rec.ActorName, &rec.TenantID, &rec.RequestID, &rec.Reason,
			&before, &after, &metadata, &rec.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Before = before
		rec.After = after
		rec.Metadata = metadata
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return records, nil
}

// nullableJSON maps an empty payload to SQL NULL.
func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

// translateAppendOnly maps the trigger rejection to the typed error.
func translateAppendOnly(err error) error {
	if err != nil && strings.Contains(err.Error(), "append-only") {
		return &errdefs.ImmutableRecordError{Table: "audit_records"}
	}
	return err
}
