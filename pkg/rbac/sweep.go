package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/storage"
)

// SweepResult reports how many rows an expiry sweep deactivated.
type SweepResult struct {
	RolePermissions int64
	UserRoles       int64
	Memberships     int64
}

// Total returns the sum across tables.
func (r *SweepResult) Total() int64 {
	return r.RolePermissions + r.UserRoles + r.Memberships
}

// SweepExpired deactivates grants, assignments, and memberships whose
// window closed at or before the given instant. Unbounded rows are never
// touched, and a second sweep over the same instant flips nothing. limit
// caps rows flipped per table; zero means unbounded.
//
// Each table that had rows flipped yields one audit record, written under
// a system operation context inside the sweep's transaction.
func (e *Engine) SweepExpired(ctx context.Context, before time.Time, limit int) (*SweepResult, error) {
	start := time.Now()
	result := &SweepResult{}

	// One request id per run ties the per-table audit records together.
	runID := uuid.NewString()

	err := storage.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		var err error
		result.RolePermissions, err = e.sweepTable(ctx, tx, sweepSpec{
			runID: runID,
			table: "role_permissions", flag: "is_granted", expiry: "effective_to",
			businessType: BusinessTypeRolePermission,
			set:          "is_granted = FALSE, revoked_at = $1, updated_at = $1",
		}, before, now, limit)
		if err != nil {
			return err
		}

		result.UserRoles, err = e.sweepTable(ctx, tx, sweepSpec{
			runID: runID,
			table: "user_roles", flag: "is_assigned", expiry: "effective_to",
			businessType: BusinessTypeUserRole,
			set:          "is_assigned = FALSE, revoked_at = $1, updated_at = $1",
		}, before, now, limit)
		if err != nil {
			return err
		}

		result.Memberships, err = e.sweepTable(ctx, tx, sweepSpec{
			runID: runID,
			table: "tenant_users", flag: "is_assigned", expiry: "expires_at",
			businessType: "tenant_user",
			set:          "is_assigned = FALSE, is_primary = FALSE, updated_at = $1",
		}, before, now, limit)
		if err != nil {
			return err
		}

		return nil
	})

	if e.metrics != nil {
		e.metrics.SweepRunsTotal.Inc()
		e.metrics.SweepDurationSecs.Observe(time.Since(start).Seconds())
		if err != nil {
			e.metrics.SweepFailuresTotal.Inc()
		}
	}
	if err != nil {
		return nil, err
	}

	if e.logger != nil && result.Total() > 0 {
		e.logger.WithFields(map[string]interface{}{
			"role_permissions": result.RolePermissions,
			"user_roles":       result.UserRoles,
			"memberships":      result.Memberships,
		}).Info("expiry sweep deactivated rows")
	}
	return result, nil
}

type sweepSpec struct {
	runID        string
	table        string
	flag         string
	expiry       string
	businessType string
	set          string
}

func (e *Engine) sweepTable(ctx context.Context, tx *sql.Tx, spec sweepSpec, before, now time.Time, limit int) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET %s
		WHERE %s AND NOT is_deleted AND %s IS NOT NULL AND %s <= $2`,
		spec.table, spec.set, spec.flag, spec.expiry, spec.expiry)
	args := []interface{}{now, before}

	if limit > 0 {
		query = fmt.Sprintf(`
			UPDATE %s SET %s
			WHERE id IN (
				SELECT id FROM %s
				WHERE %s AND NOT is_deleted AND %s IS NOT NULL AND %s <= $2
				ORDER BY id LIMIT $3
			)`, spec.table, spec.set, spec.table, spec.flag, spec.expiry, spec.expiry)
		args = append(args, limit)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep %s: %w", spec.table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	if e.metrics != nil {
		e.metrics.SweepFlippedTotal.WithLabelValues(spec.table).Add(float64(n))
	}

	// Bulk operation: one record per table, under its own context so the
	// consume-once rule holds per record.
	sweepCtx := audit.WithOperation(ctx, &audit.OperationContext{
		BusinessType:  spec.businessType,
		OperationType: audit.OpCleanupExpired,
		ActorName:     "system",
		RequestID:     spec.runID,
		Metadata: map[string]interface{}{
			"rows":   n,
			"before": before.UTC().Format(time.RFC3339),
		},
	})
	if err := e.recorder.Record(sweepCtx, tx, 0, nil, map[string]interface{}{"deactivated": n}); err != nil {
		return 0, err
	}
	return n, nil
}
