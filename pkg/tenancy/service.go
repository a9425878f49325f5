package tenancy

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/errdefs"
	"github.com/wardenhq/warden/pkg/storage"
)

// BusinessType is the audit business type for membership mutations.
const BusinessType = "tenant_user"

// Service manages tenant-user memberships.
type Service struct {
	db       *sql.DB
	dialect  storage.Dialect
	recorder *audit.Recorder
}

// NewService creates a membership service.
func NewService(db *sql.DB, dialect storage.Dialect, recorder *audit.Recorder) *Service {
	return &Service{db: db, dialect: dialect, recorder: recorder}
}

const membershipColumns = `id, tenant_id, user_id, is_primary, is_assigned, expires_at,
	created_at, updated_at, is_deleted, deleted_at`

func scanMembership(row interface{ Scan(...interface{}) error }) (*Membership, error) {
	m := &Membership{}
	err := row.Scan(&m.ID, &m.TenantID, &m.UserID, &m.IsPrimary, &m.IsAssigned, &m.ExpiresAt,
		&m.CreatedAt, &m.UpdatedAt, &m.IsDeleted, &m.DeletedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// AssignUser adds a user to a tenant, reviving a soft-deleted or revoked
// membership row when one exists. When isPrimary is set, the user's
// previous primary membership is cleared in the same transaction; a
// partial unique index backstops the single-primary invariant.
func (s *Service) AssignUser(ctx context.Context, tenantID, userID int64, isPrimary bool, expiresAt *time.Time) (*Membership, error) {
	if err := s.checkTenantLive(ctx, tenantID); err != nil {
		return nil, err
	}
	if err := s.checkUserLive(ctx, userID); err != nil {
		return nil, err
	}

	var membership *Membership
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		if isPrimary {
			// Lock the user's current primary row before clearing it so
			// two concurrent assigns serialize.
			rows, err := tx.QueryContext(ctx,
				`SELECT id FROM tenant_users
				 WHERE user_id = $1 AND is_primary AND is_assigned AND NOT is_deleted`+s.dialect.ForUpdate(),
				userID)
			if err != nil {
				return fmt.Errorf("failed to lock primary membership: %w", err)
			}
			for rows.Next() {
			}
			err = rows.Err()
			rows.Close()
			if err != nil {
				return fmt.Errorf("failed to lock primary membership: %w", err)
			}

			if _, err := tx.ExecContext(ctx,
				`UPDATE tenant_users SET is_primary = FALSE, updated_at = $1
				 WHERE user_id = $2 AND is_primary AND is_assigned AND NOT is_deleted`,
				now, userID); err != nil {
				return fmt.Errorf("failed to clear previous primary: %w", err)
			}
		}

		existing, err := scanMembership(tx.QueryRowContext(ctx,
			`SELECT `+membershipColumns+` FROM tenant_users
			 WHERE tenant_id = $1 AND user_id = $2
			 ORDER BY is_deleted, id DESC
			 LIMIT 1`, tenantID, userID))
		switch {
		case err == sql.ErrNoRows:
			m := &Membership{
				TenantID: tenantID, UserID: userID,
				IsPrimary: isPrimary, IsAssigned: true, ExpiresAt: expiresAt,
				CreatedAt: now, UpdatedAt: now,
			}
			err := tx.QueryRowContext(ctx, `
				INSERT INTO tenant_users (tenant_id, user_id, is_primary, is_assigned, expires_at, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING id`,
				tenantID, userID, isPrimary, true, expiresAt, now, now,
			).Scan(&m.ID)
			if err != nil {
				if storage.IsUniqueViolation(err) {
					return errdefs.Conflict("tenant_user", "user already has a primary membership")
				}
				return fmt.Errorf("failed to insert membership: %w", err)
			}
			membership = m
		case err != nil:
			return fmt.Errorf("failed to query membership: %w", err)
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE tenant_users
				 SET is_assigned = TRUE, is_primary = $1, expires_at = $2,
				     is_deleted = FALSE, deleted_at = NULL, updated_at = $3
				 WHERE id = $4`,
				isPrimary, expiresAt, now, existing.ID); err != nil {
				if storage.IsUniqueViolation(err) {
					return errdefs.Conflict("tenant_user", "user already has a primary membership")
				}
				return fmt.Errorf("failed to revive membership: %w", err)
			}
			existing.IsAssigned = true
			existing.IsPrimary = isPrimary
			existing.ExpiresAt = expiresAt
			existing.IsDeleted = false
			existing.DeletedAt = nil
			existing.UpdatedAt = now
			membership = existing
		}

		if s.recorder != nil {
			return s.recorder.Record(ctx, tx, membership.ID, nil, map[string]interface{}{
				"tenant_id":  tenantID,
				"user_id":    userID,
				"is_primary": isPrimary,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return membership, nil
}

// RevokeUser clears the assignment and primary flags, keeping the row.
// Revoking an unassigned membership is a no-op returning false.
func (s *Service) RevokeUser(ctx context.Context, tenantID, userID int64) (bool, error) {
	var changed bool
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			`UPDATE tenant_users
			 SET is_assigned = FALSE, is_primary = FALSE, updated_at = $1
			 WHERE tenant_id = $2 AND user_id = $3 AND is_assigned AND NOT is_deleted`,
			now, tenantID, userID)
		if err != nil {
			return fmt.Errorf("failed to revoke membership: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		changed = n > 0
		if !changed {
			return nil
		}

		if s.recorder != nil {
			m, err := scanMembership(tx.QueryRowContext(ctx,
				`SELECT `+membershipColumns+` FROM tenant_users
				 WHERE tenant_id = $1 AND user_id = $2 AND NOT is_deleted`, tenantID, userID))
			if err != nil {
				return fmt.Errorf("failed to reload membership: %w", err)
			}
			return s.recorder.Record(ctx, tx, m.ID, map[string]interface{}{"is_assigned": true}, map[string]interface{}{"is_assigned": false})
		}
		return nil
	})
	return changed, err
}

// UserMemberships returns the user's assigned live memberships.
func (s *Service) UserMemberships(ctx context.Context, userID int64) ([]*Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+membershipColumns+` FROM tenant_users
		 WHERE user_id = $1 AND is_assigned AND NOT is_deleted
		 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}
	return memberships, nil
}

// PrimaryTenant returns the user's primary membership.
func (s *Service) PrimaryTenant(ctx context.Context, userID int64) (*Membership, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM tenant_users
		 WHERE user_id = $1 AND is_primary AND is_assigned AND NOT is_deleted`, userID))
	if err == sql.ErrNoRows {
		return nil, errdefs.NotFound("primary membership", strconv.FormatInt(userID, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query primary membership: %w", err)
	}
	return m, nil
}

// IsMember reports whether the user has an assigned, unexpired membership
// in the tenant at time t.
func (s *Service) IsMember(ctx context.Context, tenantID, userID int64, t time.Time) (bool, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM tenant_users
		 WHERE tenant_id = $1 AND user_id = $2 AND NOT is_deleted`, tenantID, userID))
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query membership: %w", err)
	}
	return m.ActiveAt(t), nil
}

func (s *Service) checkTenantLive(ctx context.Context, tenantID int64) error {
	var enabled bool
	err := s.db.QueryRowContext(ctx,
		`SELECT is_enabled FROM tenants WHERE id = $1 AND NOT is_deleted`, tenantID).Scan(&enabled)
	if err == sql.ErrNoRows {
		return errdefs.NotFound("tenant", strconv.FormatInt(tenantID, 10))
	}
	if err != nil {
		return fmt.Errorf("failed to query tenant: %w", err)
	}
	if !enabled {
		return errdefs.Validation("tenant_id", "tenant is disabled")
	}
	return nil
}

func (s *Service) checkUserLive(ctx context.Context, userID int64) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND NOT is_deleted)`, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to query user: %w", err)
	}
	if !exists {
		return errdefs.NotFound("user", strconv.FormatInt(userID, 10))
	}
	return nil
}
