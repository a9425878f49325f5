package tenancy

import "time"

// Membership ties a user to a tenant. A user has at most one primary
// membership across all tenants, enforced both in code and by a partial
// unique index.
type Membership struct {
	ID         int64
	TenantID   int64
	UserID     int64
	IsPrimary  bool
	IsAssigned bool
	ExpiresAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	IsDeleted  bool
	DeletedAt  *time.Time
}

// ActiveAt reports whether the membership is assigned and unexpired at t.
func (m *Membership) ActiveAt(t time.Time) bool {
	if !m.IsAssigned || m.IsDeleted {
		return false
	}
	if m.ExpiresAt != nil && !t.Before(*m.ExpiresAt) {
		return false
	}
	return true
}
