// Package tenancy manages tenant-user memberships.
//
// A user may belong to many tenants but holds at most one primary
// membership. Moving the primary clears the previous one inside the same
// transaction, and a partial unique index backstops the invariant at the
// database. Revoking keeps the row so a later assignment revives it
// instead of accumulating duplicates.
package tenancy
