// Package catalog holds the foundational entities of the authorization
// engine: tenants, users, and permissions.
//
// Tenants are isolated namespaces. Permissions are either owned by a
// tenant or global (nil tenant id); system permissions are always global
// and cannot be disabled or deleted. All deletes are soft deletes, and
// reads never return soft-deleted rows.
package catalog
