// Package storage provides database plumbing shared by every store: the
// connection opener, the transaction helper, dialect-specific SQL
// fragments, unique-violation detection, and versioned schema migrations.
//
// PostgreSQL (lib/pq) is the production store. Tests run the same
// statements against in-memory SQLite; the Dialect type covers the few
// fragments that differ, such as the FOR UPDATE row lock.
//
// The audit_records table is guarded by database triggers that reject any
// UPDATE or DELETE, so the append-only property holds regardless of which
// code path touches the table.
package storage
