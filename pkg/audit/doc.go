// Package audit provides the append-only audit trail for authorization
// mutations.
//
// # Overview
//
// Three pieces cooperate:
//
//   - Registry: business types register once at bootstrap with the
//     operation types they emit. Duplicate or missing registrations are
//     configuration errors.
//   - OperationContext: the caller describes the business operation
//     (type, actor, reason, request id) and attaches it to the context.
//     The recorder consumes it exactly once, so one mutation yields one
//     record and later mutations in the same request cannot reuse it.
//   - Recorder: writes the record inside the caller's transaction, so the
//     record commits and rolls back with the mutation it describes.
//
// A mutation reaching the recorder without an operation context logs a
// warning and proceeds unaudited; strict mode aborts the transaction
// instead.
//
// The audit_records table is append-only. Database triggers reject
// UPDATE and DELETE, so the property holds for every access path, not
// just this package's store.
//
// # Usage Example
//
//	ctx = audit.WithOperation(ctx, &audit.OperationContext{
//		BusinessType:  "role_permission",
//		OperationType: audit.OpGrant,
//		ActorID:       &adminID,
//		Reason:        "onboarding",
//	})
//	err := engine.GrantRolePermission(ctx, roleID, permissionID, nil)
package audit
