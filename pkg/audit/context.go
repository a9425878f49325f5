package audit

import (
	"context"
	"sync/atomic"
)

// OperationContext describes the business operation behind a mutation. The
// caller attaches it to the context before invoking the engine; the
// recorder consumes it exactly once, so a second mutation in the same
// request cannot silently reuse it.
type OperationContext struct {
	BusinessType  string
	OperationType string
	ActorID       *int64
	ActorName     string
	TenantID      *int64
	RequestID     string
	Reason        string
	Metadata      map[string]interface{}

	consumed atomic.Bool
}

// Consume marks the context used. Only the first call returns true.
func (oc *OperationContext) Consume() bool {
	return oc.consumed.CompareAndSwap(false, true)
}

// Consumed reports whether the context has already produced a record.
func (oc *OperationContext) Consumed() bool {
	return oc.consumed.Load()
}

type operationContextKey struct{}

// WithOperation attaches an operation context.
func WithOperation(ctx context.Context, oc *OperationContext) context.Context {
	return context.WithValue(ctx, operationContextKey{}, oc)
}

// OperationFromContext retrieves the operation context, if any.
func OperationFromContext(ctx context.Context) (*OperationContext, bool) {
	oc, ok := ctx.Value(operationContextKey{}).(*OperationContext)
	return oc, ok
}
