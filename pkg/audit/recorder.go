package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wardenhq/warden/pkg/errdefs"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/storage"
)

// RecorderOptions configures recorder behavior.
type RecorderOptions struct {
	// Strict makes a missing or already-consumed operation context, and
	// any insert failure, abort the surrounding transaction. The default
	// logs a warning and lets the mutation proceed unaudited.
	Strict bool
}

// Recorder writes audit records inside the caller's transaction, driven
// by the operation context attached to ctx.
type Recorder struct {
	store    *Store
	registry *Registry
	logger   *observability.Logger
	metrics  *observability.Metrics
	opts     RecorderOptions
}

// NewRecorder creates a recorder.
func NewRecorder(store *Store, registry *Registry, logger *observability.Logger, metrics *observability.Metrics, opts RecorderOptions) *Recorder {
	return &Recorder{
		store:    store,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
	}
}

// Record consumes the operation context from ctx and appends one audit
// record for targetID using q. before and after snapshot the mutated row;
// either may be nil.
//
// With no operation context on ctx, or one already consumed by an earlier
// mutation, nothing is written: a warning is logged unless the recorder
// is strict, in which case the error aborts the transaction.
func (r *Recorder) Record(ctx context.Context, q storage.Querier, targetID int64, before, after interface{}) error {
	oc, ok := OperationFromContext(ctx)
	if !ok {
		return r.skip(ctx, "mutation committed without an operation context", nil)
	}
	if !oc.Consume() {
		return r.skip(ctx, "operation context already consumed", map[string]interface{}{
			"business_type": oc.BusinessType,
		})
	}

	reg, err := r.registry.Lookup(oc.BusinessType)
	if err != nil {
		return err
	}
	if !reg.Allows(oc.OperationType) {
		return &errdefs.ConfigurationError{
			Detail: fmt.Sprintf("operation %s not registered for business type %s", oc.OperationType, oc.BusinessType),
		}
	}

	rec := &Record{
		BusinessType:  oc.BusinessType,
		TargetID:      targetID,
		OperationType: oc.OperationType,
		ActorID:       oc.ActorID,
		ActorName:     oc.ActorName,
		TenantID:      oc.TenantID,
		RequestID:     oc.RequestID,
		Reason:        oc.Reason,
		OccurredAt:    time.Now().UTC(),
	}

	if rec.Before, err = marshalState(before); err != nil {
		return fmt.Errorf("failed to marshal before state: %w", err)
	}
	if rec.After, err = marshalState(after); err != nil {
		return fmt.Errorf("failed to marshal after state: %w", err)
	}
	if rec.Metadata, err = marshalState(oc.Metadata); err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := r.store.Insert(ctx, q, rec); err != nil {
		if r.metrics != nil {
			r.metrics.AuditFailuresTotal.Inc()
		}
		if r.opts.Strict {
			return err
		}
		r.logger.WithError(err).WithField("business_type", oc.BusinessType).Warn("audit record write failed")
		return nil
	}

	if r.metrics != nil {
		r.metrics.AuditRecordsTotal.WithLabelValues(oc.BusinessType).Inc()
	}
	return nil
}

func (r *Recorder) skip(ctx context.Context, reason string, fields map[string]interface{}) error {
	if r.metrics != nil {
		r.metrics.AuditSkippedTotal.Inc()
	}
	if r.opts.Strict {
		return &errdefs.ConfigurationError{Detail: reason}
	}

	logger := r.logger
	if fields != nil {
		logger = logger.WithFields(fields)
	}
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}
	logger.Warn(reason)
	return nil
}

func marshalState(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]interface{}); ok && len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}
