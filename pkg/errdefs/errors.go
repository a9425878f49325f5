package errdefs

import (
	"errors"
	"fmt"
)

// ValidationError reports input that failed a format or range check before
// anything was persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for a named field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// CycleError reports a role parent assignment that would close a loop in the
// inheritance graph. Path holds the role ids walked before the repeat was
// detected, starting at the role being re-parented.
type CycleError struct {
	RoleID int64
	Path   []int64
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("role %d: parent assignment closes an inheritance cycle (path %v)", e.RoleID, e.Path)
}

// ConflictError reports a duplicate where uniqueness is required: a second
// active grant for the same pair, or a reused code.
type ConflictError struct {
	Resource string
	Detail   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Detail)
}

// Conflict builds a ConflictError for a resource kind.
func Conflict(resource, detail string) error {
	return &ConflictError{Resource: resource, Detail: detail}
}

// NotFoundError reports a referenced entity that is missing or soft-deleted.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NotFound builds a NotFoundError for a resource kind and id.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// TenantMismatchError reports a cross-tenant reference, e.g. a role pointing
// at a parent or permission owned by a different tenant.
type TenantMismatchError struct {
	Resource string
	Want     int64
	Got      int64
}

func (e *TenantMismatchError) Error() string {
	return fmt.Sprintf("%s belongs to tenant %d, expected tenant %d", e.Resource, e.Got, e.Want)
}

// ImmutableRecordError reports an attempted update or hard delete of an
// append-only record.
type ImmutableRecordError struct {
	Table string
}

func (e *ImmutableRecordError) Error() string {
	return fmt.Sprintf("%s rows are append-only", e.Table)
}

// ConfigurationError reports a registry or bootstrap problem, e.g. an audit
// lookup for a business type that was never registered.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Detail
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsCycle reports whether err is or wraps a CycleError.
func IsCycle(err error) bool {
	var target *CycleError
	return errors.As(err, &target)
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsTenantMismatch reports whether err is or wraps a TenantMismatchError.
func IsTenantMismatch(err error) bool {
	var target *TenantMismatchError
	return errors.As(err, &target)
}

// IsImmutableRecord reports whether err is or wraps an ImmutableRecordError.
func IsImmutableRecord(err error) bool {
	var target *ImmutableRecordError
	return errors.As(err, &target)
}

// IsConfiguration reports whether err is or wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}
