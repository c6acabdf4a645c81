package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrTenantNotFound         = errors.New("tenant not found")
	ErrPlanNotFound           = errors.New("plan not found")
	ErrSubscriptionNotFound   = errors.New("subscription not found")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrTenantDatabaseNotFound = errors.New("tenant database not found")
)

// InvalidStateError is returned when an action is not valid for the entity's current status.
type InvalidStateError struct {
	Entity  string
	Action  string
	Current string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s in status %q", e.Action, e.Entity, e.Current)
}

// AlreadyInStateError is returned when the entity is already in the requested status.
type AlreadyInStateError struct {
	Entity string
	Status string
}

func (e *AlreadyInStateError) Error() string {
	return fmt.Sprintf("%s is already %s", e.Entity, e.Status)
}

// NotPendingError is returned when a payment has already been resolved.
type NotPendingError struct {
	PaymentID string
	Status    PaymentStatus
}

func (e *NotPendingError) Error() string {
	return fmt.Sprintf("payment %s is %s, not pending", e.PaymentID, e.Status)
}

// ConflictError is returned when a write would violate a uniqueness rule.
type ConflictError struct {
	Entity string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Entity, e.Reason)
}

// TerminalStateError is returned when acting on a cancelled subscription.
type TerminalStateError struct {
	Entity string
	ID     string
	Status string
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("%s %s is %s and cannot change", e.Entity, e.ID, e.Status)
}

// NoActiveSubscriptionError is returned when an operation needs a trial or active subscription.
type NoActiveSubscriptionError struct {
	TenantID string
}

func (e *NoActiveSubscriptionError) Error() string {
	return fmt.Sprintf("tenant %s has no trial or active subscription", e.TenantID)
}

// DatabaseNotReadyError is returned when the tenant database is not provisioned.
type DatabaseNotReadyError struct {
	TenantID string
	Status   ProvisioningStatus
}

func (e *DatabaseNotReadyError) Error() string {
	return fmt.Sprintf("tenant %s database is %s, not provisioned", e.TenantID, e.Status)
}

// FeatureDisabledError is returned when a setting turns an operation off.
type FeatureDisabledError struct {
	Feature string
}

func (e *FeatureDisabledError) Error() string {
	return fmt.Sprintf("%s is disabled", e.Feature)
}

// ConnectionTestFailedError is returned when a tenant database cannot be reached.
// It never carries the password.
type ConnectionTestFailedError struct {
	Host     string
	Port     int
	Database string
	Cause    error
}

func (e *ConnectionTestFailedError) Error() string {
	return fmt.Sprintf("connection test to %s:%d/%s failed: %v", e.Host, e.Port, e.Database, e.Cause)
}

func (e *ConnectionTestFailedError) Unwrap() error { return e.Cause }

// ProvisioningError reports the step at which provisioning stopped.
type ProvisioningError struct {
	TenantID string
	Step     ProvisioningStep
	Cause    error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning tenant %s failed at %s: %v", e.TenantID, e.Step, e.Cause)
}

func (e *ProvisioningError) Unwrap() error { return e.Cause }

// ValidationError is returned for malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
