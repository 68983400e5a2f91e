package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrInvalidOrganization     = errors.New("invalid_organization")
	ErrInvalidCharge           = errors.New("invalid_charge")
	ErrChargeNotFound          = errors.New("charge_not_found")
	ErrProviderNotFound        = errors.New("provider_not_found")
	ErrInvalidSignature        = errors.New("invalid_signature")
	ErrUnsupportedNotification = errors.New("unsupported_notification")
	ErrReconciliationConflict  = errors.New("reconciliation_conflict")
	ErrPrivilegeRequired       = errors.New("privilege_required")
	ErrCreationInProgress      = errors.New("charge_creation_in_progress")
)

// ConfigurationError reports a gateway configuration that cannot build an adapter.
type ConfigurationError struct {
	Provider    string
	Environment Environment
	Missing     []string
	Reason      string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s %s configuration missing %s", e.Provider, e.Environment, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s %s configuration invalid: %s", e.Provider, e.Environment, e.Reason)
}

// ValidationError names request fields that must be fixed before any provider call.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Fields, ", "))
}

// ProviderRequestError carries the structured failure a provider call produced.
type ProviderRequestError struct {
	Provider string
	Result   *ChargeResult
}

func (e *ProviderRequestError) Error() string {
	msg := "provider request failed"
	if e.Result != nil && strings.TrimSpace(e.Result.Message) != "" {
		msg = e.Result.Message
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

// UnsupportedNotificationError is returned for callback shapes an adapter does not handle.
type UnsupportedNotificationError struct {
	Provider string
	Kind     string
}

func (e *UnsupportedNotificationError) Error() string {
	return fmt.Sprintf("%s: unsupported notification %q", e.Provider, e.Kind)
}

func (e *UnsupportedNotificationError) Is(target error) bool {
	return target == ErrUnsupportedNotification
}

func UnsupportedNotification(provider, kind string) error {
	return &UnsupportedNotificationError{Provider: provider, Kind: kind}
}

type ConflictReason string

const (
	ConflictDuplicatePending ConflictReason = "duplicate_pending"
	ConflictTerminalState    ConflictReason = "terminal_state"
)

// ReconciliationConflict is never resolved automatically. For duplicates the
// existing pending charge is attached so the caller can reuse or retire it.
type ReconciliationConflict struct {
	Reason   ConflictReason
	Charge   *Charge
	Incoming Status
}

func (e *ReconciliationConflict) Error() string {
	switch e.Reason {
	case ConflictDuplicatePending:
		return fmt.Sprintf("pending charge %s already exists for %s", e.Charge.ID, e.Charge.Reference())
	default:
		return fmt.Sprintf("charge %s is %s and cannot move to %s", e.Charge.ID, e.Charge.Status, e.Incoming)
	}
}

func (e *ReconciliationConflict) Is(target error) bool {
	return target == ErrReconciliationConflict
}

// IsTimeout reports transport-level failures that are safe to retry.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Some SDKs flatten transport errors into their message.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "client.timeout exceeded")
}
