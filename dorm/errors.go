/*
errors.go - Error taxonomy shared by every dormitory workflow

PURPOSE:
  One place for the error kinds callers switch on. Every operation in
  occupancy, billing and pricing returns either nil or an error that
  resolves to exactly one Kind and one Code, so transports (HTTP, CLI,
  notification sinks) can render a stable outcome without string matching.

KINDS:
  validation   Malformed input or a missing required value
               (MissingMeterReading, ValidationFailed)
  capacity     RoomFull, RoomUnavailable
  conflict     AlreadyBilled, AlreadyPaid, MeterReadingBelowPrevious,
               InvalidTransition, ConcurrentModification
  not_found    TenantNotFound, RoomNotFound, BillNotFound, RepairNotFound,
               ProfileNotFound, SettingsNotFound
  persistence  Storage failed underneath us
  permission   Actor role may not perform the operation

USAGE:
  if errors.Is(err, dorm.ErrRoomFull) { ... }
  kind := dorm.KindOf(err)   // "capacity"
  code := dorm.CodeOf(err)   // "RoomFull"

SEE ALSO:
  - actor.go: RequireRole produces PermissionError
  - occupancy/, billing/, pricing/: wrap these with operation context
*/
package dorm

import (
	"errors"
	"fmt"
)

// Kind groups errors into the categories callers act on.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindCapacity    Kind = "capacity"
	KindConflict    Kind = "conflict"
	KindNotFound    Kind = "not_found"
	KindPersistence Kind = "persistence"
	KindPermission  Kind = "permission"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or incomplete input.
	ErrValidation = errors.New("validation failed")

	// ErrMissingMeterReading is returned when an occupied room is billed
	// without a reading. It also matches ErrValidation.
	ErrMissingMeterReading = fmt.Errorf("%w: missing meter reading", ErrValidation)

	// ErrRoomFull is returned when a room is at its effective capacity.
	ErrRoomFull = errors.New("room is full")

	// ErrRoomUnavailable is returned when a room is under maintenance or
	// already occupied and cannot take a new primary tenant.
	ErrRoomUnavailable = errors.New("room unavailable")

	// ErrAlreadyBilled is returned when a bill exists for the room and month.
	ErrAlreadyBilled = errors.New("room already billed for month")

	// ErrAlreadyPaid is returned when paying a bill that is already paid.
	ErrAlreadyPaid = errors.New("bill already paid")

	// ErrMeterReadingBelowPrevious is returned when a new electricity reading
	// is lower than the stored latest reading.
	ErrMeterReadingBelowPrevious = errors.New("meter reading below previous")

	// ErrInvalidTransition is returned for a room status change the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid room status transition")

	// ErrConcurrentModification is returned when a versioned write lost a race.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrTenantNotFound   = errors.New("tenant not found")
	ErrRoomNotFound     = errors.New("room not found")
	ErrBillNotFound     = errors.New("bill not found")
	ErrRepairNotFound   = errors.New("repair not found")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrSettingsNotFound = errors.New("system settings not found")

	// ErrPersistence marks a failure of the storage layer.
	ErrPersistence = errors.New("persistence failure")

	// ErrPermissionDenied is returned when the actor's role is not allowed.
	ErrPermissionDenied = errors.New("permission denied")
)

var registry = []struct {
	err  error
	kind Kind
	code string
}{
	{ErrPermissionDenied, KindPermission, "PermissionDenied"},
	{ErrRoomFull, KindCapacity, "RoomFull"},
	{ErrRoomUnavailable, KindCapacity, "RoomUnavailable"},
	{ErrAlreadyBilled, KindConflict, "AlreadyBilled"},
	{ErrAlreadyPaid, KindConflict, "AlreadyPaid"},
	{ErrMeterReadingBelowPrevious, KindConflict, "MeterReadingBelowPrevious"},
	{ErrInvalidTransition, KindConflict, "InvalidTransition"},
	{ErrConcurrentModification, KindConflict, "ConcurrentModification"},
	{ErrTenantNotFound, KindNotFound, "TenantNotFound"},
	{ErrRoomNotFound, KindNotFound, "RoomNotFound"},
	{ErrBillNotFound, KindNotFound, "BillNotFound"},
	{ErrRepairNotFound, KindNotFound, "RepairNotFound"},
	{ErrProfileNotFound, KindNotFound, "ProfileNotFound"},
	{ErrSettingsNotFound, KindNotFound, "SettingsNotFound"},
	{ErrMissingMeterReading, KindValidation, "MissingMeterReading"},
	{ErrValidation, KindValidation, "ValidationFailed"},
	{ErrPersistence, KindPersistence, "PersistenceFailure"},
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// CapacityError reports a room that cannot take more occupants.
type CapacityError struct {
	RoomID    string
	Capacity  int
	Occupants int
	Incoming  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("room %s is full: %d of %d places taken, %d incoming",
		e.RoomID, e.Occupants, e.Capacity, e.Incoming)
}

func (e *CapacityError) Unwrap() error { return ErrRoomFull }

// UnavailableError reports a room that is not in a state to accept tenants.
type UnavailableError struct {
	RoomID string
	Status RoomStatus
	Reason string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("room %s unavailable (%s): %s", e.RoomID, e.Status, e.Reason)
}

func (e *UnavailableError) Unwrap() error { return ErrRoomUnavailable }

// MeterReadingError reports a reading that would move the meter backwards.
type MeterReadingError struct {
	RoomID   string
	Previous string
	Reading  string
}

func (e *MeterReadingError) Error() string {
	return fmt.Sprintf("meter reading %s for room %s is below previous %s",
		e.Reading, e.RoomID, e.Previous)
}

func (e *MeterReadingError) Unwrap() error { return ErrMeterReadingBelowPrevious }

// PermissionError reports a role that may not run an operation.
type PermissionError struct {
	Op      string
	ActorID string
	Role    Role
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s (%s) may not %s", e.ActorID, e.Role, e.Op)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// PersistenceError wraps a storage failure. It matches both ErrPersistence
// and the underlying cause.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: persistence failure: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// Persistence wraps err as a PersistenceError unless it already carries a
// domain kind, in which case it is returned untouched.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := lookup(err); ok {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// NotFound wraps a not-found sentinel with the missing identifier.
func NotFound(sentinel error, id string) error {
	return fmt.Errorf("%w: %s", sentinel, id)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func lookup(err error) (int, bool) {
	for i, r := range registry {
		if errors.Is(err, r.err) {
			return i, true
		}
	}
	return 0, false
}

// KindOf classifies err. Unclassified errors are reported as persistence
// failures since they originate below the domain layer.
func KindOf(err error) Kind {
	if i, ok := lookup(err); ok {
		return registry[i].kind
	}
	return KindPersistence
}

// CodeOf returns the machine-readable outcome code for err, or "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if i, ok := lookup(err); ok {
		return registry[i].code
	}
	return "PersistenceFailure"
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the caller can fix the error by changing input.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindCapacity, KindConflict, KindNotFound, KindPermission:
		return err != nil
	}
	return false
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}
