package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")

	ErrDeviceNotFound        = errors.New("device not found")
	ErrDocumentNotFound      = errors.New("document not found")
	ErrCashierNotFound       = errors.New("cashier not found")
	ErrDeviceProgramming     = fmt.Errorf("%w: device is in programming mode", ErrValidation)
	ErrDeviceNotProgramming  = fmt.Errorf("%w: device is not in programming mode", ErrValidation)
	ErrMissingToken          = fmt.Errorf("%w: device has no OFD token", ErrValidation)
	ErrMissingIdempotencyKey = fmt.Errorf("%w: idempotency key is required", ErrValidation)
	ErrDuplicateSerial       = fmt.Errorf("%w: serial number already registered", ErrValidation)
	ErrShiftNotOpen          = fmt.Errorf("%w: shift is not open", ErrValidation)
	ErrShiftAlreadyOpen      = fmt.Errorf("%w: shift is already open", ErrValidation)
	ErrEmptyReceipt          = fmt.Errorf("%w: receipt has no items", ErrValidation)
	ErrInvalidAmount         = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrForbidden             = errors.New("forbidden")
	ErrInvalidPin            = fmt.Errorf("%w: invalid cashier pin", ErrForbidden)
	ErrUnauthenticated       = errors.New("unauthenticated")
)

// ValidationError reports a malformed field in a request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type ConflictReason string

const (
	ConflictAutonomousTooLong ConflictReason = "AUTONOMOUS_TOO_LONG"
	ConflictShiftTooLong      ConflictReason = "SHIFT_TOO_LONG"
	ConflictQueueNotEmpty     ConflictReason = "QUEUE_NOT_EMPTY"
	ConflictDeviceBlocked     ConflictReason = "DEVICE_BLOCKED"
	ConflictKeyReused         ConflictReason = "IDEMPOTENCY_KEY_REUSED"
	ConflictInFlight          ConflictReason = "OPERATION_IN_FLIGHT"
)

var (
	ErrAutonomousTooLong    = fmt.Errorf("%w: %s", ErrConflict, ConflictAutonomousTooLong)
	ErrShiftTooLong         = fmt.Errorf("%w: %s", ErrConflict, ConflictShiftTooLong)
	ErrQueueNotEmpty        = fmt.Errorf("%w: %s", ErrConflict, ConflictQueueNotEmpty)
	ErrDeviceBlocked        = fmt.Errorf("%w: %s", ErrConflict, ConflictDeviceBlocked)
	ErrIdempotencyKeyReused = fmt.Errorf("%w: %s", ErrConflict, ConflictKeyReused)
	ErrOperationInFlight    = fmt.Errorf("%w: %s", ErrConflict, ConflictInFlight)
)

var conflictSentinels = map[ConflictReason]error{
	ConflictAutonomousTooLong: ErrAutonomousTooLong,
	ConflictShiftTooLong:      ErrShiftTooLong,
	ConflictQueueNotEmpty:     ErrQueueNotEmpty,
	ConflictDeviceBlocked:     ErrDeviceBlocked,
	ConflictKeyReused:         ErrIdempotencyKeyReused,
	ConflictInFlight:          ErrOperationInFlight,
}

// ConflictError is a refusal caused by device, shift or queue state rather
// than by the request itself.
type ConflictError struct {
	Reason   ConflictReason
	DeviceID DeviceID
	Message  string
}

func NewConflict(reason ConflictReason, deviceID DeviceID, format string, args ...any) *ConflictError {
	return &ConflictError{Reason: reason, DeviceID: deviceID, Message: fmt.Sprintf(format, args...)}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict %s: %s (device=%s)", e.Reason, e.Message, e.DeviceID)
}

// Is matches ErrConflict and the sentinel of the conflict's reason.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict || target == conflictSentinels[e.Reason]
}

// IsConflict reports whether err is a ConflictError with the given reason.
// An empty reason matches any conflict.
func IsConflict(err error, reason ConflictReason) bool {
	var ce *ConflictError
	if !errors.As(err, &ce) {
		return false
	}
	return reason == "" || ce.Reason == reason
}
