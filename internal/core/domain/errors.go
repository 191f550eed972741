package domain

import (
	"errors"
	"fmt"
)

// DomainError is an error with a stable, machine-readable code.
// Codes have the form SK-<AREA>-<NNNN>.
type DomainError struct {
	Code    string // Error code (e.g., "SK-SAVE-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithDetailsf is WithDetails with fmt.Sprintf formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Store Errors (STOR)
// ============================================================================

var (
	// ErrStoreUnavailable indicates the durable backend failed to open and an
	// ephemeral in-memory store is serving instead. Recoverable.
	ErrStoreUnavailable = NewDomainError("SK-STOR-5030", "durable store unavailable, running in memory")

	// ErrSchemaMigrationFailed indicates a migration step failed. Fatal.
	ErrSchemaMigrationFailed = NewDomainError("SK-STOR-5001", "schema migration failed")

	// ErrWriteTimeout indicates a queued write did not complete within the watchdog window.
	ErrWriteTimeout = NewDomainError("SK-STOR-5040", "write watchdog expired")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = NewDomainError("SK-STOR-5031", "store closed")

	// ErrStorageError indicates a backend read or write failed.
	ErrStorageError = NewDomainError("SK-STOR-5000", "storage error")

	// ErrRecordNotFound indicates a table key is absent.
	ErrRecordNotFound = NewDomainError("SK-STOR-4040", "record not found")
)

// ============================================================================
// Save Errors (SAVE)
// ============================================================================

var (
	// ErrSaveNotFound indicates the requested save id does not exist.
	ErrSaveNotFound = NewDomainError("SK-SAVE-4040", "save not found")

	// ErrSlotPoolExhausted indicates no slot could be allocated. Guarded, rotation keeps it unreachable.
	ErrSlotPoolExhausted = NewDomainError("SK-SAVE-5070", "slot pool exhausted")

	// ErrTooSoon indicates a quick save inside the cooldown window.
	ErrTooSoon = NewDomainError("SK-SAVE-4290", "quick save cooldown active")

	// ErrNotSavableNow indicates the eligibility predicate rejected the operation.
	ErrNotSavableNow = NewDomainError("SK-SAVE-4230", "world is not in a savable state")

	// ErrPartialCapture is a warning: at least one collaborator failed to serialize.
	ErrPartialCapture = NewDomainError("SK-SAVE-2060", "partial capture")

	// ErrBusy indicates another save or load is in flight.
	ErrBusy = NewDomainError("SK-SAVE-4090", "another save operation is in flight")

	// ErrInvalidImportFormat indicates an import blob failed shape validation.
	ErrInvalidImportFormat = NewDomainError("SK-SAVE-4001", "invalid import format")

	// ErrInvalidCategory indicates an unknown save category.
	ErrInvalidCategory = NewDomainError("SK-SAVE-4002", "invalid save category")

	// ErrSuperseded indicates a conditional save was skipped because its slot
	// was written after the condition's reference time.
	ErrSuperseded = NewDomainError("SK-SAVE-2080", "slot already written since trigger")

	// ErrInvalidSlot indicates a slot index outside the category pool.
	ErrInvalidSlot = NewDomainError("SK-SAVE-4003", "slot out of range")
)

// ============================================================================
// World Errors (WRLD)
// ============================================================================

var (
	// ErrDuplicateCollaborator indicates a collaborator id is already registered.
	ErrDuplicateCollaborator = NewDomainError("SK-WRLD-4090", "collaborator already registered")

	// ErrCollaboratorFailed indicates one or more collaborators failed to serialize or deserialize.
	ErrCollaboratorFailed = NewDomainError("SK-WRLD-5000", "collaborator failed")

	// ErrNothingToRewind indicates no armed rewind token exists.
	ErrNothingToRewind = NewDomainError("SK-WRLD-4041", "nothing to rewind")
)

// ============================================================================
// Preset Errors (PRST)
// ============================================================================

var (
	// ErrPresetNotFound indicates the requested preset id does not exist.
	ErrPresetNotFound = NewDomainError("SK-PRST-4040", "preset not found")

	// ErrNoPresets indicates the active pointer cannot be repaired because the set is empty.
	ErrNoPresets = NewDomainError("SK-PRST-4090", "no presets left to activate")

	// ErrPresetValidation indicates preset data validation failed.
	ErrPresetValidation = NewDomainError("SK-PRST-4001", "preset validation failed")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("SK-ARG-1001", "invalid argument")

	// ErrConfirmationRequired indicates a destructive operation was not confirmed.
	ErrConfirmationRequired = NewDomainError("SK-ARG-1004", "confirmation required")
)
