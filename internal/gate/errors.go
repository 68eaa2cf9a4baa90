package gate

import (
	"errors"
	"fmt"
)

// GateError represents a failure detected during canonization or
// reconstruction.
//
// Gate errors include:
//   - Validation: malformed payload or unknown authority
//   - Contradiction: proposal conflicts with canon or a batch sibling
//   - Write failure: store rejected the transaction (retryable)
//   - Reconstruction ambiguity: ledger contains an irreversible change
//   - Concurrency conflict: version check failed after bounded retries
//
// GateError carries structured fields for diagnostics and rationale
// persistence.
type GateError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ProposalID identifies the affected proposal, when applicable.
	ProposalID string

	// WinnerID identifies the conflicting winner (for contradictions).
	WinnerID string

	// ConflictClass names the detected conflict class (for contradictions).
	ConflictClass string

	// Err is the wrapped cause, when one exists.
	Err error
}

// ErrorCode categorizes gate errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates a malformed or unverifiable proposal.
	ErrCodeValidation ErrorCode = "VALIDATION_FAILED"

	// ErrCodeContradiction indicates a conflict with canon or a sibling.
	ErrCodeContradiction ErrorCode = "CONTRADICTION"

	// ErrCodeBelowThreshold indicates effective weight under the minimum.
	ErrCodeBelowThreshold ErrorCode = "BELOW_THRESHOLD"

	// ErrCodeWriteFailure indicates a failed store transaction (retryable).
	ErrCodeWriteFailure ErrorCode = "WRITE_FAILURE"

	// ErrCodeReconstructionAmbiguity indicates an irreversible ledger entry.
	ErrCodeReconstructionAmbiguity ErrorCode = "RECONSTRUCTION_AMBIGUITY"

	// ErrCodeConcurrencyConflict indicates exhausted version-check retries.
	ErrCodeConcurrencyConflict ErrorCode = "CONCURRENCY_CONFLICT"
)

// Error implements the error interface.
func (e *GateError) Error() string {
	if e.ProposalID != "" && e.WinnerID != "" {
		return fmt.Sprintf("%s: %s (proposal=%s, winner=%s)", e.Code, e.Message, e.ProposalID, e.WinnerID)
	}
	if e.ProposalID != "" {
		return fmt.Sprintf("%s: %s (proposal=%s)", e.Code, e.Message, e.ProposalID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *GateError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is a validation failure.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var ge *GateError
	return errors.As(err, &ge) && ge.Code == ErrCodeValidation
}

// IsContradictionError reports whether err is a contradiction rejection.
func IsContradictionError(err error) bool {
	var ge *GateError
	return errors.As(err, &ge) && ge.Code == ErrCodeContradiction
}

// IsWriteFailure reports whether err is a retryable store failure.
func IsWriteFailure(err error) bool {
	var ge *GateError
	return errors.As(err, &ge) && ge.Code == ErrCodeWriteFailure
}

// IsReconstructionAmbiguity reports whether err is a fail-closed
// reconstruction error.
func IsReconstructionAmbiguity(err error) bool {
	var ge *GateError
	return errors.As(err, &ge) && ge.Code == ErrCodeReconstructionAmbiguity
}

// IsConcurrencyConflict reports whether err is an exhausted-retries
// version conflict.
func IsConcurrencyConflict(err error) bool {
	var ge *GateError
	return errors.As(err, &ge) && ge.Code == ErrCodeConcurrencyConflict
}

// NewValidationError creates a GateError for a malformed proposal.
func NewValidationError(proposalID string, cause error) *GateError {
	return &GateError{
		Code:       ErrCodeValidation,
		Message:    "proposal failed validation",
		ProposalID: proposalID,
		Err:        cause,
	}
}

// NewContradictionError creates a GateError naming the winning proposal or
// canonical fact the loser contradicts.
func NewContradictionError(proposalID, winnerID, class, detail string) *GateError {
	return &GateError{
		Code:          ErrCodeContradiction,
		Message:       detail,
		ProposalID:    proposalID,
		WinnerID:      winnerID,
		ConflictClass: class,
	}
}

// NewWriteFailure creates a retryable GateError for a store failure.
func NewWriteFailure(proposalID string, cause error) *GateError {
	return &GateError{
		Code:       ErrCodeWriteFailure,
		Message:    "store rejected transaction",
		ProposalID: proposalID,
		Err:        cause,
	}
}

// NewReconstructionAmbiguity creates a fail-closed GateError for an
// irreversible change type.
func NewReconstructionAmbiguity(changeType string) *GateError {
	return &GateError{
		Code:    ErrCodeReconstructionAmbiguity,
		Message: fmt.Sprintf("change type %q has no registered reversal", changeType),
	}
}

// NewConcurrencyConflict creates a GateError for exhausted version-check
// retries.
func NewConcurrencyConflict(proposalID string, attempts int, cause error) *GateError {
	return &GateError{
		Code:       ErrCodeConcurrencyConflict,
		Message:    fmt.Sprintf("version check failed after %d attempts", attempts),
		ProposalID: proposalID,
		Err:        cause,
	}
}
