package domain

import "fmt"

// ErrorCode is the numeric business-error discriminator carried to the HTTP
// layer untranslated. Clients key localized messages off these values.
type ErrorCode int

// Business error codes shared between server responses and client messages.
const (
	CodeNotLocked                ErrorCode = 111
	CodeLockStale                ErrorCode = 114
	CodeLockedByOther            ErrorCode = 115
	CodeVersionConflict          ErrorCode = 116
	CodeReviewClosed             ErrorCode = 117
	CodeCannotPublish            ErrorCode = 123
	CodeCannotDiscard            ErrorCode = 124
	CodeValidationErrors         ErrorCode = 133
	CodeArtifactNotFound         ErrorCode = 101
	CodeNoTransition             ErrorCode = 102
	CodeInsufficientPermissions  ErrorCode = 103
	CodeEmptyBatch               ErrorCode = 104
	CodeMeaningOfSignatureNotOn  ErrorCode = 105
	CodeMeaningOfSignatureNotPos ErrorCode = 106
	CodeArtifactDeleted          ErrorCode = 107
	CodeDiscardNoChanges         ErrorCode = 119
)

// BadRequestError signals malformed input or an illegal workflow transition.
type BadRequestError struct {
	Code    ErrorCode
	Message string
}

func (e BadRequestError) Error() string {
	return fmt.Sprintf("bad request (%d): %s", e.Code, e.Message)
}

// ConflictError signals a precondition violated by concurrent activity: a
// stale lock, a closed review, a version mismatch. Dependents carries the
// artifacts a publish or discard must be widened to, when known.
type ConflictError struct {
	Code        ErrorCode
	Message     string
	Dependents  *DependentSet
	PropertyIDs []int64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("conflict (%d): %s", e.Code, e.Message)
}

// AuthorizationError signals insufficient read or admin permission.
type AuthorizationError struct {
	Code    ErrorCode
	Message string
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("unauthorized (%d): %s", e.Code, e.Message)
}

// ResourceNotFoundError signals a missing artifact, review, or project.
type ResourceNotFoundError struct {
	Code    ErrorCode
	Message string
}

func (e ResourceNotFoundError) Error() string {
	return fmt.Sprintf("not found (%d): %s", e.Code, e.Message)
}
