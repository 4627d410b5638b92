package errors

import "fmt"

// ErrorCode represents a promptmeta error code.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrFileNotFound      ErrorCode = "FILE_NOT_FOUND"     // 404
	ErrMalformedMetadata ErrorCode = "MALFORMED_METADATA" // 422
	ErrValidationFailed  ErrorCode = "VALIDATION_FAILED"  // 422
	ErrCancelled         ErrorCode = "CANCELLED"          // 499
	ErrInternal          ErrorCode = "INTERNAL"           // 500
)

// MetaError represents a structured error with code, status, and details.
type MetaError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *MetaError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *MetaError {
	return &MetaError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when an observation cannot be found.
func NewNotFound(identifier string) *MetaError {
	return &MetaError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("observation not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for a missing import file.
func NewFileNotFound(path string) *MetaError {
	return &MetaError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewMalformedMetadata creates a 422 error for a PS1 payload that could be
// neither parsed nor repaired. Only the single-match entry point returns it;
// scanning drops such candidates instead.
func NewMalformedMetadata(payload string) *MetaError {
	return &MetaError{
		Code:    ErrMalformedMetadata,
		Status:  422,
		Message: fmt.Sprintf("could not parse PS1 metadata: %s", clip(payload, 200)),
		Details: map[string]any{"payload": payload},
	}
}

// NewValidation creates a 422 error listing the fields that failed validation.
func NewValidation(fields []string) *MetaError {
	return &MetaError{
		Code:    ErrValidationFailed,
		Status:  422,
		Message: fmt.Sprintf("invalid metadata fields: %v", fields),
		Details: map[string]any{"fields": fields},
	}
}

// NewCancelled creates a 499 error when an operation is cancelled.
func NewCancelled(op string) *MetaError {
	return &MetaError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *MetaError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &MetaError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a MetaError with the given code.
func Is(err error, code ErrorCode) bool {
	if mErr, ok := err.(*MetaError); ok {
		return mErr.Code == code
	}
	return false
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
