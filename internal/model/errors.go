package model

import (
	"errors"
	"fmt"
)

// Error represents a failure in the sync pipeline.
//
// Errors carry a Code so callers can decide between aborting the resource,
// downgrading to a partial outcome, or retrying the same request:
//   - STORAGE_UNAVAILABLE: the ledger cannot be read or written
//   - EXTRACTION_FAILED: extraction failed or returned an unusable structure
//   - REMOTE_UNAVAILABLE: transient CRM transport failure (retryable)
//   - REMOTE_REJECTED: non-transient CRM rejection (never retried)
//   - INVALID_ENTITY: an entity cannot be upserted (empty natural key)
//   - INVALID_INPUT: a caller passed an unusable argument
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ResourceID identifies the affected input resource, if known.
	ResourceID string

	// EntityType and NaturalKey identify the affected entity, if any.
	EntityType EntityType
	NaturalKey string

	// StatusCode is the HTTP status returned by the CRM (0 for transport errors).
	StatusCode int

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes pipeline errors.
type ErrorCode string

const (
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrCodeExtraction         ErrorCode = "EXTRACTION_FAILED"
	ErrCodeRemoteUnavailable  ErrorCode = "REMOTE_UNAVAILABLE"
	ErrCodeRemoteRejected     ErrorCode = "REMOTE_REJECTED"
	ErrCodeInvalidEntity      ErrorCode = "INVALID_ENTITY"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.EntityType != "" && e.NaturalKey != "" {
		msg = fmt.Sprintf("%s (%s=%s)", msg, e.EntityType, e.NaturalKey)
	} else if e.EntityType != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.EntityType)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s [http %d]", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// IsStorageUnavailable reports whether err is a ledger storage failure.
func IsStorageUnavailable(err error) bool { return CodeOf(err) == ErrCodeStorageUnavailable }

// IsExtractionError reports whether err is an extraction failure.
func IsExtractionError(err error) bool { return CodeOf(err) == ErrCodeExtraction }

// IsRemoteUnavailable reports whether err is a transient CRM failure.
func IsRemoteUnavailable(err error) bool { return CodeOf(err) == ErrCodeRemoteUnavailable }

// IsRemoteRejected reports whether err is a non-transient CRM rejection.
func IsRemoteRejected(err error) bool { return CodeOf(err) == ErrCodeRemoteRejected }

// IsInvalidEntity reports whether err marks an entity that cannot be upserted.
func IsInvalidEntity(err error) bool { return CodeOf(err) == ErrCodeInvalidEntity }

// IsInvalidInput reports whether err marks an unusable argument.
func IsInvalidInput(err error) bool { return CodeOf(err) == ErrCodeInvalidInput }

// NewStorageError wraps a ledger failure.
func NewStorageError(message string, err error) *Error {
	return &Error{Code: ErrCodeStorageUnavailable, Message: message, Err: err}
}

// NewExtractionError wraps an extraction failure.
func NewExtractionError(message string, err error) *Error {
	return &Error{Code: ErrCodeExtraction, Message: message, Err: err}
}

// NewRemoteUnavailable wraps a transient CRM failure.
// statusCode is 0 when the request never got a response.
func NewRemoteUnavailable(message string, statusCode int, err error) *Error {
	return &Error{Code: ErrCodeRemoteUnavailable, Message: message, StatusCode: statusCode, Err: err}
}

// NewRemoteRejected wraps a non-transient CRM rejection.
func NewRemoteRejected(message string, statusCode int, err error) *Error {
	return &Error{Code: ErrCodeRemoteRejected, Message: message, StatusCode: statusCode, Err: err}
}

// NewInvalidEntity reports an entity that cannot be safely upserted.
func NewInvalidEntity(t EntityType, message string) *Error {
	return &Error{Code: ErrCodeInvalidEntity, Message: message, EntityType: t}
}

// NewInvalidInput reports an unusable argument.
func NewInvalidInput(message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: message}
}

// WithEntity returns a copy of err annotated with the entity it concerns.
// Non-*Error values are returned unchanged.
func WithEntity(err error, t EntityType, naturalKey string) error {
	var me *Error
	if !errors.As(err, &me) {
		return err
	}
	cp := *me
	cp.EntityType = t
	cp.NaturalKey = naturalKey
	return &cp
}
