package datastore

import (
	"errors"
	"fmt"
)

// Error is a store-level failure of a home, collection or share operation.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes datastore errors.
type ErrorCode string

const (
	// ErrCodeExternalShareFailed indicates a cross-pod share operation
	// could not complete.
	ErrCodeExternalShareFailed ErrorCode = "EXTERNAL_SHARE_FAILED"

	// ErrCodeNameExists indicates a home already has a child with the name.
	ErrCodeNameExists ErrorCode = "HOME_CHILD_NAME_ALREADY_EXISTS"

	// ErrCodeObjectNameExists indicates a collection already has a member
	// with the name.
	ErrCodeObjectNameExists ErrorCode = "OBJECT_RESOURCE_NAME_ALREADY_EXISTS"

	// ErrCodeNotAllowed indicates the operation does not apply to the
	// home or collection, such as sharing an external stub.
	ErrCodeNotAllowed ErrorCode = "NOT_ALLOWED"

	// ErrCodeNotFound indicates a named home, child or object is missing.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Sentinels matched by errors.Is. Each matches every *Error of its code.
var (
	ErrExternalShareFailed        = errors.New("external share failed")
	ErrHomeChildNameAlreadyExists = errors.New("home child name already exists")
	ErrObjectNameAlreadyExists    = errors.New("object resource name already exists")
	ErrNotAllowed                 = errors.New("operation not allowed")
	ErrNotFound                   = errors.New("not found")
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is match the sentinel of the code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrExternalShareFailed:
		return e.Code == ErrCodeExternalShareFailed
	case ErrHomeChildNameAlreadyExists:
		return e.Code == ErrCodeNameExists
	case ErrObjectNameAlreadyExists:
		return e.Code == ErrCodeObjectNameExists
	case ErrNotAllowed:
		return e.Code == ErrCodeNotAllowed
	case ErrNotFound:
		return e.Code == ErrCodeNotFound
	}
	return false
}

// IsExternalShareFailed reports whether err is a failed cross-pod share
// operation. Uses errors.As to handle wrapped errors.
func IsExternalShareFailed(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == ErrCodeExternalShareFailed
	}
	return false
}

// IsNameExists reports whether err is a home child name collision.
func IsNameExists(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == ErrCodeNameExists
	}
	return false
}

func externalShareFailed(err error, format string, args ...any) *Error {
	return &Error{Code: ErrCodeExternalShareFailed, Message: fmt.Sprintf(format, args...), Err: err}
}

func nameExists(name string) *Error {
	return &Error{Code: ErrCodeNameExists, Message: fmt.Sprintf("name %q in use", name)}
}

func notAllowed(format string, args ...any) *Error {
	return &Error{Code: ErrCodeNotAllowed, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func objectNameExists(name string) *Error {
	return &Error{Code: ErrCodeObjectNameExists, Message: fmt.Sprintf("name %q in use", name)}
}
