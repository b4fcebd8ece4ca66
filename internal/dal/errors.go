package dal

import (
	"errors"
	"fmt"
)

// StatementError is a construction-time failure. It is a programming
// error: no statement that fails validation ever reaches the database.
type StatementError struct {
	// Code identifies the error category.
	Code StatementErrorCode

	// Message is a human-readable description.
	Message string

	// Columns lists the offending columns, sorted by name when the
	// message names them.
	Columns []*Column
}

// StatementErrorCode categorizes construction failures.
type StatementErrorCode string

const (
	// ErrCodeTableMismatch indicates columns from the wrong table(s).
	ErrCodeTableMismatch StatementErrorCode = "TABLE_MISMATCH"

	// ErrCodeNotEnoughValues indicates an insert missing required columns.
	ErrCodeNotEnoughValues StatementErrorCode = "NOT_ENOUGH_VALUES"

	// ErrCodeMalformed indicates a structurally incomplete statement.
	ErrCodeMalformed StatementErrorCode = "MALFORMED"
)

func (e *StatementError) Error() string {
	return e.Message
}

func tableMismatch(format string, args ...any) *StatementError {
	return &StatementError{Code: ErrCodeTableMismatch, Message: fmt.Sprintf(format, args...)}
}

func notEnoughValues(missing []*Column) *StatementError {
	return &StatementError{
		Code:    ErrCodeNotEnoughValues,
		Message: fmt.Sprintf("Columns [%s] required.", columnNames(missing)),
		Columns: missing,
	}
}

func malformed(format string, args ...any) *StatementError {
	return &StatementError{Code: ErrCodeMalformed, Message: fmt.Sprintf(format, args...)}
}

// IsTableMismatch reports whether err is a table mismatch failure.
func IsTableMismatch(err error) bool {
	var se *StatementError
	if errors.As(err, &se) {
		return se.Code == ErrCodeTableMismatch
	}
	return false
}

// IsNotEnoughValues reports whether err is a missing-columns failure.
func IsNotEnoughValues(err error) bool {
	var se *StatementError
	if errors.As(err, &se) {
		return se.Code == ErrCodeNotEnoughValues
	}
	return false
}

// Must panics if err is non-nil. It is meant for statements declared as
// package-level values, whose validity is a property of the source code.
func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
