package store

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// ErrAllRetriesFailed is matched by the error Subtransaction returns once
// every attempt has failed.
var ErrAllRetriesFailed = errors.New("all retries failed")

// ErrNoServerValue reports a missing CALENDARSERVER entry.
var ErrNoServerValue = errors.New("no such server value")

// RetriesError is returned by Subtransaction when every attempt failed.
type RetriesError struct {
	Attempts int
	Last     error
}

func (e *RetriesError) Error() string {
	return fmt.Sprintf("all retries failed after %d attempt(s): %v", e.Attempts, e.Last)
}

// Is makes errors.Is(err, ErrAllRetriesFailed) match.
func (e *RetriesError) Is(target error) bool {
	return target == ErrAllRetriesFailed
}

func (e *RetriesError) Unwrap() error {
	return e.Last
}

// IsAllRetriesFailed reports whether err came from an exhausted
// sub-transaction.
func IsAllRetriesFailed(err error) bool {
	return errors.Is(err, ErrAllRetriesFailed)
}

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// IsUniqueViolation reports whether err is a uniqueness constraint failure
// from any supported driver.
func IsUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	return false
}
