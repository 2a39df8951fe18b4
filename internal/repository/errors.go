// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// coordinator and handlers to distinguish between different failure
// scenarios without inspecting driver errors.
package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an insert collides with an existing
// row. Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrRestaurantNotFound is returned when no restaurant has the requested ID.
var ErrRestaurantNotFound = errors.New("restaurant not found")

// ErrEntryNotFound is returned when no waitlist entry matches the lookup.
var ErrEntryNotFound = errors.New("waitlist entry not found")

// ErrLockTimeout is returned when a row lock or a transaction slot could
// not be obtained in time. The whole transaction has been rolled back and
// the operation may be retried.
var ErrLockTimeout = errors.New("lock wait timeout")

// MySQL server error numbers that mean "try again later".
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlDuplicateEntry  = 1062
)

// classify maps driver errors to the sentinels above. Unknown errors are
// returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlLockWaitTimeout, mysqlDeadlock:
			return fmt.Errorf("%w: %v", ErrLockTimeout, err)
		case mysqlDuplicateEntry:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}
