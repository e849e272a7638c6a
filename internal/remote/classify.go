package remote

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/microsearch/drivercapture/internal/sample"
	"github.com/ncruces/go-sqlite3"
)

// PermanentError marks a failure that retrying will not fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// MySQL server errors caused by the row's data rather than the connection.
var permanentMySQLErrors = map[uint16]bool{
	1048: true, // column cannot be null
	1054: true, // unknown column
	1146: true, // table doesn't exist
	1264: true, // out of range value
	1265: true, // data truncated
	1292: true, // incorrect datetime value
	1366: true, // incorrect integer/decimal value
	1406: true, // data too long
	1452: true, // foreign key constraint
	3819: true, // check constraint violated
	4025: true, // check constraint violated (MariaDB)
}

// Classify sorts a remote write error into transient or permanent. Only
// errors that prove the row itself is unacceptable are permanent; anything
// unrecognised is assumed transient and retried.
func Classify(err error) sample.FailureKind {
	if err == nil {
		return sample.FailureNone
	}

	var perm *PermanentError
	if errors.As(err, &perm) || sample.IsValidationError(err) {
		return sample.FailurePermanent
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return sample.FailureTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return sample.FailureTransient
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if permanentMySQLErrors[myErr.Number] {
			return sample.FailurePermanent
		}
		return sample.FailureTransient
	}

	var liteErr *sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.CONSTRAINT, sqlite3.MISMATCH, sqlite3.TOOBIG, sqlite3.RANGE:
			return sample.FailurePermanent
		}
		return sample.FailureTransient
	}

	// libsql reports server errors as plain text.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "constraint failed") || strings.Contains(msg, "datatype mismatch") {
		return sample.FailurePermanent
	}
	return sample.FailureTransient
}
