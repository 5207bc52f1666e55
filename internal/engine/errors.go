package engine

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Class partitions failures by how the scheduler loop must react.
type Class int

const (
	// ClassTransient failures are retried with backoff and never advance the cursor.
	ClassTransient Class = iota
	// ClassData failures affect individual records; the cycle continues.
	ClassData
	// ClassFatal failures halt the loop until an external restart.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassData:
		return "data"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// SyncError wraps an underlying error with its class.
type SyncError struct {
	Class Class
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func Transient(err error) error {
	return &SyncError{Class: ClassTransient, Err: err}
}

func Fatal(err error) error {
	return &SyncError{Class: ClassFatal, Err: err}
}

func DataError(err error) error {
	return &SyncError{Class: ClassData, Err: err}
}

// MySQL server error numbers that cannot be fixed by retrying.
var fatalMySQLErrors = map[uint16]bool{
	1044: true, // access denied to database
	1045: true, // access denied for user
	1049: true, // unknown database
	1054: true, // unknown column
	1146: true, // table doesn't exist
}

var fatalOracleErrors = []string{
	"ORA-01017", // invalid username/password
	"ORA-00942", // table or view does not exist
	"ORA-00904", // invalid identifier
}

// Classify maps an error to its class. Errors already wrapped in a SyncError
// keep their class; otherwise connectivity-shaped errors are transient and
// schema/auth errors are fatal. Unknown errors default to transient so that
// the consecutive-failure ceiling bounds them.
func Classify(err error) Class {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Class
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if fatalMySQLErrors[myErr.Number] {
			return ClassFatal
		}
		return ClassTransient
	}

	// go-ora surfaces server errors as ORA-NNNNN strings.
	msg := err.Error()
	for _, code := range fatalOracleErrors {
		if strings.Contains(msg, code) {
			return ClassFatal
		}
	}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.EOF),
		errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}

	return ClassTransient
}
