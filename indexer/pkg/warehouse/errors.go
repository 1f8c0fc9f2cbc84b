package warehouse

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNoUniqueKey       = errors.New("no primary key or unique constraint")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrNullKey           = errors.New("null value in key column")
)

// ConfigurationError reports a destination table that cannot be upserted
// into as declared. It requires a schema fix, not a retry.
type ConfigurationError struct {
	Table TableRef
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for %s: %v", e.Table, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// SchemaMismatchError reports dataset columns that do not line up with the
// destination table.
type SchemaMismatchError struct {
	Table   TableRef
	Columns []string
	Reason  string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch for %s: %s: %s", e.Table, e.Reason, strings.Join(e.Columns, ", "))
}

// TransientStoreError wraps a store failure that may succeed if retried.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error: failed to %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a TransientStoreError.
func IsTransient(err error) bool {
	var t *TransientStoreError
	return errors.As(err, &t)
}

// ErrorType classifies store errors.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeConnectivity
	ErrorTypeTimeout
	ErrorTypeLockContention
	ErrorTypeAuth
)

// WrapStoreError wraps a failed store operation, marking it transient when
// Classify says a retry may help.
func WrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return err
	}
	if isRetryableType(Classify(err)) {
		return &TransientStoreError{Op: op, Err: err}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func isRetryableType(t ErrorType) bool {
	switch t {
	case ErrorTypeConnectivity, ErrorTypeTimeout, ErrorTypeLockContention:
		return true
	default:
		return false
	}
}

// Postgres SQLSTATE codes that indicate a retryable condition.
var pgTransientCodes = map[string]ErrorType{
	"40001": ErrorTypeLockContention, // serialization_failure
	"40P01": ErrorTypeLockContention, // deadlock_detected
	"55P03": ErrorTypeLockContention, // lock_not_available
	"57014": ErrorTypeTimeout,        // query_canceled
	"53300": ErrorTypeConnectivity,   // too_many_connections
	"57P01": ErrorTypeConnectivity,   // admin_shutdown
	"57P03": ErrorTypeConnectivity,   // cannot_connect_now
}

// SQL Server error numbers that indicate a retryable condition.
var mssqlTransientNumbers = map[int32]ErrorType{
	-2:    ErrorTypeTimeout,
	1205:  ErrorTypeLockContention,
	1222:  ErrorTypeLockContention,
	40501: ErrorTypeConnectivity,
	40613: ErrorTypeConnectivity,
}

var (
	connectivityPatterns = []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"bad connection",
		"no such host",
		"dial tcp",
		"dial unix",
		"broken pipe",
		"network is unreachable",
		"no route to host",
		"read/write on closed",
		"server shutdown",
		"pool is closed",
		"too many connections",
		"unexpected eof",
	}
	timeoutPatterns = []string{
		"timeout",
		"timed out",
	}
	lockPatterns = []string{
		"deadlock",
		"database is locked",
		"database table is locked",
		"lock request time out",
		"could not obtain lock",
		"could not serialize access",
	}
	authPatterns = []string{
		"authentication failed",
		"password authentication",
		"login failed",
		"permission denied",
		"access denied",
	}
)

// Classify determines the type of a store error. Caller cancellation and
// deadlines are ErrorTypeUnknown since retrying with the same context
// cannot succeed.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeUnknown
	}
	if errors.Is(err, driver.ErrBadConn) {
		return ErrorTypeConnectivity
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if t, ok := pgTransientCodes[pgErr.Code]; ok {
			return t
		}
		if strings.HasPrefix(pgErr.Code, "08") {
			return ErrorTypeConnectivity
		}
		if strings.HasPrefix(pgErr.Code, "28") {
			return ErrorTypeAuth
		}
		return ErrorTypeUnknown
	}
	if pgconn.Timeout(err) {
		return ErrorTypeTimeout
	}
	if pgconn.SafeToRetry(err) {
		return ErrorTypeConnectivity
	}

	var numbered interface{ SQLErrorNumber() int32 }
	if errors.As(err, &numbered) {
		if t, ok := mssqlTransientNumbers[numbered.SQLErrorNumber()]; ok {
			return t
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeConnectivity
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case containsAny(errStr, lockPatterns):
		return ErrorTypeLockContention
	case containsAny(errStr, connectivityPatterns):
		return ErrorTypeConnectivity
	case containsAny(errStr, timeoutPatterns):
		return ErrorTypeTimeout
	case containsAny(errStr, authPatterns):
		return ErrorTypeAuth
	}
	return ErrorTypeUnknown
}
