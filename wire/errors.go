package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies a *ServerError for the orchestration layer. It is an
// explicit enumeration so callers can switch on it instead of inspecting
// SQLSTATE strings.
type ErrorKind int

const (
	// ErrorKindServer is a structured server error with no special handling.
	ErrorKindServer ErrorKind = iota

	// ErrorKindFeatureNotSupported signals that the server or an intermediary
	// (e.g. a transaction-pooling proxy) cannot honor the requested behavior,
	// such as server-side named statements. SQLSTATE class 0A.
	ErrorKindFeatureNotSupported

	// ErrorKindInvalidStatement signals a reference to a prepared statement or
	// portal that no longer exists server-side. SQLSTATE classes 26 and 34.
	ErrorKindInvalidStatement
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindServer:
		return "server"
	case ErrorKindFeatureNotSupported:
		return "feature_not_supported"
	case ErrorKindInvalidStatement:
		return "invalid_statement"
	default:
		return fmt.Sprintf("invalid error kind %d", int(k))
	}
}

// ServerError represents an error reported by the PostgreSQL server.
type ServerError struct {
	Severity       string
	Code           string
	Message        string
	Detail         string
	Hint           string
	Position       int32
	Where          string
	SchemaName     string
	TableName      string
	ColumnName     string
	ConstraintName string
	File           string
	Line           int32
	Routine        string
}

func (e *ServerError) Error() string {
	return e.Severity + ": " + e.Message + " (SQLSTATE " + e.Code + ")"
}

// Kind maps the SQLSTATE code to an ErrorKind.
func (e *ServerError) Kind() ErrorKind {
	switch {
	case strings.HasPrefix(e.Code, "0A"):
		return ErrorKindFeatureNotSupported
	case strings.HasPrefix(e.Code, "26"), strings.HasPrefix(e.Code, "34"):
		return ErrorKindInvalidStatement
	default:
		return ErrorKindServer
	}
}

// ConnError is a transport-level failure. The session that produced it is no
// longer usable and will be discarded by the pool.
type ConnError struct {
	msg         string
	err         error
	safeToRetry bool
}

// NewConnError wraps err as a ConnError. safeToRetry indicates the request
// definitely did not reach the server.
func NewConnError(msg string, err error, safeToRetry bool) *ConnError {
	return &ConnError{msg: msg, err: err, safeToRetry: safeToRetry}
}

func (e *ConnError) Error() string {
	if e.msg == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %s", e.msg, e.err.Error())
}

func (e *ConnError) Unwrap() error { return e.err }

// SafeToRetry indicates the request that generated this error was not sent to
// the server.
func (e *ConnError) SafeToRetry() bool { return e.safeToRetry }

// Timeout reports whether err was caused by a timeout or cancellation.
func Timeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
