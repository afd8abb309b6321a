package postgrex

import (
	"context"
	"errors"
	"fmt"

	"github.com/aMasakiTakahashi/postgrex/wire"
)

var (
	// ErrTxClosed is returned when a *Tx is used after its transaction has
	// committed or rolled back.
	ErrTxClosed = errors.New("tx is closed")

	// ErrStreamInFlight is returned when a statement is issued on a
	// transaction scope while one of its streams has not finished.
	ErrStreamInFlight = errors.New("stream is in flight on this transaction")

	// ErrStreamExhausted is returned when a finished stream is re-consumed.
	ErrStreamExhausted = errors.New("stream is exhausted")

	// ErrPoolClosed is returned by operations on a closed connection handle.
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrNoSessionAvailable is returned when queueing is disabled and no idle
	// session could be checked out.
	ErrNoSessionAvailable = errors.New("no session available and queueing is disabled")
)

// RollbackError is returned by the top-level Transaction call after
// Tx.Rollback was invoked at any nesting depth. Reason is the value the caller
// supplied to Rollback.
type RollbackError struct {
	Reason any
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("transaction rolled back: %v", e.Reason)
}

// rollbackPanic is the control value Tx.Rollback unwinds with. Every
// Transaction level intercepts it; only the outermost converts it into a
// *RollbackError.
type rollbackPanic struct {
	state  *txState
	reason any
}

// normalizeTimeoutError relabels errors caused by ctx expiring so the caller
// sees the deadline rather than a raw transport error.
func normalizeTimeoutError(ctx context.Context, err error) error {
	if err == nil || !wire.Timeout(err) {
		return err
	}

	if ctx.Err() == context.Canceled {
		return context.Canceled
	} else if ctx.Err() == context.DeadlineExceeded {
		return &errTimeout{err: ctx.Err()}
	}
	return err
}

// errTimeout implements net.Error to allow Timeout checks on deadline errors
// surfaced by postgrex itself.
type errTimeout struct {
	err error
}

func (e *errTimeout) Error() string   { return fmt.Sprintf("timeout: %s", e.err.Error()) }
func (e *errTimeout) Timeout() bool   { return true }
func (e *errTimeout) Temporary() bool { return true }
func (e *errTimeout) Unwrap() error   { return e.err }
