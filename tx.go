package postgrex

import (
	"context"
	"errors"
	"fmt"
)

// Tx is a transaction scope pinned to one physical session. All nested
// operations must go through the *Tx they were given; a Tx is not safe for
// concurrent use.
type Tx struct {
	conn  *Conn
	sess  *session
	ctx   context.Context
	depth int
	state *txState

	// resolved marks this scope committed or rolled back. The shared state
	// additionally marks the whole transaction finished.
	resolved bool
}

// txState is shared by every scope of one transaction.
type txState struct {
	failed       bool
	firstErr     error
	done         bool
	stream       *Stream
	savepointSeq int
	portalSeq    int
}

// Transaction pins a session and runs fn inside a transaction. The
// transaction commits when fn returns nil and rolls back when fn returns an
// error, panics, or calls Tx.Rollback. The call's timeout governs the
// cumulative duration of all nested operations.
func (c *Conn) Transaction(ctx context.Context, fn func(*Tx) error, opts ...CallOption) (err error) {
	o := c.config.newCallOptions(opts)
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	res, err := c.acquire(ctx, o)
	if err != nil {
		return err
	}
	defer c.release(res)

	s := res.Value()

	if tracer, ok := c.config.Tracer.(TxTracer); ok {
		ctx = tracer.TraceTxStart(ctx, TraceTxStartData{SessionID: s.id, Depth: 0, Mode: o.mode})
		defer func() {
			tracer.TraceTxEnd(ctx, TraceTxEndData{Err: err})
		}()
	}

	if c.config.Transactions == TransactionsStrict && s.ws.TxStatus() != 'I' {
		s.disconnect = true
		return fmt.Errorf("session is already in a transaction (status %q)", string(s.ws.TxStatus()))
	}

	if _, err := s.ws.Exec(ctx, "BEGIN"); err != nil {
		c.noteError(s, err)
		return normalizeTimeoutError(ctx, err)
	}

	tx := &Tx{conn: c, sess: s, ctx: ctx, state: &txState{}}

	// A panic other than the rollback control value propagates to the caller.
	// The session is mid-transaction, so it must not return to the pool.
	defer func() {
		if p := recover(); p != nil {
			s.disconnect = true
			panic(p)
		}
	}()

	err = tx.run(fn)
	tx.resolved = true
	tx.state.done = true

	if err != nil || tx.state.failed {
		if _, rbErr := s.ws.Exec(ctx, "ROLLBACK"); rbErr != nil {
			c.noteError(s, rbErr)
			s.disconnect = true
		}
		if err == nil {
			err = tx.state.firstErr
			if err == nil {
				err = errors.New("transaction failed")
			}
		}
		return err
	}

	if _, err := s.ws.Exec(ctx, "COMMIT"); err != nil {
		c.noteError(s, err)
		return normalizeTimeoutError(ctx, err)
	}
	return nil
}

// Rollback aborts the transaction at any nesting depth, carrying reason to
// the top-level Transaction call, which returns a *RollbackError. Rollback
// never returns; no caller code past it executes.
func (tx *Tx) Rollback(reason any) {
	panic(rollbackPanic{state: tx.state, reason: reason})
}

// run executes fn and intercepts the rollback control value at this nesting
// level. Inner scopes re-raise so the rollback unwinds to the outermost
// scope; only the outermost converts it into a *RollbackError.
func (tx *Tx) run(fn func(*Tx) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			rb, ok := p.(rollbackPanic)
			if !ok || rb.state != tx.state || tx.depth > 0 {
				panic(p)
			}
			tx.state.failed = true
			err = &RollbackError{Reason: rb.reason}
		}
	}()
	return fn(tx)
}

// Transaction runs fn in a nested scope. In the default ModeTransaction the
// scope joins the outer transaction: an error in fn marks the whole
// transaction failed. With WithMode(ModeSavepoint) the scope runs under a
// savepoint, so the caller can handle the inner error and still commit the
// outer transaction.
func (tx *Tx) Transaction(fn func(*Tx) error, opts ...CallOption) (err error) {
	o := tx.conn.config.newCallOptions(opts)
	if err := tx.usable(); err != nil {
		return err
	}

	ctx := tx.ctx
	if tracer, ok := tx.conn.config.Tracer.(TxTracer); ok {
		ctx = tracer.TraceTxStart(ctx, TraceTxStartData{SessionID: tx.sess.id, Depth: tx.depth + 1, Mode: o.mode})
		defer func() {
			tracer.TraceTxEnd(ctx, TraceTxEndData{Err: err})
		}()
	}

	child := &Tx{conn: tx.conn, sess: tx.sess, ctx: ctx, depth: tx.depth + 1, state: tx.state}

	if o.mode == ModeSavepoint {
		return tx.savepointScope(child, fn)
	}

	err = child.run(fn)
	child.resolved = true
	if err != nil {
		tx.state.failed = true
		if tx.state.firstErr == nil {
			tx.state.firstErr = err
		}
	}
	return err
}

func (tx *Tx) savepointScope(child *Tx, fn func(*Tx) error) error {
	name := fmt.Sprintf("postgrex_savepoint_%d", tx.state.savepointSeq)
	tx.state.savepointSeq++

	if err := tx.exec("SAVEPOINT " + name); err != nil {
		return err
	}

	err := child.run(fn)
	child.resolved = true

	if err != nil {
		if rbErr := tx.exec("ROLLBACK TO SAVEPOINT " + name); rbErr != nil {
			return rbErr
		}
		if rlErr := tx.exec("RELEASE SAVEPOINT " + name); rlErr != nil {
			return rlErr
		}
		return err
	}

	return tx.exec("RELEASE SAVEPOINT " + name)
}

// Query executes sql on the pinned session. With WithMode(ModeSavepoint) and
// strict transactions the statement runs under a savepoint so its failure
// does not abort the outer transaction.
func (tx *Tx) Query(sql string, params []any, opts ...CallOption) (*Result, error) {
	o := tx.conn.config.newCallOptions(opts)
	if err := tx.usable(); err != nil {
		return nil, err
	}

	if o.mode == ModeSavepoint && tx.conn.config.Transactions == TransactionsStrict {
		return tx.savepointStatement(func() (*Result, error) {
			return tx.conn.queryOnSession(tx.ctx, tx.sess, sql, params, o)
		})
	}
	return tx.conn.queryOnSession(tx.ctx, tx.sess, sql, params, o)
}

// savepointStatement runs one statement under its own savepoint so its
// failure does not abort the enclosing transaction.
func (tx *Tx) savepointStatement(fn func() (*Result, error)) (*Result, error) {
	name := fmt.Sprintf("postgrex_query_%d", tx.state.savepointSeq)
	tx.state.savepointSeq++

	if err := tx.exec("SAVEPOINT " + name); err != nil {
		return nil, err
	}

	result, err := fn()
	if err != nil {
		if tx.sess.ws.Closed() {
			return nil, err
		}
		if rbErr := tx.exec("ROLLBACK TO SAVEPOINT " + name); rbErr != nil {
			return nil, rbErr
		}
		if rlErr := tx.exec("RELEASE SAVEPOINT " + name); rlErr != nil {
			return nil, rlErr
		}
		return nil, err
	}

	if err := tx.exec("RELEASE SAVEPOINT " + name); err != nil {
		return nil, err
	}
	return result, nil
}

// Prepare creates a prepared statement on the pinned session.
func (tx *Tx) Prepare(name, sql string, opts ...CallOption) (*PreparedStatement, error) {
	if err := tx.usable(); err != nil {
		return nil, err
	}
	return tx.conn.prepareOnSession(tx.ctx, tx.sess, name, sql)
}

// Execute runs an already-prepared statement on the pinned session. Like
// Query it honors WithMode(ModeSavepoint).
func (tx *Tx) Execute(ps *PreparedStatement, params []any, opts ...CallOption) (*Result, error) {
	o := tx.conn.config.newCallOptions(opts)
	if err := tx.usable(); err != nil {
		return nil, err
	}

	if o.mode == ModeSavepoint && tx.conn.config.Transactions == TransactionsStrict {
		return tx.savepointStatement(func() (*Result, error) {
			return tx.conn.executeOnSession(tx.ctx, tx.sess, ps, params, o)
		})
	}
	return tx.conn.executeOnSession(tx.ctx, tx.sess, ps, params, o)
}

// PrepareExecute prepares and executes sql on the pinned session, with the
// same cache fallback as Conn.PrepareExecute.
func (tx *Tx) PrepareExecute(name, sql string, params []any, opts ...CallOption) (*PreparedStatement, *Result, error) {
	o := tx.conn.config.newCallOptions(opts)
	if err := tx.usable(); err != nil {
		return nil, nil, err
	}
	return tx.conn.prepareExecuteOnSession(tx.ctx, tx.sess, name, sql, params, o)
}

// CloseStatement releases a prepared statement on the pinned session.
func (tx *Tx) CloseStatement(ps *PreparedStatement, opts ...CallOption) error {
	if err := tx.usable(); err != nil {
		return err
	}
	return tx.conn.closeStatementOnSession(tx.ctx, tx.sess, ps)
}

func (tx *Tx) exec(sql string) error {
	if _, err := tx.sess.ws.Exec(tx.ctx, sql); err != nil {
		tx.conn.noteError(tx.sess, err)
		return normalizeTimeoutError(tx.ctx, err)
	}
	return nil
}

func (tx *Tx) usable() error {
	if tx.resolved || tx.state.done {
		return ErrTxClosed
	}
	if s := tx.state.stream; s != nil && !s.done {
		return ErrStreamInFlight
	}
	return nil
}
