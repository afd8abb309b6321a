package postgrex

import (
	"context"
	"errors"
	"fmt"

	"github.com/aMasakiTakahashi/postgrex/wire"
)

// failedTxStatus is the server-reported transaction status of a session inside
// an aborted transaction.
const failedTxStatus = 'E'

// Query executes sql with positional parameters ($1, $2, ...) as an anonymous
// prepare+execute in one round trip. With WithCacheStatement the statement is
// prepared under the given name and reused, degrading to an anonymous plan if
// the server cannot retain named statements.
func (c *Conn) Query(ctx context.Context, sql string, params []any, opts ...CallOption) (*Result, error) {
	o := c.config.newCallOptions(opts)

	var result *Result
	err := c.withSession(ctx, o, func(ctx context.Context, s *session) error {
		var err error
		result, err = c.queryOnSession(ctx, s, sql, params, o)
		return err
	})
	return result, err
}

// MustQuery is like Query but panics on error.
func (c *Conn) MustQuery(ctx context.Context, sql string, params []any, opts ...CallOption) *Result {
	result, err := c.Query(ctx, sql, params, opts...)
	if err != nil {
		panic(err)
	}
	return result
}

// Prepare creates a named server-side prepared statement without executing it.
// With Config.PrepareMode == PrepareUnnamed the name is ignored and the
// unnamed statement is used.
func (c *Conn) Prepare(ctx context.Context, name, sql string, opts ...CallOption) (*PreparedStatement, error) {
	o := c.config.newCallOptions(opts)

	var ps *PreparedStatement
	err := c.withSession(ctx, o, func(ctx context.Context, s *session) error {
		var err error
		ps, err = c.prepareOnSession(ctx, s, name, sql)
		return err
	})
	return ps, err
}

// MustPrepare is like Prepare but panics on error.
func (c *Conn) MustPrepare(ctx context.Context, name, sql string, opts ...CallOption) *PreparedStatement {
	ps, err := c.Prepare(ctx, name, sql, opts...)
	if err != nil {
		panic(err)
	}
	return ps
}

// Execute runs an already-prepared statement. A stale handle (the pool
// recycled the connection and the statement no longer exists server-side)
// surfaces the server's error unchanged; it is never silently retried.
func (c *Conn) Execute(ctx context.Context, ps *PreparedStatement, params []any, opts ...CallOption) (*Result, error) {
	o := c.config.newCallOptions(opts)

	var result *Result
	err := c.withSession(ctx, o, func(ctx context.Context, s *session) error {
		var err error
		result, err = c.executeOnSession(ctx, s, ps, params, o)
		return err
	})
	return result, err
}

// MustExecute is like Execute but panics on error.
func (c *Conn) MustExecute(ctx context.Context, ps *PreparedStatement, params []any, opts ...CallOption) *Result {
	result, err := c.Execute(ctx, ps, params, opts...)
	if err != nil {
		panic(err)
	}
	return result
}

// PrepareExecute prepares sql under name and executes it on the same session.
// It degrades to an anonymous plan on a feature-not-supported error exactly
// like a cached Query.
func (c *Conn) PrepareExecute(ctx context.Context, name, sql string, params []any, opts ...CallOption) (*PreparedStatement, *Result, error) {
	o := c.config.newCallOptions(opts)

	var ps *PreparedStatement
	var result *Result
	err := c.withSession(ctx, o, func(ctx context.Context, s *session) error {
		var err error
		ps, result, err = c.prepareExecuteOnSession(ctx, s, name, sql, params, o)
		return err
	})
	return ps, result, err
}

// MustPrepareExecute is like PrepareExecute but panics on error.
func (c *Conn) MustPrepareExecute(ctx context.Context, name, sql string, params []any, opts ...CallOption) (*PreparedStatement, *Result) {
	ps, result, err := c.PrepareExecute(ctx, name, sql, params, opts...)
	if err != nil {
		panic(err)
	}
	return ps, result
}

// CloseStatement releases the server-side resources of a prepared statement.
// It is best effort: closing an unknown or already-closed statement returns an
// error result, and the statement must not be reused afterwards either way.
func (c *Conn) CloseStatement(ctx context.Context, ps *PreparedStatement, opts ...CallOption) error {
	o := c.config.newCallOptions(opts)

	return c.withSession(ctx, o, func(ctx context.Context, s *session) error {
		return c.closeStatementOnSession(ctx, s, ps)
	})
}

// queryOnSession is the statement-cache coordinator. Without a cache name it
// always runs the anonymous path. With one, it attempts the named
// prepare+execute and falls back to anonymous execution when the server (or a
// transaction-pooling intermediary that reroutes requests between backends)
// reports it cannot retain server-side statements.
func (c *Conn) queryOnSession(ctx context.Context, s *session, sql string, params []any, o *callOptions) (result *Result, err error) {
	if c.config.Tracer != nil {
		ctx = c.config.Tracer.TraceQueryStart(ctx, TraceQueryStartData{
			SessionID:      s.id,
			SQL:            sql,
			Args:           params,
			CacheStatement: o.cacheStatement,
		})
		defer func() {
			data := TraceQueryEndData{Err: err}
			if result != nil {
				data.CommandTag = result.CommandTag
			}
			c.config.Tracer.TraceQueryEnd(ctx, data)
		}()
	}

	name := o.cacheStatement
	if c.config.PrepareMode == PrepareUnnamed {
		name = ""
	}

	wr, err := s.ws.PrepareExecute(ctx, name, sql, params)
	if err == nil {
		return newResult(wr, o), nil
	}

	if name == "" || !isFeatureNotSupported(err) {
		c.noteError(s, err)
		return nil, normalizeTimeoutError(ctx, err)
	}

	// Retrying inside an already failed transaction is pointless; the caller
	// sees the original error.
	if s.ws.TxStatus() == failedTxStatus {
		c.noteError(s, err)
		return nil, err
	}

	wr, err = s.ws.PrepareExecute(ctx, "", sql, params)
	if err != nil {
		c.noteError(s, err)
		return nil, normalizeTimeoutError(ctx, err)
	}
	return newResult(wr, o), nil
}

func (c *Conn) prepareOnSession(ctx context.Context, s *session, name, sql string) (ps *PreparedStatement, err error) {
	if tracer, ok := c.config.Tracer.(PrepareTracer); ok {
		ctx = tracer.TracePrepareStart(ctx, TracePrepareStartData{SessionID: s.id, Name: name, SQL: sql})
		defer func() {
			tracer.TracePrepareEnd(ctx, TracePrepareEndData{Err: err})
		}()
	}

	if c.config.PrepareMode == PrepareUnnamed {
		name = ""
	}

	sd, err := s.ws.Prepare(ctx, name, sql)
	if err != nil {
		c.noteError(s, err)
		return nil, normalizeTimeoutError(ctx, err)
	}

	return &PreparedStatement{
		Name:      sd.Name,
		SQL:       sd.SQL,
		ParamOIDs: sd.ParamOIDs,
		Fields:    sd.Fields,
	}, nil
}

func (c *Conn) executeOnSession(ctx context.Context, s *session, ps *PreparedStatement, params []any, o *callOptions) (result *Result, err error) {
	if ps == nil {
		return nil, errors.New("prepared statement is nil")
	}
	if ps.ParamOIDs != nil && len(params) != len(ps.ParamOIDs) {
		return nil, fmt.Errorf("expected %d parameters, got %d", len(ps.ParamOIDs), len(params))
	}

	if c.config.Tracer != nil {
		ctx = c.config.Tracer.TraceQueryStart(ctx, TraceQueryStartData{
			SessionID: s.id,
			SQL:       ps.SQL,
			Args:      params,
		})
		defer func() {
			data := TraceQueryEndData{Err: err}
			if result != nil {
				data.CommandTag = result.CommandTag
			}
			c.config.Tracer.TraceQueryEnd(ctx, data)
		}()
	}

	wr, err := s.ws.Execute(ctx, ps.Name, params)
	if err != nil {
		c.noteError(s, err)
		return nil, normalizeTimeoutError(ctx, err)
	}
	return newResult(wr, o), nil
}

func (c *Conn) prepareExecuteOnSession(ctx context.Context, s *session, name, sql string, params []any, o *callOptions) (*PreparedStatement, *Result, error) {
	if c.config.PrepareMode == PrepareUnnamed {
		name = ""
	}

	ps, result, err := c.prepareExecuteOnce(ctx, s, name, sql, params, o)
	if err == nil {
		return ps, result, nil
	}

	if name == "" || !isFeatureNotSupported(err) {
		c.noteError(s, err)
		return nil, nil, normalizeTimeoutError(ctx, err)
	}
	if s.ws.TxStatus() == failedTxStatus {
		c.noteError(s, err)
		return nil, nil, err
	}

	ps, result, err = c.prepareExecuteOnce(ctx, s, "", sql, params, o)
	if err != nil {
		c.noteError(s, err)
		return nil, nil, normalizeTimeoutError(ctx, err)
	}
	return ps, result, nil
}

func (c *Conn) prepareExecuteOnce(ctx context.Context, s *session, name, sql string, params []any, o *callOptions) (*PreparedStatement, *Result, error) {
	sd, err := s.ws.Prepare(ctx, name, sql)
	if err != nil {
		return nil, nil, err
	}

	ps := &PreparedStatement{
		Name:      sd.Name,
		SQL:       sd.SQL,
		ParamOIDs: sd.ParamOIDs,
		Fields:    sd.Fields,
	}

	if ps.ParamOIDs != nil && len(params) != len(ps.ParamOIDs) {
		return nil, nil, fmt.Errorf("expected %d parameters, got %d", len(ps.ParamOIDs), len(params))
	}

	wr, err := s.ws.Execute(ctx, ps.Name, params)
	if err != nil {
		return nil, nil, err
	}
	return ps, newResult(wr, o), nil
}

func (c *Conn) closeStatementOnSession(ctx context.Context, s *session, ps *PreparedStatement) (err error) {
	if ps == nil {
		return errors.New("prepared statement is nil")
	}

	if tracer, ok := c.config.Tracer.(PrepareTracer); ok {
		ctx = tracer.TracePrepareStart(ctx, TracePrepareStartData{SessionID: s.id, Name: ps.Name, SQL: ps.SQL})
		defer func() {
			tracer.TracePrepareEnd(ctx, TracePrepareEndData{Err: err})
		}()
	}

	err = s.ws.CloseStatement(ctx, ps.Name)
	if err != nil {
		c.noteError(s, err)
		return normalizeTimeoutError(ctx, err)
	}
	return nil
}

func isFeatureNotSupported(err error) bool {
	var serverErr *wire.ServerError
	return errors.As(err, &serverErr) && serverErr.Kind() == wire.ErrorKindFeatureNotSupported
}
