package postgrex

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// Stream is a lazy, finite sequence of row chunks bound to one transaction
// scope. No I/O happens at construction; the first Next or Send opens it.
// While a stream is in flight no other statement may be issued on its
// transaction.
//
// Consumed as a producer (Next/Chunk) it yields chunks of at most the
// configured max rows until the cursor or COPY completes; it is not
// restartable. Consumed as a sink (Send/Finish) each chunk is forwarded as
// COPY payload. If the statement is not itself a COPY ... FROM STDIN the
// server still requires symmetric COPY framing, so the payload is accepted
// but discarded; this lenient behavior is deliberate.
type Stream struct {
	tx           *Tx
	sql          string
	ps           *PreparedStatement
	params       []any
	maxRows      int
	decodeMapper DecodeMapper

	portal     string
	opened     bool
	copyOpened bool
	done       bool
	chunks     int
	chunk      *Result
	err        error

	traceCtx context.Context
	tracer   StreamTracer
}

// Stream constructs a stream for sql bound to this transaction. Construction
// performs no I/O.
func (tx *Tx) Stream(sql string, params []any, opts ...CallOption) *Stream {
	o := tx.conn.config.newCallOptions(opts)
	return &Stream{
		tx:           tx,
		sql:          sql,
		params:       params,
		maxRows:      o.maxRows,
		decodeMapper: o.decodeMapper,
	}
}

// StreamPrepared constructs a stream over an already-prepared statement.
func (tx *Tx) StreamPrepared(ps *PreparedStatement, params []any, opts ...CallOption) *Stream {
	o := tx.conn.config.newCallOptions(opts)
	return &Stream{
		tx:           tx,
		ps:           ps,
		sql:          ps.SQL,
		params:       params,
		maxRows:      o.maxRows,
		decodeMapper: o.decodeMapper,
	}
}

// Next advances the stream to the next chunk. It returns false when the
// stream is exhausted or an error occurred; check Err after Next returns
// false.
func (s *Stream) Next() bool {
	if s.err != nil || s.done {
		return false
	}
	if s.copyOpened {
		s.fail(errors.New("stream is already consuming as a sink"))
		return false
	}

	if !s.opened {
		if err := s.open(); err != nil {
			s.fail(err)
			return false
		}
	}

	wr, suspended, err := s.tx.sess.ws.FetchPortal(s.tx.ctx, s.portal, s.maxRows)
	if err != nil {
		s.tx.conn.noteError(s.tx.sess, err)
		s.fail(normalizeTimeoutError(s.tx.ctx, err))
		s.conclude()
		return false
	}

	o := &callOptions{decodeMapper: s.decodeMapper}
	s.chunk = newResult(wr, o)
	s.chunks++

	if !suspended {
		if err := s.tx.sess.ws.ClosePortal(s.tx.ctx, s.portal); err != nil {
			s.tx.conn.noteError(s.tx.sess, err)
		}
		s.conclude()
		return len(wr.Rows) > 0
	}
	return true
}

// Chunk returns the chunk read by the last successful Next. Chunk sizes never
// exceed the stream's max rows.
func (s *Stream) Chunk() *Result {
	return s.chunk
}

// Err returns the first error encountered by the stream.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the stream before exhaustion. An open COPY is aborted
// server-side so the session leaves copy-in mode before the next statement.
// Close is a no-op on a finished stream.
func (s *Stream) Close() error {
	if s.done {
		return nil
	}
	if s.opened {
		if err := s.tx.sess.ws.ClosePortal(s.tx.ctx, s.portal); err != nil {
			s.tx.conn.noteError(s.tx.sess, err)
			s.conclude()
			return normalizeTimeoutError(s.tx.ctx, err)
		}
	}
	if s.copyOpened {
		if err := s.tx.sess.ws.CopyFail(s.tx.ctx, "stream closed"); err != nil {
			s.tx.conn.noteError(s.tx.sess, err)
			s.conclude()
			return normalizeTimeoutError(s.tx.ctx, err)
		}
	}
	s.conclude()
	return nil
}

// Send forwards one chunk of COPY payload. The first Send issues the
// statement and enters copy-in mode.
func (s *Stream) Send(data []byte) error {
	if s.err != nil {
		return s.err
	}
	if s.done {
		return ErrStreamExhausted
	}
	if s.opened {
		return errors.New("stream is already consuming as a producer")
	}

	if !s.copyOpened {
		if err := s.openCopy(); err != nil {
			s.fail(err)
			return s.err
		}
	}

	if err := s.tx.sess.ws.CopyData(s.tx.ctx, data); err != nil {
		s.tx.conn.noteError(s.tx.sess, err)
		s.fail(normalizeTimeoutError(s.tx.ctx, err))
		s.conclude()
		return s.err
	}
	s.chunks++
	return nil
}

// Finish terminates the COPY and returns the server's final result.
func (s *Stream) Finish() (*Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.done {
		return nil, ErrStreamExhausted
	}
	if !s.copyOpened {
		if err := s.openCopy(); err != nil {
			s.fail(err)
			return nil, s.err
		}
	}

	tag, err := s.tx.sess.ws.CopyDone(s.tx.ctx)
	if err != nil {
		s.tx.conn.noteError(s.tx.sess, err)
		s.fail(normalizeTimeoutError(s.tx.ctx, err))
		s.conclude()
		return nil, s.err
	}
	s.conclude()

	return &Result{CommandTag: tag, NumRows: tag.RowsAffected()}, nil
}

// SendAll reads r to EOF and forwards it as COPY payload, overlapping reads
// with sends. On a read error the COPY is failed server-side and the error
// returned.
func (s *Stream) SendAll(r io.Reader) (*Result, error) {
	g, ctx := errgroup.WithContext(s.tx.ctx)
	chunks := make(chan []byte)

	g.Go(func() error {
		defer close(chunks)
		for {
			buf := make([]byte, 65536)
			n, err := r.Read(buf)
			if n > 0 {
				select {
				case chunks <- buf[:n]:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
		}
	})

	g.Go(func() error {
		for data := range chunks {
			if err := s.Send(data); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if s.copyOpened && !s.done {
			if failErr := s.tx.sess.ws.CopyFail(s.tx.ctx, err.Error()); failErr != nil {
				s.tx.conn.noteError(s.tx.sess, failErr)
			}
			s.fail(err)
			s.conclude()
		}
		return nil, err
	}

	return s.Finish()
}

// open binds the portal for producer consumption.
func (s *Stream) open() error {
	if err := s.attach(); err != nil {
		return err
	}

	s.portal = fmt.Sprintf("postgrex_portal_%d", s.tx.state.portalSeq)
	s.tx.state.portalSeq++

	stmtName := ""
	if s.ps != nil {
		stmtName = s.ps.Name
	}

	if err := s.tx.sess.ws.OpenPortal(s.tx.ctx, s.portal, stmtName, s.sql, s.params); err != nil {
		s.tx.conn.noteError(s.tx.sess, err)
		s.detach()
		return normalizeTimeoutError(s.tx.ctx, err)
	}
	s.opened = true
	return nil
}

// openCopy issues the statement and enters copy-in mode for sink consumption.
func (s *Stream) openCopy() error {
	if err := s.attach(); err != nil {
		return err
	}

	stmtName := ""
	if s.ps != nil {
		stmtName = s.ps.Name
	}

	if err := s.tx.sess.ws.BeginCopy(s.tx.ctx, stmtName, s.sql, s.params); err != nil {
		s.tx.conn.noteError(s.tx.sess, err)
		s.detach()
		return normalizeTimeoutError(s.tx.ctx, err)
	}
	s.copyOpened = true
	return nil
}

// attach registers the stream as the transaction's single in-flight stream.
func (s *Stream) attach() error {
	if s.tx.resolved || s.tx.state.done {
		return ErrTxClosed
	}
	if other := s.tx.state.stream; other != nil && other != s && !other.done {
		return ErrStreamInFlight
	}
	s.tx.state.stream = s

	if tracer, ok := s.tx.conn.config.Tracer.(StreamTracer); ok {
		s.tracer = tracer
		s.traceCtx = tracer.TraceStreamStart(s.tx.ctx, TraceStreamStartData{
			SessionID: s.tx.sess.id,
			SQL:       s.sql,
			MaxRows:   s.maxRows,
		})
	}
	return nil
}

func (s *Stream) detach() {
	if s.tx.state.stream == s {
		s.tx.state.stream = nil
	}
}

// conclude marks the stream finished and releases the transaction guard.
func (s *Stream) conclude() {
	s.done = true
	s.detach()
	if s.tracer != nil {
		s.tracer.TraceStreamEnd(s.traceCtx, TraceStreamEndData{Chunks: s.chunks, Err: s.err})
		s.tracer = nil
	}
}

func (s *Stream) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}
