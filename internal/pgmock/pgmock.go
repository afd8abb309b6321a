// Package pgmock provides a scripted wire.Session for testing the
// orchestration layer without a PostgreSQL server. A Script is a sequence of
// expected calls with canned responses; any deviation fails the consuming
// test through the returned error.
package pgmock

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/aMasakiTakahashi/postgrex/wire"
)

// Op identifies a wire.Session method.
type Op string

const (
	OpPrepare        Op = "Prepare"
	OpPrepareExecute Op = "PrepareExecute"
	OpExecute        Op = "Execute"
	OpExec           Op = "Exec"
	OpCloseStatement Op = "CloseStatement"
	OpOpenPortal     Op = "OpenPortal"
	OpFetchPortal    Op = "FetchPortal"
	OpClosePortal    Op = "ClosePortal"
	OpBeginCopy      Op = "BeginCopy"
	OpCopyData       Op = "CopyData"
	OpCopyDone       Op = "CopyDone"
	OpCopyFail       Op = "CopyFail"
)

// Call records the arguments of one session method invocation.
type Call struct {
	Op      Op
	Name    string
	SQL     string
	Params  []any
	Portal  string
	MaxRows int
	Data    []byte
	Message string
}

// Step is one expected call and its scripted outcome.
type Step struct {
	Want Call

	// Desc is returned by Prepare.
	Desc *wire.StatementDescription

	// Result is returned by PrepareExecute, Execute, Exec, and FetchPortal.
	Result *wire.Result

	// Suspended is returned by FetchPortal and reports more rows remain.
	Suspended bool

	// Tag is returned by CopyDone.
	Tag wire.CommandTag

	// Err, when set, is returned instead of the values above.
	Err error

	// TxStatus, when nonzero, becomes the session's transaction status after
	// the step.
	TxStatus byte
}

// Script is an ordered sequence of steps shared by the sessions it backs.
type Script struct {
	Steps []*Step

	mu  sync.Mutex
	pos int
}

// Done returns an error unless every step has been consumed.
func (s *Script) Done() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos != len(s.Steps) {
		return fmt.Errorf("script has %d unconsumed steps, next: %+v", len(s.Steps)-s.pos, s.Steps[s.pos].Want)
	}
	return nil
}

func (s *Script) step(call Call) (*Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.Steps) {
		return nil, fmt.Errorf("unexpected call past end of script: %+v", call)
	}
	step := s.Steps[s.pos]
	s.pos++

	want := step.Want
	if call.Op != want.Op || call.Name != want.Name || call.SQL != want.SQL || call.Portal != want.Portal {
		return nil, fmt.Errorf("call => %+v, want => %+v", call, want)
	}
	if want.Params != nil && !reflect.DeepEqual(call.Params, want.Params) {
		return nil, fmt.Errorf("call params => %#v, want => %#v", call.Params, want.Params)
	}
	if want.MaxRows != 0 && call.MaxRows != want.MaxRows {
		return nil, fmt.Errorf("call maxRows => %d, want => %d", call.MaxRows, want.MaxRows)
	}
	if want.Data != nil && !reflect.DeepEqual(call.Data, want.Data) {
		return nil, fmt.Errorf("call data => %q, want => %q", call.Data, want.Data)
	}
	if want.Message != "" && call.Message != want.Message {
		return nil, fmt.Errorf("call message => %q, want => %q", call.Message, want.Message)
	}

	return step, nil
}

// Session is a scripted wire.Session.
type Session struct {
	script   *Script
	params   map[string]string
	txStatus byte
	closed   bool
}

// NewSession returns a Session backed by script, idle and with the given
// server parameters.
func NewSession(script *Script, params map[string]string) *Session {
	if params == nil {
		params = map[string]string{}
	}
	return &Session{script: script, params: params, txStatus: 'I'}
}

// Connector returns a wire.Connector producing sessions backed by script. All
// sessions share the script's cursor, so tests typically pair it with a pool
// of size one.
func Connector(script *Script) wire.Connector {
	return func(ctx context.Context, settings wire.Settings) (wire.Session, error) {
		return NewSession(script, nil), nil
	}
}

// ConnectorSeries returns a wire.Connector that hands out one script per
// established session, in order.
func ConnectorSeries(scripts ...*Script) wire.Connector {
	var mu sync.Mutex
	next := 0
	return func(ctx context.Context, settings wire.Settings) (wire.Session, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(scripts) {
			return nil, fmt.Errorf("no script for connection %d", next)
		}
		s := NewSession(scripts[next], nil)
		next++
		return s, nil
	}
}

func (s *Session) apply(call Call) (*Step, error) {
	if s.closed {
		return nil, fmt.Errorf("session is closed")
	}
	step, err := s.script.step(call)
	if err != nil {
		return nil, err
	}
	if step.TxStatus != 0 {
		s.txStatus = step.TxStatus
	}
	return step, nil
}

func (s *Session) Prepare(ctx context.Context, name, sql string) (*wire.StatementDescription, error) {
	step, err := s.apply(Call{Op: OpPrepare, Name: name, SQL: sql})
	if err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	if step.Desc != nil {
		return step.Desc, nil
	}
	return &wire.StatementDescription{Name: name, SQL: sql}, nil
}

func (s *Session) PrepareExecute(ctx context.Context, name, sql string, params []any) (*wire.Result, error) {
	step, err := s.apply(Call{Op: OpPrepareExecute, Name: name, SQL: sql, Params: params})
	if err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Result, nil
}

func (s *Session) Execute(ctx context.Context, name string, params []any) (*wire.Result, error) {
	step, err := s.apply(Call{Op: OpExecute, Name: name, Params: params})
	if err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Result, nil
}

func (s *Session) Exec(ctx context.Context, sql string) (*wire.Result, error) {
	step, err := s.apply(Call{Op: OpExec, SQL: sql})
	if err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Result, nil
}

func (s *Session) CloseStatement(ctx context.Context, name string) error {
	step, err := s.apply(Call{Op: OpCloseStatement, Name: name})
	if err != nil {
		return err
	}
	return step.Err
}

func (s *Session) OpenPortal(ctx context.Context, portal, statementName, sql string, params []any) error {
	step, err := s.apply(Call{Op: OpOpenPortal, Portal: portal, Name: statementName, SQL: sql, Params: params})
	if err != nil {
		return err
	}
	return step.Err
}

func (s *Session) FetchPortal(ctx context.Context, portal string, maxRows int) (*wire.Result, bool, error) {
	step, err := s.apply(Call{Op: OpFetchPortal, Portal: portal, MaxRows: maxRows})
	if err != nil {
		return nil, false, err
	}
	if step.Err != nil {
		return nil, false, step.Err
	}
	return step.Result, step.Suspended, nil
}

func (s *Session) ClosePortal(ctx context.Context, portal string) error {
	step, err := s.apply(Call{Op: OpClosePortal, Portal: portal})
	if err != nil {
		return err
	}
	return step.Err
}

func (s *Session) BeginCopy(ctx context.Context, statementName, sql string, params []any) error {
	step, err := s.apply(Call{Op: OpBeginCopy, Name: statementName, SQL: sql, Params: params})
	if err != nil {
		return err
	}
	return step.Err
}

func (s *Session) CopyData(ctx context.Context, data []byte) error {
	step, err := s.apply(Call{Op: OpCopyData, Data: data})
	if err != nil {
		return err
	}
	return step.Err
}

func (s *Session) CopyDone(ctx context.Context) (wire.CommandTag, error) {
	step, err := s.apply(Call{Op: OpCopyDone})
	if err != nil {
		return wire.CommandTag{}, err
	}
	if step.Err != nil {
		return wire.CommandTag{}, step.Err
	}
	return step.Tag, nil
}

func (s *Session) CopyFail(ctx context.Context, message string) error {
	step, err := s.apply(Call{Op: OpCopyFail, Message: message})
	if err != nil {
		return err
	}
	return step.Err
}

func (s *Session) ParameterStatuses() map[string]string { return s.params }

func (s *Session) TxStatus() byte { return s.txStatus }

func (s *Session) Closed() bool { return s.closed }

func (s *Session) Terminate(ctx context.Context) { s.closed = true }

// SetTxStatus overrides the session's transaction status, for tests that need
// to start from a non-idle state.
func (s *Session) SetTxStatus(status byte) { s.txStatus = status }

// SelectResult builds a single-column result with one row per value, as a
// healthy server would return for a SELECT.
func SelectResult(column string, values ...any) *wire.Result {
	rows := make([][]any, len(values))
	for i, v := range values {
		rows[i] = []any{v}
	}
	return &wire.Result{
		FieldDescriptions: []wire.FieldDescription{{Name: column}},
		Rows:              rows,
		CommandTag:        wire.NewCommandTag(fmt.Sprintf("SELECT %d", len(values))),
	}
}

// ExecResult builds a row-less result with the given command tag.
func ExecResult(tag string) *wire.Result {
	return &wire.Result{CommandTag: wire.NewCommandTag(tag)}
}
