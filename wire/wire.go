// Package wire defines the contract between the postgrex request-orchestration
// layer and an underlying PostgreSQL wire implementation. The socket state
// machine, authentication, and per-type value codecs live behind the Session
// interface; postgrex only depends on the operations and result shapes declared
// here.
package wire

import (
	"context"
	"strings"
)

// Settings is the subset of connection configuration a Connector needs to
// establish a session. It is built by postgrex.Config and consumed verbatim.
type Settings struct {
	Host          string
	Port          uint16
	User          string
	Password      string
	Database      string
	TLS           bool
	RuntimeParams map[string]string
}

// Connector establishes a single Session. postgrex calls it once per pooled
// connection. ctx bounds the connection attempt.
type Connector func(ctx context.Context, settings Settings) (Session, error)

// Session is one physical server connection. It is not safe for concurrent
// use; postgrex guarantees a session is owned by at most one in-flight request
// at a time.
//
// The empty statement name refers to the unnamed (anonymous) statement
// throughout.
type Session interface {
	// Prepare parses and describes a statement without executing it.
	Prepare(ctx context.Context, name, sql string) (*StatementDescription, error)

	// PrepareExecute parses, binds, and executes sql in a single round trip.
	PrepareExecute(ctx context.Context, name, sql string, params []any) (*Result, error)

	// Execute binds and executes a previously prepared statement. Executing a
	// statement that no longer exists server-side returns a *ServerError.
	Execute(ctx context.Context, name string, params []any) (*Result, error)

	// Exec runs sql via the simple query protocol. It is used for transaction
	// control statements (BEGIN, COMMIT, SAVEPOINT, ...).
	Exec(ctx context.Context, sql string) (*Result, error)

	// CloseStatement releases a server-side prepared statement.
	CloseStatement(ctx context.Context, name string) error

	// OpenPortal parses (unless statementName refers to an existing prepared
	// statement) and binds a portal for chunked retrieval.
	OpenPortal(ctx context.Context, portal, statementName, sql string, params []any) error

	// FetchPortal executes the portal for at most maxRows rows. suspended
	// reports whether the portal has more rows to deliver.
	FetchPortal(ctx context.Context, portal string, maxRows int) (result *Result, suspended bool, err error)

	// ClosePortal releases a portal before it is exhausted.
	ClosePortal(ctx context.Context, portal string) error

	// BeginCopy issues the statement and enters copy-in mode. The server
	// requires symmetric COPY framing even when the statement is not a
	// COPY ... FROM STDIN; in that case subsequent CopyData payload is
	// accepted and discarded.
	BeginCopy(ctx context.Context, statementName, sql string, params []any) error

	// CopyData forwards one chunk of COPY payload.
	CopyData(ctx context.Context, data []byte) error

	// CopyDone terminates the COPY and returns the command tag reported by the
	// server.
	CopyDone(ctx context.Context) (CommandTag, error)

	// CopyFail aborts the COPY with the given message.
	CopyFail(ctx context.Context, message string) error

	// ParameterStatuses returns the run-time parameters reported by the server
	// (e.g. server_version).
	ParameterStatuses() map[string]string

	// TxStatus returns the transaction status from the last ReadyForQuery:
	//
	//	'I' - idle / not in transaction
	//	'T' - in a transaction
	//	'E' - in a failed transaction
	TxStatus() byte

	// Closed reports whether the session is no longer usable.
	Closed() bool

	// Terminate closes the session. It is safe to call on an already closed
	// session.
	Terminate(ctx context.Context)
}

// FieldDescription describes one result column.
type FieldDescription struct {
	Name         string
	TableOID     uint32
	DataTypeOID  uint32
	DataTypeSize int16
	TypeModifier int32
	Format       int16
}

// StatementDescription is the server's description of a prepared statement.
type StatementDescription struct {
	Name      string
	SQL       string
	ParamOIDs []uint32
	Fields    []FieldDescription
}

// Result is the raw shape of a query response. Row values are decoded by the
// wire implementation; postgrex post-processes them through the caller's
// decode mapper.
type Result struct {
	FieldDescriptions []FieldDescription
	Rows              [][]any
	CommandTag        CommandTag
}

// CommandTag is the status text returned by the server for a query.
type CommandTag struct {
	s string
}

// NewCommandTag makes a CommandTag from s.
func NewCommandTag(s string) CommandTag {
	return CommandTag{s: s}
}

// RowsAffected returns the number of rows affected. If the CommandTag was not
// for a row affecting command (e.g. "CREATE TABLE") then it returns 0.
func (ct CommandTag) RowsAffected() int64 {
	// Find last non-digit
	idx := -1
	for i := len(ct.s) - 1; i >= 0; i-- {
		if ct.s[i] >= '0' && ct.s[i] <= '9' {
			idx = i
		} else {
			break
		}
	}

	if idx == -1 {
		return 0
	}

	var n int64
	for _, b := range ct.s[idx:] {
		n = n*10 + int64(b-'0')
	}

	return n
}

func (ct CommandTag) String() string {
	return ct.s
}

// Insert is true if the command tag starts with "INSERT".
func (ct CommandTag) Insert() bool {
	return strings.HasPrefix(ct.s, "INSERT")
}

// Update is true if the command tag starts with "UPDATE".
func (ct CommandTag) Update() bool {
	return strings.HasPrefix(ct.s, "UPDATE")
}

// Delete is true if the command tag starts with "DELETE".
func (ct CommandTag) Delete() bool {
	return strings.HasPrefix(ct.s, "DELETE")
}

// Select is true if the command tag starts with "SELECT".
func (ct CommandTag) Select() bool {
	return strings.HasPrefix(ct.s, "SELECT")
}
