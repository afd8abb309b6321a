package postgrex

import (
	"context"

	"github.com/google/uuid"

	"github.com/aMasakiTakahashi/postgrex/wire"
)

// QueryTracer traces Query, Execute, and PrepareExecute.
type QueryTracer interface {
	// TraceQueryStart is called at the beginning of a query call. The
	// returned context is used for the rest of the call and passed to
	// TraceQueryEnd.
	TraceQueryStart(ctx context.Context, data TraceQueryStartData) context.Context

	TraceQueryEnd(ctx context.Context, data TraceQueryEndData)
}

type TraceQueryStartData struct {
	SessionID uuid.UUID
	SQL       string
	Args      []any
	// CacheStatement is the cached statement name, empty for anonymous
	// execution.
	CacheStatement string
}

type TraceQueryEndData struct {
	CommandTag wire.CommandTag
	Err        error
}

// PrepareTracer traces Prepare and CloseStatement.
type PrepareTracer interface {
	TracePrepareStart(ctx context.Context, data TracePrepareStartData) context.Context
	TracePrepareEnd(ctx context.Context, data TracePrepareEndData)
}

type TracePrepareStartData struct {
	SessionID uuid.UUID
	Name      string
	SQL       string
}

type TracePrepareEndData struct {
	Err error
}

// TxTracer traces transaction scopes.
type TxTracer interface {
	TraceTxStart(ctx context.Context, data TraceTxStartData) context.Context
	TraceTxEnd(ctx context.Context, data TraceTxEndData)
}

type TraceTxStartData struct {
	SessionID uuid.UUID
	// Depth is 0 for the outermost scope.
	Depth int
	Mode  Mode
}

type TraceTxEndData struct {
	Err error
}

// StreamTracer traces stream chunk transfer.
type StreamTracer interface {
	TraceStreamStart(ctx context.Context, data TraceStreamStartData) context.Context
	TraceStreamEnd(ctx context.Context, data TraceStreamEndData)
}

type TraceStreamStartData struct {
	SessionID uuid.UUID
	SQL       string
	MaxRows   int
}

type TraceStreamEndData struct {
	// Chunks is the number of chunks produced or sent.
	Chunks int
	Err    error
}
