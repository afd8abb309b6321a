package postgrex

import "time"

// Mode selects how an operation participates in an enclosing transaction.
type Mode int

const (
	// ModeTransaction runs the operation directly in the enclosing
	// transaction. An error aborts the whole transaction.
	ModeTransaction Mode = iota

	// ModeSavepoint wraps the operation in a savepoint so its failure can be
	// handled without discarding the enclosing transaction.
	ModeSavepoint
)

func (m Mode) String() string {
	switch m {
	case ModeTransaction:
		return "transaction"
	case ModeSavepoint:
		return "savepoint"
	default:
		return "invalid"
	}
}

// DecodeMapper post-processes one result row before it is handed to the
// caller.
type DecodeMapper func(row []any) []any

// CallOption customizes a single postgrex call.
type CallOption func(*callOptions)

type callOptions struct {
	queue          bool
	timeout        time.Duration
	mode           Mode
	decodeMapper   DecodeMapper
	cacheStatement string
	maxRows        int
}

// WithQueue controls whether the call waits for a session when the pool is
// exhausted. The default is true; with false the call fails immediately with
// ErrNoSessionAvailable.
func WithQueue(queue bool) CallOption {
	return func(o *callOptions) { o.queue = queue }
}

// WithTimeout bounds the call. Inside a transaction the per-call timeout is
// superseded by the transaction's own timeout. The default is
// DefaultTimeout.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithMode selects transaction or savepoint mode for the call.
func WithMode(m Mode) CallOption {
	return func(o *callOptions) { o.mode = m }
}

// WithDecodeMapper installs a per-row mapper applied to every result row.
func WithDecodeMapper(f DecodeMapper) CallOption {
	return func(o *callOptions) { o.decodeMapper = f }
}

// WithCacheStatement names a server-side cached statement for Query. The
// statement is prepared under this name on first use and reused afterwards,
// falling back to an anonymous plan when the server cannot retain it.
func WithCacheStatement(name string) CallOption {
	return func(o *callOptions) { o.cacheStatement = name }
}

// WithMaxRows sets the chunk size for streams. The default is
// DefaultMaxRows.
func WithMaxRows(n int) CallOption {
	return func(o *callOptions) { o.maxRows = n }
}

func (c *Config) newCallOptions(opts []CallOption) *callOptions {
	o := &callOptions{
		queue:   true,
		timeout: c.Timeout,
		maxRows: DefaultMaxRows,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
