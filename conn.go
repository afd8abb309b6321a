package postgrex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/puddle/v2"

	"github.com/aMasakiTakahashi/postgrex/wire"
)

// Conn is a concurrency-safe handle to a pool of wire sessions. Each call
// checks out a session for its duration; Transaction pins one session until
// the transaction resolves.
type Conn struct {
	config *Config
	pool   *puddle.Pool[*session]
}

// session pairs a wire session with pool bookkeeping.
type session struct {
	id uuid.UUID
	ws wire.Session

	// disconnect is set when a response matched DisconnectOnErrorCodes; the
	// session is then destroyed instead of returned to the pool.
	disconnect bool
}

// Start establishes a connection pool using config. config must have been
// created by ParseConfig and must have a Connector assigned.
func Start(ctx context.Context, config *Config) (*Conn, error) {
	// Default values are set in ParseConfig. Enforce initial creation by
	// ParseConfig rather than setting defaults from zero values.
	if !config.createdByParseConfig {
		panic("config must be created by ParseConfig")
	}
	if config.Connector == nil {
		return nil, errors.New("config has no wire connector")
	}
	if config.MinConns > config.MaxConns {
		return nil, fmt.Errorf("pool_min_conns (%d) exceeds pool_max_conns (%d)", config.MinConns, config.MaxConns)
	}

	c := &Conn{config: config}

	pool, err := puddle.NewPool(&puddle.Config[*session]{
		Constructor: func(ctx context.Context) (*session, error) {
			ws, err := config.Connector(ctx, config.settings())
			if err != nil {
				return nil, err
			}
			return &session{id: uuid.New(), ws: ws}, nil
		},
		Destructor: func(s *session) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.ws.Terminate(ctx)
		},
		MaxSize: config.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	c.pool = pool

	for i := int32(0); i < config.MinConns; i++ {
		if err := pool.CreateResource(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return c, nil
}

// Close drains the pool and terminates all sessions. It blocks until all
// checked-out sessions are returned.
func (c *Conn) Close() {
	c.pool.Close()
}

// Status reports whether the handle can currently provide a usable session.
func (c *Conn) Status(ctx context.Context) error {
	o := c.config.newCallOptions(nil)
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	res, err := c.acquire(ctx, o)
	if err != nil {
		return err
	}
	defer c.release(res)

	if res.Value().ws.Closed() {
		return errors.New("session is closed")
	}
	return nil
}

// Parameters returns the run-time parameter key/value map cached from the
// server (e.g. server_version).
func (c *Conn) Parameters(ctx context.Context, opts ...CallOption) (map[string]string, error) {
	o := c.config.newCallOptions(opts)
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	res, err := c.acquire(ctx, o)
	if err != nil {
		return nil, err
	}
	defer c.release(res)

	statuses := res.Value().ws.ParameterStatuses()
	params := make(map[string]string, len(statuses))
	for k, v := range statuses {
		params[k] = v
	}
	return params, nil
}

func (c *Conn) acquire(ctx context.Context, o *callOptions) (*puddle.Resource[*session], error) {
	if !o.queue {
		res, err := c.pool.TryAcquire(ctx)
		if err != nil {
			if errors.Is(err, puddle.ErrNotAvailable) {
				return nil, ErrNoSessionAvailable
			}
			if errors.Is(err, puddle.ErrClosedPool) {
				return nil, ErrPoolClosed
			}
			return nil, err
		}
		return res, nil
	}

	res, err := c.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, puddle.ErrClosedPool) {
			return nil, ErrPoolClosed
		}
		return nil, normalizeTimeoutError(ctx, err)
	}
	return res, nil
}

func (c *Conn) release(res *puddle.Resource[*session]) {
	s := res.Value()
	if s.disconnect || s.ws.Closed() {
		res.Destroy()
		return
	}
	res.Release()
}

// noteError applies the disconnect-on-error-code policy: a matching server
// error forces the session to terminate and reconnect rather than remain in a
// degraded state.
func (c *Conn) noteError(s *session, err error) {
	if err == nil {
		return
	}

	var serverErr *wire.ServerError
	if errors.As(err, &serverErr) && c.config.disconnectsOn(serverErr.Code) {
		s.disconnect = true
	}
}

// withSession checks out a session, runs fn against it, and returns it to the
// pool (or destroys it when the disconnect policy or a transport error says
// so).
func (c *Conn) withSession(ctx context.Context, o *callOptions, fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	res, err := c.acquire(ctx, o)
	if err != nil {
		return err
	}
	defer c.release(res)

	return fn(ctx, res.Value())
}
