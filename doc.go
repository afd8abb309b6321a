// Package postgrex is the request-orchestration layer of a PostgreSQL client.
/*
postgrex decides how every SQL statement reaches the server: simple one-shot
execution versus extended prepare/execute, named cached statements versus
anonymous plans, how failures are classified and retried, how nested
transactional scopes compose, and how bulk COPY transfer is exposed as a
streaming abstraction. The wire protocol itself (frames, authentication, TLS,
value codecs) is supplied by an implementation of the wire.Session interface.

Starting a Pool

The primary way of obtaining a connection handle is [Start] with a config
produced by [ParseConfig]:

    config, err := postgrex.ParseConfig(os.Getenv("DATABASE_URL"))
    if err != nil {
        return err
    }
    config.Connector = mywire.Connect
    conn, err := postgrex.Start(context.Background(), config)

The connection string can be in URL or keyword/value format. Settings absent
from the string are defaulted from the standard PG* environment variables, the
password file, and the service file.

Query Interface

Query executes a statement as an anonymous prepare+execute in one round trip:

    result, err := conn.Query(ctx, "select $1::int", []any{42})

Passing WithCacheStatement("name") switches to a server-side named statement
that is reused across calls. When an intermediary pooler cannot retain
server-side statements, postgrex transparently degrades the call to an
anonymous plan; the caller never observes the feature-not-supported error
itself.

Prepare and Execute provide the explicit two-phase path. CloseStatement
releases server-side resources and is best effort: closing an unknown
statement returns an error result rather than panicking.

Transactions

Transaction pins one physical connection for the duration of fn. All nested
operations go through the *Tx, never an ambient lookup:

    err := conn.Transaction(ctx, func(tx *postgrex.Tx) error {
        _, err := tx.Query("insert into ledger(amount) values ($1)", []any{10})
        return err
    })

Nested Transaction calls default to joining the outer transaction; an error in
a nested call aborts the whole transaction. WithMode(ModeSavepoint) runs the
nested scope under a savepoint instead, so the caller can handle the inner
failure and still commit the outer transaction. Tx.Rollback stops execution
immediately at any nesting depth and makes the top-level Transaction call
return a *RollbackError carrying the reason.

Streams

Tx.Stream constructs a lazy stream bound to the transaction scope. Consumed as
a producer it yields chunks of at most WithMaxRows rows until the cursor or
COPY completes. Consumed as a sink, each Send forwards one chunk of COPY
payload. Only one stream may be in flight per transaction at a time.

Tracing

postgrex supports tracing by setting Config.Tracer. To combine several tracers
use the multitracer package.
*/
package postgrex
