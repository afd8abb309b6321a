package postgrex_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aMasakiTakahashi/postgrex"
	"github.com/aMasakiTakahashi/postgrex/internal/pgmock"
	"github.com/aMasakiTakahashi/postgrex/wire"
)

func TestStreamProducesChunksInOrder(t *testing.T) {
	t.Parallel()

	script := &pgmock.Script{Steps: []*pgmock.Step{
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "BEGIN"}, Result: pgmock.ExecResult("BEGIN"), TxStatus: 'T'},
		{Want: pgmock.Call{Op: pgmock.OpOpenPortal, Portal: "postgrex_portal_0", SQL: "select n from generate_series(1, 3) n"}},
		{
			Want:      pgmock.Call{Op: pgmock.OpFetchPortal, Portal: "postgrex_portal_0", MaxRows: 2},
			Result:    pgmock.SelectResult("n", int64(1), int64(2)),
			Suspended: true,
		},
		{
			Want:   pgmock.Call{Op: pgmock.OpFetchPortal, Portal: "postgrex_portal_0", MaxRows: 2},
			Result: pgmock.SelectResult("n", int64(3)),
		},
		{Want: pgmock.Call{Op: pgmock.OpClosePortal, Portal: "postgrex_portal_0"}},
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "COMMIT"}, Result: pgmock.ExecResult("COMMIT"), TxStatus: 'I'},
	}}
	conn := startConn(t, script, nil)

	err := conn.Transaction(context.Background(), func(tx *postgrex.Tx) error {
		stream := tx.Stream("select n from generate_series(1, 3) n", nil, postgrex.WithMaxRows(2))

		var got []any
		var chunks int
		for stream.Next() {
			chunk := stream.Chunk()
			assert.LessOrEqual(t, len(chunk.Rows), 2)
			for _, row := range chunk.Rows {
				got = append(got, row[0])
			}
			chunks++
		}
		require.NoError(t, stream.Err())
		assert.Equal(t, []any{int64(1), int64(2), int64(3)}, got)
		assert.Equal(t, 2, chunks)

		// a finished stream is not restartable
		assert.False(t, stream.Next())
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, script.Done())
}

func TestStreamEmptyResult(t *testing.T) {
	t.Parallel()

	script := &pgmock.Script{Steps: []*pgmock.Step{
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "BEGIN"}, Result: pgmock.ExecResult("BEGIN"), TxStatus: 'T'},
		{Want: pgmock.Call{Op: pgmock.OpOpenPortal, Portal: "postgrex_portal_0", SQL: "select 1 where false"}},
		{
			Want:   pgmock.Call{Op: pgmock.OpFetchPortal, Portal: "postgrex_portal_0", MaxRows: 500},
			Result: pgmock.SelectResult("n"),
		},
		{Want: pgmock.Call{Op: pgmock.OpClosePortal, Portal: "postgrex_portal_0"}},
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "COMMIT"}, Result: pgmock.ExecResult("COMMIT"), TxStatus: 'I'},
	}}
	conn := startConn(t, script, nil)

	err := conn.Transaction(context.Background(), func(tx *postgrex.Tx) error {
		stream := tx.Stream("select 1 where false", nil)
		assert.False(t, stream.Next())
		require.NoError(t, stream.Err())
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, script.Done())
}

func TestStreamBlocksOtherStatements(t *testing.T) {
	t.Parallel()

	script := &pgmock.Script{Steps: []*pgmock.Step{
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "BEGIN"}, Result: pgmock.ExecResult("BEGIN"), TxStatus: 'T'},
		{Want: pgmock.Call{Op: pgmock.OpOpenPortal, Portal: "postgrex_portal_0", SQL: "select n from t"}},
		{
			Want:      pgmock.Call{Op: pgmock.OpFetchPortal, Portal: "postgrex_portal_0", MaxRows: 1},
			Result:    pgmock.SelectResult("n", int64(1)),
			Suspended: true,
		},
		{Want: pgmock.Call{Op: pgmock.OpClosePortal, Portal: "postgrex_portal_0"}},
		{Want: pgmock.Call{Op: pgmock.OpPrepareExecute, SQL: "select 2"}, Result: pgmock.SelectResult("n", int64(2))},
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "COMMIT"}, Result: pgmock.ExecResult("COMMIT"), TxStatus: 'I'},
	}}
	conn := startConn(t, script, nil)

	err := conn.Transaction(context.Background(), func(tx *postgrex.Tx) error {
		stream := tx.Stream("select n from t", nil, postgrex.WithMaxRows(1))
		require.True(t, stream.Next())

		_, err := tx.Query("select 2", nil)
		require.ErrorIs(t, err, postgrex.ErrStreamInFlight)

		require.NoError(t, stream.Close())

		// closing the stream lifts the guard
		_, err = tx.Query("select 2", nil)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, script.Done())
}

func TestStreamPrepared(t *testing.T) {
	t.Parallel()

	script := &pgmock.Script{Steps: []*pgmock.Step{
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "BEGIN"}, Result: pgmock.ExecResult("BEGIN"), TxStatus: 'T'},
		{
			Want: pgmock.Call{Op: pgmock.OpPrepare, Name: "list_users", SQL: "select name from users"},
			Desc: &wire.StatementDescription{Name: "list_users", SQL: "select name from users"},
		},
		{Want: pgmock.Call{Op: pgmock.OpOpenPortal, Portal: "postgrex_portal_0", Name: "list_users", SQL: "select name from users"}},
		{
			Want:   pgmock.Call{Op: pgmock.OpFetchPortal, Portal: "postgrex_portal_0", MaxRows: 500},
			Result: pgmock.SelectResult("name", "jack"),
		},
		{Want: pgmock.Call{Op: pgmock.OpClosePortal, Portal: "postgrex_portal_0"}},
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "COMMIT"}, Result: pgmock.ExecResult("COMMIT"), TxStatus: 'I'},
	}}
	conn := startConn(t, script, nil)

	err := conn.Transaction(context.Background(), func(tx *postgrex.Tx) error {
		ps, err := tx.Prepare("list_users", "select name from users")
		require.NoError(t, err)

		stream := tx.StreamPrepared(ps, nil)
		require.True(t, stream.Next())
		assert.Equal(t, [][]any{{"jack"}}, stream.Chunk().Rows)
		assert.False(t, stream.Next())
		return stream.Err()
	})
	require.NoError(t, err)
	require.NoError(t, script.Done())
}

func TestStreamSink(t *testing.T) {
	t.Parallel()

	script := &pgmock.Script{Steps: []*pgmock.Step{
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "BEGIN"}, Result: pgmock.ExecResult("BEGIN"), TxStatus: 'T'},
		{Want: pgmock.Call{Op: pgmock.OpBeginCopy, SQL: "copy t from stdin"}},
		{Want: pgmock.Call{Op: pgmock.OpCopyData, Data: []byte("1\taa\n")}},
		{Want: pgmock.Call{Op: pgmock.OpCopyData, Data: []byte("2\tbb\n")}},
		{Want: pgmock.Call{Op: pgmock.OpCopyDone}, Tag: wire.NewCommandTag("COPY 2")},
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "COMMIT"}, Result: pgmock.ExecResult("COMMIT"), TxStatus: 'I'},
	}}
	conn := startConn(t, script, nil)

	err := conn.Transaction(context.Background(), func(tx *postgrex.Tx) error {
		stream := tx.Stream("copy t from stdin", nil)
		require.NoError(t, stream.Send([]byte("1\taa\n")))
		require.NoError(t, stream.Send([]byte("2\tbb\n")))

		result, err := stream.Finish()
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.NumRows)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, script.Done())
}

func TestStreamSendAll(t *testing.T) {
	t.Parallel()

	data := "1\taa\n2\tbb\n"
	script := &pgmock.Script{Steps: []*pgmock.Step{
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "BEGIN"}, Result: pgmock.ExecResult("BEGIN"), TxStatus: 'T'},
		{Want: pgmock.Call{Op: pgmock.OpBeginCopy, SQL: "copy t from stdin"}},
		{Want: pgmock.Call{Op: pgmock.OpCopyData, Data: []byte(data)}},
		{Want: pgmock.Call{Op: pgmock.OpCopyDone}, Tag: wire.NewCommandTag("COPY 2")},
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "COMMIT"}, Result: pgmock.ExecResult("COMMIT"), TxStatus: 'I'},
	}}
	conn := startConn(t, script, nil)

	err := conn.Transaction(context.Background(), func(tx *postgrex.Tx) error {
		stream := tx.Stream("copy t from stdin", nil)
		result, err := stream.SendAll(strings.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.NumRows)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, script.Done())
}

func TestStreamProducerSinkExclusion(t *testing.T) {
	t.Parallel()

	script := &pgmock.Script{Steps: []*pgmock.Step{
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "BEGIN"}, Result: pgmock.ExecResult("BEGIN"), TxStatus: 'T'},
		{Want: pgmock.Call{Op: pgmock.OpOpenPortal, Portal: "postgrex_portal_0", SQL: "select n from t"}},
		{
			Want:      pgmock.Call{Op: pgmock.OpFetchPortal, Portal: "postgrex_portal_0", MaxRows: 500},
			Result:    pgmock.SelectResult("n", int64(1)),
			Suspended: true,
		},
		{Want: pgmock.Call{Op: pgmock.OpClosePortal, Portal: "postgrex_portal_0"}},
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "COMMIT"}, Result: pgmock.ExecResult("COMMIT"), TxStatus: 'I'},
	}}
	conn := startConn(t, script, nil)

	err := conn.Transaction(context.Background(), func(tx *postgrex.Tx) error {
		stream := tx.Stream("select n from t", nil)
		require.True(t, stream.Next())

		err := stream.Send([]byte("nope"))
		require.EqualError(t, err, "stream is already consuming as a producer")

		return stream.Close()
	})
	require.NoError(t, err)
	require.NoError(t, script.Done())
}

func TestStreamSinkCloseAbortsCopy(t *testing.T) {
	t.Parallel()

	script := &pgmock.Script{Steps: []*pgmock.Step{
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "BEGIN"}, Result: pgmock.ExecResult("BEGIN"), TxStatus: 'T'},
		{Want: pgmock.Call{Op: pgmock.OpBeginCopy, SQL: "copy t from stdin"}},
		{Want: pgmock.Call{Op: pgmock.OpCopyData, Data: []byte("1\taa\n")}},
		{Want: pgmock.Call{Op: pgmock.OpCopyFail, Message: "stream closed"}},
		{Want: pgmock.Call{Op: pgmock.OpPrepareExecute, SQL: "select 1"}, Result: pgmock.SelectResult("n", int64(1))},
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "COMMIT"}, Result: pgmock.ExecResult("COMMIT"), TxStatus: 'I'},
	}}
	conn := startConn(t, script, nil)

	err := conn.Transaction(context.Background(), func(tx *postgrex.Tx) error {
		stream := tx.Stream("copy t from stdin", nil)
		require.NoError(t, stream.Send([]byte("1\taa\n")))

		// abandoning the sink must leave copy-in mode before the session
		// carries another statement
		require.NoError(t, stream.Close())

		_, err := tx.Query("select 1", nil)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, script.Done())
}

func TestStreamExhaustedSink(t *testing.T) {
	t.Parallel()

	script := &pgmock.Script{Steps: []*pgmock.Step{
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "BEGIN"}, Result: pgmock.ExecResult("BEGIN"), TxStatus: 'T'},
		{Want: pgmock.Call{Op: pgmock.OpBeginCopy, SQL: "copy t from stdin"}},
		{Want: pgmock.Call{Op: pgmock.OpCopyDone}, Tag: wire.NewCommandTag("COPY 0")},
		{Want: pgmock.Call{Op: pgmock.OpExec, SQL: "COMMIT"}, Result: pgmock.ExecResult("COMMIT"), TxStatus: 'I'},
	}}
	conn := startConn(t, script, nil)

	err := conn.Transaction(context.Background(), func(tx *postgrex.Tx) error {
		stream := tx.Stream("copy t from stdin", nil)
		_, err := stream.Finish()
		require.NoError(t, err)

		require.ErrorIs(t, stream.Send([]byte("late")), postgrex.ErrStreamExhausted)
		_, err = stream.Finish()
		require.ErrorIs(t, err, postgrex.ErrStreamExhausted)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, script.Done())
}
