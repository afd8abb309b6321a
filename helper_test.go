package postgrex_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aMasakiTakahashi/postgrex"
	"github.com/aMasakiTakahashi/postgrex/internal/pgmock"
)

func mustParseConfig(t testing.TB, connString string) *postgrex.Config {
	config, err := postgrex.ParseConfig(connString)
	require.NoError(t, err)
	return config
}

// startConn builds a single-session pool backed by script. configure may be
// nil.
func startConn(t testing.TB, script *pgmock.Script, configure func(*postgrex.Config)) *postgrex.Conn {
	t.Helper()

	config := mustParseConfig(t, "host=localhost")
	config.Connector = pgmock.Connector(script)
	config.MaxConns = 1
	if configure != nil {
		configure(config)
	}

	conn, err := postgrex.Start(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}
