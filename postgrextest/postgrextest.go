// Package postgrextest provides utilities for testing postgrex and packages that integrate with postgrex.
package postgrextest

import (
	"context"
	"os"
	"testing"

	"github.com/aMasakiTakahashi/postgrex"
	"github.com/aMasakiTakahashi/postgrex/wire"
)

// ConnTestRunner controls how a *postgrex.Conn is created and closed by tests. All fields are required. Use DefaultConnTestRunner to get a
// ConnTestRunner with reasonable default values.
type ConnTestRunner struct {
	// CreateConfig returns a *postgrex.Config suitable for use with postgrex.Start. The config must have a wire
	// connector assigned.
	CreateConfig func(ctx context.Context, t testing.TB) *postgrex.Config

	// AfterStart is called after the pool is established. It allows for arbitrary setup before a test begins.
	AfterStart func(ctx context.Context, t testing.TB, conn *postgrex.Conn)

	// AfterTest is called after the test is run. It allows for validating the state of the pool before it is closed.
	AfterTest func(ctx context.Context, t testing.TB, conn *postgrex.Conn)

	// CloseConn closes conn.
	CloseConn func(ctx context.Context, t testing.TB, conn *postgrex.Conn)
}

// DefaultConnTestRunner returns a new ConnTestRunner with all fields set to reasonable default values. The returned
// runner parses POSTGREX_TEST_CONN_STRING and skips the test when it is unset; the connector must still be assigned by
// the caller, typically via WithConnector.
func DefaultConnTestRunner() ConnTestRunner {
	return ConnTestRunner{
		CreateConfig: func(ctx context.Context, t testing.TB) *postgrex.Config {
			connString := os.Getenv(postgrex.EnvTestConnString)
			if connString == "" {
				t.Skipf("Skipping due to missing environment variable %v", postgrex.EnvTestConnString)
			}
			config, err := postgrex.ParseConfig(connString)
			if err != nil {
				t.Fatalf("ParseConfig failed: %v", err)
			}
			return config
		},
		AfterStart: func(ctx context.Context, t testing.TB, conn *postgrex.Conn) {},
		AfterTest:  func(ctx context.Context, t testing.TB, conn *postgrex.Conn) {},
		CloseConn: func(ctx context.Context, t testing.TB, conn *postgrex.Conn) {
			conn.Close()
		},
	}
}

// WithConnector returns a copy of ctr whose configs use connector. It keeps the rest of the runner's behavior.
func (ctr ConnTestRunner) WithConnector(connector wire.Connector) ConnTestRunner {
	inner := ctr.CreateConfig
	ctr.CreateConfig = func(ctx context.Context, t testing.TB) *postgrex.Config {
		config := inner(ctx, t)
		config.Connector = connector
		return config
	}
	return ctr
}

func (ctr *ConnTestRunner) RunTest(ctx context.Context, t testing.TB, f func(ctx context.Context, t testing.TB, conn *postgrex.Conn)) {
	t.Helper()

	config := ctr.CreateConfig(ctx, t)
	conn, err := postgrex.Start(ctx, config)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer ctr.CloseConn(ctx, t, conn)

	ctr.AfterStart(ctx, t, conn)
	f(ctx, t, conn)
	ctr.AfterTest(ctx, t, conn)
}

// RunWithPrepareModes runs f in a new subtest for each element of modes with a new pool created from ctr. If modes is
// nil both prepare modes are tested.
func RunWithPrepareModes(ctx context.Context, t *testing.T, ctr ConnTestRunner, modes []postgrex.PrepareMode, f func(ctx context.Context, t testing.TB, conn *postgrex.Conn)) {
	if modes == nil {
		modes = []postgrex.PrepareMode{postgrex.PrepareNamed, postgrex.PrepareUnnamed}
	}

	for _, mode := range modes {
		ctrWithMode := ctr
		innerCreate := ctr.CreateConfig
		ctrWithMode.CreateConfig = func(ctx context.Context, t testing.TB) *postgrex.Config {
			config := innerCreate(ctx, t)
			config.PrepareMode = mode
			return config
		}

		t.Run(mode.String(),
			func(t *testing.T) {
				ctrWithMode.RunTest(ctx, t, f)
			},
		)
	}
}
