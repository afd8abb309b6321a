package postgrex

// environment variables used in the tests
const (
	EnvTestConnString   = "POSTGREX_TEST_CONN_STRING"
	EnvTestStressFactor = "POSTGREX_TEST_STRESS_FACTOR"
)
