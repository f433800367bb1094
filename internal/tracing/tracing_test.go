package tracing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitZipkinNoopWhenEndpointEmpty(t *testing.T) {
	require.NotPanics(t, func() {
		InitZipkin("", "hypertable-test", "127.0.0.1:1234")
	})
}

func TestInitZipkinWithEndpointDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		InitZipkin("127.0.0.1:9411", "hypertable-test", "127.0.0.1:1234")
	})
}
