package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSessionStateGaugeTracksLastValue(t *testing.T) {
	SessionState.WithLabelValues("test-session").Set(1)
	require.InDelta(t, 1, testutil.ToFloat64(SessionState.WithLabelValues("test-session")), 0)
	SessionState.WithLabelValues("test-session").Set(2)
	require.InDelta(t, 2, testutil.ToFloat64(SessionState.WithLabelValues("test-session")), 0)
}

func TestCacheLookupCountersAreIndependent(t *testing.T) {
	before := testutil.ToFloat64(LocatorCacheLookups.WithLabelValues("hit"))
	missBefore := testutil.ToFloat64(LocatorCacheLookups.WithLabelValues("miss"))
	ObserveCacheHit()
	require.InDelta(t, before+1, testutil.ToFloat64(LocatorCacheLookups.WithLabelValues("hit")), 0)
	require.InDelta(t, missBefore, testutil.ToFloat64(LocatorCacheLookups.WithLabelValues("miss")), 0)
}

func TestRegistryGatherSucceeds(t *testing.T) {
	_, err := Registry.Gather()
	require.NoError(t, err)
}
