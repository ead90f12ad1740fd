package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, cyclesTotal)
	require.NotNil(t, listingsSeenTotal)
}

func TestCounters(t *testing.T) {
	Init()

	AddListingsSeen("demo", 3)
	AddListingsSeen("demo", 2)
	require.Equal(t, float64(5), testutil.ToFloat64(listingsSeenTotal.WithLabelValues("demo")))

	AddListingsNew("demo", 1)
	require.Equal(t, float64(1), testutil.ToFloat64(listingsNewTotal.WithLabelValues("demo")))

	IncSourceError("hellowork")
	require.Equal(t, float64(1), testutil.ToFloat64(sourceErrorsTotal.WithLabelValues("hellowork")))

	before := testutil.ToFloat64(notificationsSentTotal)
	IncNotificationSent()
	require.Equal(t, before+1, testutil.ToFloat64(notificationsSentTotal))
}

func TestGaugeAndHistogramDoNotPanic(t *testing.T) {
	Init()

	SetCycleRunning(true)
	require.Equal(t, float64(1), testutil.ToFloat64(cycleRunning))
	SetCycleRunning(false)
	require.Equal(t, float64(0), testutil.ToFloat64(cycleRunning))

	ObserveCycle("ok", 42*time.Second)
}

func TestHelpersTolerateUninitializedState(t *testing.T) {
	// Helpers are no-ops before Init; exercised via zero-value guards.
	AddListingsSeen("demo", 0)
	AddListingsNew("demo", -1)
}
