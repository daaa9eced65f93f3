package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveGroup("committed")
	m.ObserveGroup("committed")
	m.ObserveGroup("rejected")
	m.ObserveEscrowOp("purchase", "none")
	m.ObserveBlock(7, 3*time.Millisecond, 2, 1)
	m.ObserveSubmission("accepted")

	require.Equal(t, 2.0, testutil.ToFloat64(m.GroupsApplied.WithLabelValues("committed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.GroupsApplied.WithLabelValues("rejected")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.EscrowOps.WithLabelValues("purchase", "none")))
	require.Equal(t, 7.0, testutil.ToFloat64(m.BlockHeight))
	require.Equal(t, 2.0, testutil.ToFloat64(m.ListingsActive))
	require.Equal(t, 1.0, testutil.ToFloat64(m.MempoolSize))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveGroup("committed")
	m.ObserveEscrowOp("purchase", "none")
	m.ObserveBlock(1, time.Second, 0, 0)
	m.ObserveSubmission("rejected")
}
