package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveRelay(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveRelay(OutcomeSuccess, 120*time.Millisecond)
	m.ObserveRelay(OutcomeSuccess, 80*time.Millisecond)
	m.ObserveRelay("NonceMismatch", time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.requests.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("NonceMismatch")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))

	m.SetInfo("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", "80002")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.info.WithLabelValues("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", "80002")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["relayer_relay_requests_total"])
	assert.True(t, names["relayer_relay_duration_seconds"])
	assert.True(t, names["go_goroutines"])
}
