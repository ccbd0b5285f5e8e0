package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndGauges(t *testing.T) {
	Inc("test_counter")
	Inc("test_counter")
	SetGauge("test_gauge", 42)

	assert.Equal(t, int64(2), Get("test_counter"))
	assert.Equal(t, int64(42), Get("test_gauge"))
	assert.Equal(t, int64(0), Get("test_missing"))
	assert.Contains(t, Names(), "test_counter")
}

func TestFlushAndQuery(t *testing.T) {
	require.NoError(t, InitMetrics(t.TempDir()))
	t.Cleanup(func() { _ = Close() })

	SetGauge("test_flush", 7)
	now := time.Now()
	require.NoError(t, Flush(now))

	pts, err := Query("test_flush", now.Unix()-1, now.Unix()+1)
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, float64(7), pts[0].Value)

	empty, err := Query("test_never_written", now.Unix()-1, now.Unix()+1)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestQueryWithoutStorage(t *testing.T) {
	_, err := Query("anything", 0, 1)
	assert.Error(t, err)
}

func TestCollectorExportsValues(t *testing.T) {
	SetGauge("test_collected", 9)
	SetGauge("invalid-name", 1)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector()))
	families, err := reg.Gather()
	require.NoError(t, err)

	found := map[string]float64{}
	for _, mf := range families {
		found[mf.GetName()] = mf.GetMetric()[0].GetUntyped().GetValue()
	}
	assert.Equal(t, float64(9), found["test_collected"])
	assert.NotContains(t, found, "invalid-name")
}
