package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatheredValue(t *testing.T, g prometheus.Gatherer, name string) (float64, bool) {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		var total float64
		for _, m := range fam.GetMetric() {
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
		return total, true
	}
	return 0, false
}

func TestTurnsTotal_RegisteredOnDefaultRegistry(t *testing.T) {
	TurnsTotal.WithLabelValues("success").Inc()
	v, ok := gatheredValue(t, prometheus.DefaultGatherer, "dotchat_agent_turns_total")
	require.True(t, ok)
	assert.GreaterOrEqual(t, v, 1.0)
}

func TestRegisterQueueGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	pending := 3
	require.NoError(t, RegisterQueueGauges(reg, func() int { return pending }, func() uint64 { return 7 }))

	v, ok := gatheredValue(t, reg, "dotchat_bus_inbound_pending")
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
	v, ok = gatheredValue(t, reg, "dotchat_bus_inbound_dropped_total")
	require.True(t, ok)
	assert.Equal(t, 7.0, v)

	assert.Error(t, RegisterQueueGauges(reg, func() int { return 0 }, func() uint64 { return 0 }))
}
