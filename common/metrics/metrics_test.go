package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "udc",
		Name:      "test_total",
		Help:      "Test counter.",
	}, []string{"kind"})
}

func TestRegisterCounterVec_ReusesExisting(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := RegisterCounterVec(reg, newCounter())
	require.NoError(t, err)
	second, err := RegisterCounterVec(reg, newCounter())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestRegisterCounterVec_NilRegisterer(t *testing.T) {
	c := newCounter()
	got, err := RegisterCounterVec(nil, c)
	require.NoError(t, err)
	assert.Same(t, c, got)
}

func TestRegisterCounterVec_ConflictingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "udc",
		Name:      "test_total",
		Help:      "Test counter.",
	})))

	_, err := RegisterCounterVec(reg, newCounter())
	assert.Error(t, err)
}
