package usage

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	r.Extracted(FamilyEvent)
	r.Extracted(FamilyEvent)
	r.Dropped(FamilyPlace, ReasonUnverifiable)
	r.ResolverCall("found", 30*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.extracted.WithLabelValues(FamilyEvent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.dropped.WithLabelValues(FamilyPlace, ReasonUnverifiable)))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.dropped.WithLabelValues(FamilyEvent, ReasonMalformed)))
}

func TestPrometheusRecorder_DoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	_, err = NewPrometheusRecorder(reg)
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.Equal(t, Nop{}, OrNop(nil))

	reg := prometheus.NewRegistry()
	r, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)
	assert.Same(t, r, OrNop(r))
}
