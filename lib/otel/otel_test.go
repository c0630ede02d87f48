package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInitDisabled(t *testing.T) {
	p, shutdown, err := Init(context.Background(), Config{ServiceName: "termlab-test"})
	require.NoError(t, err)
	assert.Nil(t, p.TracerProvider)
	assert.Nil(t, p.LogHandler)
	assert.NotNil(t, p.TracerFor("sessions"))
	assert.NotNil(t, p.MeterFor("sessions"))
	assert.NoError(t, shutdown(context.Background()))
}

func TestProcessMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	p, _, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	p.MeterProvider = mp
	p.Meter = mp.Meter("termlab")
	require.NoError(t, p.RegisterProcessMetrics("v1.2.3"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["termlab_uptime_seconds"])
	assert.True(t, names["termlab_info"])
}

func TestShutdownsRunInReverse(t *testing.T) {
	var order []int
	s := shutdowns{
		func(context.Context) error { order = append(order, 1); return nil },
		func(context.Context) error { order = append(order, 2); return assert.AnError },
	}
	err := s.run(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []int{2, 1}, order)
}
