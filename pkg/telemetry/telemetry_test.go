package telemetry

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: false})
	require.NoError(t, err)
	require.Nil(t, tel.MeterProvider)
	require.Nil(t, tel.MetricsHandler)
	require.NotNil(t, tel.Meter)
	require.NotNil(t, tel.Tracer)

	_, span := tel.Tracer.Start(context.Background(), "noop")
	span.End()
	require.NoError(t, shutdown(context.Background()))
}

func TestNewNoop(t *testing.T) {
	tel := NewNoop()
	require.Nil(t, tel.TracerProvider)
	require.Empty(t, tel.MetricsAddr)

	counter, err := tel.Meter.Int64Counter("pagedb.test.noop")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
	_, span := tel.Tracer.Start(context.Background(), "noop")
	require.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestNew_ExposesPrometheusMetrics(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: true, ServiceName: "pagedb-test"})
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()
	require.Empty(t, tel.MetricsAddr)

	counter, err := tel.Meter.Int64Counter("pagedb.test.events")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	tel.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "pagedb_test_events_total")
}

func TestNew_ServesMetricsEndpoint(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	tel, shutdown, err := New(Config{Enabled: true, PrometheusPort: port})
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()
	require.NotEmpty(t, tel.MetricsAddr)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
