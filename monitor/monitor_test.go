package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestMetricsRecorder(t *testing.T) {
	m := New(nil)

	m.Crossing("entered", 1, 0)
	m.Crossing("entered", 2, 0)
	m.Crossing("exited", 2, 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.crossings.WithLabelValues("entered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.crossings.WithLabelValues("exited")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionIn))

	m.Committed(11, 2, 1, nil)
	m.Committed(0, 1, 0, assert.AnError)
	assert.Equal(t, 11.0, testutil.ToFloat64(m.passengerTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues("error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessionIn))

	m.DoorChanged(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.doorOpen))
	m.Tracks(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeTracks))
	m.Frame(true)
	m.Frame(false)
	m.Frame(false)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.frames.WithLabelValues("false")))
}

func TestMetricsHandler(t *testing.T) {
	m := New(nil)
	m.Crossing("exited", 0, 1)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `counter_crossings_total{event="exited"} 1`))
}

func TestHealth(t *testing.T) {
	h, err := StartHealth(0, nil)
	require.NoError(t, err)
	defer h.Stop()

	conn, err := grpc.NewClient(h.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	h.SetServing(false)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}
