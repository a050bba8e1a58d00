package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/climate-scheduler/internal/scheduler"
	"github.com/sweeney/climate-scheduler/internal/status"
)

func newTestServer(t *testing.T, start time.Time) (*httptest.Server, *status.Tracker) {
	t.Helper()
	cfg := status.Config{
		Interval: 10 * time.Minute,
		Timezone: "UTC",
		Backend:  "memory",
		Sensor:   "http",
		Actuator: "http",
		HTTPAddr: ":8080",
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, tr
}

func TestStatusEndpoint(t *testing.T) {
	ts, tr := newTestServer(t, time.Now())
	tr.Record(scheduler.Outcome{TickID: "abc", Time: time.Now(), Result: scheduler.ResultBelowThreshold})

	resp, err := http.Get(ts.URL + "/status.json")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var sj status.StatusJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sj))
	assert.Equal(t, 1, sj.Status.Counts.BelowThreshold)
	require.NotNil(t, sj.Status.LastTick)
	assert.Equal(t, "abc", sj.Status.LastTick.TickID)
	assert.Equal(t, "memory", sj.Status.Config.Backend)
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, time.Now())

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthzStalled(t *testing.T) {
	ts, _ := newTestServer(t, time.Now().Add(-time.Hour))

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t, time.Now())

	for _, path := range []string{"/", "/index.html", "/status"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, time.Now())

	resp, err := http.Post(ts.URL+"/status.json", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := New(ln.Addr().String(), status.NewTracker(time.Now(), status.Config{}))
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.ErrorIs(t, <-done, http.ErrServerClosed)
}
