package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bandlight/loop"
	"bandlight/metrics"
	"bandlight/types"
)

type fixedSnapshot loop.Snapshot

func (f fixedSnapshot) Snapshot() loop.Snapshot { return loop.Snapshot(f) }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	on := types.On
	started := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	snap := fixedSnapshot{
		State: loop.Streaming,
		Session: types.Session{
			ID:           "abc",
			Source:       "synthetic",
			SamplingRate: 250,
			Threshold:    10,
			StartedAt:    started,
		},
		Iterations: 4,
		Last: &types.Reading{
			Time:     started.Add(3 * time.Second),
			Band:     "alpha",
			Mean:     12.5,
			Channels: 8,
			Others:   []types.BandMean{{Band: "beta", Mean: 2}},
			Decision: &on,
		},
	}
	h := newRouter(snap, metrics.NewMetrics(nil), zerolog.Nop())

	rec := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got statusJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "STREAMING", got.State)
	assert.Equal(t, "abc", got.SessionID)
	assert.Equal(t, int64(4), got.Iterations)
	require.NotNil(t, got.StartedAt)
	assert.True(t, started.Equal(*got.StartedAt))
	require.NotNil(t, got.Last)
	assert.Equal(t, "ON", got.Last.Decision)
	assert.Equal(t, 12.5, got.Last.Mean)
	assert.Equal(t, []bandJSON{{Band: "beta", Mean: 2}}, got.Last.Others)
}

func TestStatusBeforeFirstReading(t *testing.T) {
	h := newRouter(fixedSnapshot{State: loop.Idle}, metrics.NewMetrics(nil), zerolog.Nop())
	rec := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"last"`)
	assert.NotContains(t, rec.Body.String(), `"startedAt"`)
}

func TestHealthz(t *testing.T) {
	for state, code := range map[loop.State]int{
		loop.Init:      http.StatusOK,
		loop.Streaming: http.StatusOK,
		loop.Stopping:  http.StatusServiceUnavailable,
		loop.Stopped:   http.StatusServiceUnavailable,
	} {
		h := newRouter(fixedSnapshot{State: state}, metrics.NewMetrics(nil), zerolog.Nop())
		assert.Equal(t, code, get(t, h, "/healthz").Code, state)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.NewMetrics(nil)
	m.Iteration(metrics.OutcomeDecided, time.Millisecond)
	h := newRouter(fixedSnapshot{State: loop.Streaming}, m, zerolog.Nop())

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `bandlight_iterations_total{outcome="decided"} 1`))
}

func TestRouterRejectsWrites(t *testing.T) {
	h := newRouter(fixedSnapshot{State: loop.Streaming}, metrics.NewMetrics(nil), zerolog.Nop())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
