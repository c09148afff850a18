// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetCircuitBreakerState_OneHot(t *testing.T) {
	SetCircuitBreakerState("test", "open")

	assert.Equal(t, 1.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("test", "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("test", "closed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("test", "half-open")))

	SetCircuitBreakerState("test", "closed")
	assert.Equal(t, 1.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("test", "closed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("test", "open")))
}

func TestRecordRound_SetsPendingGauge(t *testing.T) {
	before := testutil.ToFloat64(watchRoundsTotal)
	RecordRound(7)
	assert.Equal(t, before+1, testutil.ToFloat64(watchRoundsTotal))
	assert.Equal(t, 7.0, testutil.ToFloat64(watchPendingVideos))
}

func TestRecordVideoOp_Outcomes(t *testing.T) {
	ok := watchVideoOps.WithLabelValues("poll", "success")
	failed := watchVideoOps.WithLabelValues("poll", "failure")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	RecordVideoOp("poll", nil)
	RecordVideoOp("poll", errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
}

func TestRecordRun_Gathered(t *testing.T) {
	RecordRun("converged")

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "rcwatch_watch_runs_total" {
			found = mf
		}
	}
	require.NotNil(t, found, "runs counter not registered")
	var converged float64
	for _, m := range found.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "outcome" && l.GetValue() == "converged" {
				converged = m.GetCounter().GetValue()
			}
		}
	}
	assert.GreaterOrEqual(t, converged, 1.0)
}

func TestHandler_ServesMetricsAndHealth(t *testing.T) {
	RecordTelemetryEvents(3)
	srv := httptest.NewServer(Handler(100))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "rcwatch_watch_telemetry_events_total"))

	resp, err = srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_RateLimited(t *testing.T) {
	srv := httptest.NewServer(Handler(2))
	defer srv.Close()

	var last int
	for i := 0; i < 3; i++ {
		resp, err := srv.Client().Get(srv.URL + "/healthz")
		require.NoError(t, err)
		_ = resp.Body.Close()
		last = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", zerolog.New(io.Discard))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
