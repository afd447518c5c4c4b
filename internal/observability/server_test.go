// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/pkg/errutil"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func stop(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestMetrics_RecordAuthOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAuthOutcome("login", "success")
	m.RecordAuthOutcome("login", "success")
	m.RecordAuthOutcome("login", "invalid_credentials")

	assert.InDelta(t, 2, testutil.ToFloat64(m.AuthOutcomes.WithLabelValues("login", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.AuthOutcomes.WithLabelValues("login", "invalid_credentials")), 0)
}

func TestMetrics_ObserveHTTP(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveHTTP("/auth/login", http.MethodPost, http.StatusOK, 15*time.Millisecond)
	m.ObserveHTTP("/auth/login", http.MethodPost, http.StatusNotFound, time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/auth/login", "POST", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/auth/login", "POST", "404")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(m.HTTPDuration))
}

func TestMetrics_RecordSwept(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSwept(3)
	m.RecordSwept(0)

	assert.InDelta(t, 3, testutil.ToFloat64(m.TokensSwept), 0)
}

func TestServer_Handler(t *testing.T) {
	s := NewServer("127.0.0.1:0", func() bool { return true })
	s.Metrics().RecordAuthOutcome("register", "conflict")
	h := s.Handler()

	code, body := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, "process_")
	assert.Contains(t, body, `authgate_auth_outcomes_total{kind="conflict",operation="register"} 1`)

	code, body = get(t, h, "/healthz/liveness")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name    string
		checker ReadinessChecker
		code    int
		body    string
	}{
		{"ready", func() bool { return true }, http.StatusOK, "ok\n"},
		{"not ready", func() bool { return false }, http.StatusServiceUnavailable, "not ready\n"},
		{"no checker", nil, http.StatusOK, "ok\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := get(t, NewServer("127.0.0.1:0", tt.checker).Handler(), "/healthz/readiness")
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestServer_StartServesOverTCP(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)
	_, err := s.Start()
	require.NoError(t, err)
	defer stop(t, s)

	resp, err := http.Get("http://" + s.Addr() + "/healthz/liveness")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = s.Start()
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_ALREADY_RUNNING")
}

func TestServer_StopWithoutStart(t *testing.T) {
	stop(t, NewServer("127.0.0.1:0", nil))
}

func TestServer_ErrorChannel(t *testing.T) {
	t.Run("reports serve failures", func(t *testing.T) {
		s := NewServer("127.0.0.1:0", nil)
		errCh, err := s.Start()
		require.NoError(t, err)
		defer stop(t, s)

		require.NoError(t, s.listener.Close())

		select {
		case serveErr := <-errCh:
			assert.Error(t, serveErr)
		case <-time.After(2 * time.Second):
			t.Fatal("serve error not propagated")
		}
	})

	t.Run("closes on shutdown", func(t *testing.T) {
		s := NewServer("127.0.0.1:0", nil)
		errCh, err := s.Start()
		require.NoError(t, err)
		stop(t, s)

		select {
		case err, ok := <-errCh:
			if ok {
				assert.NoError(t, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("error channel not closed")
		}
	})
}

func TestServer_ListenFailure(t *testing.T) {
	s := NewServer("256.0.0.1:0", nil)
	_, err := s.Start()
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_LISTEN_FAILED")
	assert.Empty(t, s.Addr())
}
