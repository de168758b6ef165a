package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "feedbot/pkg/logx"
)

func TestHealthzReportsChecks(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	s.AddCheck("db", func(context.Context) error { return nil })
	h := s.Handler(Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var rep healthReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rep))
	assert.Equal(t, "ok", rep.Status)
	assert.Equal(t, "ok", rep.Checks["db"])

	s.AddCheck("scheduler", func(context.Context) error { return errors.New("not running") })
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rep))
	assert.Equal(t, "degraded", rep.Status)
	assert.Equal(t, "not running", rep.Checks["scheduler"])
}

func TestTokenAndPprofGating(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	h := s.Handler(Config{Token: "sekret"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer sekret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "feedbot_dispense_total")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?token=wrong", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/?token=sekret", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler(Config{Pprof: true}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoopbackDetection(t *testing.T) {
	t.Parallel()
	assert.True(t, isLoopbackAddr("127.0.0.1:9090"))
	assert.True(t, isLoopbackAddr("localhost:9090"))
	assert.True(t, isLoopbackAddr("[::1]:9090"))
	assert.False(t, isLoopbackAddr(":9090"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9090"))
}

func TestServerLifecycle(t *testing.T) {
	s := New(Config{}, logx.Nop())
	ctx := context.Background()
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	t.Cleanup(func() { s.Stop(context.Background()) })

	var addr string
	require.Eventually(t, func() bool {
		addr = s.Addr()
		return addr != ""
	}, 2*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.Reconfigure(ctx, Config{Enabled: false})
	assert.Empty(t, s.Addr())
	assert.Nil(t, s.Supervisor())
}

func TestStatusCollectsSections(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	s.AddStatus("engine", func() any { return map[string]int{"workers": 2} })
	s.AddStatus("gone", func() any { return "x" })
	s.AddStatus("gone", nil)

	rec := httptest.NewRecorder()
	s.Handler(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, map[string]map[string]int{"engine": {"workers": 2}}, got)
}
