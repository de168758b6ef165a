package device

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "feedbot/pkg/logx"
)

func TestHTTPPostsAmount(t *testing.T) {
	t.Parallel()
	var got dispenseRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gw, err := NewHTTP(srv.URL, time.Second, logx.Nop())
	require.NoError(t, err)
	ok, msg, err := gw.Dispense(context.Background(), 40)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, msg)
	require.Equal(t, 40, got.Amount)
}

func TestHTTPFailureOutcomes(t *testing.T) {
	t.Parallel()
	t.Run("status", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "hopper empty", http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		gw, err := NewHTTP(srv.URL, time.Second, logx.Nop())
		require.NoError(t, err)
		ok, msg, err := gw.Dispense(context.Background(), 40)
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, "device returned 503: hopper empty", msg)
	})
	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)
		gw, err := NewHTTP(srv.URL, 50*time.Millisecond, logx.Nop())
		require.NoError(t, err)
		ok, msg, err := gw.Dispense(context.Background(), 40)
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, "no response", msg)
	})
}

func TestNewHTTPRejectsBadURL(t *testing.T) {
	t.Parallel()
	for _, u := range []string{"", "feeder.local", "ftp://feeder/x"} {
		_, err := NewHTTP(u, 0, logx.Nop())
		require.Error(t, err, u)
	}
}

func TestSimulated(t *testing.T) {
	t.Parallel()
	sim := NewSimulated("", logx.Nop())
	ok, _, err := sim.Dispense(context.Background(), 30)
	require.NoError(t, err)
	require.True(t, ok)

	sim.SetFailMessage("no response")
	ok, msg, err := sim.Dispense(context.Background(), 30)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "no response", msg)
	require.Equal(t, int64(2), sim.Calls())
}
