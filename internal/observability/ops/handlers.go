package ops

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"maps"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"slices"
	"strings"

	"feedbot/internal/metrics"
)

// Handler builds the mux for cfg. Exposed for tests.
func (s *Service) Handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	guard := func(h http.HandlerFunc) http.Handler { return withAuth(cfg.Token, h) }

	mux.Handle("/healthz", guard(s.healthz))
	mux.Handle("/status", guard(s.statusz))
	mux.Handle("/metrics", withAuth(cfg.Token, metrics.Handler()))
	if cfg.Pprof {
		mux.Handle(pprofPrefix, guard(hpprof.Index))
		mux.Handle(pprofPrefix+"cmdline", guard(hpprof.Cmdline))
		mux.Handle(pprofPrefix+"profile", guard(hpprof.Profile))
		mux.Handle(pprofPrefix+"symbol", guard(hpprof.Symbol))
		mux.Handle(pprofPrefix+"trace", guard(hpprof.Trace))
	}
	return mux
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Service) healthz(w http.ResponseWriter, r *http.Request) {
	s.probesMu.RLock()
	checks := maps.Clone(s.checks)
	s.probesMu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	rep := healthReport{Status: "ok", Checks: make(map[string]string, len(checks))}
	for _, name := range slices.Sorted(maps.Keys(checks)) {
		if err := checks[name](ctx); err != nil {
			rep.Status = "degraded"
			rep.Checks[name] = err.Error()
			continue
		}
		rep.Checks[name] = "ok"
	}
	code := http.StatusOK
	if rep.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

func (s *Service) statusz(w http.ResponseWriter, _ *http.Request) {
	s.probesMu.RLock()
	fns := maps.Clone(s.status)
	s.probesMu.RUnlock()

	out := make(map[string]any, len(fns))
	for name, fn := range fns {
		out[name] = fn()
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// withAuth requires the token as a Bearer header or ?token= query value.
// An empty token disables the check.
func withAuth(token string, h http.Handler) http.Handler {
	want := []byte(strings.TrimSpace(token))
	if len(want) == 0 {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
