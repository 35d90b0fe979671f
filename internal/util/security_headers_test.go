package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func securityProbe(t *testing.T, mutate func(*http.Request)) http.Header {
	t.Helper()
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Header()
}

func TestSecurityHeadersAlwaysSet(t *testing.T) {
	headers := securityProbe(t, nil)
	for name, want := range apiSecurityHeaders {
		if got := headers.Get(name); got != want {
			t.Fatalf("%s = %q, want %q", name, got, want)
		}
	}
	if got := headers.Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("HSTS must not be set for plain http, got %q", got)
	}
}

func TestSecurityHeadersHSTSBehindTLSProxy(t *testing.T) {
	headers := securityProbe(t, func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "HTTPS")
	})
	if headers.Get("Strict-Transport-Security") == "" {
		t.Fatal("HSTS missing for forwarded https request")
	}
}
