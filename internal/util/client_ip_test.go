package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func clientIPRequest(remoteAddr, xff, realIP string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", nil)
	req.RemoteAddr = remoteAddr
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	if realIP != "" {
		req.Header.Set("X-Real-IP", realIP)
	}
	return req
}

func TestClientIPIgnoresHeadersFromUntrustedPeer(t *testing.T) {
	req := clientIPRequest("198.51.100.10:1234", "203.0.113.5", "203.0.113.6")
	if got := ClientIP(req, nil); got != "198.51.100.10" {
		t.Fatalf("client ip = %q, want the direct peer", got)
	}
}

func TestClientIPWalksForwardedChain(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string]struct {
		xff    string
		realIP string
		want   string
	}{
		"single forwarded hop":  {xff: "203.0.113.5", want: "203.0.113.5"},
		"skips trusted proxies": {xff: "203.0.113.5, 10.0.0.10", want: "203.0.113.5"},
		"garbage xff falls back to real-ip": {
			xff: "not-an-ip", realIP: "203.0.113.7", want: "203.0.113.7",
		},
		"fully trusted chain keeps leftmost": {xff: "10.0.0.5, 10.0.0.10", want: "10.0.0.5"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := clientIPRequest("10.0.0.20:1234", tc.xff, tc.realIP)
			if got := ClientIP(req, trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	tp, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.1", " "})
	if err != nil || tp == nil {
		t.Fatalf("valid entries rejected: %v", err)
	}
	if _, err := NewTrustedProxies([]string{"bad-cidr"}); err == nil {
		t.Fatal("invalid entry accepted")
	}
	empty, err := NewTrustedProxies(nil)
	if err != nil || empty != nil {
		t.Fatalf("empty input must mean trust-none, got %v, %v", empty, err)
	}
}
