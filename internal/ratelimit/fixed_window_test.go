package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowLimiterBlocksOverQuota(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 2, time.Second, false)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	if !limiter.Allow("sess-1") {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow("sess-1") {
		t.Fatalf("second request should pass")
	}
	if limiter.Allow("sess-1") {
		t.Fatalf("third request should be blocked")
	}
	if !limiter.Allow("sess-2") {
		t.Fatalf("other key should not share the window")
	}
}

func TestFixedWindowLimiterFailOpen(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Second, true)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	redis.Close()
	if !limiter.Allow("sess-1") {
		t.Fatalf("failOpen limiter should allow on redis errors")
	}
}

func TestFixedWindowLimiterFailClosed(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Second, false)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	redis.Close()
	if limiter.Allow("sess-1") {
		t.Fatalf("failClosed limiter should block on redis errors")
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var limiter *FixedWindowLimiter
	if !limiter.Allow("sess-1") {
		t.Fatalf("nil limiter must allow everything")
	}
}
