package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// =============================================================================
// Generators for property-based testing
// =============================================================================

func hostGenerator() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		name := rapid.StringMatching(`[a-z]{3,12}`).Draw(t, "name")
		port := rapid.IntRange(1024, 9999).Draw(t, "port")
		return name + ".lan:" + strconv.Itoa(port)
	})
}

// =============================================================================
// Property: Requests within burst succeed
// =============================================================================

func testRateLimiter_RequestsWithinBurst(t *rapid.T) {
	config := Config{RPS: 1, Burst: rapid.IntRange(1, 50).Draw(t, "burst"), CleanupInterval: time.Hour}
	rl := NewRateLimiter(config)
	defer rl.Stop()

	host := hostGenerator().Draw(t, "host")
	for i := 0; i < config.Burst; i++ {
		if !rl.Allow(host) {
			t.Fatalf("request %d within burst %d was blocked", i+1, config.Burst)
		}
	}
	if rl.Allow(host) {
		t.Fatalf("request beyond burst %d was allowed", config.Burst)
	}
}

func TestRateLimiter_RequestsWithinBurst(t *testing.T) {
	rapid.Check(t, testRateLimiter_RequestsWithinBurst)
}

func FuzzRateLimiter_RequestsWithinBurst(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testRateLimiter_RequestsWithinBurst))
}

// =============================================================================
// Property: Hosts are independent
// =============================================================================

func testRateLimiter_HostIndependence(t *rapid.T) {
	rl := NewRateLimiter(Config{RPS: 0.001, Burst: 1, CleanupInterval: time.Hour})
	defer rl.Stop()

	a := hostGenerator().Draw(t, "a")
	b := hostGenerator().Draw(t, "b")
	if a == b {
		t.Skip("identical hosts")
	}

	if !rl.Allow(a) {
		t.Fatalf("first request to %s blocked", a)
	}
	if rl.Allow(a) {
		t.Fatalf("second request to %s allowed despite burst 1", a)
	}
	if !rl.Allow(b) {
		t.Fatalf("exhausting %s throttled %s", a, b)
	}
	if rl.Len() != 2 {
		t.Fatalf("expected 2 limiters, got %d", rl.Len())
	}
}

func TestRateLimiter_HostIndependence(t *testing.T) {
	rapid.Check(t, testRateLimiter_HostIndependence)
}

func FuzzRateLimiter_HostIndependence(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testRateLimiter_HostIndependence))
}

// =============================================================================
// Cleanup and shutdown
// =============================================================================

func TestRateLimiter_IdleLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(Config{RPS: 10, Burst: 10, CleanupInterval: 20 * time.Millisecond})
	defer rl.Stop()

	rl.GetLimiter("sonarr.lan:8989")
	if rl.Len() != 1 {
		t.Fatalf("expected 1 limiter, got %d", rl.Len())
	}
	time.Sleep(30 * time.Millisecond)
	rl.Cleanup()
	if rl.Len() != 0 {
		t.Fatalf("idle limiter not cleaned, len=%d", rl.Len())
	}
}

func TestRateLimiter_ZeroRPSIsUnlimited(t *testing.T) {
	rl := NewRateLimiter(Config{})
	defer rl.Stop()
	for i := 0; i < 1000; i++ {
		if !rl.Allow("nas.local") {
			t.Fatalf("request %d blocked with unlimited config", i)
		}
	}
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(Config{RPS: 0.001, Burst: 1, CleanupInterval: time.Hour})
	defer rl.Stop()

	if err := rl.Wait(context.Background(), "nas.local"); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx, "nas.local"); err == nil {
		t.Fatal("expected wait to fail once the bucket is empty and ctx expires")
	}
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(DefaultConfig)
	rl.Stop()
	rl.Stop()
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(Config{RPS: 1000, Burst: 1000, CleanupInterval: time.Hour})
	defer rl.Stop()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if rl.Allow("radarr.lan:7878") {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	if allowed.Load() == 0 {
		t.Fatal("no requests allowed under concurrency")
	}
	if rl.Len() != 1 {
		t.Fatalf("expected a single shared limiter, got %d", rl.Len())
	}
}

func TestTransport_PacesByHost(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rl := NewRateLimiter(Config{RPS: 0.001, Burst: 1, CleanupInterval: time.Hour})
	defer rl.Stop()
	client := &http.Client{Transport: NewTransport(rl, nil)}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if resp, err := client.Do(req); err == nil {
		resp.Body.Close()
		t.Fatal("second request should have been held back by the limiter")
	}
	if hits.Load() != 1 {
		t.Fatalf("server saw %d requests, want 1", hits.Load())
	}
}
