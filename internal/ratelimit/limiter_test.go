package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiter_BurstThenRefuse(t *testing.T) {
	l := New(Policy{RequestsPerSecond: 10, Burst: 5})
	now := time.Now()

	for i := range 5 {
		if d := l.allowAt("client", now); !d.Allowed {
			t.Fatalf("request %d refused, want allowed", i+1)
		}
	}
	d := l.allowAt("client", now)
	if d.Allowed {
		t.Fatal("request 6 allowed, want refused")
	}
	if d.RetryAfter != time.Second {
		t.Errorf("RetryAfter = %v, want 1s", d.RetryAfter)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(Policy{RequestsPerSecond: 1, Burst: 1})
	now := time.Now()

	if !l.allowAt("a", now).Allowed {
		t.Fatal("first request for a refused")
	}
	if l.allowAt("a", now).Allowed {
		t.Error("second request for a allowed, want refused")
	}
	if !l.allowAt("b", now).Allowed {
		t.Error("first request for b refused, want allowed")
	}
}

func TestLimiter_Refills(t *testing.T) {
	l := New(Policy{RequestsPerSecond: 2, Burst: 1})
	now := time.Now()

	if !l.allowAt("k", now).Allowed {
		t.Fatal("first request refused")
	}
	if l.allowAt("k", now.Add(100*time.Millisecond)).Allowed {
		t.Error("request before refill allowed")
	}
	if !l.allowAt("k", now.Add(600*time.Millisecond)).Allowed {
		t.Error("request after refill refused")
	}
}

func TestLimiter_RetryAfterRoundsUp(t *testing.T) {
	l := New(Policy{RequestsPerSecond: 1, Burst: 3})
	now := time.Now()
	for range 3 {
		l.allowAt("k", now)
	}

	d := l.allowAt("k", now.Add(100*time.Millisecond))
	if d.Allowed {
		t.Fatal("request allowed with empty bucket")
	}
	if d.RetryAfter != time.Second {
		t.Errorf("RetryAfter = %v, want 1s", d.RetryAfter)
	}
}

func TestLimiter_MaxKeysBounded(t *testing.T) {
	l := New(Policy{RequestsPerSecond: 1, Burst: 1}, WithMaxKeys(32))
	for i := range 1000 {
		l.TryAcquire(fmt.Sprintf("key-%d", i))
	}
	if n := l.Len(); n > 32 {
		t.Errorf("Len() = %d, want <= 32", n)
	}
}

func TestLimiter_IdleBucketsExpire(t *testing.T) {
	l := New(Policy{RequestsPerSecond: 1, Burst: 1}, WithIdleTTL(50*time.Millisecond))
	now := time.Now()

	if !l.allowAt("idle", now).Allowed {
		t.Fatal("first request refused")
	}
	if l.allowAt("idle", now).Allowed {
		t.Fatal("second request allowed")
	}

	time.Sleep(300 * time.Millisecond)

	// Same timestamp: only a fresh, full bucket can allow this.
	if !l.allowAt("idle", now).Allowed {
		t.Error("idle bucket was not dropped")
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l := New(Policy{RequestsPerSecond: 1, Burst: 50})
	now := time.Now()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				if l.allowAt("shared", now).Allowed {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 50 {
		t.Errorf("allowed = %d, want 50", got)
	}
}

func TestRegistry_SharesLimiterPerPolicy(t *testing.T) {
	r := NewRegistry()
	p := Policy{RequestsPerSecond: 1, Burst: 1}

	if r.Limiter(p) != r.Limiter(p) {
		t.Error("same policy returned different limiters")
	}
	if r.Limiter(p) == r.Limiter(Policy{RequestsPerSecond: 2, Burst: 1}) {
		t.Error("different policies shared a limiter")
	}

	if !r.Allow(p, "/api").Allowed {
		t.Fatal("first request refused")
	}
	if r.Allow(p, "/api").Allowed {
		t.Error("second request allowed; bucket not shared across lookups")
	}
}
