package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter creates a Limiter connected to a local Redis instance and
// flushes leftover test keys.  Tests that call this helper require a running
// Redis on localhost:6379.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		for _, prefix := range []string{"rl:msg:test_*", "rl:search:test_*", "rl:unit:test_*"} {
			iter := client.Scan(ctx, 0, prefix, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewLimiter(client)
}

func TestAllow_WithinLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:unit:", Limit: 3, Window: time.Minute}

	for i := 0; i < rule.Limit; i++ {
		allowed, err := l.Allow(ctx, "test_within", rule)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed (limit %d)", i+1, rule.Limit)
		}
	}
}

func TestAllow_OverLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:unit:", Limit: 2, Window: time.Minute}

	l.Allow(ctx, "test_over", rule)
	l.Allow(ctx, "test_over", rule)

	allowed, err := l.Allow(ctx, "test_over", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if allowed {
		t.Error("request past the limit should be refused")
	}
}

func TestAllow_IdentifiersIsolated(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:unit:", Limit: 1, Window: time.Minute}

	l.Allow(ctx, "test_iso_a", rule)

	allowed, err := l.Allow(ctx, "test_iso_b", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if !allowed {
		t.Error("one identifier's usage must not throttle another")
	}
}

func TestAllow_WindowResets(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:unit:", Limit: 1, Window: time.Second}

	l.Allow(ctx, "test_reset", rule)
	if allowed, _ := l.Allow(ctx, "test_reset", rule); allowed {
		t.Fatal("second request inside the window should be refused")
	}

	time.Sleep(1200 * time.Millisecond)

	allowed, err := l.Allow(ctx, "test_reset", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if !allowed {
		t.Error("the counter should reset once the window elapses")
	}
}

func TestRemaining(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:unit:", Limit: 5, Window: time.Minute}

	remaining, err := l.Remaining(ctx, "test_remaining", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 5 {
		t.Errorf("fresh identifier: remaining = %d, want 5", remaining)
	}

	l.Allow(ctx, "test_remaining", rule)
	l.Allow(ctx, "test_remaining", rule)

	remaining, err = l.Remaining(ctx, "test_remaining", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 3 {
		t.Errorf("after 2 requests: remaining = %d, want 3", remaining)
	}
}
