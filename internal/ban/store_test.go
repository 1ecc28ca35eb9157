package ban

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance and flushes
// all ban and report keys before returning.  Tests that call this helper
// require a running Redis on localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	// Clean up any leftover test keys (both ban: and reports: prefixes).
	for _, prefix := range []string{BanPrefix + "test_*", ReportsPrefix + "test_*"} {
		iter := client.Scan(ctx, 0, prefix, 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	t.Cleanup(func() {
		for _, prefix := range []string{BanPrefix + "test_*", ReportsPrefix + "test_*"} {
			iter := client.Scan(ctx, 0, prefix, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
		client.Close()
	})
	return NewStore(client)
}

func TestIsBanned_NotBanned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	banned, _, err := store.IsBanned(ctx, "test_no_ban")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if banned {
		t.Error("expected not banned")
	}
}

func TestBanAndCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_ban_check"

	if err := store.Ban(ctx, id, 30*time.Second, "spam"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}

	banned, expiresAt, err := store.IsBanned(ctx, id)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if !banned {
		t.Fatal("expected banned=true")
	}
	remaining := time.Until(expiresAt)
	if remaining <= 0 || remaining > 30*time.Second {
		t.Errorf("expected expiry within (0,30s], got %v", remaining)
	}
}

func TestUnban(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_unban"

	if err := store.Ban(ctx, id, time.Minute, "test"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}

	// Verify banned.
	banned, _, _ := store.IsBanned(ctx, id)
	if !banned {
		t.Fatal("expected banned=true after Ban()")
	}

	// Unban and verify.
	if err := store.Unban(ctx, id); err != nil {
		t.Fatalf("Unban() error: %v", err)
	}
	banned, _, err := store.IsBanned(ctx, id)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if banned {
		t.Error("expected not banned after Unban()")
	}
}

func TestBanExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_ban_expiry"

	if err := store.Ban(ctx, id, time.Second, "short"); err != nil {
		t.Fatalf("Ban() error: %v", err)
	}

	banned, _, _ := store.IsBanned(ctx, id)
	if !banned {
		t.Fatal("expected banned=true immediately after Ban()")
	}

	// Redis drops the key once the TTL elapses; the ban lifts on its own.
	time.Sleep(1200 * time.Millisecond)

	banned, _, err := store.IsBanned(ctx, id)
	if err != nil {
		t.Fatalf("IsBanned() error: %v", err)
	}
	if banned {
		t.Error("expected the ban to have expired")
	}
}

func TestReportAndCheck_BelowThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_report_below"

	for want := int64(1); want < ReportThreshold; want++ {
		count, banned, _, err := store.ReportAndCheck(ctx, id)
		if err != nil {
			t.Fatalf("ReportAndCheck() error: %v", err)
		}
		if count != want {
			t.Errorf("expected count=%d, got %d", want, count)
		}
		if banned {
			t.Fatalf("report %d must not ban (threshold is %d)", want, ReportThreshold)
		}
	}

	isBanned, _, _ := store.IsBanned(ctx, id)
	if isBanned {
		t.Errorf("identity should not be banned with %d reports", ReportThreshold-1)
	}
}

func TestReportAndCheck_AutoBanAtThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_report_autoban"

	for i := 1; i < ReportThreshold; i++ {
		store.ReportAndCheck(ctx, id)
	}

	count, banned, expiresAt, err := store.ReportAndCheck(ctx, id)
	if err != nil {
		t.Fatalf("ReportAndCheck() error: %v", err)
	}
	if !banned {
		t.Fatalf("expected banned=true at report %d", ReportThreshold)
	}
	if count != ReportThreshold {
		t.Errorf("expected count=%d, got %d", ReportThreshold, count)
	}
	remaining := time.Until(expiresAt)
	if remaining < BanDuration-10*time.Second || remaining > BanDuration {
		t.Errorf("expected expiry ~%v out, got %v", BanDuration, remaining)
	}

	isBanned, _, _ := store.IsBanned(ctx, id)
	if !isBanned {
		t.Fatal("expected IsBanned=true after auto-ban")
	}
}

func TestReportAndCheck_PastThresholdNoReban(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_report_past"

	for i := 0; i < ReportThreshold; i++ {
		store.ReportAndCheck(ctx, id)
	}

	// Reports past the threshold keep counting but never re-ban: the ban
	// action fires exactly once per counting window.
	count, banned, _, err := store.ReportAndCheck(ctx, id)
	if err != nil {
		t.Fatalf("ReportAndCheck() error: %v", err)
	}
	if banned {
		t.Error("expected banned=false past the threshold")
	}
	if count != ReportThreshold+1 {
		t.Errorf("expected count=%d, got %d", ReportThreshold+1, count)
	}
}

func TestReportCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_report_count"

	count, err := store.ReportCount(ctx, id)
	if err != nil {
		t.Fatalf("ReportCount() error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 reports for a fresh identity, got %d", count)
	}

	store.ReportAndCheck(ctx, id)
	store.ReportAndCheck(ctx, id)

	count, err = store.ReportCount(ctx, id)
	if err != nil {
		t.Fatalf("ReportCount() error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count=2, got %d", count)
	}
}

func TestReportCounterTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_report_ttl"

	// File a report to create the counter.
	store.ReportAndCheck(ctx, id)

	// Verify the counter has a TTL set (should be close to ReportsTTL).
	key := ReportsPrefix + id
	ttl, err := store.client.TTL(ctx, key).Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	if ttl < ReportsTTL-10*time.Second || ttl > ReportsTTL {
		t.Errorf("expected TTL ~%v, got %v", ReportsTTL, ttl)
	}
}
