package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDayKey(t *testing.T) {
	ts := time.Date(2026, 3, 14, 23, 59, 0, 0, time.FixedZone("CET", 3600))
	if got := DayKey(ts); got != "2026-03-14" {
		t.Errorf("day key: got %q, want 2026-03-14 (UTC truncation)", got)
	}
}

func TestQuotaLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day := DayKey(time.Now())

	ok, err := s.CanSendResponse(ctx, "r1", day, 2)
	if err != nil || !ok {
		t.Fatalf("fresh rule should be under quota: %v, %v", ok, err)
	}

	for n := 0; n < 2; n++ {
		if err := s.IncrementDailyUsage(ctx, "r1", "u1", day); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	ok, err = s.CanSendResponse(ctx, "r1", day, 2)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("rule at quota should be blocked")
	}

	// A new day resets the count.
	tomorrow := DayKey(time.Now().Add(24 * time.Hour))
	ok, err = s.CanSendResponse(ctx, "r1", tomorrow, 2)
	if err != nil || !ok {
		t.Errorf("next day should be under quota: %v, %v", ok, err)
	}
}

func TestIncrementDailyUsageConcurrent(t *testing.T) {
	// WHAT: 20 concurrent increments for one rule end at exactly 20.
	// WHY: The quota must be an atomic SQL upsert, not read-then-write;
	// lost updates here would let rules exceed maxResponsesPerDay.
	s := openTestStore(t)
	ctx := context.Background()
	day := DayKey(time.Now())

	var wg sync.WaitGroup
	for n := 0; n < 20; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.IncrementDailyUsage(ctx, "r1", "u1", day); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	n, err := s.UsageCount(ctx, "r1", day)
	if err != nil {
		t.Fatal(err)
	}
	if n != 20 {
		t.Errorf("count: got %d, want 20", n)
	}
}

func TestCanSendResponseUnlimited(t *testing.T) {
	s := openTestStore(t)
	ok, err := s.CanSendResponse(context.Background(), "r1", DayKey(time.Now()), 0)
	if err != nil || !ok {
		t.Errorf("maxPerDay<=0 means unlimited: %v, %v", ok, err)
	}
}

func TestUsageForUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day := DayKey(time.Now())

	s.IncrementDailyUsage(ctx, "r1", "u1", day)
	s.IncrementDailyUsage(ctx, "r2", "u1", day)
	s.IncrementDailyUsage(ctx, "r2", "u1", day)

	rows, err := s.UsageForUser(ctx, "u1", day)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(rows))
	}
	if rows[1].RuleID != "r2" || rows[1].Responses != 2 {
		t.Errorf("r2 usage: %+v", rows[1])
	}
}
