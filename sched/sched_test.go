package sched

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/replyhive/replyhive/dbopen"
	"github.com/replyhive/replyhive/poll"
	"github.com/replyhive/replyhive/store"
	_ "modernc.org/sqlite"
)

type capture struct {
	ids  []string
	jobs []poll.Job
}

func (c *capture) enqueue(ctx context.Context, id string, payload []byte) (bool, error) {
	for _, seen := range c.ids {
		if seen == id {
			return false, nil
		}
	}
	var job poll.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return false, err
	}
	c.ids = append(c.ids, id)
	c.jobs = append(c.jobs, job)
	return true, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store, *capture) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := store.ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	st := store.New(db)
	sink := &capture{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, sink.enqueue, time.Minute, 5*time.Minute, logger), st, sink
}

func addActiveRule(t *testing.T, st *store.Store, id, userID string) {
	t.Helper()
	err := st.InsertRule(context.Background(), &store.Rule{
		ID: id, UserID: userID, TriggerType: store.TriggerKeyword,
		Keywords:  []string{"price"},
		Platforms: []store.Platform{store.PlatformYouTube},
		Active:    true,
	})
	if err != nil {
		t.Fatalf("add rule: %v", err)
	}
}

func TestScanEnqueuesDueUsers(t *testing.T) {
	s, st, sink := newTestScheduler(t)
	ctx := context.Background()
	addActiveRule(t, st, "r1", "u1")
	addActiveRule(t, st, "r2", "u1")
	addActiveRule(t, st, "r3", "u2")

	if err := s.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(sink.jobs) != 2 {
		t.Fatalf("enqueued %d jobs, want 2 (one per user)", len(sink.jobs))
	}
	users := map[string]bool{}
	for _, j := range sink.jobs {
		users[j.UserID] = true
	}
	if !users["u1"] || !users["u2"] {
		t.Errorf("jobs: %+v", sink.jobs)
	}
}

func TestScanRespectsPollInterval(t *testing.T) {
	// WHAT: A user polled within the cadence window is not re-enqueued.
	s, st, sink := newTestScheduler(t)
	ctx := context.Background()
	addActiveRule(t, st, "r1", "u1")

	if err := s.Scan(ctx); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if err := s.Scan(ctx); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if len(sink.jobs) != 1 {
		t.Fatalf("enqueued %d jobs across 2 scans, want 1", len(sink.jobs))
	}
}

func TestScanIgnoresInactiveRules(t *testing.T) {
	s, st, sink := newTestScheduler(t)
	ctx := context.Background()
	addActiveRule(t, st, "r1", "u1")
	if err := st.SetRuleActive(ctx, "r1", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if err := s.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(sink.jobs) != 0 {
		t.Errorf("enqueued %d jobs for inactive rules, want 0", len(sink.jobs))
	}
}

func TestJobIDBucketsByWindow(t *testing.T) {
	// WHAT: The same user in the same cadence window gets the same job
	// ID, so a duplicate publish is a no-op at the queue.
	s, _, _ := newTestScheduler(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base }
	a := s.jobID("u1")
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	b := s.jobID("u1")
	s.now = func() time.Time { return base.Add(6 * time.Minute) }
	c := s.jobID("u1")

	if a != b {
		t.Errorf("same window: %q vs %q", a, b)
	}
	if a == c {
		t.Errorf("next window should differ: %q", a)
	}
}
