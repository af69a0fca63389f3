package jobq

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/replyhive/replyhive/dbopen"
	_ "modernc.org/sqlite"
)

func openQ(t *testing.T, opts Options) *Q {
	t.Helper()
	db := dbopen.OpenMemory(t)
	q := New(db, opts)
	if err := q.EnsureTable(context.Background()); err != nil {
		t.Fatalf("ensure table: %v", err)
	}
	return q
}

func TestPublishClaimAck(t *testing.T) {
	q := openQ(t, Options{Queue: "process"})
	ctx := context.Background()

	if err := q.Publish(ctx, "j1", []byte(`{"user_id":"u1"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.ID != "j1" {
		t.Fatalf("claimed: %+v", job)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts: got %d, want 1", job.Attempts)
	}

	// Claimed job is invisible to a second claim.
	other, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if other != nil {
		t.Fatalf("double claim: %+v", other)
	}

	if err := q.Ack(ctx, job.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	n, _ := q.Len(ctx)
	if n != 0 {
		t.Errorf("len after ack: got %d", n)
	}
}

func TestPublishInDelaysVisibility(t *testing.T) {
	// WHAT: A delayed job is invisible until its delay elapses.
	// WHY: The response jitter is implemented as scheduled visibility, not
	// an in-process sleep, so it survives worker restarts.
	q := openQ(t, Options{Queue: "respond"})
	ctx := context.Background()

	if err := q.PublishIn(ctx, "j1", nil, time.Hour); err != nil {
		t.Fatalf("publish in: %v", err)
	}
	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job != nil {
		t.Fatalf("delayed job claimed early: %+v", job)
	}

	// Force the delay to have elapsed.
	if _, err := q.db.Exec(`UPDATE queue_jobs SET visible_at = 0 WHERE id = 'j1'`); err != nil {
		t.Fatal(err)
	}
	job, err = q.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim after delay: %+v, %v", job, err)
	}
}

func TestPublishUniqueIdempotent(t *testing.T) {
	q := openQ(t, Options{Queue: "poll"})
	ctx := context.Background()

	first, err := q.PublishUnique(ctx, "poll_u1", nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := q.PublishUnique(ctx, "poll_u1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !first || second {
		t.Errorf("inserted flags: got (%v, %v), want (true, false)", first, second)
	}
	n, _ := q.Len(ctx)
	if n != 1 {
		t.Errorf("len: got %d, want 1", n)
	}
}

func TestQueuesAreIsolated(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx := context.Background()
	a := New(db, Options{Queue: "a"})
	b := New(db, Options{Queue: "b"})
	if err := a.EnsureTable(ctx); err != nil {
		t.Fatal(err)
	}

	if err := a.Publish(ctx, "j1", nil); err != nil {
		t.Fatal(err)
	}
	job, err := b.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job != nil {
		t.Fatalf("queue b claimed queue a's job: %+v", job)
	}
}

func TestNackBackoffGrows(t *testing.T) {
	q := openQ(t, Options{Queue: "respond", BackoffBase: 5 * time.Second})
	ctx := context.Background()

	if err := q.Publish(ctx, "j1", nil); err != nil {
		t.Fatal(err)
	}

	readVisibleAt := func() int64 {
		var v int64
		if err := q.db.QueryRow(`SELECT visible_at FROM queue_jobs WHERE id = 'j1'`).Scan(&v); err != nil {
			t.Fatal(err)
		}
		return v
	}

	job, _ := q.Claim(ctx)
	if err := q.Nack(ctx, job, errors.New("rate limited")); err != nil {
		t.Fatal(err)
	}
	first := readVisibleAt()
	wantMin := time.Now().Add(4 * time.Second).UnixMilli()
	if first < wantMin {
		t.Errorf("first backoff too short: visible in %dms", first-time.Now().UnixMilli())
	}

	// Second attempt: make visible, claim, nack — backoff should double.
	q.db.Exec(`UPDATE queue_jobs SET visible_at = 0 WHERE id = 'j1'`)
	job, _ = q.Claim(ctx)
	if job.Attempts != 2 {
		t.Fatalf("attempts: got %d, want 2", job.Attempts)
	}
	if job.LastError != "rate limited" {
		t.Errorf("last error: got %q", job.LastError)
	}
	if err := q.Nack(ctx, job, errors.New("still limited")); err != nil {
		t.Fatal(err)
	}
	second := readVisibleAt()
	wantMin = time.Now().Add(9 * time.Second).UnixMilli()
	if second < wantMin {
		t.Errorf("second backoff did not double: visible in %dms", second-time.Now().UnixMilli())
	}
}

func TestBuryMovesToDeadLetter(t *testing.T) {
	q := openQ(t, Options{Queue: "respond"})
	ctx := context.Background()

	if err := q.Publish(ctx, "j1", []byte("payload")); err != nil {
		t.Fatal(err)
	}
	job, _ := q.Claim(ctx)
	if err := q.Bury(ctx, job, errors.New("webhook URL not configured")); err != nil {
		t.Fatalf("bury: %v", err)
	}

	n, _ := q.Len(ctx)
	if n != 0 {
		t.Errorf("queue len after bury: got %d", n)
	}
	dead, _ := q.DeadLen(ctx)
	if dead != 1 {
		t.Errorf("dead len: got %d, want 1", dead)
	}

	var lastErr string
	if err := q.db.QueryRow(`SELECT last_error FROM dead_jobs WHERE id = 'j1'`).Scan(&lastErr); err != nil {
		t.Fatal(err)
	}
	if lastErr != "webhook URL not configured" {
		t.Errorf("dead letter error: got %q", lastErr)
	}
}

func TestPurgeDeadBefore(t *testing.T) {
	q := openQ(t, Options{Queue: "respond"})
	ctx := context.Background()

	if _, err := q.db.Exec(
		`INSERT INTO dead_jobs (id, queue, attempts, failed_at) VALUES
		('old', 'respond', 3, 1000), ('new', 'respond', 3, ?)`,
		time.Now().UnixMilli()); err != nil {
		t.Fatal(err)
	}
	n, err := q.PurgeDeadBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged: got %d, want 1", n)
	}
}

func TestRunProcessesAndRetries(t *testing.T) {
	// WHAT: Run acks successes, retries failures, and dead-letters
	// terminal errors without retrying them.
	// WHY: This is the error-propagation contract the responder relies on.
	q := openQ(t, Options{
		Queue:        "respond",
		PollInterval: 10 * time.Millisecond,
		BackoffBase:  time.Millisecond,
		MaxAttempts:  5,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Publish(ctx, "ok", nil)
	q.Publish(ctx, "flaky", nil)
	q.Publish(ctx, "config", nil)

	attempts := make(chan string, 64)
	go q.Run(ctx, 2, func(ctx context.Context, job *Job) error {
		attempts <- job.ID
		switch job.ID {
		case "flaky":
			if job.Attempts < 3 {
				return errors.New("transient")
			}
			return nil
		case "config":
			return Terminal(errors.New("DM not supported on this platform"))
		}
		return nil
	})

	deadline := time.After(5 * time.Second)
	for {
		n, err := q.Len(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("queue not drained, %d jobs left", n)
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()

	counts := map[string]int{}
	close(attempts)
	for id := range attempts {
		counts[id]++
	}
	if counts["ok"] != 1 {
		t.Errorf("ok attempts: got %d, want 1", counts["ok"])
	}
	if counts["flaky"] != 3 {
		t.Errorf("flaky attempts: got %d, want 3", counts["flaky"])
	}
	if counts["config"] != 1 {
		t.Errorf("terminal job retried: %d attempts", counts["config"])
	}

	dead, _ := q.DeadLen(context.Background())
	if dead != 1 {
		t.Errorf("dead letters: got %d, want 1", dead)
	}
}

func TestRunDeadLettersAfterMaxAttempts(t *testing.T) {
	q := openQ(t, Options{
		Queue:        "poll",
		PollInterval: 10 * time.Millisecond,
		BackoffBase:  time.Millisecond,
		MaxAttempts:  3,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Publish(ctx, "always-fails", nil)

	var calls atomic.Int32
	go q.Run(ctx, 1, func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return errors.New("platform 500")
	})

	deadline := time.After(5 * time.Second)
	for {
		dead, err := q.DeadLen(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if dead == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job never dead-lettered")
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()

	if n := calls.Load(); n != 3 {
		t.Errorf("handler calls: got %d, want 3", n)
	}
}

func TestTerminalNil(t *testing.T) {
	if Terminal(nil) != nil {
		t.Error("Terminal(nil) should be nil")
	}
	if !errors.Is(Terminal(errors.New("x")), ErrNoRetry) {
		t.Error("Terminal should wrap ErrNoRetry")
	}
}
