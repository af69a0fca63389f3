// Package jobq implements the durable work queues that decouple the
// poll → process → respond pipeline stages, backed by SQLite.
//
// Rows are invisible to consumers for a configurable duration after being
// claimed. A consumer that processes a job deletes it; one that fails or
// crashes lets the row reappear for another worker. On top of that base
// the pipeline needs three extras:
//
//   - delayed delivery (PublishIn) for the randomized response jitter,
//   - idempotent publish (PublishUnique) so scheduler enrollment and
//     poller fan-out never duplicate jobs,
//   - bounded retries with exponential backoff and a dead-letter table
//     retained for operator inspection.
//
// Expected schema is created by EnsureTable.
package jobq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/replyhive/replyhive/dbopen"
)

// ErrNoRetry marks a job failure as terminal: the job goes straight to the
// dead-letter table instead of being retried. Wrap with Terminal.
var ErrNoRetry = errors.New("jobq: no retry")

// Terminal wraps err so the consumer dead-letters the job immediately.
// Use for configuration errors retrying cannot fix.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrNoRetry, err)
}

// Job is a row in the queue.
type Job struct {
	ID        string
	Queue     string
	Payload   []byte
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
	LastError string
}

// Options configures queue behaviour.
type Options struct {
	// Queue is the logical queue name. Multiple queues coexist in one table.
	Queue string
	// Visibility is how long a claimed job stays invisible. Default: 1m.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts in Run. Default: 1s.
	PollInterval time.Duration
	// MaxAttempts dead-letters a job after this many deliveries. 0 = unlimited.
	MaxAttempts int
	// BackoffBase is the first retry delay; attempt n waits base * 2^(n-1).
	// Default: 1s.
	BackoffBase time.Duration
	// PerMinute caps handler dispatches per minute. 0 = uncapped.
	PerMinute int
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Q is the queue handle.
type Q struct {
	db      *sql.DB
	opts    Options
	limiter *rate.Limiter
}

// New creates a queue handle. Call EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	q := &Q{db: db, opts: opts}
	if opts.PerMinute > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(float64(opts.PerMinute)/60.0), 1)
	}
	return q
}

// EnsureTable creates the queue tables and indexes if they don't exist.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS queue_jobs (
			id          TEXT PRIMARY KEY,
			queue       TEXT NOT NULL DEFAULT '',
			payload     BLOB,
			visible_at  INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			last_error  TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_queue_visible ON queue_jobs (queue, visible_at);
		CREATE TABLE IF NOT EXISTS dead_jobs (
			id          TEXT PRIMARY KEY,
			queue       TEXT NOT NULL DEFAULT '',
			payload     BLOB,
			attempts    INTEGER NOT NULL DEFAULT 0,
			last_error  TEXT NOT NULL DEFAULT '',
			failed_at   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_dead_failed ON dead_jobs (failed_at);
	`)
	return err
}

// Publish inserts a job that is immediately visible.
func (q *Q) Publish(ctx context.Context, id string, payload []byte) error {
	return q.PublishIn(ctx, id, payload, 0)
}

// PublishIn inserts a job that becomes visible after delay. This is how the
// matcher schedules the response jitter: delivery no earlier than the drawn
// delay, survives restarts because the delay lives in the row.
func (q *Q) PublishIn(ctx context.Context, id string, payload []byte, delay time.Duration) error {
	now := time.Now()
	_, err := dbopen.Exec(ctx, q.db,
		`INSERT INTO queue_jobs (id, queue, payload, visible_at, created_at) VALUES (?,?,?,?,?)`,
		id, q.opts.Queue, payload, now.Add(delay).UnixMilli(), now.UnixMilli(),
	)
	return err
}

// PublishUnique inserts a job only if no job with the same ID exists (in
// this or any queue sharing the table). Returns true if the job was
// inserted. Deterministic IDs make enrollment idempotent: re-publishing
// while the job is still queued or in flight is a no-op.
func (q *Q) PublishUnique(ctx context.Context, id string, payload []byte) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := dbopen.Exec(ctx, q.db,
		`INSERT OR IGNORE INTO queue_jobs (id, queue, payload, visible_at, created_at) VALUES (?,?,?,?,?)`,
		id, q.opts.Queue, payload, now, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Claim atomically picks the oldest visible job, marks it invisible for the
// visibility duration, and returns it. Returns nil, nil if none available.
func (q *Q) Claim(ctx context.Context) (*Job, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE queue_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM queue_jobs
			WHERE queue = ? AND visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING id, queue, payload, visible_at, created_at, attempts, last_error`,
		hideUntil, q.opts.Queue, now.UnixMilli(),
	)
	j, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// Ack deletes a successfully processed job.
func (q *Q) Ack(ctx context.Context, id string) error {
	_, err := dbopen.Exec(ctx, q.db,
		`DELETE FROM queue_jobs WHERE id = ? AND queue = ?`, id, q.opts.Queue)
	return err
}

// Nack schedules a failed job for redelivery after exponential backoff
// (BackoffBase * 2^(attempts-1)) and records the failure reason.
func (q *Q) Nack(ctx context.Context, j *Job, cause error) error {
	backoff := q.opts.BackoffBase
	for i := 1; i < j.Attempts; i++ {
		backoff *= 2
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := dbopen.Exec(ctx, q.db,
		`UPDATE queue_jobs SET visible_at = ?, last_error = ? WHERE id = ? AND queue = ?`,
		time.Now().Add(backoff).UnixMilli(), msg, j.ID, q.opts.Queue)
	return err
}

// Bury moves a job to the dead-letter table.
func (q *Q) Bury(ctx context.Context, j *Job, cause error) error {
	msg := j.LastError
	if cause != nil {
		msg = cause.Error()
	}
	return dbopen.RunTx(ctx, q.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO dead_jobs (id, queue, payload, attempts, last_error, failed_at)
			VALUES (?,?,?,?,?,?)`,
			j.ID, j.Queue, j.Payload, j.Attempts, msg, time.Now().UnixMilli()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM queue_jobs WHERE id = ? AND queue = ?`, j.ID, j.Queue)
		return err
	})
}

// PurgeDeadBefore deletes dead-letter rows older than cutoff.
func (q *Q) PurgeDeadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM dead_jobs WHERE failed_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Len returns the number of jobs (visible + invisible) in this queue.
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_jobs WHERE queue = ?`, q.opts.Queue).Scan(&n)
	return n, err
}

// DeadLen returns the number of dead-letter rows for this queue.
func (q *Q) DeadLen(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dead_jobs WHERE queue = ?`, q.opts.Queue).Scan(&n)
	return n, err
}

// Handler processes a claimed job. Return nil to ack, an error to retry
// with backoff, or a Terminal error to dead-letter immediately.
type Handler func(ctx context.Context, job *Job) error

// Run polls for visible jobs and calls handler for each, with bounded
// concurrency and the configured per-minute dispatch cap. It blocks until
// ctx is cancelled, draining in-flight handlers before returning.
func (q *Q) Run(ctx context.Context, workers int, handler Handler) {
	log := q.opts.Logger
	if workers <= 0 {
		workers = 1
	}
	log.Info("jobq: consumer started",
		"queue", q.opts.Queue,
		"workers", workers,
		"per_minute", q.opts.PerMinute,
		"visibility", q.opts.Visibility,
	)

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("jobq: consumer stopping, draining in-flight handlers", "queue", q.opts.Queue)
			wg.Wait()
			log.Info("jobq: consumer stopped", "queue", q.opts.Queue)
			return
		case <-ticker.C:
			q.drain(ctx, sem, &wg, handler)
		}
	}
}

// drain claims and dispatches jobs until the queue is empty or ctx ends.
func (q *Q) drain(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup, handler Handler) {
	log := q.opts.Logger
	for {
		if q.limiter != nil {
			if err := q.limiter.Wait(ctx); err != nil {
				return
			}
		}

		job, err := q.Claim(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("jobq: claim failed", "error", err, "queue", q.opts.Queue)
			}
			return
		}
		if job == nil {
			return // nothing visible
		}

		// Dead-letter if the attempt budget is spent.
		if q.opts.MaxAttempts > 0 && job.Attempts > q.opts.MaxAttempts {
			log.Warn("jobq: job exceeded max attempts, dead-lettering",
				"id", job.ID, "attempts", job.Attempts, "queue", q.opts.Queue)
			if err := q.Bury(ctx, job, nil); err != nil {
				log.Error("jobq: bury failed", "id", job.ID, "error", err)
			}
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			_ = q.Nack(context.Background(), job, ctx.Err())
			return
		}

		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			defer func() { <-sem }()
			q.dispatch(ctx, j, handler)
		}(job)
	}
}

func (q *Q) dispatch(ctx context.Context, j *Job, handler Handler) {
	log := q.opts.Logger
	err := handler(ctx, j)
	// Handler outcomes are recorded with a background context: the job's
	// fate must be persisted even when shutdown cancelled ctx mid-flight.
	done := context.Background()
	switch {
	case err == nil:
		if err := q.Ack(done, j.ID); err != nil {
			log.Error("jobq: ack failed", "id", j.ID, "error", err)
		}
	case errors.Is(err, ErrNoRetry):
		log.Warn("jobq: terminal failure, dead-lettering", "id", j.ID, "error", err, "queue", q.opts.Queue)
		if err := q.Bury(done, j, err); err != nil {
			log.Error("jobq: bury failed", "id", j.ID, "error", err)
		}
	default:
		log.Warn("jobq: handler failed, backing off", "id", j.ID, "attempt", j.Attempts, "error", err, "queue", q.opts.Queue)
		if err := q.Nack(done, j, err); err != nil {
			log.Error("jobq: nack failed", "id", j.ID, "error", err)
		}
	}
}

func scanJob(scan func(dest ...any) error) (*Job, error) {
	var j Job
	var visAt, creAt int64
	if err := scan(&j.ID, &j.Queue, &j.Payload, &visAt, &creAt, &j.Attempts, &j.LastError); err != nil {
		return nil, err
	}
	j.VisibleAt = time.UnixMilli(visAt)
	j.CreatedAt = time.UnixMilli(creAt)
	return &j, nil
}
