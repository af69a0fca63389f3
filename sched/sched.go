// Package sched turns the per-user poll cadence into poll queue jobs.
//
// A single loop scans for users whose last poll is older than the cadence
// and enqueues one poll job each. Enqueues are idempotent on a
// time-bucketed job ID, so a crashed scheduler that rescans after restart,
// or a scan racing a slow previous one, cannot double-enqueue a user
// within one cadence window.
package sched

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/replyhive/replyhive/poll"
	"github.com/replyhive/replyhive/store"
)

// Enqueue publishes a payload to the poll queue if its ID is new.
// jobq.(*Q).PublishUnique satisfies it.
type Enqueue func(ctx context.Context, id string, payload []byte) (bool, error)

// Scheduler enrolls due users into the poll queue.
type Scheduler struct {
	store         *store.Store
	enqueue       Enqueue
	checkInterval time.Duration
	pollInterval  time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// New creates a Scheduler scanning every checkInterval for users whose
// last poll is older than pollInterval.
func New(st *store.Store, enqueue Enqueue, checkInterval, pollInterval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:         st,
		enqueue:       enqueue,
		checkInterval: checkInterval,
		pollInterval:  pollInterval,
		logger:        logger,
		now:           time.Now,
	}
}

// Run scans until ctx is cancelled. The first scan happens immediately so
// a restart does not wait a full check interval to resume polling.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("sched: started",
		"check_interval", s.checkInterval, "poll_interval", s.pollInterval)
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		if err := s.Scan(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("sched: scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("sched: stopped")
			return
		case <-ticker.C:
		}
	}
}

// Scan enqueues one poll job per due user.
func (s *Scheduler) Scan(ctx context.Context) error {
	userIDs, err := s.store.DueUserIDs(ctx, s.pollInterval)
	if err != nil {
		return fmt.Errorf("list due users: %w", err)
	}
	for _, userID := range userIDs {
		payload, err := json.Marshal(poll.Job{UserID: userID})
		if err != nil {
			return fmt.Errorf("encode poll job: %w", err)
		}
		inserted, err := s.enqueue(ctx, s.jobID(userID), payload)
		if err != nil {
			s.logger.Warn("sched: enqueue failed", "user_id", userID, "error", err)
			continue
		}
		if !inserted {
			continue
		}
		if err := s.store.MarkPollEnqueued(ctx, userID); err != nil {
			s.logger.Warn("sched: mark poll failed", "user_id", userID, "error", err)
			continue
		}
		s.logger.Debug("sched: poll enqueued", "user_id", userID)
	}
	return nil
}

// jobID buckets the user's poll job by cadence window.
func (s *Scheduler) jobID(userID string) string {
	bucket := s.now().UnixMilli() / s.pollInterval.Milliseconds()
	return fmt.Sprintf("poll_%s_%d", userID, bucket)
}
