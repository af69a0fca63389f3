// Package poll fetches new comments for one user across every connected
// platform and feeds unseen ones into the process queue.
//
// Deduplication happens here, at the pipeline's edge. Claiming a comment
// in processed_comments is an INSERT OR IGNORE: exactly one poll run wins
// the insert, and only the winner enqueues, so overlapping polls and
// retried jobs cannot double-process a comment.
package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/replyhive/replyhive/jobq"
	"github.com/replyhive/replyhive/match"
	"github.com/replyhive/replyhive/metrics"
	"github.com/replyhive/replyhive/platform"
	"github.com/replyhive/replyhive/seal"
	"github.com/replyhive/replyhive/store"
)

// commentPageSize is the per-video fetch limit.
const commentPageSize = 100

// Job is the poll queue payload: one user whose videos to sweep.
type Job struct {
	UserID string `json:"user_id"`
}

// Enqueue publishes a payload to the process queue if its ID is new.
// jobq.(*Q).PublishUnique satisfies it.
type Enqueue func(ctx context.Context, id string, payload []byte) (bool, error)

// Poller sweeps a user's platforms for new comments.
type Poller struct {
	store     *store.Store
	platforms *platform.Registry
	sealer    *seal.Sealer
	enqueue   Enqueue
	logger    *slog.Logger
}

// New creates a Poller that publishes process jobs through enqueue.
func New(st *store.Store, reg *platform.Registry, sealer *seal.Sealer, enqueue Enqueue, logger *slog.Logger) *Poller {
	return &Poller{store: st, platforms: reg, sealer: sealer, enqueue: enqueue, logger: logger}
}

// Handle is the poll queue's jobq.Handler. Per-platform failures are
// logged and counted but never fail the job: polling is periodic and the
// next cycle covers whatever this one missed.
func (p *Poller) Handle(ctx context.Context, qj *jobq.Job) error {
	var job Job
	if err := json.Unmarshal(qj.Payload, &job); err != nil {
		return jobq.Terminal(fmt.Errorf("decode poll job %s: %w", qj.ID, err))
	}
	start := time.Now()
	metrics.PollRuns.Inc()
	p.PollUser(ctx, job.UserID)
	metrics.ObservePoll(start)
	return nil
}

// PollUser sweeps every platform the user has rules for.
func (p *Poller) PollUser(ctx context.Context, userID string) {
	for _, pf := range store.AllPlatforms {
		if err := p.pollPlatform(ctx, userID, pf); err != nil {
			metrics.PollErrors.WithLabelValues(string(pf)).Inc()
			p.logger.Warn("poll: platform sweep failed",
				"user_id", userID, "platform", pf, "error", err)
		}
	}
}

func (p *Poller) pollPlatform(ctx context.Context, userID string, pf store.Platform) error {
	conn, err := p.store.ActiveConnection(ctx, userID, pf)
	if err != nil {
		return fmt.Errorf("load connection: %w", err)
	}
	if conn == nil {
		return nil // platform not connected
	}
	token, err := p.sealer.Open(conn.AccessTokenSealed)
	if err != nil {
		return fmt.Errorf("unseal token: %w", err)
	}
	rules, err := p.store.ActiveRules(ctx, userID, pf)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	// Union of explicit video scopes. Unscoped rules match any video at
	// process time but give the poller nothing to fetch.
	var videos []string
	seen := map[string]bool{}
	for _, r := range rules {
		for _, v := range r.VideoIDs {
			if v != "" && !seen[v] {
				seen[v] = true
				videos = append(videos, v)
			}
		}
	}
	if len(videos) == 0 {
		return nil
	}

	adapter, err := p.platforms.Get(pf)
	if err != nil {
		return err
	}

	var failed int
	for _, videoID := range videos {
		if err := p.pollVideo(ctx, adapter, token, userID, videoID); err != nil {
			failed++
			p.logger.Warn("poll: video fetch failed",
				"user_id", userID, "platform", pf, "video_id", videoID, "error", err)
		}
	}
	if failed == len(videos) {
		return fmt.Errorf("all %d video fetches failed", failed)
	}
	return nil
}

func (p *Poller) pollVideo(ctx context.Context, adapter platform.Adapter, token, userID, videoID string) error {
	comments, err := adapter.ListComments(ctx, token, videoID, commentPageSize)
	if err != nil {
		return err
	}
	pf := adapter.Name()
	for i := range comments {
		c := &comments[i]
		inserted, err := p.store.MarkProcessed(ctx, c, userID)
		if err != nil {
			return fmt.Errorf("mark comment %s processed: %w", c.ID, err)
		}
		if !inserted {
			metrics.CommentsDuplicate.WithLabelValues(string(pf)).Inc()
			continue
		}
		payload, err := json.Marshal(match.Job{Comment: *c, UserID: userID})
		if err != nil {
			return fmt.Errorf("encode match job: %w", err)
		}
		if _, err := p.enqueue(ctx, fmt.Sprintf("proc_%s_%s", pf, c.ID), payload); err != nil {
			return fmt.Errorf("enqueue comment %s: %w", c.ID, err)
		}
		metrics.CommentsDiscovered.WithLabelValues(string(pf)).Inc()
	}
	return nil
}
