// Package respond executes the matched rule's response action against the
// platform API and finalizes the reply log row the matcher created.
//
// Jobs arrive from the respond queue with the jitter delay already applied,
// so this stage sends immediately. Failures that retrying can fix (rate
// limits, 5xx, network) surface as plain errors and go back to the queue;
// configuration failures (no connection, bad token, unsupported action)
// are terminal and dead-letter.
package respond

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/replyhive/replyhive/jobq"
	"github.com/replyhive/replyhive/metrics"
	"github.com/replyhive/replyhive/platform"
	"github.com/replyhive/replyhive/seal"
	"github.com/replyhive/replyhive/store"
)

// Job is the respond queue payload. It carries the full rule and comment
// so the responder never re-reads them, plus the reply log row to finalize.
type Job struct {
	LogID          string        `json:"log_id"`
	Rule           store.Rule    `json:"rule"`
	Comment        store.Comment `json:"comment"`
	MatchedKeyword string        `json:"matched_keyword,omitempty"`
	AIScore        *float64      `json:"ai_score,omitempty"`
}

// Responder sends responses for matched comments.
type Responder struct {
	store     *store.Store
	platforms *platform.Registry
	sealer    *seal.Sealer
	webhook   *http.Client
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Responder.
func New(st *store.Store, reg *platform.Registry, sealer *seal.Sealer, logger *slog.Logger) *Responder {
	return &Responder{
		store:     st,
		platforms: reg,
		sealer:    sealer,
		webhook:   &http.Client{Timeout: 15 * time.Second},
		logger:    logger,
		now:       time.Now,
	}
}

// Handle is the respond queue's jobq.Handler.
func (r *Responder) Handle(ctx context.Context, qj *jobq.Job) error {
	var job Job
	if err := json.Unmarshal(qj.Payload, &job); err != nil {
		return jobq.Terminal(fmt.Errorf("decode respond job %s: %w", qj.ID, err))
	}
	return r.Respond(ctx, &job)
}

// Respond executes the job's response action. On success it bumps the
// rule's daily usage and marks the log row sent; on failure it records the
// error on the log row and propagates, terminal when retrying cannot help.
func (r *Responder) Respond(ctx context.Context, job *Job) error {
	action := job.Rule.ResponseAction
	text, responseID, err := r.send(ctx, job)
	if err != nil {
		metrics.Responses.WithLabelValues(string(action), "failed").Inc()
		if ferr := r.store.FinalizeReplyError(ctx, job.LogID, err.Error()); ferr != nil {
			r.logger.Error("respond: record failure", "log_id", job.LogID, "error", ferr)
		}
		if !platform.IsTransient(err) {
			return jobq.Terminal(err)
		}
		return err
	}

	if err := r.store.IncrementDailyUsage(ctx, job.Rule.ID, job.Rule.UserID, store.DayKey(r.now())); err != nil {
		r.logger.Error("respond: bump daily usage", "rule_id", job.Rule.ID, "error", err)
	}
	if err := r.store.FinalizeReplySuccess(ctx, job.LogID, text, responseID); err != nil {
		return fmt.Errorf("finalize reply log %s: %w", job.LogID, err)
	}
	metrics.Responses.WithLabelValues(string(action), "sent").Inc()
	r.logger.Info("respond: sent",
		"rule_id", job.Rule.ID,
		"comment_id", job.Comment.ID,
		"platform", job.Comment.Platform,
		"action", action,
	)
	return nil
}

// send performs the action and returns the rendered text and the platform's
// response ID. Terminal-vs-transient classification happens in Respond.
func (r *Responder) send(ctx context.Context, job *Job) (text, responseID string, err error) {
	rule := &job.Rule
	comment := &job.Comment

	switch rule.ResponseAction {
	case store.ActionWebhook:
		text = r.render(ctx, job, nil, "")
		id, err := r.postWebhook(ctx, job)
		return text, id, err
	case store.ActionLogOnly:
		// No network call; the log row itself is the outcome. The
		// sentinel ID marks the row as finalized without a platform reply.
		return r.render(ctx, job, nil, ""), "log-only", nil
	}

	conn, err := r.store.ActiveConnection(ctx, rule.UserID, comment.Platform)
	if err != nil {
		return "", "", fmt.Errorf("load connection: %w", err)
	}
	if conn == nil {
		return "", "", jobq.Terminal(fmt.Errorf("no active %s connection for user %s", comment.Platform, rule.UserID))
	}
	token, err := r.sealer.Open(conn.AccessTokenSealed)
	if err != nil {
		return "", "", jobq.Terminal(fmt.Errorf("unseal %s token for user %s: %w", comment.Platform, rule.UserID, err))
	}
	adapter, err := r.platforms.Get(comment.Platform)
	if err != nil {
		return "", "", jobq.Terminal(err)
	}

	text = r.render(ctx, job, adapter, token)

	switch rule.ResponseAction {
	case store.ActionReplyComment, store.ActionSendLink:
		responseID, err = adapter.PostReply(ctx, token, comment.ID, text)
	case store.ActionSendDM:
		responseID, err = adapter.PostDirectMessage(ctx, token, comment.AuthorID, text)
	default:
		return "", "", jobq.Terminal(fmt.Errorf("unknown response action %q", rule.ResponseAction))
	}
	return text, responseID, err
}

// render resolves the template's placeholders. The content title is
// best-effort: a lookup failure falls back to a generic phrase rather
// than failing the whole response.
func (r *Responder) render(ctx context.Context, job *Job, adapter platform.Adapter, token string) string {
	title := ""
	if adapter != nil && token != "" && needsTitle(job.Rule.ResponseTemplate) {
		var err error
		title, err = adapter.ContentTitle(ctx, token, job.Comment.VideoID)
		if err != nil {
			r.logger.Warn("respond: content title lookup failed",
				"video_id", job.Comment.VideoID, "error", err)
			title = ""
		}
	}
	if title == "" {
		if job.Comment.Platform == store.PlatformYouTube {
			title = "this video"
		} else {
			title = "this content"
		}
	}
	return RenderTemplate(job.Rule.ResponseTemplate, Vars{
		Username:    job.Comment.Author,
		VideoTitle:  title,
		CustomLink:  job.Rule.CustomLink,
		CommentText: job.Comment.Text,
		Platform:    string(job.Comment.Platform),
	})
}

// webhookPayload is the body posted to the rule's CustomLink.
type webhookPayload struct {
	Comment        store.Comment `json:"comment"`
	RuleID         string        `json:"rule_id"`
	RuleName       string        `json:"rule_name"`
	MatchedKeyword string        `json:"matched_keyword,omitempty"`
	AIScore        *float64      `json:"ai_confidence_score,omitempty"`
}

func (r *Responder) postWebhook(ctx context.Context, job *Job) (string, error) {
	if job.Rule.CustomLink == "" {
		return "", jobq.Terminal(fmt.Errorf("webhook rule %s has no custom link", job.Rule.ID))
	}
	body, err := json.Marshal(webhookPayload{
		Comment:        job.Comment,
		RuleID:         job.Rule.ID,
		RuleName:       job.Rule.Name,
		MatchedKeyword: job.MatchedKeyword,
		AIScore:        job.AIScore,
	})
	if err != nil {
		return "", jobq.Terminal(fmt.Errorf("encode webhook payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, "POST", job.Rule.CustomLink, bytes.NewReader(body))
	if err != nil {
		return "", jobq.Terminal(fmt.Errorf("webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.webhook.Do(req)
	if err != nil {
		return "", fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("webhook %s: status %d", job.Rule.CustomLink, resp.StatusCode)
		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			return "", err
		}
		return "", jobq.Terminal(err)
	}
	return "webhook", nil
}
