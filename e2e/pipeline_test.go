// Package e2e drives the whole poll → process → respond pipeline through
// real queues against an in-memory database, with only the platform API
// and classifier faked.
package e2e

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/replyhive/replyhive/classify"
	"github.com/replyhive/replyhive/dbopen"
	"github.com/replyhive/replyhive/jobq"
	"github.com/replyhive/replyhive/match"
	"github.com/replyhive/replyhive/platform"
	"github.com/replyhive/replyhive/poll"
	"github.com/replyhive/replyhive/respond"
	"github.com/replyhive/replyhive/seal"
	"github.com/replyhive/replyhive/store"
	_ "modernc.org/sqlite"
)

// fakeYouTube serves a mutable comment list and records replies.
type fakeYouTube struct {
	comments []store.Comment
	replies  map[string]string // comment ID -> reply text
}

func (f *fakeYouTube) Name() store.Platform { return store.PlatformYouTube }

func (f *fakeYouTube) ListComments(ctx context.Context, token, contentID string, limit int) ([]store.Comment, error) {
	var out []store.Comment
	for _, c := range f.comments {
		if c.VideoID == contentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeYouTube) PostReply(ctx context.Context, token, commentID, text string) (string, error) {
	f.replies[commentID] = text
	return "resp-" + commentID, nil
}

func (f *fakeYouTube) PostDirectMessage(ctx context.Context, token, recipientID, text string) (string, error) {
	return "", platform.ErrUnsupported
}

func (f *fakeYouTube) ContentTitle(ctx context.Context, token, contentID string) (string, error) {
	return "Launch Day", nil
}

// drain claims every visible job and runs it through handler, acking on
// success the way the queue consumer would.
func drain(t *testing.T, q *jobq.Q, handler jobq.Handler) int {
	t.Helper()
	ctx := context.Background()
	var n int
	for {
		j, err := q.Claim(ctx)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if j == nil {
			return n
		}
		if err := handler(ctx, j); err != nil {
			t.Fatalf("handle %s: %v", j.ID, err)
		}
		if err := q.Ack(ctx, j.ID); err != nil {
			t.Fatalf("ack %s: %v", j.ID, err)
		}
		n++
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	db := dbopen.OpenMemory(t)
	if err := store.ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	st := store.New(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	processQ := jobq.New(db, jobq.Options{Queue: "process", Logger: logger})
	respondQ := jobq.New(db, jobq.Options{Queue: "respond", Logger: logger})
	if err := processQ.EnsureTable(ctx); err != nil {
		t.Fatalf("queue tables: %v", err)
	}

	sealer, err := seal.New("e2e-secret")
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	yt := &fakeYouTube{replies: map[string]string{}}
	registry := platform.NewRegistry(yt)

	poller := poll.New(st, registry, sealer, processQ.PublishUnique, logger)
	matcher := match.New(st, classify.Heuristic{}, respondQ.PublishIn, logger)
	responder := respond.New(st, registry, sealer, logger)

	sealed, err := sealer.Seal("oauth-token")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	err = st.InsertConnection(ctx, &store.Connection{
		ID: "conn1", UserID: "u1", Platform: store.PlatformYouTube,
		AccessTokenSealed: sealed, Active: true,
	})
	if err != nil {
		t.Fatalf("connection: %v", err)
	}
	err = st.InsertRule(ctx, &store.Rule{
		ID: "r1", UserID: "u1", Name: "pricing",
		TriggerType: store.TriggerKeyword, Keywords: []string{"price"},
		Platforms: []store.Platform{store.PlatformYouTube},
		VideoIDs:  []string{"v1"},
		ResponseTemplate: "Hi {{username}}, the link is {{customLink}}",
		CustomLink:       "https://shop.example/pricing",
		MaxResponsesPerDay: 1,
		Active:             true,
	})
	if err != nil {
		t.Fatalf("rule: %v", err)
	}

	// First poll cycle: one matching comment, one that does not match.
	yt.comments = []store.Comment{
		{ID: "c1", Text: "what's the price?", Author: "ann", AuthorID: "a1",
			VideoID: "v1", Platform: store.PlatformYouTube, PublishedAt: time.Now().UnixMilli()},
		{ID: "c2", Text: "love the editing", Author: "bob", AuthorID: "b1",
			VideoID: "v1", Platform: store.PlatformYouTube, PublishedAt: time.Now().UnixMilli()},
	}
	poller.PollUser(ctx, "u1")

	if n := drain(t, processQ, matcher.Handle); n != 2 {
		t.Fatalf("processed %d comments, want 2", n)
	}
	if n := drain(t, respondQ, responder.Handle); n != 1 {
		t.Fatalf("sent %d responses, want 1", n)
	}
	if got := yt.replies["c1"]; got != "Hi ann, the link is https://shop.example/pricing" {
		t.Errorf("reply text: %q", got)
	}
	if _, ok := yt.replies["c2"]; ok {
		t.Error("non-matching comment c2 was replied to")
	}

	// Second cycle: c3 matches but the rule's daily budget of 1 is spent.
	yt.comments = append(yt.comments, store.Comment{
		ID: "c3", Text: "price please", Author: "cay", AuthorID: "c9",
		VideoID: "v1", Platform: store.PlatformYouTube, PublishedAt: time.Now().UnixMilli(),
	})
	poller.PollUser(ctx, "u1")

	if n := drain(t, processQ, matcher.Handle); n != 1 {
		t.Fatalf("processed %d comments in second cycle, want 1 (c1, c2 deduped)", n)
	}
	if n := drain(t, respondQ, responder.Handle); n != 0 {
		t.Fatalf("sent %d responses in second cycle, want 0", n)
	}
	if _, ok := yt.replies["c3"]; ok {
		t.Error("quota-blocked comment c3 was replied to")
	}

	logs, err := st.RecentLogs(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("logs: got %d, want 3 (c1 sent, c2 no match, c3 suppressed)", len(logs))
	}
	byComment := map[string]*store.ReplyLog{}
	for _, l := range logs {
		byComment[l.CommentID] = l
	}
	if l := byComment["c1"]; l == nil || !l.ResponseSent {
		t.Errorf("c1 log: %+v", l)
	}
	if l := byComment["c2"]; l == nil || l.ResponseSent || l.ErrorMessage != match.ReasonNoKeyword {
		t.Errorf("c2 log: %+v", l)
	}
	if l := byComment["c3"]; l == nil || l.ResponseSent || l.ErrorMessage != match.ReasonQuota {
		t.Errorf("c3 log: %+v", l)
	}
	if n, err := st.UsageCount(ctx, "r1", store.DayKey(time.Now())); err != nil || n != 1 {
		t.Errorf("usage: %d, %v", n, err)
	}
}
