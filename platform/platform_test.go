package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/replyhive/replyhive/store"
)

func TestYouTubeListComments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/youtube/v3/commentThreads" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("order"); got != "time" {
			t.Errorf("order param: got %q, want time", got)
		}
		if got := r.URL.Query().Get("maxResults"); got != "100" {
			t.Errorf("maxResults: got %q, want 100", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header: got %q", got)
		}
		fmt.Fprint(w, `{"items":[
			{"snippet":{"topLevelComment":{"id":"c1","snippet":{
				"textDisplay":"what's the price?","authorDisplayName":"ann",
				"authorChannelId":{"value":"ch1"},"publishedAt":"2026-08-27T10:00:00Z"}}}},
			{"snippet":{"topLevelComment":{"id":"c2","snippet":{
				"textDisplay":"nice video","authorDisplayName":"bob",
				"authorChannelId":{"value":"ch2"},"publishedAt":"2026-08-27T09:00:00Z"}}}}
		]}`)
	}))
	defer srv.Close()

	yt := NewYouTube(srv.URL, 100)
	comments, err := yt.ListComments(context.Background(), "tok", "v1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("comments: got %d, want 2", len(comments))
	}
	c := comments[0]
	if c.ID != "c1" || c.Author != "ann" || c.AuthorID != "ch1" || c.VideoID != "v1" {
		t.Errorf("comment: %+v", c)
	}
	if c.Platform != store.PlatformYouTube {
		t.Errorf("platform: %q", c.Platform)
	}
	if c.PublishedAt == 0 {
		t.Error("publishedAt not parsed")
	}
}

func TestYouTubePostReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/youtube/v3/comments" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Snippet struct {
				ParentID     string `json:"parentId"`
				TextOriginal string `json:"textOriginal"`
			} `json:"snippet"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Snippet.ParentID != "c1" || body.Snippet.TextOriginal != "hi ann!" {
			t.Errorf("body: %+v", body)
		}
		fmt.Fprint(w, `{"id":"reply-1"}`)
	}))
	defer srv.Close()

	yt := NewYouTube(srv.URL, 100)
	id, err := yt.PostReply(context.Background(), "tok", "c1", "hi ann!")
	if err != nil || id != "reply-1" {
		t.Fatalf("post reply: %q, %v", id, err)
	}
}

func TestInstagramDM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/messages" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"message_id":"dm-1"}`)
	}))
	defer srv.Close()

	ig := NewInstagram(srv.URL, 100)
	id, err := ig.PostDirectMessage(context.Background(), "tok", "user9", "hello")
	if err != nil || id != "dm-1" {
		t.Fatalf("dm: %q, %v", id, err)
	}
}

func TestDMUnsupportedOutsideInstagram(t *testing.T) {
	for _, a := range []Adapter{NewYouTube("http://x", 100), NewTikTok("http://x", 100)} {
		_, err := a.PostDirectMessage(context.Background(), "tok", "u", "hi")
		if !errors.Is(err, ErrUnsupported) {
			t.Errorf("%s: got %v, want ErrUnsupported", a.Name(), err)
		}
	}
}

func TestTikTokListComments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/comment/list/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"data":{"comments":[
			{"id":"t1","text":"price check","user_id":"u1","nickname":"cay","create_time":1750000000}
		]}}`)
	}))
	defer srv.Close()

	tk := NewTikTok(srv.URL, 100)
	comments, err := tk.ListComments(context.Background(), "tok", "vid", 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(comments) != 1 || comments[0].PublishedAt != 1750000000000 {
		t.Fatalf("comments: %+v", comments)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	// WHAT: 429/5xx are transient; 401/404 and unsupported are not.
	// WHY: The queue retries only what retrying can fix.
	cases := []struct {
		err       error
		transient bool
	}{
		{&APIError{Platform: store.PlatformYouTube, StatusCode: 429}, true},
		{&APIError{Platform: store.PlatformYouTube, StatusCode: 503}, true},
		{&APIError{Platform: store.PlatformYouTube, StatusCode: 401}, false},
		{&APIError{Platform: store.PlatformYouTube, StatusCode: 404}, false},
		{fmt.Errorf("wrapped: %w", &APIError{StatusCode: 500}), true},
		{fmt.Errorf("%w: no DMs", ErrUnsupported), false},
		{errors.New("dial tcp: connection refused"), true},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.transient {
			t.Errorf("IsTransient(%v): got %v, want %v", tc.err, got, tc.transient)
		}
	}
}

func TestAPIErrorFromStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quotaExceeded"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	yt := NewYouTube(srv.URL, 100)
	_, err := yt.ListComments(context.Background(), "tok", "v1", 10)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("status: got %d", apiErr.StatusCode)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewYouTube("http://x", 1), NewInstagram("http://x", 1), NewTikTok("http://x", 1))
	for _, p := range store.AllPlatforms {
		a, err := r.Get(p)
		if err != nil || a.Name() != p {
			t.Errorf("get %s: %v, %v", p, a, err)
		}
	}
	if _, err := r.Get("myspace"); err == nil {
		t.Error("unknown platform should error")
	}
}
