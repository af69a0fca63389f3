package platform

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/replyhive/replyhive/store"
)

// YouTube talks to the YouTube Data API v3.
type YouTube struct {
	c *apiClient
}

// NewYouTube creates a YouTube adapter against baseURL
// (https://www.googleapis.com in production).
func NewYouTube(baseURL string, rps float64) *YouTube {
	return &YouTube{c: newAPIClient(store.PlatformYouTube, baseURL, rps)}
}

func (y *YouTube) Name() store.Platform { return store.PlatformYouTube }

type ytCommentThreads struct {
	Items []struct {
		Snippet struct {
			TopLevelComment struct {
				ID      string `json:"id"`
				Snippet struct {
					TextDisplay     string `json:"textDisplay"`
					AuthorName      string `json:"authorDisplayName"`
					AuthorChannelID struct {
						Value string `json:"value"`
					} `json:"authorChannelId"`
					PublishedAt time.Time `json:"publishedAt"`
				} `json:"snippet"`
			} `json:"topLevelComment"`
		} `json:"snippet"`
	} `json:"items"`
}

func (y *YouTube) ListComments(ctx context.Context, accessToken, videoID string, limit int) ([]store.Comment, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	q := url.Values{
		"part":       {"snippet"},
		"videoId":    {videoID},
		"maxResults": {strconv.Itoa(limit)},
		"order":      {"time"}, // newest first
		"textFormat": {"plainText"},
	}
	var resp ytCommentThreads
	u := y.c.baseURL + "/youtube/v3/commentThreads?" + q.Encode()
	if err := y.c.doJSON(ctx, "GET", u, accessToken, nil, &resp); err != nil {
		return nil, fmt.Errorf("list comments for video %s: %w", videoID, err)
	}

	comments := make([]store.Comment, 0, len(resp.Items))
	for _, item := range resp.Items {
		top := item.Snippet.TopLevelComment
		comments = append(comments, store.Comment{
			ID:          top.ID,
			Text:        top.Snippet.TextDisplay,
			Author:      top.Snippet.AuthorName,
			AuthorID:    top.Snippet.AuthorChannelID.Value,
			VideoID:     videoID,
			Platform:    store.PlatformYouTube,
			PublishedAt: top.Snippet.PublishedAt.UnixMilli(),
		})
	}
	return comments, nil
}

func (y *YouTube) PostReply(ctx context.Context, accessToken, commentID, text string) (string, error) {
	body := map[string]any{
		"snippet": map[string]string{
			"parentId":     commentID,
			"textOriginal": text,
		},
	}
	var resp struct {
		ID string `json:"id"`
	}
	u := y.c.baseURL + "/youtube/v3/comments?part=snippet"
	if err := y.c.doJSON(ctx, "POST", u, accessToken, body, &resp); err != nil {
		return "", fmt.Errorf("reply to comment %s: %w", commentID, err)
	}
	return resp.ID, nil
}

func (y *YouTube) PostDirectMessage(ctx context.Context, accessToken, recipientID, text string) (string, error) {
	return "", fmt.Errorf("%w: youtube has no direct messages", ErrUnsupported)
}

func (y *YouTube) ContentTitle(ctx context.Context, accessToken, videoID string) (string, error) {
	q := url.Values{"part": {"snippet"}, "id": {videoID}}
	var resp struct {
		Items []struct {
			Snippet struct {
				Title string `json:"title"`
			} `json:"snippet"`
		} `json:"items"`
	}
	u := y.c.baseURL + "/youtube/v3/videos?" + q.Encode()
	if err := y.c.doJSON(ctx, "GET", u, accessToken, nil, &resp); err != nil {
		return "", fmt.Errorf("video title %s: %w", videoID, err)
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("video %s not found", videoID)
	}
	return resp.Items[0].Snippet.Title, nil
}
