package platform

import (
	"context"
	"fmt"

	"github.com/replyhive/replyhive/store"
)

// TikTok talks to the TikTok open API.
type TikTok struct {
	c *apiClient
}

// NewTikTok creates a TikTok adapter against baseURL
// (https://open.tiktokapis.com in production).
func NewTikTok(baseURL string, rps float64) *TikTok {
	return &TikTok{c: newAPIClient(store.PlatformTikTok, baseURL, rps)}
}

func (t *TikTok) Name() store.Platform { return store.PlatformTikTok }

type ttCommentList struct {
	Data struct {
		Comments []struct {
			ID         string `json:"id"`
			Text       string `json:"text"`
			UserID     string `json:"user_id"`
			Nickname   string `json:"nickname"`
			CreateTime int64  `json:"create_time"` // unix seconds
		} `json:"comments"`
	} `json:"data"`
}

func (t *TikTok) ListComments(ctx context.Context, accessToken, videoID string, limit int) ([]store.Comment, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	body := map[string]any{"video_id": videoID, "count": limit}
	var resp ttCommentList
	u := t.c.baseURL + "/v2/comment/list/"
	if err := t.c.doJSON(ctx, "POST", u, accessToken, body, &resp); err != nil {
		return nil, fmt.Errorf("list comments for video %s: %w", videoID, err)
	}

	comments := make([]store.Comment, 0, len(resp.Data.Comments))
	for _, c := range resp.Data.Comments {
		comments = append(comments, store.Comment{
			ID:          c.ID,
			Text:        c.Text,
			Author:      c.Nickname,
			AuthorID:    c.UserID,
			VideoID:     videoID,
			Platform:    store.PlatformTikTok,
			PublishedAt: c.CreateTime * 1000,
		})
	}
	return comments, nil
}

func (t *TikTok) PostReply(ctx context.Context, accessToken, commentID, text string) (string, error) {
	body := map[string]any{"comment_id": commentID, "text": text}
	var resp struct {
		Data struct {
			CommentID string `json:"comment_id"`
		} `json:"data"`
	}
	u := t.c.baseURL + "/v2/comment/reply/"
	if err := t.c.doJSON(ctx, "POST", u, accessToken, body, &resp); err != nil {
		return "", fmt.Errorf("reply to comment %s: %w", commentID, err)
	}
	return resp.Data.CommentID, nil
}

func (t *TikTok) PostDirectMessage(ctx context.Context, accessToken, recipientID, text string) (string, error) {
	return "", fmt.Errorf("%w: tiktok api has no direct messages", ErrUnsupported)
}

func (t *TikTok) ContentTitle(ctx context.Context, accessToken, videoID string) (string, error) {
	body := map[string]any{"video_ids": []string{videoID}, "fields": []string{"title"}}
	var resp struct {
		Data struct {
			Videos []struct {
				Title string `json:"title"`
			} `json:"videos"`
		} `json:"data"`
	}
	u := t.c.baseURL + "/v2/video/query/"
	if err := t.c.doJSON(ctx, "POST", u, accessToken, body, &resp); err != nil {
		return "", fmt.Errorf("video title %s: %w", videoID, err)
	}
	if len(resp.Data.Videos) == 0 {
		return "", fmt.Errorf("video %s not found", videoID)
	}
	return resp.Data.Videos[0].Title, nil
}
