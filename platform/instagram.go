package platform

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/replyhive/replyhive/store"
)

// Instagram talks to the Instagram Graph API. It is the only platform
// with a DM capability.
type Instagram struct {
	c *apiClient
}

// NewInstagram creates an Instagram adapter against baseURL
// (https://graph.instagram.com in production).
func NewInstagram(baseURL string, rps float64) *Instagram {
	return &Instagram{c: newAPIClient(store.PlatformInstagram, baseURL, rps)}
}

func (i *Instagram) Name() store.Platform { return store.PlatformInstagram }

type igComments struct {
	Data []struct {
		ID        string    `json:"id"`
		Text      string    `json:"text"`
		Username  string    `json:"username"`
		Timestamp time.Time `json:"timestamp"`
		From      struct {
			ID string `json:"id"`
		} `json:"from"`
	} `json:"data"`
}

func (i *Instagram) ListComments(ctx context.Context, accessToken, mediaID string, limit int) ([]store.Comment, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	q := url.Values{
		"fields": {"id,text,username,timestamp,from"},
		"limit":  {strconv.Itoa(limit)},
	}
	var resp igComments
	u := i.c.baseURL + "/" + url.PathEscape(mediaID) + "/comments?" + q.Encode()
	if err := i.c.doJSON(ctx, "GET", u, accessToken, nil, &resp); err != nil {
		return nil, fmt.Errorf("list comments for media %s: %w", mediaID, err)
	}

	comments := make([]store.Comment, 0, len(resp.Data))
	for _, c := range resp.Data {
		comments = append(comments, store.Comment{
			ID:          c.ID,
			Text:        c.Text,
			Author:      c.Username,
			AuthorID:    c.From.ID,
			VideoID:     mediaID,
			Platform:    store.PlatformInstagram,
			PublishedAt: c.Timestamp.UnixMilli(),
		})
	}
	return comments, nil
}

func (i *Instagram) PostReply(ctx context.Context, accessToken, commentID, text string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	u := i.c.baseURL + "/" + url.PathEscape(commentID) + "/replies"
	if err := i.c.doJSON(ctx, "POST", u, accessToken, map[string]string{"message": text}, &resp); err != nil {
		return "", fmt.Errorf("reply to comment %s: %w", commentID, err)
	}
	return resp.ID, nil
}

func (i *Instagram) PostDirectMessage(ctx context.Context, accessToken, recipientID, text string) (string, error) {
	body := map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": text},
	}
	var resp struct {
		MessageID string `json:"message_id"`
	}
	u := i.c.baseURL + "/me/messages"
	if err := i.c.doJSON(ctx, "POST", u, accessToken, body, &resp); err != nil {
		return "", fmt.Errorf("dm to %s: %w", recipientID, err)
	}
	return resp.MessageID, nil
}

func (i *Instagram) ContentTitle(ctx context.Context, accessToken, mediaID string) (string, error) {
	var resp struct {
		Caption string `json:"caption"`
	}
	u := i.c.baseURL + "/" + url.PathEscape(mediaID) + "?fields=caption"
	if err := i.c.doJSON(ctx, "GET", u, accessToken, nil, &resp); err != nil {
		return "", fmt.Errorf("media caption %s: %w", mediaID, err)
	}
	return resp.Caption, nil
}
