// Package platform abstracts YouTube, Instagram and TikTok behind one
// capability interface: list comments on a content item, post a reply or
// DM, fetch a content title. Each implementation is a thin JSON HTTP
// client with its own rate limiter.
package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/replyhive/replyhive/store"
)

// ErrUnsupported marks a capability a platform does not offer (e.g. DMs
// outside Instagram). It is a configuration error, never retried.
var ErrUnsupported = errors.New("platform: capability not supported")

// Adapter is the per-platform capability interface.
type Adapter interface {
	Name() store.Platform
	// ListComments returns up to limit most-recent comments on a content
	// item, newest first where the platform supports ordering.
	ListComments(ctx context.Context, accessToken, contentID string, limit int) ([]store.Comment, error)
	// PostReply replies to a comment and returns the platform response ID.
	PostReply(ctx context.Context, accessToken, commentID, text string) (string, error)
	// PostDirectMessage sends a DM. Returns ErrUnsupported where the
	// platform has no DM capability.
	PostDirectMessage(ctx context.Context, accessToken, recipientID, text string) (string, error)
	// ContentTitle returns a human-readable title/caption for a content item.
	ContentTitle(ctx context.Context, accessToken, contentID string) (string, error)
}

// APIError is a non-2xx platform response.
type APIError struct {
	Platform   store.Platform
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api: status %d: %s", e.Platform, e.StatusCode, e.Body)
}

// IsTransient reports whether err is worth retrying: network failures,
// rate limits and server errors. Auth and not-found errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	// Anything that never produced a status line (DNS, timeout, reset)
	// is transient by default.
	return !errors.Is(err, ErrUnsupported)
}

// Registry holds the configured adapters keyed by platform.
type Registry struct {
	adapters map[store.Platform]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[store.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter for p, or an error for unknown platforms.
func (r *Registry) Get(p store.Platform) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("platform: no adapter for %q", p)
	}
	return a, nil
}
