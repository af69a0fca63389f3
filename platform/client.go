package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/replyhive/replyhive/store"
)

// apiClient is the shared HTTP plumbing for the three adapters: one
// rate limiter per platform, bearer auth, JSON bodies.
type apiClient struct {
	platform store.Platform
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
}

func newAPIClient(platform store.Platform, baseURL string, rps float64) *apiClient {
	if rps <= 0 {
		rps = 2
	}
	return &apiClient{
		platform: platform,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 20 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

// doJSON performs a rate-limited request and decodes the JSON response
// into out (which may be nil).
func (c *apiClient) doJSON(ctx context.Context, method, url, token string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s api: marshal: %w", c.platform, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%s api: new request: %w", c.platform, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s api: %w", c.platform, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Platform: c.platform, StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s api: decode: %w", c.platform, err)
	}
	return nil
}
