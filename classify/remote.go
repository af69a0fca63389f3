package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Remote is a Classifier backed by the classifier service's HTTP API.
// Question detection runs the local heuristic first and only calls out
// for the undecided cases.
type Remote struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// RemoteOption configures a Remote classifier.
type RemoteOption func(*Remote)

// WithAPIKey sets the bearer token sent on every request.
func WithAPIKey(key string) RemoteOption {
	return func(r *Remote) { r.apiKey = key }
}

// WithTimeout sets the per-call HTTP timeout. Default: 15s.
func WithTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) { r.client.Timeout = d }
}

// NewRemote creates a classifier client for the service at baseURL.
func NewRemote(baseURL string, opts ...RemoteOption) *Remote {
	r := &Remote{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Remote) post(ctx context.Context, path string, reqBody, respBody any) error {
	b, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("classify: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("classify: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("classify: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("classify: %s: status %d: %s", path, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("classify: %s: decode: %w", path, err)
	}
	return nil
}

func (r *Remote) Embed(ctx context.Context, text string) ([]float64, error) {
	var out struct {
		Vector []float64 `json:"vector"`
	}
	if err := r.post(ctx, "/v1/embed", map[string]string{"text": text}, &out); err != nil {
		return nil, err
	}
	if len(out.Vector) == 0 {
		return nil, fmt.Errorf("classify: embed returned empty vector")
	}
	return out.Vector, nil
}

func (r *Remote) AnalyzeSentiment(ctx context.Context, text string) (Sentiment, error) {
	var out Sentiment
	if err := r.post(ctx, "/v1/sentiment", map[string]string{"text": text}, &out); err != nil {
		return Sentiment{}, err
	}
	return out, nil
}

func (r *Remote) IsQuestion(ctx context.Context, text string) (bool, error) {
	if is, decided := QuestionHeuristic(text); decided {
		return is, nil
	}
	var out struct {
		Question bool `json:"question"`
	}
	if err := r.post(ctx, "/v1/question", map[string]string{"text": text}, &out); err != nil {
		return false, err
	}
	return out.Question, nil
}

func (r *Remote) IsSpam(ctx context.Context, text string) (bool, error) {
	if SpamHeuristic(text) {
		return true, nil
	}
	var out struct {
		Spam bool `json:"spam"`
	}
	if err := r.post(ctx, "/v1/spam", map[string]string{"text": text}, &out); err != nil {
		return false, err
	}
	return out.Spam, nil
}
