// Package classify provides the text classification primitives the matcher
// consumes: embeddings, sentiment, question detection and spam detection.
//
// The real work happens in an external classifier service reached over
// HTTP. Question detection short-circuits on a cheap heuristic before
// calling out. When no service is configured, Heuristic supplies
// deterministic fallbacks so the pipeline degrades instead of stalling.
package classify

import (
	"context"
	"errors"
	"math"
	"strings"
)

// Sentiment is a classified sentiment with its confidence score.
type Sentiment struct {
	Label string  `json:"label"` // "positive", "negative" or "neutral"
	Score float64 `json:"score"`
}

const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Classifier is the capability interface the matcher depends on.
type Classifier interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	AnalyzeSentiment(ctx context.Context, text string) (Sentiment, error)
	IsQuestion(ctx context.Context, text string) (bool, error)
	IsSpam(ctx context.Context, text string) (bool, error)
}

// CosineSimilarity returns the cosine of the angle between a and b,
// in [-1, 1]. Mismatched or zero-magnitude vectors yield 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// interrogatives are sentence openers that mark a question even without a
// question mark.
var interrogatives = []string{
	"who", "what", "when", "where", "why", "how", "which",
	"is", "are", "was", "were", "do", "does", "did", "can",
	"could", "will", "would", "should", "anyone", "any one",
}

// QuestionHeuristic reports whether text is obviously a question.
// The second return is false when the heuristic cannot decide and a
// classifier call is warranted.
func QuestionHeuristic(text string) (isQuestion, decided bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return false, true
	}
	if strings.HasSuffix(t, "?") {
		return true, true
	}
	first, _, _ := strings.Cut(strings.ToLower(t), " ")
	first = strings.Trim(first, ".,!\"'")
	for _, w := range interrogatives {
		if first == w {
			return true, true
		}
	}
	return false, false
}

// spamMarkers are substrings that mark obvious comment spam.
var spamMarkers = []string{
	"free money", "click here", "check my channel", "make $$$",
	"follow me", "sub4sub", "earn from home", "dm me for",
	"t.me/", "onlyfans.com",
}

// SpamHeuristic flags obvious comment spam: known marker phrases or a
// text that is mostly links.
func SpamHeuristic(text string) bool {
	t := strings.ToLower(text)
	for _, m := range spamMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	links := strings.Count(t, "http://") + strings.Count(t, "https://")
	return links >= 2
}

// Heuristic is a Classifier built entirely from the local heuristics.
// Embeddings are unavailable: Embed returns an error, which the matcher
// already treats as "rule does not match".
type Heuristic struct{}

var errNoEmbedder = errors.New("classify: no embedding backend configured")

func (Heuristic) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, errNoEmbedder
}

func (Heuristic) AnalyzeSentiment(ctx context.Context, text string) (Sentiment, error) {
	t := strings.ToLower(text)
	var pos, neg int
	for _, w := range []string{"love", "great", "awesome", "amazing", "nice", "thanks", "thank you", "perfect", "best"} {
		if strings.Contains(t, w) {
			pos++
		}
	}
	for _, w := range []string{"hate", "terrible", "awful", "worst", "scam", "trash", "garbage", "disappointed", "refund"} {
		if strings.Contains(t, w) {
			neg++
		}
	}
	switch {
	case pos > neg:
		return Sentiment{Label: SentimentPositive, Score: 0.6}, nil
	case neg > pos:
		return Sentiment{Label: SentimentNegative, Score: 0.6}, nil
	default:
		return Sentiment{Label: SentimentNeutral, Score: 0.5}, nil
	}
}

func (Heuristic) IsQuestion(ctx context.Context, text string) (bool, error) {
	is, _ := QuestionHeuristic(text)
	return is, nil
}

func (Heuristic) IsSpam(ctx context.Context, text string) (bool, error) {
	return SpamHeuristic(text), nil
}
