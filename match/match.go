// Package match evaluates a user's active rules against one comment and
// decides whether, and with what, to respond.
//
// Rules are evaluated oldest first. Every rule whose trigger fires gets a
// reply log row; safety filters and the daily quota can suppress the
// response, in which case the row records the suppression reason but the
// match metadata survives. The first match that clears all filters enqueues
// a respond job with a randomized delay and ends evaluation, so a comment
// never draws more than one response.
//
// Classifier calls fail in the safe direction: a trigger that cannot be
// evaluated does not match, while a skip filter that cannot be evaluated
// does not suppress.
package match

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/replyhive/replyhive/classify"
	"github.com/replyhive/replyhive/idgen"
	"github.com/replyhive/replyhive/jobq"
	"github.com/replyhive/replyhive/metrics"
	"github.com/replyhive/replyhive/respond"
	"github.com/replyhive/replyhive/store"
)

// Suppression reasons recorded on filtered matches.
const (
	ReasonSpam     = "Spam detected"
	ReasonNegative = "Negative sentiment detected"
	ReasonQuota    = "Daily limit reached"
)

// Non-match reasons recorded when an applicable rule's trigger does not fire.
const (
	ReasonNoKeyword         = "No keyword match"
	ReasonBelowThreshold    = "Similarity below threshold"
	ReasonSentimentMismatch = "Sentiment did not match"
	ReasonNotQuestion       = "Not a question"
	ReasonClassifierFailed  = "Classification failed"
	ReasonUnknownTrigger    = "Unknown trigger type"
)

// Job is the process queue payload: one fetched comment plus the owning
// user, whose rules it is evaluated against.
type Job struct {
	Comment store.Comment `json:"comment"`
	UserID  string        `json:"user_id"`
}

// Enqueue publishes a payload to the respond queue, visible after delay.
// jobq.(*Q).PublishIn satisfies it.
type Enqueue func(ctx context.Context, id string, payload []byte, delay time.Duration) error

// Matcher evaluates rules against comments.
type Matcher struct {
	store      *store.Store
	classifier classify.Classifier
	enqueue    Enqueue
	newID      idgen.Generator
	logger     *slog.Logger
	now        func() time.Time
	jitter     func(minSec, maxSec int) time.Duration
}

// New creates a Matcher that publishes respond jobs through enqueue.
func New(st *store.Store, cls classify.Classifier, enqueue Enqueue, logger *slog.Logger) *Matcher {
	return &Matcher{
		store:      st,
		classifier: cls,
		enqueue:    enqueue,
		newID:      idgen.Prefixed("log_", idgen.UUIDv7()),
		logger:     logger,
		now:        time.Now,
		jitter:     RandomDelay,
	}
}

// RandomDelay returns a uniformly random duration between minSec and
// maxSec seconds, inclusive. Degenerate bounds collapse sensibly.
func RandomDelay(minSec, maxSec int) time.Duration {
	if minSec < 0 {
		minSec = 0
	}
	if maxSec < minSec {
		maxSec = minSec
	}
	return time.Duration(minSec+rand.Intn(maxSec-minSec+1)) * time.Second
}

// Handle is the process queue's jobq.Handler.
func (m *Matcher) Handle(ctx context.Context, qj *jobq.Job) error {
	var job Job
	if err := json.Unmarshal(qj.Payload, &job); err != nil {
		return jobq.Terminal(fmt.Errorf("decode match job %s: %w", qj.ID, err))
	}
	return m.ProcessComment(ctx, &job.Comment, job.UserID)
}

// ProcessComment runs userID's active rules against comment.
func (m *Matcher) ProcessComment(ctx context.Context, comment *store.Comment, userID string) error {
	rules, err := m.store.ActiveRules(ctx, userID, comment.Platform)
	if err != nil {
		return fmt.Errorf("load rules for user %s: %w", userID, err)
	}

	ev := &evaluation{m: m, comment: comment}
	for _, rule := range rules {
		if !rule.InVideoScope(comment.VideoID) {
			continue
		}
		// Every rule evaluated past this point leaves a log row: a clean
		// match, a filtered match with its suppression reason, or a
		// non-match with its reason.
		res := m.evaluate(ctx, rule, ev)
		reason := res.reason
		if res.matched {
			metrics.Matches.WithLabelValues(string(rule.TriggerType)).Inc()
			var err error
			reason, err = m.filterReason(ctx, rule, ev)
			if err != nil {
				return err
			}
		}

		log := &store.ReplyLog{
			ID:             m.newID(),
			RuleID:         rule.ID,
			UserID:         userID,
			CommentID:      comment.ID,
			CommentText:    comment.Text,
			CommentAuthor:  comment.Author,
			VideoID:        comment.VideoID,
			Platform:       comment.Platform,
			MatchedKeyword: res.keyword,
			AIScore:        res.aiScore,
			SentimentLabel: res.sentimentLabel,
			SentimentScore: res.sentimentScore,
			ResponseAction: rule.ResponseAction,
			ErrorMessage:   reason,
			TriggeredAt:    m.now().UnixMilli(),
		}
		if err := m.store.InsertReplyLog(ctx, log); err != nil {
			return fmt.Errorf("insert reply log: %w", err)
		}

		if !res.matched {
			continue
		}
		if reason != "" {
			metrics.Filtered.WithLabelValues(reason).Inc()
			m.logger.Info("match: suppressed",
				"rule_id", rule.ID, "comment_id", comment.ID, "reason", reason)
			continue
		}

		payload, err := json.Marshal(respond.Job{
			LogID:          log.ID,
			Rule:           *rule,
			Comment:        *comment,
			MatchedKeyword: res.keyword,
			AIScore:        res.aiScore,
		})
		if err != nil {
			return fmt.Errorf("encode respond job: %w", err)
		}
		delay := m.jitter(rule.MinDelaySeconds, rule.MaxDelaySeconds)
		if err := m.enqueue(ctx, "resp_"+log.ID, payload, delay); err != nil {
			return fmt.Errorf("enqueue response for log %s: %w", log.ID, err)
		}
		m.logger.Info("match: response queued",
			"rule_id", rule.ID,
			"comment_id", comment.ID,
			"trigger", rule.TriggerType,
			"delay", delay,
		)
		return nil
	}
	return nil
}

// result is one rule's trigger outcome plus the metadata worth logging.
// reason is set on non-matches; metadata the evaluation did compute (a
// below-threshold score, a mismatched sentiment) is kept for the log row.
type result struct {
	matched        bool
	reason         string
	keyword        string
	aiScore        *float64
	sentimentLabel string
	sentimentScore *float64
}

func (m *Matcher) evaluate(ctx context.Context, rule *store.Rule, ev *evaluation) result {
	switch rule.TriggerType {
	case store.TriggerKeyword:
		return m.evalKeyword(ctx, rule, ev)
	case store.TriggerSemantic:
		return m.evalSemantic(ctx, rule, ev)
	case store.TriggerSentiment:
		return m.evalSentiment(ctx, rule, ev)
	case store.TriggerQuestion:
		return m.evalQuestion(ctx, rule, ev)
	case store.TriggerMention:
		return m.evalMention(rule, ev)
	default:
		m.logger.Warn("match: unknown trigger type", "rule_id", rule.ID, "trigger", rule.TriggerType)
		return result{reason: ReasonUnknownTrigger}
	}
}

func (m *Matcher) evalKeyword(ctx context.Context, rule *store.Rule, ev *evaluation) result {
	text := ev.comment.Text
	miss := result{reason: ReasonNoKeyword}
	for _, kw := range rule.Keywords {
		if kw == "" {
			continue
		}
		if rule.MatchMode == store.MatchAISimilarity {
			score, ok, err := m.similarity(ctx, ev, kw, rule)
			if err != nil {
				m.logger.Warn("match: similarity failed", "rule_id", rule.ID, "error", err)
				miss.reason = ReasonClassifierFailed
				continue
			}
			if ok {
				return result{matched: true, keyword: kw, aiScore: &score}
			}
			miss.reason = ReasonBelowThreshold
			s := score
			miss.aiScore = &s
			continue
		}
		if matchKeyword(text, kw, rule.MatchMode, rule.CaseSensitive) {
			return result{matched: true, keyword: kw}
		}
	}
	return miss
}

// matchKeyword applies one keyword mode. An invalid regex never matches;
// user-supplied patterns must not take the pipeline down.
func matchKeyword(text, kw string, mode store.MatchMode, caseSensitive bool) bool {
	if !caseSensitive && mode != store.MatchRegex {
		text = strings.ToLower(text)
		kw = strings.ToLower(kw)
	}
	switch mode {
	case store.MatchExact:
		return text == kw
	case store.MatchStartsWith:
		return strings.HasPrefix(text, kw)
	case store.MatchRegex:
		pat := kw
		if !caseSensitive {
			pat = "(?i)" + pat
		}
		re, err := regexp.Compile(pat)
		if err != nil {
			return false
		}
		return re.MatchString(text)
	default: // contains
		return strings.Contains(text, kw)
	}
}

func (m *Matcher) evalSemantic(ctx context.Context, rule *store.Rule, ev *evaluation) result {
	if len(rule.Keywords) == 0 || rule.Keywords[0] == "" {
		return result{reason: ReasonNoKeyword}
	}
	score, ok, err := m.similarity(ctx, ev, rule.Keywords[0], rule)
	if err != nil {
		m.logger.Warn("match: similarity failed", "rule_id", rule.ID, "error", err)
		return result{reason: ReasonClassifierFailed}
	}
	if !ok {
		return result{reason: ReasonBelowThreshold, aiScore: &score}
	}
	return result{matched: true, keyword: rule.Keywords[0], aiScore: &score}
}

// similarity embeds the comment and the phrase and compares against the
// rule's threshold.
func (m *Matcher) similarity(ctx context.Context, ev *evaluation, phrase string, rule *store.Rule) (float64, bool, error) {
	vec, err := ev.embedding(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("embed comment: %w", err)
	}
	pvec, err := m.classifier.Embed(ctx, phrase)
	if err != nil {
		return 0, false, fmt.Errorf("embed phrase: %w", err)
	}
	threshold := rule.AISimilarityThreshold
	if threshold <= 0 {
		threshold = 0.7
	}
	score := classify.CosineSimilarity(vec, pvec)
	return score, score >= threshold, nil
}

func (m *Matcher) evalSentiment(ctx context.Context, rule *store.Rule, ev *evaluation) result {
	if len(rule.Keywords) == 0 {
		return result{reason: ReasonNoKeyword}
	}
	target := strings.ToLower(rule.Keywords[0])
	s, err := ev.sentiment(ctx)
	if err != nil {
		m.logger.Warn("match: sentiment failed", "rule_id", rule.ID, "error", err)
		return result{reason: ReasonClassifierFailed}
	}
	score := s.Score
	if s.Label != target {
		return result{reason: ReasonSentimentMismatch, sentimentLabel: s.Label, sentimentScore: &score}
	}
	return result{matched: true, sentimentLabel: s.Label, sentimentScore: &score}
}

func (m *Matcher) evalQuestion(ctx context.Context, rule *store.Rule, ev *evaluation) result {
	isQ, err := m.classifier.IsQuestion(ctx, ev.comment.Text)
	if err != nil {
		m.logger.Warn("match: question detection failed", "rule_id", rule.ID, "error", err)
		return result{reason: ReasonClassifierFailed}
	}
	if !isQ {
		return result{reason: ReasonNotQuestion}
	}
	return result{matched: true}
}

func (m *Matcher) evalMention(rule *store.Rule, ev *evaluation) result {
	text := strings.ToLower(ev.comment.Text)
	for _, kw := range rule.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			return result{matched: true, keyword: kw}
		}
	}
	return result{reason: ReasonNoKeyword}
}

// filterReason applies the rule's safety filters and the daily quota, in
// that order. Classifier failures inside a filter lean toward sending.
func (m *Matcher) filterReason(ctx context.Context, rule *store.Rule, ev *evaluation) (string, error) {
	if rule.SkipSpam {
		spam, err := ev.isSpam(ctx)
		if err != nil {
			m.logger.Warn("match: spam check failed, not suppressing", "rule_id", rule.ID, "error", err)
		} else if spam {
			return ReasonSpam, nil
		}
	}
	if rule.SkipNegativeSentiment {
		s, err := ev.sentiment(ctx)
		if err != nil {
			m.logger.Warn("match: sentiment check failed, not suppressing", "rule_id", rule.ID, "error", err)
		} else if s.Label == classify.SentimentNegative {
			return ReasonNegative, nil
		}
	}
	ok, err := m.store.CanSendResponse(ctx, rule.ID, store.DayKey(m.now()), rule.MaxResponsesPerDay)
	if err != nil {
		return "", fmt.Errorf("check daily quota for rule %s: %w", rule.ID, err)
	}
	if !ok {
		return ReasonQuota, nil
	}
	return "", nil
}

// evaluation caches the per-comment classifier calls across rules, so five
// rules with skip filters cost one sentiment call, not five.
type evaluation struct {
	m       *Matcher
	comment *store.Comment

	embedDone bool
	embedVec  []float64
	embedErr  error

	sentDone bool
	sent     classify.Sentiment
	sentErr  error

	spamDone bool
	spam     bool
	spamErr  error
}

func (ev *evaluation) embedding(ctx context.Context) ([]float64, error) {
	if !ev.embedDone {
		ev.embedVec, ev.embedErr = ev.m.classifier.Embed(ctx, ev.comment.Text)
		ev.embedDone = true
	}
	return ev.embedVec, ev.embedErr
}

func (ev *evaluation) sentiment(ctx context.Context) (classify.Sentiment, error) {
	if !ev.sentDone {
		ev.sent, ev.sentErr = ev.m.classifier.AnalyzeSentiment(ctx, ev.comment.Text)
		ev.sentDone = true
	}
	return ev.sent, ev.sentErr
}

func (ev *evaluation) isSpam(ctx context.Context) (bool, error) {
	if !ev.spamDone {
		ev.spam, ev.spamErr = ev.m.classifier.IsSpam(ctx, ev.comment.Text)
		ev.spamDone = true
	}
	return ev.spam, ev.spamErr
}
