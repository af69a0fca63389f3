package store

// Platform identifies a connected social platform.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
)

// AllPlatforms is the fixed platform set the poller iterates.
var AllPlatforms = []Platform{PlatformYouTube, PlatformInstagram, PlatformTikTok}

// TriggerType is the matching strategy a rule uses.
type TriggerType string

const (
	TriggerKeyword   TriggerType = "keyword"
	TriggerSemantic  TriggerType = "semantic"
	TriggerSentiment TriggerType = "sentiment"
	TriggerQuestion  TriggerType = "question"
	TriggerMention   TriggerType = "mention"
)

// MatchMode is the sub-strategy for keyword triggers.
type MatchMode string

const (
	MatchExact        MatchMode = "exact"
	MatchContains     MatchMode = "contains"
	MatchStartsWith   MatchMode = "starts_with"
	MatchRegex        MatchMode = "regex"
	MatchAISimilarity MatchMode = "ai_similarity"
)

// ResponseAction is what the responder does with a matched comment.
type ResponseAction string

const (
	ActionReplyComment ResponseAction = "reply_comment"
	ActionSendLink     ResponseAction = "send_link"
	ActionSendDM       ResponseAction = "send_dm"
	ActionLogOnly      ResponseAction = "log_only"
	ActionWebhook      ResponseAction = "webhook"
)

// Connection is a user's OAuth link to one platform. Tokens are sealed;
// this service only ever reads connections — the OAuth layer owns them.
type Connection struct {
	ID                 string
	UserID             string
	Platform           Platform
	AccessTokenSealed  string
	RefreshTokenSealed string
	ExpiresAt          int64
	Active             bool
	CreatedAt          int64
	UpdatedAt          int64
}

// Rule is a user-defined auto-reply rule.
//
// Keywords semantics depend on TriggerType: the keyword list for keyword
// and mention triggers, a single intent phrase (first entry) for semantic,
// a single target label (first entry) for sentiment.
//
// An empty VideoIDs list means unscoped; the poller skips such rules when
// discovering candidate videos (it needs explicit IDs), while the matcher
// treats them as matching any video.
type Rule struct {
	ID                    string
	UserID                string
	Name                  string
	TriggerType           TriggerType
	Keywords              []string
	MatchMode             MatchMode
	CaseSensitive         bool
	AISimilarityThreshold float64
	Platforms             []Platform
	VideoIDs              []string
	ResponseAction        ResponseAction
	ResponseTemplate      string
	CustomLink            string
	MaxResponsesPerDay    int
	MinDelaySeconds       int
	MaxDelaySeconds       int
	SkipNegativeSentiment bool
	SkipSpam              bool
	Active                bool
	CreatedAt             int64
	UpdatedAt             int64
}

// AppliesTo reports whether the rule's platform set includes p.
func (r *Rule) AppliesTo(p Platform) bool {
	for _, rp := range r.Platforms {
		if rp == p {
			return true
		}
	}
	return false
}

// InVideoScope reports whether videoID passes the rule's VideoIDs scope.
// An empty scope passes everything.
func (r *Rule) InVideoScope(videoID string) bool {
	if len(r.VideoIDs) == 0 {
		return true
	}
	for _, id := range r.VideoIDs {
		if id == videoID {
			return true
		}
	}
	return false
}

// Comment is a platform comment flowing through the pipeline. It is not
// persisted as an entity; processed_comments and auto_reply_logs reference
// it by ID.
type Comment struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	Author      string   `json:"author"`
	AuthorID    string   `json:"author_id"`
	VideoID     string   `json:"video_id"`
	Platform    Platform `json:"platform"`
	PublishedAt int64    `json:"published_at"`
}

// ReplyLog is one row per (rule, comment) match attempt, successful or not.
// Created by the matcher, finalized by the responder.
type ReplyLog struct {
	ID             string
	RuleID         string
	UserID         string
	CommentID      string
	CommentText    string
	CommentAuthor  string
	VideoID        string
	Platform       Platform
	MatchedKeyword string
	AIScore        *float64
	SentimentLabel string
	SentimentScore *float64
	ResponseAction ResponseAction
	ResponseSent   bool
	ResponseText   string
	ResponseID     string
	ErrorMessage   string
	TriggeredAt    int64
	RespondedAt    *int64
}

// DailyUsage is the per-rule response count for one UTC calendar day.
type DailyUsage struct {
	RuleID    string
	UserID    string
	Day       string
	Responses int
}
