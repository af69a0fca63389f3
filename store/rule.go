package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const ruleCols = `id, user_id, name, trigger_type, keywords, match_mode, case_sensitive,
	ai_similarity_threshold, platforms, video_ids, response_action, response_template,
	custom_link, max_responses_per_day, min_delay_seconds, max_delay_seconds,
	skip_negative_sentiment, skip_spam, active, created_at, updated_at`

// InsertRule adds a rule. The rules API owns rule writes in production;
// the pipeline uses this for seeding and tests.
func (s *Store) InsertRule(ctx context.Context, r *Rule) error {
	now := time.Now().UnixMilli()
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	if r.UpdatedAt == 0 {
		r.UpdatedAt = now
	}
	if r.MatchMode == "" {
		r.MatchMode = MatchContains
	}
	if r.ResponseAction == "" {
		r.ResponseAction = ActionReplyComment
	}
	if r.AISimilarityThreshold == 0 {
		r.AISimilarityThreshold = 0.7
	}
	if r.MaxResponsesPerDay == 0 {
		r.MaxResponsesPerDay = 50
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO auto_reply_rules (`+ruleCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Name, r.TriggerType, encodeList(r.Keywords), r.MatchMode,
		r.CaseSensitive, r.AISimilarityThreshold, encodeList(r.Platforms),
		encodeList(r.VideoIDs), r.ResponseAction, r.ResponseTemplate, r.CustomLink,
		r.MaxResponsesPerDay, r.MinDelaySeconds, r.MaxDelaySeconds,
		r.SkipNegativeSentiment, r.SkipSpam, r.Active, r.CreatedAt, r.UpdatedAt)
	return err
}

// GetRule retrieves a rule by ID.
func (s *Store) GetRule(ctx context.Context, id string) (*Rule, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+ruleCols+` FROM auto_reply_rules WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRule(rows)
}

// SetRuleActive toggles a rule's active flag.
func (s *Store) SetRuleActive(ctx context.Context, id string, active bool) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE auto_reply_rules SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UnixMilli(), id)
	return err
}

// ActiveRules returns the user's active rules ordered by creation time
// ascending, so the oldest rule wins ties during matching. The platform
// filter is applied in Go because platforms is a JSON list column.
func (s *Store) ActiveRules(ctx context.Context, userID string, platform Platform) ([]*Rule, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+ruleCols+` FROM auto_reply_rules
		WHERE user_id = ? AND active = 1
		ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		if platform == "" || r.AppliesTo(platform) {
			rules = append(rules, r)
		}
	}
	return rules, rows.Err()
}

// ActiveRuleUserIDs returns distinct users with at least one active rule.
func (s *Store) ActiveRuleUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM auto_reply_rules WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanRule(rows *sql.Rows) (*Rule, error) {
	var r Rule
	var keywords, platforms, videoIDs string
	var caseSensitive, skipNeg, skipSpam, active int
	err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.TriggerType, &keywords, &r.MatchMode,
		&caseSensitive, &r.AISimilarityThreshold, &platforms, &videoIDs,
		&r.ResponseAction, &r.ResponseTemplate, &r.CustomLink, &r.MaxResponsesPerDay,
		&r.MinDelaySeconds, &r.MaxDelaySeconds, &skipNeg, &skipSpam, &active,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan rule: %w", err)
	}
	r.Keywords = decodeList[string](keywords)
	r.Platforms = decodeList[Platform](platforms)
	r.VideoIDs = decodeList[string](videoIDs)
	r.CaseSensitive = caseSensitive != 0
	r.SkipNegativeSentiment = skipNeg != 0
	r.SkipSpam = skipSpam != 0
	r.Active = active != 0
	return &r, nil
}
