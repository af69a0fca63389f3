package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/replyhive/replyhive/dbopen"
)

const logCols = `id, rule_id, user_id, comment_id, comment_text, comment_author,
	video_id, platform, matched_keyword, ai_score, sentiment_label, sentiment_score,
	response_action, response_sent, response_text, response_id, error_message,
	triggered_at, responded_at`

// InsertReplyLog records a match attempt. ErrorMessage carries the
// non-match reason when the rule applied but did not ultimately match.
func (s *Store) InsertReplyLog(ctx context.Context, l *ReplyLog) error {
	if l.TriggeredAt == 0 {
		l.TriggeredAt = time.Now().UnixMilli()
	}
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO auto_reply_logs (`+logCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.RuleID, l.UserID, l.CommentID, l.CommentText, l.CommentAuthor,
		l.VideoID, l.Platform, l.MatchedKeyword, l.AIScore, l.SentimentLabel,
		l.SentimentScore, l.ResponseAction, l.ResponseSent, l.ResponseText,
		l.ResponseID, l.ErrorMessage, l.TriggeredAt, l.RespondedAt)
	return err
}

// GetReplyLog retrieves a log row by ID.
func (s *Store) GetReplyLog(ctx context.Context, id string) (*ReplyLog, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+logCols+` FROM auto_reply_logs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanReplyLog(rows)
}

// FinalizeReplySuccess marks a pending log row as sent. The response_sent
// guard keeps a retried job from overwriting an already-finalized row.
func (s *Store) FinalizeReplySuccess(ctx context.Context, id, responseText, responseID string) error {
	res, err := dbopen.Exec(ctx, s.DB,
		`UPDATE auto_reply_logs
		SET response_sent = 1, response_text = ?, response_id = ?, error_message = '', responded_at = ?
		WHERE id = ? AND response_sent = 0`,
		responseText, responseID, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("reply log %s: no pending row to finalize", id)
	}
	return nil
}

// FinalizeReplyError records a failure on a pending log row, leaving
// response_sent false so operators can see why the comment went unanswered.
func (s *Store) FinalizeReplyError(ctx context.Context, id, errMsg string) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE auto_reply_logs
		SET error_message = ?, responded_at = ?
		WHERE id = ? AND response_sent = 0`,
		errMsg, time.Now().UnixMilli(), id)
	return err
}

// SentCountForComment returns how many responses were actually sent for a
// comment across all rules. Used to verify at-most-one-response semantics.
func (s *Store) SentCountForComment(ctx context.Context, platform Platform, commentID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM auto_reply_logs
		WHERE platform = ? AND comment_id = ? AND response_sent = 1`,
		platform, commentID).Scan(&n)
	return n, err
}

// RecentLogs returns a user's most recent log rows, newest first.
func (s *Store) RecentLogs(ctx context.Context, userID string, limit int) ([]*ReplyLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+logCols+` FROM auto_reply_logs
		WHERE user_id = ? ORDER BY triggered_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*ReplyLog
	for rows.Next() {
		l, err := scanReplyLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func scanReplyLog(rows *sql.Rows) (*ReplyLog, error) {
	var l ReplyLog
	var sent int
	var aiScore, sentScore sql.NullFloat64
	var respondedAt sql.NullInt64
	err := rows.Scan(&l.ID, &l.RuleID, &l.UserID, &l.CommentID, &l.CommentText,
		&l.CommentAuthor, &l.VideoID, &l.Platform, &l.MatchedKeyword, &aiScore,
		&l.SentimentLabel, &sentScore, &l.ResponseAction, &sent, &l.ResponseText,
		&l.ResponseID, &l.ErrorMessage, &l.TriggeredAt, &respondedAt)
	if err != nil {
		return nil, fmt.Errorf("scan reply log: %w", err)
	}
	l.ResponseSent = sent != 0
	if aiScore.Valid {
		l.AIScore = &aiScore.Float64
	}
	if sentScore.Valid {
		l.SentimentScore = &sentScore.Float64
	}
	if respondedAt.Valid {
		l.RespondedAt = &respondedAt.Int64
	}
	return &l, nil
}
