package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/replyhive/replyhive/dbopen"
)

// MarkProcessed records a comment as seen. Returns true if this call
// inserted the marker, false if the comment was already processed. The
// INSERT OR IGNORE makes concurrent pollers race safely: exactly one
// caller observes true per (platform, comment).
func (s *Store) MarkProcessed(ctx context.Context, c *Comment, userID string) (bool, error) {
	res, err := dbopen.Exec(ctx, s.DB,
		`INSERT OR IGNORE INTO processed_comments (platform, comment_id, user_id, video_id, processed_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.Platform, c.ID, userID, c.VideoID, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IsProcessed reports whether a comment has already been seen.
func (s *Store) IsProcessed(ctx context.Context, platform Platform, commentID string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx,
		`SELECT 1 FROM processed_comments WHERE platform = ? AND comment_id = ?`,
		platform, commentID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PurgeProcessedBefore deletes dedup markers older than cutoff. The table
// grows without bound otherwise; comments older than the retention window
// no longer appear in platform fetches anyway.
func (s *Store) PurgeProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM processed_comments WHERE processed_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
