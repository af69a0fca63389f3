package store

import (
	"context"
	"time"
)

// DueUserIDs returns users with at least one active rule whose last poll
// enqueue is older than interval. Users never polled are always due, so a
// freshly activated rule enrolls its user on the next scheduler pass.
func (s *Store) DueUserIDs(ctx context.Context, interval time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-interval).UnixMilli()
	rows, err := s.DB.QueryContext(ctx,
		`SELECT DISTINCT r.user_id FROM auto_reply_rules r
		LEFT JOIN poll_state p ON p.user_id = r.user_id
		WHERE r.active = 1 AND (p.last_polled_at IS NULL OR p.last_polled_at <= ?)
		ORDER BY r.user_id`, cutoff)
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

// MarkPollEnqueued records that a poll job was enqueued for the user now.
func (s *Store) MarkPollEnqueued(ctx context.Context, userID string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO poll_state (user_id, last_polled_at) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_polled_at = excluded.last_polled_at`,
		userID, time.Now().UnixMilli())
	return err
}
