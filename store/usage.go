package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/replyhive/replyhive/dbopen"
)

// DayKey truncates t to its UTC calendar day.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// CanSendResponse reports whether a rule is under its daily quota: true if
// no usage row exists for (ruleID, day) or its count is below maxPerDay.
func (s *Store) CanSendResponse(ctx context.Context, ruleID string, day string, maxPerDay int) (bool, error) {
	if maxPerDay <= 0 {
		return true, nil
	}
	n, err := s.UsageCount(ctx, ruleID, day)
	if err != nil {
		return false, err
	}
	return n < maxPerDay, nil
}

// IncrementDailyUsage bumps the response count for (ruleID, day) by one.
// The upsert increments in SQL, not read-then-write, so concurrent
// responders for the same rule never lose updates.
func (s *Store) IncrementDailyUsage(ctx context.Context, ruleID, userID string, day string) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO daily_usage (rule_id, day, user_id, responses, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(rule_id, day) DO UPDATE SET
			responses = responses + 1,
			updated_at = excluded.updated_at`,
		ruleID, day, userID, time.Now().UnixMilli())
	return err
}

// UsageCount returns the response count for (ruleID, day); zero if absent.
func (s *Store) UsageCount(ctx context.Context, ruleID string, day string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT responses FROM daily_usage WHERE rule_id = ? AND day = ?`,
		ruleID, day).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// UsageForUser returns all usage rows for a user on one day.
func (s *Store) UsageForUser(ctx context.Context, userID string, day string) ([]*DailyUsage, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT rule_id, day, user_id, responses FROM daily_usage
		WHERE user_id = ? AND day = ? ORDER BY rule_id`, userID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DailyUsage
	for rows.Next() {
		var u DailyUsage
		if err := rows.Scan(&u.RuleID, &u.Day, &u.UserID, &u.Responses); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}
