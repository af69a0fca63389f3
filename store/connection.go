package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const connectionCols = `id, user_id, platform, access_token_sealed, refresh_token_sealed,
	expires_at, active, created_at, updated_at`

// ActiveConnection returns the active connection for (userID, platform),
// or nil if the user has none.
func (s *Store) ActiveConnection(ctx context.Context, userID string, platform Platform) (*Connection, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+connectionCols+` FROM platform_connections
		WHERE user_id = ? AND platform = ? AND active = 1 LIMIT 1`,
		userID, platform)
	return scanConnection(row)
}

// InsertConnection adds a connection. The OAuth layer owns connection
// writes in production; the pipeline uses this for seeding and tests.
func (s *Store) InsertConnection(ctx context.Context, c *Connection) error {
	now := time.Now().UnixMilli()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	if c.UpdatedAt == 0 {
		c.UpdatedAt = now
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO platform_connections (`+connectionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Platform, c.AccessTokenSealed, c.RefreshTokenSealed,
		c.ExpiresAt, c.Active, c.CreatedAt, c.UpdatedAt)
	return err
}

// DeactivateConnection flips the active flag off.
func (s *Store) DeactivateConnection(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE platform_connections SET active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	return err
}

func scanConnection(row *sql.Row) (*Connection, error) {
	var c Connection
	var active int
	err := row.Scan(&c.ID, &c.UserID, &c.Platform, &c.AccessTokenSealed,
		&c.RefreshTokenSealed, &c.ExpiresAt, &active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	c.Active = active != 0
	return &c, nil
}
