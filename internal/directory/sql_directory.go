package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/offsoc/copr/internal/db"
)

// SQLDirectory stores users in postgres.
type SQLDirectory struct {
	db *db.DB
}

func NewSQLDirectory(db *db.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

func (d *SQLDirectory) Lookup(ctx context.Context, username string) (*User, error) {
	var u User
	err := d.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.timezone, u.created_at, u.updated_at,
		       COALESCE(array_agg(g.group_name ORDER BY g.group_name)
		                FILTER (WHERE g.group_name IS NOT NULL), '{}')
		FROM users u
		LEFT JOIN user_groups g ON g.user_id = u.id
		WHERE u.username = $1
		GROUP BY u.id
	`, username).Scan(
		&u.ID, &u.Username, &u.Email, &u.Timezone, &u.CreatedAt, &u.UpdatedAt,
		pq.Array(&u.Groups),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: lookup %q: %w", username, err)
	}
	return &u, nil
}

func (d *SQLDirectory) Create(ctx context.Context, username, email, timezone string) (*User, error) {
	if username == "" {
		return nil, ErrInvalidUsername
	}

	// A concurrent login may win the insert; the conflict makes this a no-op
	// and the lookup below returns the winner's row.
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO users (username, email, timezone)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO NOTHING
	`, username, email, timezone)
	if err != nil {
		return nil, fmt.Errorf("directory: create %q: %w", username, err)
	}

	u, err := d.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("directory: user %q vanished after create", username)
	}
	return u, nil
}

func (d *SQLDirectory) Update(ctx context.Context, u *User) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE users
		SET email = $2, timezone = $3, updated_at = NOW()
		WHERE username = $1
	`, u.Username, u.Email, u.Timezone)
	if err != nil {
		return fmt.Errorf("directory: update %q: %w", u.Username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("directory: update %q: %w", u.Username, err)
	}
	if n == 0 {
		return fmt.Errorf("directory: user %q not found", u.Username)
	}
	return nil
}

func (d *SQLDirectory) SetGroups(ctx context.Context, username string, groups []string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("directory: set groups %q: %w", username, err)
	}
	defer func() { _ = tx.Rollback() }()

	var userID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE username = $1`, username).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("directory: user %q not found", username)
	}
	if err != nil {
		return fmt.Errorf("directory: set groups %q: %w", username, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_groups WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("directory: set groups %q: %w", username, err)
	}

	normalized := normalizeGroups(groups)
	if len(normalized) > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_groups (user_id, group_name)
			SELECT $1::uuid, unnest($2::text[])
		`, userID, pq.Array(normalized))
		if err != nil {
			return fmt.Errorf("directory: set groups %q: %w", username, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET updated_at = NOW() WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("directory: set groups %q: %w", username, err)
	}
	return tx.Commit()
}
