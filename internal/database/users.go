package database

import (
	"context"
	"database/sql"
)

// CreateUser inserts a user and returns its ID.
func (db *DB) CreateUser(ctx context.Context, email string) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (email, created_at) VALUES (?, ?)`,
		email, formatTime(Now()),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetUser returns a user by ID, or nil if it does not exist.
func (db *DB) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	var created string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, email, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(created)
	return &u, nil
}

// ListUsers returns all users ordered by ID.
func (db *DB) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, email, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var created string
		if err := rows.Scan(&u.ID, &u.Email, &created); err != nil {
			return nil, err
		}
		u.CreatedAt = parseTime(created)
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListUsersWithAlertableProfiles returns the IDs of users that own at least
// one profile eligible for alerting.
func (db *DB) ListUsersWithAlertableProfiles(ctx context.Context) ([]int64, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM profiles
		WHERE notifications_enabled = 1 AND recipient_id IS NOT NULL AND recipient_id != ''
		ORDER BY user_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
