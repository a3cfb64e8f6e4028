package database

import (
	"context"
	"database/sql"
)

const profileColumns = `id, user_id, title, platform, handle, feed_url, recipient_id, notifications_enabled, created_at`

// CreateProfile inserts a profile and returns its ID.
func (db *DB) CreateProfile(ctx context.Context, p Profile) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO profiles (user_id, title, platform, handle, feed_url, recipient_id, notifications_enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Title, p.Platform, p.Handle, p.FeedURL, p.RecipientID, boolToInt(p.NotificationsEnabled), formatTime(Now()),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetProfile returns a profile by ID, or nil if it does not exist.
func (db *DB) GetProfile(ctx context.Context, id int64) (*Profile, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles, err := scanProfiles(rows)
	if err != nil || len(profiles) == 0 {
		return nil, err
	}
	return &profiles[0], nil
}

// ListProfiles returns all profiles of a user.
func (db *DB) ListProfiles(ctx context.Context, userID int64) ([]Profile, error) {
	return db.queryProfiles(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = ? ORDER BY id`, userID)
}

// ListAlertableProfiles returns the user's profiles with notifications
// enabled and a recipient set.
func (db *DB) ListAlertableProfiles(ctx context.Context, userID int64) ([]Profile, error) {
	return db.queryProfiles(ctx,
		`SELECT `+profileColumns+` FROM profiles
		WHERE user_id = ? AND notifications_enabled = 1 AND recipient_id IS NOT NULL AND recipient_id != ''
		ORDER BY id`, userID)
}

// SetNotificationsEnabled flips the alerting switch of a profile.
func (db *DB) SetNotificationsEnabled(ctx context.Context, profileID int64, enabled bool) error {
	return db.execOne(ctx, `UPDATE profiles SET notifications_enabled = ? WHERE id = ?`, boolToInt(enabled), profileID)
}

// SetRecipient sets (or clears, with nil) the notification recipient.
func (db *DB) SetRecipient(ctx context.Context, profileID int64, recipientID *string) error {
	return db.execOne(ctx, `UPDATE profiles SET recipient_id = ? WHERE id = ?`, recipientID, profileID)
}

func (db *DB) queryProfiles(ctx context.Context, query string, args ...any) ([]Profile, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProfiles(rows)
}

func scanProfiles(rows *sql.Rows) ([]Profile, error) {
	var profiles []Profile
	for rows.Next() {
		var p Profile
		var enabled int
		var created string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Title, &p.Platform, &p.Handle,
			&p.FeedURL, &p.RecipientID, &enabled, &created); err != nil {
			return nil, err
		}
		p.NotificationsEnabled = enabled != 0
		p.CreatedAt = parseTime(created)
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// execOne runs an update that must touch exactly one row.
func (db *DB) execOne(ctx context.Context, query string, args ...any) error {
	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
