package database

import (
	"context"
)

// InsertDelivery appends a delivery-history row.
func (db *DB) InsertDelivery(ctx context.Context, d Delivery) error {
	created := d.CreatedAt
	if created.IsZero() {
		created = Now()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO deliveries (id, post_id, run_id, recipient_id, channel, message, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.PostID, d.RunID, d.RecipientID, d.Channel, d.Message, d.Status, d.Error, formatTime(created),
	)
	return err
}

// ListDeliveries returns the user's most recent delivery attempts.
func (db *DB) ListDeliveries(ctx context.Context, userID int64, limit int) ([]Delivery, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT d.id, d.post_id, d.run_id, d.recipient_id, d.channel, d.message, d.status, d.error, d.created_at
		FROM deliveries d
		JOIN posts p ON p.id = d.post_id
		JOIN profiles pr ON pr.id = p.profile_id
		WHERE pr.user_id = ?
		ORDER BY d.created_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		var created string
		if err := rows.Scan(&d.ID, &d.PostID, &d.RunID, &d.RecipientID, &d.Channel,
			&d.Message, &d.Status, &d.Error, &created); err != nil {
			return nil, err
		}
		d.CreatedAt = parseTime(created)
		out = append(out, d)
	}
	return out, rows.Err()
}
