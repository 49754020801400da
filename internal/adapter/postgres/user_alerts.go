package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/google/uuid"
)

const userAlertColumns = `id, fire_alert_id, user_id, user_role, user_latitude, user_longitude,
	distance_km, message, can_provide_feedback, is_delivered, delivered_at, read_at, created_at`

// UserAlertExists reports whether the user already has an alert for the fire alert.
func (s *Store) UserAlertExists(ctx context.Context, userID, fireAlertID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_alerts WHERE user_id = $1 AND fire_alert_id = $2)`,
		userID, fireAlertID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user alert: %w", err)
	}
	return exists, nil
}

// InsertUserAlerts writes the batch in one transaction. Rows that collide on
// (user_id, fire_alert_id) are skipped; the returned slice holds only the rows
// actually inserted.
func (s *Store) InsertUserAlerts(ctx context.Context, alerts []domain.UserAlert) ([]domain.UserAlert, error) {
	if len(alerts) == 0 {
		return nil, nil
	}

	inserted := make([]domain.UserAlert, 0, len(alerts))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO user_alerts (`+userAlertColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (user_id, fire_alert_id) DO NOTHING
			RETURNING id`)
		if err != nil {
			return fmt.Errorf("prepare user alert insert: %w", err)
		}
		defer stmt.Close()

		for _, ua := range alerts {
			var id uuid.UUID
			err := stmt.QueryRowContext(ctx,
				ua.ID, ua.FireAlertID, ua.UserID, string(ua.UserRole), ua.UserLocation.Lat, ua.UserLocation.Lon,
				ua.DistanceKm, ua.Message, ua.CanProvideFeedback, ua.IsDelivered, ua.DeliveredAt, ua.ReadAt, ua.CreatedAt,
			).Scan(&id)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("insert user alert for %s: %w", ua.UserID, err)
			}
			inserted = append(inserted, ua)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// MarkDelivered stamps the first successful delivery of a user alert.
func (s *Store) MarkDelivered(ctx context.Context, userAlertID uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_alerts SET is_delivered = TRUE, delivered_at = COALESCE(delivered_at, $2) WHERE id = $1`,
		userAlertID, at)
	if err != nil {
		return fmt.Errorf("mark user alert delivered: %w", err)
	}
	return nil
}

// MarkRead stamps the read time of a user's alert. It reports false when the
// alert does not belong to the user.
func (s *Store) MarkRead(ctx context.Context, userAlertID, userID uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_alerts SET read_at = COALESCE(read_at, $3) WHERE id = $1 AND user_id = $2`,
		userAlertID, userID, at)
	if err != nil {
		return false, fmt.Errorf("mark user alert read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark user alert read: %w", err)
	}
	return n == 1, nil
}

// ListUserAlerts returns a user's alerts, newest first.
func (s *Store) ListUserAlerts(ctx context.Context, userID uuid.UUID, onlyUnread bool) ([]domain.UserAlert, error) {
	q := `SELECT ` + userAlertColumns + ` FROM user_alerts WHERE user_id = $1`
	if onlyUnread {
		q += ` AND read_at IS NULL`
	}
	q += ` ORDER BY created_at DESC LIMIT 200`

	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query user alerts: %w", err)
	}
	return scanUserAlerts(rows)
}

// UndeliveredUserAlerts returns the alerts of a fire alert that no channel
// has delivered yet, oldest first.
func (s *Store) UndeliveredUserAlerts(ctx context.Context, fireAlertID uuid.UUID) ([]domain.UserAlert, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userAlertColumns+` FROM user_alerts
		WHERE fire_alert_id = $1 AND NOT is_delivered
		ORDER BY created_at`, fireAlertID)
	if err != nil {
		return nil, fmt.Errorf("query undelivered user alerts: %w", err)
	}
	return scanUserAlerts(rows)
}

func scanUserAlerts(rows *sql.Rows) ([]domain.UserAlert, error) {
	defer rows.Close()

	var out []domain.UserAlert
	for rows.Next() {
		var (
			ua              domain.UserAlert
			role            string
			delivered, read sql.NullTime
		)
		if err := rows.Scan(&ua.ID, &ua.FireAlertID, &ua.UserID, &role, &ua.UserLocation.Lat, &ua.UserLocation.Lon,
			&ua.DistanceKm, &ua.Message, &ua.CanProvideFeedback, &ua.IsDelivered, &delivered, &read, &ua.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user alert: %w", err)
		}
		ua.UserRole = domain.UserRole(role)
		ua.DeliveredAt = timePtr(delivered)
		ua.ReadAt = timePtr(read)
		out = append(out, ua)
	}
	return out, rows.Err()
}
