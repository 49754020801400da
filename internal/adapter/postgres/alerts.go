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

const fireAlertColumns = `id, detection_id, title, message, location_label, severity, status,
	center_latitude, center_longitude, max_radius_km, original_confidence,
	positive_feedback_count, negative_feedback_count, created_at, expires_at, resolved_at`

// FindOpenAlert returns the Active or Confirmed alert for a detection, or domain.ErrNotFound.
func (s *Store) FindOpenAlert(ctx context.Context, detectionID uuid.UUID) (domain.FireAlert, error) {
	q := `SELECT ` + fireAlertColumns + ` FROM fire_alerts
		WHERE detection_id = $1 AND status IN ('Active', 'Confirmed')
		LIMIT 1`
	return scanFireAlert(s.db.QueryRowContext(ctx, q, detectionID))
}

// CreateFireAlert inserts a, unless an open alert for the same detection
// already exists, in which case that alert is returned with created=false.
func (s *Store) CreateFireAlert(ctx context.Context, a domain.FireAlert) (domain.FireAlert, bool, error) {
	q := `INSERT INTO fire_alerts (` + fireAlertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (detection_id) WHERE status IN ('Active', 'Confirmed') DO NOTHING`

	res, err := s.db.ExecContext(ctx, q,
		a.ID, a.DetectionID, a.Title, a.Message, a.LocationLabel, int(a.Severity), string(a.Status),
		a.Center.Lat, a.Center.Lon, a.MaxRadiusKm, a.OriginalConfidence,
		a.PositiveFeedbackCount, a.NegativeFeedbackCount, a.CreatedAt, a.ExpiresAt, a.ResolvedAt,
	)
	if err != nil {
		return domain.FireAlert{}, false, fmt.Errorf("insert fire alert: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return a, true, nil
	}

	existing, err := s.FindOpenAlert(ctx, a.DetectionID)
	if err != nil {
		return domain.FireAlert{}, false, fmt.Errorf("load existing fire alert: %w", err)
	}
	return existing, false, nil
}

// GetFireAlert loads one alert by ID.
func (s *Store) GetFireAlert(ctx context.Context, id uuid.UUID) (domain.FireAlert, error) {
	q := `SELECT ` + fireAlertColumns + ` FROM fire_alerts WHERE id = $1`
	return scanFireAlert(s.db.QueryRowContext(ctx, q, id))
}

// ActiveAlerts lists open alerts, most severe and newest first.
func (s *Store) ActiveAlerts(ctx context.Context, limit int) ([]domain.FireAlert, error) {
	q := `SELECT ` + fireAlertColumns + ` FROM fire_alerts
		WHERE status IN ('Active', 'Confirmed')
		ORDER BY severity DESC, created_at DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query active alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.FireAlert
	for rows.Next() {
		a, err := scanFireAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ExpireAlerts marks open alerts whose expiry has passed as Expired.
func (s *Store) ExpireAlerts(ctx context.Context, now time.Time) (int64, error) {
	const q = `UPDATE fire_alerts SET status = 'Expired'
		WHERE expires_at < $1 AND status IN ('Active', 'Confirmed')`

	res, err := s.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("expire alerts: %w", err)
	}
	return res.RowsAffected()
}

// UpdateAlertStatus sets the status of an alert. Moving to Resolved stamps
// resolved_at once. It reports false when the alert does not exist.
func (s *Store) UpdateAlertStatus(ctx context.Context, id uuid.UUID, status domain.AlertStatus, now time.Time) (bool, error) {
	const q = `UPDATE fire_alerts
		SET status = $2,
		    resolved_at = CASE WHEN $2 = 'Resolved' AND resolved_at IS NULL THEN $3 ELSE resolved_at END
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, q, id, string(status), now)
	if err != nil {
		return false, fmt.Errorf("update alert status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update alert status: %w", err)
	}
	return n == 1, nil
}

// RecordFeedback stores one verdict per (alert, user) and re-aggregates the
// alert's counters and status in the same transaction. A repeated verdict is a
// no-op. Users without a feedback-enabled UserAlert get domain.ErrFeedbackNotAllowed.
func (s *Store) RecordFeedback(ctx context.Context, alertID, userID uuid.UUID, verdict domain.FeedbackType, now time.Time) (domain.FireAlert, error) {
	var updated domain.FireAlert
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var allowed bool
		err := tx.QueryRowContext(ctx,
			`SELECT can_provide_feedback FROM user_alerts WHERE fire_alert_id = $1 AND user_id = $2`,
			alertID, userID).Scan(&allowed)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !allowed) {
			return domain.ErrFeedbackNotAllowed
		}
		if err != nil {
			return fmt.Errorf("check feedback permission: %w", err)
		}

		current, err := scanFireAlert(tx.QueryRowContext(ctx,
			`SELECT `+fireAlertColumns+` FROM fire_alerts WHERE id = $1 FOR UPDATE`, alertID))
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alert_feedback (fire_alert_id, user_id, feedback_type, created_at)
			 VALUES ($1, $2, $3, $4) ON CONFLICT (fire_alert_id, user_id) DO NOTHING`,
			alertID, userID, string(verdict), now); err != nil {
			return fmt.Errorf("insert feedback: %w", err)
		}

		var positive, negative int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FILTER (WHERE feedback_type = 'Confirmed'),
			        COUNT(*) FILTER (WHERE feedback_type = 'Denied')
			 FROM alert_feedback WHERE fire_alert_id = $1`, alertID).Scan(&positive, &negative); err != nil {
			return fmt.Errorf("count feedback: %w", err)
		}

		next := domain.StatusAfterFeedback(current.Status, positive, negative)

		if _, err := tx.ExecContext(ctx,
			`UPDATE fire_alerts SET positive_feedback_count = $2, negative_feedback_count = $3, status = $4 WHERE id = $1`,
			alertID, positive, negative, string(next)); err != nil {
			return fmt.Errorf("update feedback counters: %w", err)
		}

		current.PositiveFeedbackCount = positive
		current.NegativeFeedbackCount = negative
		current.Status = next
		updated = current
		return nil
	})
	return updated, err
}

func scanFireAlert(row scanner) (domain.FireAlert, error) {
	var (
		a        domain.FireAlert
		severity int
		status   string
		resolved sql.NullTime
	)
	err := row.Scan(&a.ID, &a.DetectionID, &a.Title, &a.Message, &a.LocationLabel, &severity, &status,
		&a.Center.Lat, &a.Center.Lon, &a.MaxRadiusKm, &a.OriginalConfidence,
		&a.PositiveFeedbackCount, &a.NegativeFeedbackCount, &a.CreatedAt, &a.ExpiresAt, &resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FireAlert{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.FireAlert{}, fmt.Errorf("scan fire alert: %w", err)
	}
	a.Severity = domain.AlertSeverity(severity)
	a.Status = domain.AlertStatus(status)
	a.ResolvedAt = timePtr(resolved)
	a.CreatedAt = a.CreatedAt.UTC()
	a.ExpiresAt = a.ExpiresAt.UTC()
	return a, nil
}
