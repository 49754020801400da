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

// UsersWithinRadius returns active, location-tracked users whose effective
// location (current, else home) is within radiusKm of the point, nearest first.
func (s *Store) UsersWithinRadius(ctx context.Context, lat, lon, radiusKm float64) ([]domain.UserLocation, error) {
	const q = `SELECT id, role,
		       ST_Y(effective_location::geometry), ST_X(effective_location::geometry),
		       last_location_update,
		       ST_Distance(effective_location, ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography) / 1000 AS distance_km
		FROM users
		WHERE is_active AND location_tracking_enabled
		  AND effective_location IS NOT NULL
		  AND ST_DWithin(effective_location, ST_SetSRID(ST_MakePoint($2, $1), 4326)::geography, $3)
		ORDER BY distance_km ASC`

	rows, err := s.db.QueryContext(ctx, q, lat, lon, radiusKm*1000)
	if err != nil {
		return nil, fmt.Errorf("query users in radius: %w", err)
	}
	defer rows.Close()

	var out []domain.UserLocation
	for rows.Next() {
		var (
			u       domain.UserLocation
			role    string
			updated sql.NullTime
		)
		if err := rows.Scan(&u.UserID, &role, &u.Location.Lat, &u.Location.Lon, &updated, &u.DistanceKm); err != nil {
			return nil, fmt.Errorf("scan user location: %w", err)
		}
		u.Role = domain.UserRole(role)
		u.Active = true
		if updated.Valid {
			u.LastUpdated = updated.Time.UTC()
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateUserLocation records a user's current position.
func (s *Store) UpdateUserLocation(ctx context.Context, userID uuid.UUID, lat, lon float64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET current_latitude = $2, current_longitude = $3, last_location_update = $4 WHERE id = $1`,
		userID, lat, lon, at)
	if err != nil {
		return fmt.Errorf("update user location: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user location: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Contact returns the delivery addresses of a user.
func (s *Store) Contact(ctx context.Context, userID uuid.UUID) (domain.Contact, error) {
	var email, phone sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT email, phone FROM users WHERE id = $1`, userID).Scan(&email, &phone)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Contact{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Contact{}, fmt.Errorf("load contact: %w", err)
	}
	return domain.Contact{UserID: userID, Email: email.String, Phone: phone.String}, nil
}
