package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const detectionColumns = `id, latitude, longitude, detected_at, confidence, brightness, radiative_power,
	source_name, status, risk_score, created_at, updated_at`

// FindDuplicate reports whether a detection from the same source exists within
// radiusMeters and ±window of d.
func (s *Store) FindDuplicate(ctx context.Context, d domain.Detection, radiusMeters float64, window time.Duration) (bool, error) {
	const q = `SELECT id FROM detections
		WHERE source_name = $1
		  AND detected_at BETWEEN $2 AND $3
		  AND ST_DWithin(location, ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography, $6)
		LIMIT 1`

	var id string
	err := s.db.QueryRowContext(ctx, q,
		d.SourceName,
		d.DetectedAt.Add(-window), d.DetectedAt.Add(window),
		d.Location.Lon, d.Location.Lat,
		radiusMeters,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find duplicate detection: %w", err)
	}
	return true, nil
}

// InsertDetection persists d. It reports false when a row with the same ID already exists.
func (s *Store) InsertDetection(ctx context.Context, d domain.Detection) (bool, error) {
	const q = `INSERT INTO detections (` + detectionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, q,
		d.ID, d.Location.Lat, d.Location.Lon, d.DetectedAt, d.Confidence,
		nullFloat(d.Brightness), nullFloat(d.RadiativePower),
		d.SourceName, string(d.Status), d.RiskScore, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert detection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert detection: %w", err)
	}
	return n == 1, nil
}

// UnannouncedDetections lists detections created since the given time whose
// DetectionCreated event was never acknowledged, oldest first.
func (s *Store) UnannouncedDetections(ctx context.Context, since time.Time, limit int) ([]domain.Detection, error) {
	q := `SELECT ` + detectionColumns + ` FROM detections
		WHERE announced_at IS NULL AND created_at >= $1
		ORDER BY created_at
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, q, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query unannounced detections: %w", err)
	}
	defer rows.Close()

	var out []domain.Detection
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkAnnounced stamps announced_at on the given detections.
func (s *Store) MarkAnnounced(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE detections SET announced_at = $1 WHERE id = ANY($2::uuid[]) AND announced_at IS NULL`,
		at, pq.Array(keys))
	if err != nil {
		return fmt.Errorf("mark detections announced: %w", err)
	}
	return nil
}

// DeleteTerminalBefore removes extinguished and false-positive detections last
// updated before cutoff.
func (s *Store) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM detections WHERE status = ANY($1) AND updated_at < $2`

	res, err := s.db.ExecContext(ctx, q,
		pq.Array([]string{string(domain.FireExtinguished), string(domain.FireFalsePositive)}), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old detections: %w", err)
	}
	return res.RowsAffected()
}

// ActiveDetections lists non-terminal detections observed since the given time, newest first.
func (s *Store) ActiveDetections(ctx context.Context, since time.Time) ([]domain.Detection, error) {
	q := `SELECT ` + detectionColumns + ` FROM detections
		WHERE detected_at >= $1 AND NOT (status = ANY($2))
		ORDER BY detected_at DESC`

	rows, err := s.db.QueryContext(ctx, q, since,
		pq.Array([]string{string(domain.FireExtinguished), string(domain.FireFalsePositive)}))
	if err != nil {
		return nil, fmt.Errorf("query active detections: %w", err)
	}
	defer rows.Close()

	var out []domain.Detection
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DetectionStats counts detections by status and by source.
func (s *Store) DetectionStats(ctx context.Context) (domain.DetectionStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_name, status, COUNT(*) FROM detections GROUP BY source_name, status`)
	if err != nil {
		return domain.DetectionStats{}, fmt.Errorf("query detection stats: %w", err)
	}
	defer rows.Close()

	stats := domain.DetectionStats{
		ByStatus: make(map[domain.FireStatus]int),
		BySource: make(map[string]int),
	}
	for rows.Next() {
		var (
			source, status string
			n              int
		)
		if err := rows.Scan(&source, &status, &n); err != nil {
			return domain.DetectionStats{}, fmt.Errorf("scan detection stats: %w", err)
		}
		stats.ByStatus[domain.FireStatus(status)] += n
		stats.BySource[source] += n
	}
	return stats, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDetection(row scanner) (domain.Detection, error) {
	var (
		d                 domain.Detection
		status            string
		brightness, power sql.NullFloat64
	)
	err := row.Scan(&d.ID, &d.Location.Lat, &d.Location.Lon, &d.DetectedAt, &d.Confidence,
		&brightness, &power, &d.SourceName, &status, &d.RiskScore, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return domain.Detection{}, fmt.Errorf("scan detection: %w", err)
	}
	d.Status = domain.FireStatus(status)
	d.Brightness = floatPtr(brightness)
	d.RadiativePower = floatPtr(power)
	d.DetectedAt = d.DetectedAt.UTC()
	return d, nil
}
