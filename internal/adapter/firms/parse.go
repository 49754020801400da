package firms

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
)

// Column positions in the FIRMS area CSV.
const (
	colLatitude   = 0
	colLongitude  = 1
	colBrightness = 2
	colAcqDate    = 5
	colAcqTime    = 6
	colSatellite  = 7
	colInstrument = 8
	colConfidence = 9
	colFRP        = 12
	minColumns    = 14
)

// ParseStats summarizes one CSV parse.
type ParseStats struct {
	Rows    int
	Kept    int
	Dropped int
}

// ParseCSV converts a FIRMS area CSV into detections. Rows that cannot be
// parsed are dropped and logged; only a missing or foreign header fails the
// whole response.
func ParseCSV(r io.Reader, logger *slog.Logger) ([]domain.Detection, ParseStats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	var stats ParseStats
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, stats, nil
	}
	if err != nil {
		return nil, stats, fmt.Errorf("read firms header: %w", err)
	}
	if len(header) == 0 || !strings.EqualFold(strings.TrimSpace(header[0]), "latitude") {
		// FIRMS reports bad keys and quota errors as plain text with status 200.
		return nil, stats, fmt.Errorf("unexpected firms response: %q", strings.Join(header, ","))
	}

	var out []domain.Detection
	now := domain.Now()
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		stats.Rows++
		if err != nil {
			stats.Dropped++
			logger.Warn("skipping unreadable firms row", "row", stats.Rows, "error", err)
			continue
		}
		d, err := parseRecord(rec, now)
		if err != nil {
			stats.Dropped++
			logger.Warn("skipping malformed firms row", "row", stats.Rows, "error", err)
			continue
		}
		stats.Kept++
		out = append(out, d)
	}
	return out, stats, nil
}

func parseRecord(rec []string, now time.Time) (domain.Detection, error) {
	if len(rec) < minColumns {
		return domain.Detection{}, fmt.Errorf("expected at least %d columns, got %d", minColumns, len(rec))
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(rec[colLatitude]), 64)
	if err != nil {
		return domain.Detection{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(rec[colLongitude]), 64)
	if err != nil {
		return domain.Detection{}, fmt.Errorf("longitude: %w", err)
	}
	if !domain.ValidCoordinates(lat, lon) {
		return domain.Detection{}, fmt.Errorf("%w: %v,%v", domain.ErrInvalidCoordinates, lat, lon)
	}

	detectedAt, err := parseAcquisition(rec[colAcqDate], rec[colAcqTime])
	if err != nil {
		return domain.Detection{}, err
	}

	confidence, err := ParseConfidence(rec[colConfidence])
	if err != nil {
		return domain.Detection{}, err
	}

	source := strings.TrimSpace(rec[colSatellite]) + "-" + strings.TrimSpace(rec[colInstrument])
	status := domain.FireDetected
	if confidence > 40 {
		status = domain.FireVerified
	}

	return domain.Detection{
		ID:             domain.DetectionID(source, lat, lon, detectedAt),
		Location:       domain.Point{Lat: lat, Lon: lon},
		DetectedAt:     detectedAt,
		Confidence:     confidence,
		Brightness:     optionalPositive(rec[colBrightness]),
		RadiativePower: optionalPositive(rec[colFRP]),
		SourceName:     source,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ParseConfidence maps a FIRMS confidence value to 0-100. VIIRS reports a
// class letter, MODIS a percentage.
func ParseConfidence(raw string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "l", "low":
		return 30, nil
	case "n", "nominal":
		return 50, nil
	case "h", "high":
		return 80, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("confidence %q: %w", raw, err)
	}
	return domain.ClampScore(v), nil
}

// parseAcquisition combines acq_date (2006-01-02) and acq_time (HHMM, which
// FIRMS does not always zero-pad) into a UTC time.
func parseAcquisition(date, hhmm string) (time.Time, error) {
	hhmm = strings.TrimSpace(hhmm)
	if len(hhmm) < 4 {
		hhmm = strings.Repeat("0", 4-len(hhmm)) + hhmm
	}
	t, err := time.ParseInLocation("2006-01-02 1504", strings.TrimSpace(date)+" "+hhmm, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("acquisition time: %w", err)
	}
	return t, nil
}

func optionalPositive(raw string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil
	}
	return domain.PositiveOrNil(v)
}
