//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/couchcryptid/fireguard-alerts/internal/adapter/postgres"
	fgredis "github.com/couchcryptid/fireguard-alerts/internal/adapter/redis"
	"github.com/couchcryptid/fireguard-alerts/internal/alerting"
	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/geofence"
	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fire near Manavgat, Antalya.
const (
	fireLat = 36.8
	fireLon = 31.4
)

func insertUser(t *testing.T, db *sql.DB, role domain.UserRole, lat, lon float64, active bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(`INSERT INTO users (id, role, email, phone, is_active, current_latitude, current_longitude, last_location_update)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		id, string(role), id.String()[:8]+"@example.com", "+905551112233", active, lat, lon)
	require.NoError(t, err)
	return id
}

func storeDetection(ctx context.Context, t *testing.T, store *postgres.Store, lat, lon, confidence float64, at time.Time) domain.Detection {
	t.Helper()
	d := domain.Detection{
		ID:         domain.DetectionID("firms:VIIRS_NOAA20_NRT", lat, lon, at),
		Location:   domain.Point{Lat: lat, Lon: lon},
		DetectedAt: at,
		Confidence: confidence,
		SourceName: "firms:VIIRS_NOAA20_NRT",
		Status:     domain.FireDetected,
		RiskScore:  60,
	}
	inserted, err := store.InsertDetection(ctx, d)
	require.NoError(t, err)
	require.True(t, inserted)
	return d
}

func TestMigrationsSeedAlertRules(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	_, store := startPostgres(ctx, t)
	require.NoError(t, store.CheckReadiness(ctx))

	rules, err := store.ActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	roles := map[domain.UserRole]float64{}
	for _, r := range rules {
		roles[r.TargetRole] = r.MaxDistanceKm
	}
	assert.InDelta(t, 15.0, roles[domain.RoleCivilian], 0)
	assert.InDelta(t, 50.0, roles[domain.RoleForestOfficer], 0)
	assert.InDelta(t, 100.0, roles[domain.RoleFireDepartment], 0)
}

func TestDetectionDeduplication(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	_, store := startPostgres(ctx, t)
	at := time.Date(2025, time.August, 1, 11, 30, 0, 0, time.UTC)
	d := storeDetection(ctx, t, store, fireLat, fireLon, 80, at)

	// Same row again is a no-op.
	inserted, err := store.InsertDetection(ctx, d)
	require.NoError(t, err)
	assert.False(t, inserted)

	near := domain.Detection{
		Location:   domain.Point{Lat: fireLat + 0.005, Lon: fireLon}, // ~550 m north
		DetectedAt: at.Add(2 * time.Hour),
		SourceName: d.SourceName,
	}
	dup, err := store.FindDuplicate(ctx, near, 1000, 6*time.Hour)
	require.NoError(t, err)
	assert.True(t, dup, "within 1 km and 6 h")

	later := near
	later.DetectedAt = at.Add(7 * time.Hour)
	dup, err = store.FindDuplicate(ctx, later, 1000, 6*time.Hour)
	require.NoError(t, err)
	assert.False(t, dup, "outside the time window")

	far := near
	far.Location = domain.Point{Lat: fireLat + 0.05, Lon: fireLon} // ~5.5 km
	dup, err = store.FindDuplicate(ctx, far, 1000, 6*time.Hour)
	require.NoError(t, err)
	assert.False(t, dup, "outside the radius")

	otherSource := near
	otherSource.SourceName = "mtg:FRP-PIXEL"
	dup, err = store.FindDuplicate(ctx, otherSource, 1000, 6*time.Hour)
	require.NoError(t, err)
	assert.False(t, dup, "other sources are not duplicates")

	stats, err := store.DetectionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByStatus[domain.FireDetected])
	assert.Equal(t, 1, stats.BySource[d.SourceName])

	pending, err := store.UnannouncedDetections(ctx, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, d.ID, pending[0].ID)

	require.NoError(t, store.MarkAnnounced(ctx, []uuid.UUID{d.ID}, at))
	pending, err = store.UnannouncedDetections(ctx, time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// TestGeofenceFanOut runs a detection event through alerting and geofencing
// against real PostGIS queries and a miniredis cache.
func TestGeofenceFanOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, store := startPostgres(ctx, t)
	mr := miniredis.RunT(t)
	client := fgredis.NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = client.Close() })
	cache := fgredis.NewCache(client, "fireguard-test")

	metrics := observability.NewMetricsForTesting()
	alerts := alerting.NewService(store, cache, nil, discardLogger(), metrics)
	engine := geofence.NewEngine(store, alerts, cache, nil,
		geofence.Options{RadiusKm: 100, MinConfidence: 30}, discardLogger(), metrics)

	civilianNear := insertUser(t, db, domain.RoleCivilian, fireLat+0.045, fireLon, true)   // ~5 km
	officer := insertUser(t, db, domain.RoleForestOfficer, fireLat+0.27, fireLon, true)    // ~30 km
	civilianFar := insertUser(t, db, domain.RoleCivilian, fireLat+0.36, fireLon, true)     // ~40 km, no rule
	inactive := insertUser(t, db, domain.RoleFireDepartment, fireLat+0.01, fireLon, false) // never selected
	outside := insertUser(t, db, domain.RoleFireDepartment, fireLat+1.5, fireLon, true)    // ~167 km

	inRange, err := store.UsersWithinRadius(ctx, fireLat, fireLon, 100)
	require.NoError(t, err)
	ids := make([]uuid.UUID, len(inRange))
	for i, u := range inRange {
		ids[i] = u.UserID
	}
	assert.Equal(t, []uuid.UUID{civilianNear, officer, civilianFar}, ids, "nearest first")
	assert.NotContains(t, ids, inactive)
	assert.NotContains(t, ids, outside)

	at := time.Date(2025, time.August, 1, 11, 30, 0, 0, time.UTC)
	d := storeDetection(ctx, t, store, fireLat, fireLon, 82, at)
	evt := domain.NewDetectionCreated(d)

	batch, err := engine.Handle(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, d.ID, batch.Alert.DetectionID)
	assert.Equal(t, domain.AlertActive, batch.Alert.Status)
	require.Len(t, batch.UserAlerts, 2)

	byUser := map[uuid.UUID]domain.UserAlert{}
	for _, ua := range batch.UserAlerts {
		byUser[ua.UserID] = ua
	}
	require.Contains(t, byUser, civilianNear)
	require.Contains(t, byUser, officer)
	assert.True(t, byUser[civilianNear].CanProvideFeedback)
	assert.False(t, byUser[officer].CanProvideFeedback)
	assert.InDelta(t, 5.0, byUser[civilianNear].DistanceKm, 0.2)
	assert.Contains(t, byUser[civilianNear].Message, "Stay alert.")

	// Redelivery of the same event reuses the alert and creates nothing new.
	again, err := engine.Handle(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, batch.Alert.ID, again.Alert.ID)
	assert.Empty(t, again.UserAlerts)

	inbox, err := alerts.UserAlerts(ctx, civilianNear, true)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.NoError(t, alerts.MarkRead(ctx, inbox[0].ID, civilianNear))
	require.ErrorIs(t, alerts.MarkRead(ctx, inbox[0].ID, officer), domain.ErrNotFound)
	unread, err := alerts.UserAlerts(ctx, civilianNear, true)
	require.NoError(t, err)
	assert.Empty(t, unread)

	// Only users whose rule allows it may vote.
	_, err = alerts.SubmitFeedback(ctx, batch.Alert.ID, officer, domain.FeedbackConfirmed)
	require.ErrorIs(t, err, domain.ErrFeedbackNotAllowed)
	updated, err := alerts.SubmitFeedback(ctx, batch.Alert.ID, civilianNear, domain.FeedbackConfirmed)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.PositiveFeedbackCount)

	active, err := alerts.ActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, batch.Alert.ID, active[0].ID)
}
