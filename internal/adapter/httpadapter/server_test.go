package httpadapter_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/adapter/httpadapter"
	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/observability"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockDetections struct {
	active   []domain.Detection
	lastSync time.Time
	err      error
}

func (m *mockDetections) ActiveDetections(context.Context) ([]domain.Detection, error) {
	return m.active, m.err
}

func (m *mockDetections) Stats(context.Context) (domain.DetectionStats, error) {
	return domain.DetectionStats{
		ByStatus: map[domain.FireStatus]int{domain.FireDetected: 4, domain.FireVerified: 2},
		BySource: map[string]int{"MTG-I1-FCI": 5, "N20-VIIRS": 1},
	}, m.err
}

func (m *mockDetections) LastSync(context.Context) (time.Time, bool, error) {
	return m.lastSync, !m.lastSync.IsZero(), nil
}

type mockAlerts struct {
	alerts      map[uuid.UUID]domain.FireAlert
	feedbackErr error
	readErr     error
	statuses    map[uuid.UUID]domain.AlertStatus
	verdicts    []domain.FeedbackType
	unreadOnly  bool
}

func (m *mockAlerts) ActiveAlerts(context.Context) ([]domain.FireAlert, error) {
	out := make([]domain.FireAlert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, a)
	}
	return out, nil
}

func (m *mockAlerts) Get(_ context.Context, id uuid.UUID) (domain.FireAlert, error) {
	a, ok := m.alerts[id]
	if !ok {
		return domain.FireAlert{}, domain.ErrNotFound
	}
	return a, nil
}

func (m *mockAlerts) SubmitFeedback(_ context.Context, alertID, _ uuid.UUID, verdict domain.FeedbackType) (domain.FireAlert, error) {
	if m.feedbackErr != nil {
		return domain.FireAlert{}, m.feedbackErr
	}
	m.verdicts = append(m.verdicts, verdict)
	a := m.alerts[alertID]
	a.PositiveFeedbackCount++
	return a, nil
}

func (m *mockAlerts) UpdateStatus(_ context.Context, id uuid.UUID, status domain.AlertStatus) error {
	if _, ok := m.alerts[id]; !ok {
		return domain.ErrNotFound
	}
	if m.statuses == nil {
		m.statuses = map[uuid.UUID]domain.AlertStatus{}
	}
	m.statuses[id] = status
	return nil
}

func (m *mockAlerts) MarkRead(context.Context, uuid.UUID, uuid.UUID) error { return m.readErr }

func (m *mockAlerts) UserAlerts(_ context.Context, userID uuid.UUID, onlyUnread bool) ([]domain.UserAlert, error) {
	m.unreadOnly = onlyUnread
	return []domain.UserAlert{{ID: uuid.New(), UserID: userID, Message: "Fire detected 4.2 km from you"}}, nil
}

type mockLocations struct {
	err error
}

func (m *mockLocations) UpdateLocation(_ context.Context, userID uuid.UUID, lat, lon float64) (domain.UserLocation, error) {
	if m.err != nil {
		return domain.UserLocation{}, m.err
	}
	return domain.UserLocation{UserID: userID, Location: domain.Point{Lat: lat, Lon: lon}, Active: true}, nil
}

type fixture struct {
	srv        *httpadapter.Server
	detections *mockDetections
	alerts     *mockAlerts
	locations  *mockLocations
	metrics    *observability.Metrics
	alertID    uuid.UUID
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(readyErr error) *fixture {
	alertID := uuid.New()
	f := &fixture{
		detections: &mockDetections{},
		alerts: &mockAlerts{alerts: map[uuid.UUID]domain.FireAlert{
			alertID: {ID: alertID, Title: "High fire risk near Manavgat, Antalya", Severity: domain.SeverityHigh, Status: domain.AlertActive},
		}},
		locations: &mockLocations{},
		metrics:   observability.NewMetricsForTesting(),
		alertID:   alertID,
	}
	api := httpadapter.NewAPI(f.detections, f.alerts, f.locations, discardLogger())
	push := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	f.srv = httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, api, push, discardLogger(), f.metrics)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthzReturns200(t *testing.T) {
	rec := newFixture(nil).do(http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := newFixture(nil).do(http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode(t, rec)["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := newFixture(fmt.Errorf("postgres: connection refused")).do(http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "postgres: connection refused", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := newFixture(nil).do(http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestPushRoute(t *testing.T) {
	rec := newFixture(nil).do(http.MethodGet, "/ws?user_id="+uuid.NewString(), "")
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestSourceRoute(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodGet, "/api/v1/source?lat=48.85&lon=2.35", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 15, decode(t, rec)["latency_minutes"])

	rec = f.do(http.MethodGet, "/api/v1/source?lat=95&lon=2.35", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/source?lat=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActiveDetections(t *testing.T) {
	f := newFixture(nil)
	f.detections.active = []domain.Detection{{ID: uuid.New(), Confidence: 85}}

	rec := f.do(http.MethodGet, "/api/v1/detections/active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])
}

func TestActiveDetections_StoreFailure(t *testing.T) {
	f := newFixture(nil)
	f.detections.err = fmt.Errorf("query active detections: connection reset")

	rec := f.do(http.MethodGet, "/api/v1/detections/active", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode(t, rec)["error"])
}

func TestDetectionStats(t *testing.T) {
	f := newFixture(nil)
	f.detections.lastSync = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

	rec := f.do(http.MethodGet, "/api/v1/detections/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, map[string]any{"Detected": 4.0, "Verified": 2.0}, body["by_status"])
	assert.Equal(t, map[string]any{"MTG-I1-FCI": 5.0, "N20-VIIRS": 1.0}, body["by_source"])
	assert.Equal(t, "2025-08-01T12:00:00Z", body["last_sync"])
}

func TestActiveAlertsAndGet(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodGet, "/api/v1/alerts/active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = f.do(http.MethodGet, "/api/v1/alerts/"+f.alertID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "High", decode(t, rec)["severity"])

	rec = f.do(http.MethodGet, "/api/v1/alerts/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/alerts/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedback(t *testing.T) {
	f := newFixture(nil)
	path := "/api/v1/alerts/" + f.alertID.String() + "/feedback"

	rec := f.do(http.MethodPost, path, `{"user_id":"`+uuid.NewString()+`","verdict":"confirmed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []domain.FeedbackType{domain.FeedbackConfirmed}, f.alerts.verdicts)
	assert.EqualValues(t, 1, decode(t, rec)["positive_feedback_count"])

	rec = f.do(http.MethodPost, path, `{"user_id":"`+uuid.NewString()+`","verdict":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, path, `{"verdict":"denied"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.alerts.feedbackErr = domain.ErrFeedbackNotAllowed
	rec = f.do(http.MethodPost, path, `{"user_id":"`+uuid.NewString()+`","verdict":"denied"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodPut, "/api/v1/alerts/"+f.alertID.String()+"/status", `{"status":"resolved"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, domain.AlertResolved, f.alerts.statuses[f.alertID])

	rec = f.do(http.MethodPut, "/api/v1/alerts/"+f.alertID.String()+"/status", `{"status":"burning"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkRead(t *testing.T) {
	f := newFixture(nil)
	path := "/api/v1/user-alerts/" + uuid.NewString() + "/read"

	rec := f.do(http.MethodPost, path, `{"user_id":"`+uuid.NewString()+`"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	f.alerts.readErr = domain.ErrNotFound
	rec = f.do(http.MethodPost, path, `{"user_id":"`+uuid.NewString()+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserAlerts(t *testing.T) {
	f := newFixture(nil)
	user := uuid.NewString()

	rec := f.do(http.MethodGet, "/api/v1/users/"+user+"/alerts?unread=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.alerts.unreadOnly)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, user, body[0]["user_id"])

	rec = f.do(http.MethodGet, "/api/v1/users/not-a-uuid/alerts", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateLocation(t *testing.T) {
	f := newFixture(nil)
	path := "/api/v1/users/" + uuid.NewString() + "/location"

	rec := f.do(http.MethodPut, path, `{"latitude":36.88,"longitude":30.7}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["active"])

	rec = f.do(http.MethodPut, path, `{"latitude":36.88,"longitude":30.7,"altitude":12}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.locations.err = fmt.Errorf("update location: %w", domain.ErrOutsideBoundary)
	rec = f.do(http.MethodPut, path, `{"latitude":48.85,"longitude":2.35}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	f.locations.err = domain.ErrInvalidCoordinates
	rec = f.do(http.MethodPut, path, `{"latitude":91,"longitude":2.35}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestsCountedByRoutePattern(t *testing.T) {
	f := newFixture(nil)
	f.do(http.MethodGet, "/api/v1/alerts/"+f.alertID.String(), "")
	f.do(http.MethodGet, "/api/v1/alerts/"+uuid.NewString(), "")
	f.do(http.MethodGet, "/healthz", "")

	route := "GET /api/v1/alerts/{id}"
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues(route, "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues(route, "404")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(f.metrics.HTTPRequestDuration))
	// Probes are not instrumented.
	assert.Equal(t, 2, testutil.CollectAndCount(f.metrics.HTTPRequests))
}

func TestUnknownRouteCountedAsUnmatched(t *testing.T) {
	f := newFixture(nil)
	rec := f.do(http.MethodGet, "/api/v1/nope", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues("unmatched", "404")), 0)
}
