package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
	"github.com/couchcryptid/fireguard-alerts/internal/router"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/google/uuid"
)

// DetectionQueries serves the detection read side.
type DetectionQueries interface {
	ActiveDetections(ctx context.Context) ([]domain.Detection, error)
	Stats(ctx context.Context) (domain.DetectionStats, error)
	LastSync(ctx context.Context) (time.Time, bool, error)
}

// AlertService serves fire alert reads and user actions on alerts.
type AlertService interface {
	ActiveAlerts(ctx context.Context) ([]domain.FireAlert, error)
	Get(ctx context.Context, id uuid.UUID) (domain.FireAlert, error)
	SubmitFeedback(ctx context.Context, alertID, userID uuid.UUID, verdict domain.FeedbackType) (domain.FireAlert, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AlertStatus) error
	MarkRead(ctx context.Context, userAlertID, userID uuid.UUID) error
	UserAlerts(ctx context.Context, userID uuid.UUID, onlyUnread bool) ([]domain.UserAlert, error)
}

// LocationUpdater records where a user currently is.
type LocationUpdater interface {
	UpdateLocation(ctx context.Context, userID uuid.UUID, lat, lon float64) (domain.UserLocation, error)
}

// API holds the /api/v1 handlers.
type API struct {
	detections DetectionQueries
	alerts     AlertService
	locations  LocationUpdater
	logger     *slog.Logger
}

// NewAPI creates the REST handlers.
func NewAPI(detections DetectionQueries, alerts AlertService, locations LocationUpdater, logger *slog.Logger) *API {
	return &API{detections: detections, alerts: alerts, locations: locations, logger: logger}
}

func (a *API) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/source", a.handleSource)
	mux.HandleFunc("GET /api/v1/detections/active", a.handleActiveDetections)
	mux.HandleFunc("GET /api/v1/detections/stats", a.handleDetectionStats)
	mux.HandleFunc("GET /api/v1/alerts/active", a.handleActiveAlerts)
	mux.HandleFunc("GET /api/v1/alerts/{id}", a.handleGetAlert)
	mux.HandleFunc("POST /api/v1/alerts/{id}/feedback", a.handleFeedback)
	mux.HandleFunc("PUT /api/v1/alerts/{id}/status", a.handleStatus)
	mux.HandleFunc("POST /api/v1/user-alerts/{id}/read", a.handleMarkRead)
	mux.HandleFunc("GET /api/v1/users/{id}/alerts", a.handleUserAlerts)
	mux.HandleFunc("PUT /api/v1/users/{id}/location", a.handleLocation)
}

func (a *API) handleSource(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if errLat != nil || errLon != nil || !domain.ValidCoordinates(lat, lon) {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidCoordinates)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, router.Select(lat, lon))
}

func (a *API) handleActiveDetections(w http.ResponseWriter, r *http.Request) {
	detections, err := a.detections.ActiveDetections(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"detections": detections, "count": len(detections)})
}

type statsResponse struct {
	domain.DetectionStats
	LastSync *time.Time `json:"last_sync,omitempty"`
}

func (a *API) handleDetectionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.detections.Stats(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := statsResponse{DetectionStats: stats}
	if at, ok, err := a.detections.LastSync(r.Context()); err == nil && ok {
		resp.LastSync = &at
	}
	sharedobs.WriteJSON(w, http.StatusOK, resp)
}

func (a *API) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.alerts.ActiveAlerts(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	alert, err := a.alerts.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, alert)
}

type feedbackRequest struct {
	UserID  uuid.UUID `json:"user_id"`
	Verdict string    `json:"verdict"`
}

func (a *API) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	verdict, err := domain.ParseFeedbackType(req.Verdict)
	if err != nil || req.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, errors.New("user_id and verdict (Confirmed, Denied, Uncertain) are required"))
		return
	}
	alert, err := a.alerts.SubmitFeedback(r.Context(), id, req.UserID, verdict)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, alert)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := domain.ParseAlertStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.alerts.UpdateStatus(r.Context(), id, status); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type readRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req readRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.alerts.MarkRead(r.Context(), id, req.UserID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserAlerts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	alerts, err := a.alerts.UserAlerts(r.Context(), id, unread)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, alerts)
}

type locationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (a *API) handleLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req locationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	loc, err := a.locations.UpdateLocation(r.Context(), id, req.Latitude, req.Longitude)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, loc)
}

// fail maps domain errors to status codes. Anything unrecognised is a 500
// and is logged.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInvalidCoordinates):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrOutsideBoundary):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, domain.ErrFeedbackNotAllowed):
		writeError(w, http.StatusForbidden, err)
	default:
		a.logger.Error("api request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
}
