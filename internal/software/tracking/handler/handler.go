package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"fleetwise/internal/domain/user"
	"fleetwise/internal/general/jwt"
	"fleetwise/internal/general/logger"
	"fleetwise/internal/general/websocket"
	"fleetwise/internal/software/tracking/service"
)

// TrackingHTTPHandler adapts HTTP requests to the tracking service.
type TrackingHTTPHandler struct {
	svc       *service.Service
	logger    *logger.Logger
	auth      *jwt.Manager
	websocket *websocket.WebSocket
}

// NewTrackingHTTPHandler wires an HTTP handler around the tracking service.
func NewTrackingHTTPHandler(
	svc *service.Service,
	logger *logger.Logger,
	auth *jwt.Manager,
	ws *websocket.WebSocket,
) *TrackingHTTPHandler {
	return &TrackingHTTPHandler{svc: svc, logger: logger, auth: auth, websocket: ws}
}

// RegisterRoutes mounts tracking endpoints on the provided mux.
func (handler *TrackingHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /vehicles",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleViewer, user.RoleAdmin)(handler.handleListVehicles),
	)

	// WebSocket handles its own first-frame authentication
	mux.HandleFunc("GET /ws/map", handler.websocket.ConnectViewer)

	mux.HandleFunc("GET /tracking/health", handler.handleHealth)
	mux.HandleFunc("POST /tokens", handler.handleCreateToken)
}

// --- GET /vehicles ---

func (handler *TrackingHTTPHandler) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withCorrID(r.Context(), r)

	vehicles := handler.svc.VehicleList()

	type vehicleRow struct {
		VehicleID  string    `json:"vehicle_id"`
		Plate      string    `json:"plate,omitempty"`
		DriverName string    `json:"driver_name,omitempty"`
		Status     string    `json:"status"`
		Lat        float64   `json:"lat"`
		Lng        float64   `json:"lng"`
		SpeedKmh   float64   `json:"speed_kmh"`
		RecordedAt time.Time `json:"recorded_at"`
	}

	rows := make([]vehicleRow, 0, len(vehicles))
	for _, v := range vehicles {
		rows = append(rows, vehicleRow{
			VehicleID:  v.ID,
			Plate:      v.Plate,
			DriverName: v.DriverName,
			Status:     v.Status.String(),
			Lat:        v.Lat,
			Lng:        v.Lng,
			SpeedKmh:   v.SpeedKmh,
			RecordedAt: v.RecordedAt,
		})
	}

	handler.jsonResponse(ctx, w, http.StatusOK, map[string]any{"vehicles": rows})
}

// --- GET /tracking/health ---

func (handler *TrackingHTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withCorrID(r.Context(), r)
	handler.jsonResponse(ctx, w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- POST /tokens ---

type TokenRequest struct {
	UserID string    `json:"user_id"`
	Role   user.Role `json:"role"`
}

// TokenResponse represents the response for token generation
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Role      user.Role `json:"role"`
}

func (handler *TrackingHTTPHandler) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withCorrID(r.Context(), r)

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if strings.TrimSpace(req.UserID) == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	if req.Role == "" {
		req.Role = user.RoleViewer
	}

	tokenString, claims, err := handler.auth.IssueUserToken(req.UserID, req.Role)
	if err != nil {
		handler.httpError(ctx, w, http.StatusInternalServerError, "Failed to generate token", err)
		return
	}

	response := TokenResponse{
		Token:     tokenString,
		ExpiresAt: claims.ExpiresAt.Time,
		UserID:    req.UserID,
		Role:      req.Role,
	}

	handler.logger.Info(ctx, "token_generated", "JWT token generated successfully",
		map[string]any{"user_id": req.UserID, "role": req.Role.String()})

	handler.jsonResponse(ctx, w, http.StatusCreated, response)
}

// ----- general helpers -----

func (handler *TrackingHTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
	// encode to buffer first so we can control status on failure
	var buf []byte
	var err error

	if data != nil {
		buf, err = json.Marshal(data)
		if err != nil {
			handler.logger.Error(ctx, "response_encode_failed", "Failed to encode response", err, nil)
			http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
			return
		}
	} else {
		buf = []byte("{}")
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

// httpError sends a JSON error response with a message.
func (handler *TrackingHTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
	action := "request_failed"
	if status >= 500 {
		action = "http_internal_error"
	} else if status == http.StatusBadRequest {
		action = "validation_failed"
	}
	handler.logger.Error(ctx, action, msg, err, nil)

	type errBody struct {
		Error string `json:"error"`
	}
	handler.jsonResponse(ctx, w, status, errBody{Error: msg})
}

// withCorrID attaches a correlation id for this request's log lines.
func (handler *TrackingHTTPHandler) withCorrID(ctx context.Context, r *http.Request) context.Context {
	id := r.Header.Get("X-Request-ID")
	if strings.TrimSpace(id) == "" {
		id = randID()
	}
	return handler.logger.WithSessionID(ctx, id)
}

// randID generates a random 24-char hex string suitable for correlation IDs.
func randID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
