package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"fleetwise/internal/domain/fleet"
	"fleetwise/internal/domain/user"
	"fleetwise/internal/general/contracts"
	"fleetwise/internal/general/jwt"
	"fleetwise/internal/general/logger"
	"fleetwise/internal/software/tracking/service"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsCloseAckWindow = 2 * time.Second
	ctrlTimeout      = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocket handles viewer connections with JWT auth. Each authenticated
// connection gets its own map session; the session drives the connection
// through a connBackend.
type WebSocket struct {
	logger     *logger.Logger
	jwtMgr     *jwt.Manager
	tracking   *service.Service
	writeLocks sync.Map
}

// NewWebSocket creates the viewer WebSocket handler.
func NewWebSocket(logger *logger.Logger, jwtMgr *jwt.Manager, tracking *service.Service) *WebSocket {
	return &WebSocket{
		logger:   logger,
		jwtMgr:   jwtMgr,
		tracking: tracking,
	}
}

// ConnectViewer handles WebSocket connections from dashboard viewers with JWT auth.
func (ws *WebSocket) ConnectViewer(w http.ResponseWriter, r *http.Request) {
	// 1) Upgrade HTTP -> WS
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error(r.Context(), "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}
	defer conn.Close()
	defer ws.writeLocks.Delete(conn)

	// 2) Set auth deadline
	conn.SetReadLimit(1 << 20) // 1 MiB
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		ws.logger.Error(r.Context(), "ws_set_deadline_failed", "Failed to set initial read deadline", err, nil)
		ws.sendAuthError(conn, "internal server error")
		return
	}

	// 3) First frame must authenticate
	msgType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			ws.logger.Error(r.Context(), "ws_auth_timeout", "Client disconnected before authentication", err, nil)
		} else {
			ws.logger.Error(r.Context(), "ws_auth_read_failed", "Failed to read auth message", err, nil)
		}
		ws.sendAuthError(conn, "authentication timeout: please send auth message within 5 seconds")
		return
	}

	if msgType != websocket.TextMessage {
		ws.logger.Error(r.Context(), "ws_auth_invalid_format", "Auth message must be text format", nil, nil)
		ws.sendAuthError(conn, "auth message must be in text format")
		return
	}

	res, err := jwt.ValidateWSAuth(firstFrame, ws.jwtMgr, user.RoleViewer, user.RoleAdmin)
	if err != nil {
		ws.logger.Error(r.Context(), "ws_auth_failed", "Invalid auth message or token", err, nil)
		ws.sendAuthError(conn, "authentication failed: invalid token")
		return
	}
	viewerID := res.Claims.Subject

	// 4) Send authentication success message
	if err := ws.sendAuthSuccess(conn, viewerID); err != nil {
		ws.logger.Error(r.Context(), "ws_auth_success_failed", "Failed to send auth success message", err, nil)
		return
	}

	ws.logger.Info(r.Context(), "ws_connected", "Viewer WebSocket connected",
		map[string]any{"viewer_id": viewerID})

	// 5) Reset read deadline after auth
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(_ string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	// 6) Ping loop using the per-connection writer lock
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			mu := ws.lockOf(conn)
			mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(ctrlTimeout))
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctrlTimeout))
			mu.Unlock()
			if err != nil {
				// Close socket to unblock reader; goroutine exits.
				_ = conn.Close()
				ws.logger.Error(r.Context(), "ws_ping_failed", "Failed to send ping", err, nil)
				return
			}
		}
	}()

	// 7) Open the map session; tear it down when the socket goes away
	backend := &connBackend{ws: ws, conn: conn}
	sess := ws.tracking.Connect(r.Context(), viewerID, backend)
	defer sess.Dispose()

	// 8) Read loop: route viewer events into the session
	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				ws.logger.Error(r.Context(), "ws_unexpected_close", "Viewer connection closed unexpectedly", err, map[string]any{
					"viewer_id": viewerID,
				})
				ws.wsWriteClose(conn, websocket.CloseInternalServerErr, "internal error")
			} else {
				ws.logger.Info(r.Context(), "ws_connection_closed", "Viewer connection closed normally", map[string]any{
					"viewer_id": viewerID,
				})
				ws.wsWriteClose(conn, websocket.CloseNormalClosure, "bye")
			}
			return
		}

		var msg contracts.WSViewerEvent
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = ws.wsWriteMessage(conn, websocket.TextMessage, []byte(`{"type":"error","error":"bad json"}`))
			continue
		}

		ws.routeViewerEvent(sess, conn, viewerID, msg)
	}
}

func (ws *WebSocket) routeViewerEvent(sess *service.MapSession, conn *websocket.Conn, viewerID string, msg contracts.WSViewerEvent) {
	bad := func(reason string) {
		_ = ws.wsWriteMessage(conn, websocket.TextMessage, []byte(`{"type":"error","error":"`+reason+`"}`))
	}

	switch msg.Type {
	case contracts.WSViewport:
		var v contracts.WSViewportData
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			bad("bad viewport payload")
			return
		}
		sess.ViewportChanged(fleet.Bounds{
			MinLat: v.MinLat,
			MinLng: v.MinLng,
			MaxLat: v.MaxLat,
			MaxLng: v.MaxLng,
		}, v.Zoom)

	case contracts.WSClick:
		var ref contracts.WSMarkerRef
		if err := json.Unmarshal(msg.Data, &ref); err != nil || ref.MarkerKey == "" {
			bad("bad click payload")
			return
		}
		sess.Click(ref.MarkerKey)

	case contracts.WSHover:
		var h struct {
			MarkerKey string `json:"marker_key"`
			Entered   bool   `json:"entered"`
		}
		if err := json.Unmarshal(msg.Data, &h); err != nil || h.MarkerKey == "" {
			bad("bad hover payload")
			return
		}
		sess.Hover(h.MarkerKey, h.Entered)

	case contracts.WSTrailRequest:
		var ref contracts.WSVehicleRef
		if err := json.Unmarshal(msg.Data, &ref); err != nil || ref.VehicleID == "" {
			bad("bad trail request payload")
			return
		}
		sess.RequestTrail(ref.VehicleID)

	case contracts.WSFocusVehicle:
		var ref contracts.WSVehicleRef
		if err := json.Unmarshal(msg.Data, &ref); err != nil || ref.VehicleID == "" {
			bad("bad focus payload")
			return
		}
		sess.FocusVehicle(ref.VehicleID)

	default:
		ws.logger.Debug(context.Background(), "ws_unknown_event", "Ignoring unknown viewer event", map[string]any{
			"viewer_id": viewerID,
			"type":      msg.Type,
		})
	}
}
