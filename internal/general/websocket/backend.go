package websocket

import (
	"fleetwise/internal/domain/fleet"
	"fleetwise/internal/general/contracts"
	"fleetwise/internal/software/tracking/service"

	"github.com/gorilla/websocket"
)

// connBackend adapts one viewer connection to the session Backend interface.
// Every call becomes a single {"type": ..., "data": ...} frame. Writes share
// the per-connection lock with the ping loop, so tween frames and structural
// commands never interleave mid-frame. Write failures are swallowed here; a
// dead socket surfaces in the read loop, which disposes the session.
type connBackend struct {
	ws   *WebSocket
	conn *websocket.Conn
}

var _ service.Backend = (*connBackend)(nil)

type frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func (b *connBackend) send(typ string, data any) {
	_ = b.ws.writeJSON(b.conn, frame{Type: typ, Data: data})
}

func (b *connBackend) Init(init service.MapInit) {
	b.send(contracts.WSMapInit, init)
}

func (b *connBackend) Unavailable(reason string) {
	b.send(contracts.WSMapUnavailable, map[string]string{"reason": reason})
}

func (b *connBackend) CreateMarker(key string, lat, lng float64, icon service.MarkerIcon) {
	b.send(contracts.WSMarkerCreate, map[string]any{
		"marker_key": key,
		"lat":        lat,
		"lng":        lng,
		"icon":       icon,
	})
}

func (b *connBackend) MoveMarker(key string, lat, lng float64) {
	b.send(contracts.WSMarkerMove, map[string]any{
		"marker_key": key,
		"lat":        lat,
		"lng":        lng,
	})
}

func (b *connBackend) SetIcon(key string, icon service.MarkerIcon) {
	b.send(contracts.WSMarkerIcon, map[string]any{
		"marker_key": key,
		"icon":       icon,
	})
}

func (b *connBackend) RemoveMarker(key string) {
	b.send(contracts.WSMarkerRemove, map[string]any{"marker_key": key})
}

func (b *connBackend) ShowPopup(markerKey, html string, pinned bool) {
	b.send(contracts.WSPopupShow, map[string]any{
		"marker_key": markerKey,
		"html":       html,
		"pinned":     pinned,
	})
}

func (b *connBackend) HidePopup(markerKey string) {
	b.send(contracts.WSPopupHide, map[string]any{"marker_key": markerKey})
}

func (b *connBackend) SetTrail(vehicleID string, points []fleet.TrailPoint) {
	b.send(contracts.WSTrailSet, map[string]any{
		"vehicle_id": vehicleID,
		"points":     points,
	})
}

func (b *connBackend) FlyTo(lat, lng float64, zoom int) {
	b.send(contracts.WSFlyTo, map[string]any{
		"lat":  lat,
		"lng":  lng,
		"zoom": zoom,
	})
}

func (b *connBackend) FitBounds(bounds fleet.Bounds, paddingPx, maxZoom int) {
	b.send(contracts.WSFitBounds, map[string]any{
		"min_lat":    bounds.MinLat,
		"min_lng":    bounds.MinLng,
		"max_lat":    bounds.MaxLat,
		"max_lng":    bounds.MaxLng,
		"padding_px": paddingPx,
		"max_zoom":   maxZoom,
	})
}

func (b *connBackend) VehicleSelected(vehicleID string) {
	b.send(contracts.WSVehicleSelected, map[string]any{"vehicle_id": vehicleID})
}
