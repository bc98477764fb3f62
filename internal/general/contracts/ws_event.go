package contracts

import "encoding/json"

// Server -> viewer command types. Each WebSocket frame is one command the
// viewer applies to its map verbatim; the server owns all marker state.
const (
	WSMapInit         = "map_init"
	WSMapUnavailable  = "map_unavailable"
	WSMarkerCreate    = "marker_create"
	WSMarkerMove      = "marker_move"
	WSMarkerIcon      = "marker_icon"
	WSMarkerRemove    = "marker_remove"
	WSPopupShow       = "popup_show"
	WSPopupHide       = "popup_hide"
	WSTrailSet        = "trail_set"
	WSFlyTo           = "fly_to"
	WSFitBounds       = "fit_bounds"
	WSVehicleSelected = "vehicle_selected"
)

// Viewer -> server event types.
const (
	WSViewport     = "viewport"
	WSClick        = "click"
	WSHover        = "hover"
	WSTrailRequest = "trail_request"
	WSFocusVehicle = "focus_vehicle"
)

// WSViewerEvent is the minimal envelope for viewer-originated frames; Data is
// decoded per Type.
type WSViewerEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WSViewportData reports the viewer's current map window.
type WSViewportData struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
	Zoom   int     `json:"zoom"`
}

// WSMarkerRef names a marker a viewer interacted with.
type WSMarkerRef struct {
	MarkerKey string `json:"marker_key"`
}

// WSVehicleRef names a vehicle a viewer addressed directly (sidebar click).
type WSVehicleRef struct {
	VehicleID string `json:"vehicle_id"`
}
