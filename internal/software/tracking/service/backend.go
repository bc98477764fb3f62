package service

import (
	"fleetwise/internal/domain/fleet"
	"fleetwise/internal/marker"
)

// MapInit tells a viewer how to bring up its base map.
type MapInit struct {
	Style       string `json:"style"`
	TileURL     string `json:"tile_url"`
	Attribution string `json:"attribution"`
	MinZoom     int    `json:"min_zoom"`
	MaxZoom     int    `json:"max_zoom"`
}

// MarkerIcon is the icon payload for a marker; exactly one side is set.
type MarkerIcon struct {
	Vehicle *marker.VehicleIcon `json:"vehicle,omitempty"`
	Cluster *marker.ClusterIcon `json:"cluster,omitempty"`
}

// Backend is the viewer-facing side of a map session. The WebSocket layer
// implements it by serializing each call into one frame; tests implement it
// with an in-memory recorder. Implementations must be safe for concurrent
// calls, since animation frames arrive from tween goroutines while the
// session loop emits structural changes.
type Backend interface {
	Init(init MapInit)
	Unavailable(reason string)

	CreateMarker(key string, lat, lng float64, icon MarkerIcon)
	MoveMarker(key string, lat, lng float64)
	SetIcon(key string, icon MarkerIcon)
	RemoveMarker(key string)

	ShowPopup(markerKey, html string, pinned bool)
	HidePopup(markerKey string)
	SetTrail(vehicleID string, points []fleet.TrailPoint)

	FlyTo(lat, lng float64, zoom int)
	FitBounds(b fleet.Bounds, paddingPx, maxZoom int)
	VehicleSelected(vehicleID string)
}
