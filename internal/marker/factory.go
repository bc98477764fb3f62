package marker

import (
	"math"
	"strconv"

	"fleetwise/internal/domain/fleet"
)

// Icon colors per vehicle state. Overspeed wins over everything else.
const (
	colorOverspeed = "#dc2626"
	colorMoving    = "#16a34a"
	colorIdle      = "#f59e0b"
	colorStopped   = "#64748b"
	colorOffline   = "#9ca3af"
)

// VehicleIcon describes how a single vehicle marker should render. It is a
// pure data descriptor; the transport layer serializes it and the viewer
// turns it into DOM. Keeping markup out of the server avoids a whole class
// of injection problems.
type VehicleIcon struct {
	Color       string  `json:"color"`
	SizePx      int     `json:"size_px"`
	Pulse       string  `json:"pulse"` // none, steady, urgent
	Glyph       string  `json:"glyph"` // dot, arrow
	RotationDeg float64 `json:"rotation_deg"`
	Selected    bool    `json:"selected"`
}

// ClusterIcon describes a cluster marker.
type ClusterIcon struct {
	SizePx int    `json:"size_px"`
	Label  string `json:"label"`
}

// VehicleIconFor derives the icon for a vehicle. An overspeeding vehicle is
// always urgent-red regardless of its movement status; otherwise the status
// picks the color. The arrow glyph only shows when the vehicle is actually
// moving under power, since heading data is meaningless when parked.
func VehicleIconFor(p fleet.VehiclePoint, selected bool) VehicleIcon {
	icon := VehicleIcon{
		SizePx:      28,
		Pulse:       "none",
		Glyph:       "dot",
		RotationDeg: p.Heading(),
		Selected:    selected,
	}
	if selected {
		icon.SizePx = 38
	}

	switch p.Status {
	case fleet.StatusMoving:
		icon.Color = colorMoving
		icon.Pulse = "steady"
	case fleet.StatusIdle:
		icon.Color = colorIdle
	case fleet.StatusStopped:
		icon.Color = colorStopped
	default:
		icon.Color = colorOffline
	}

	if p.Overspeeding() {
		icon.Color = colorOverspeed
		icon.Pulse = "urgent"
	}

	if p.EngineRunning() && p.Status == fleet.StatusMoving {
		icon.Glyph = "arrow"
	}

	return icon
}

// ClusterIconFor sizes a cluster bubble by member count. Square-root scaling
// keeps a 1500-vehicle cluster readable next to a 15-vehicle one without the
// big one swallowing the map. The label is the exact count, never abbreviated.
func ClusterIconFor(count int) ClusterIcon {
	size := 32 + int(4*math.Sqrt(float64(count)))
	if size > 64 {
		size = 64
	}
	return ClusterIcon{
		SizePx: size,
		Label:  strconv.Itoa(count),
	}
}
