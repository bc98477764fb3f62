package fleet

import (
	"errors"
	"math"
	"strings"
	"time"
)

var (
	ErrEmptyVehicleID   = errors.New("vehicle id cannot be empty")
	ErrInvalidLatitude  = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be between -180 and 180")
	ErrNegativeSpeed    = errors.New("speed_kmh cannot be negative")
)

// VehiclePoint is a render-time snapshot of one tracked asset. The telemetry
// fields come from the realtime feed; the metadata fields are joined in from
// the backend fleet tables.
type VehiclePoint struct {
	ID             string
	Lat            float64
	Lng            float64
	Status         Status
	SpeedKmh       float64
	HeadingDegrees *float64 // compass bearing [0,360); nil when the device omits it
	EngineOn       *bool
	SpeedLimitKmh  *float64
	RecordedAt     time.Time

	Plate       string
	DriverName  string
	DriverPhone string
	FuelPercent *float64
}

// Validate checks invariants of the VehiclePoint.
func (point *VehiclePoint) Validate() error {
	if strings.TrimSpace(point.ID) == "" {
		return ErrEmptyVehicleID
	}
	if !validLatitude(point.Lat) {
		return ErrInvalidLatitude
	}
	if !validLongitude(point.Lng) {
		return ErrInvalidLongitude
	}
	if point.SpeedKmh < 0 {
		return ErrNegativeSpeed
	}
	return nil
}

// HasValidCoords reports whether the point carries coordinates that can be
// placed on a map at all.
func (point *VehiclePoint) HasValidCoords() bool {
	return validLatitude(point.Lat) && validLongitude(point.Lng)
}

// Overspeeding reports whether the vehicle exceeds its configured speed limit.
// Vehicles without a limit are never flagged.
func (point *VehiclePoint) Overspeeding() bool {
	return point.SpeedLimitKmh != nil && point.SpeedKmh > *point.SpeedLimitKmh
}

// Heading returns the compass bearing, defaulting to 0 when absent.
func (point *VehiclePoint) Heading() float64 {
	if point.HeadingDegrees == nil {
		return 0
	}
	return *point.HeadingDegrees
}

// EngineRunning returns the ignition state, defaulting to false when absent.
func (point *VehiclePoint) EngineRunning() bool {
	return point.EngineOn != nil && *point.EngineOn
}

// FilterValid drops points whose coordinates are missing, NaN, or outside the
// WGS-84 range. Incomplete telemetry is expected from upstream feeds, so this
// is a silent filter, not an error path.
func FilterValid(points []VehiclePoint) []VehiclePoint {
	out := make([]VehiclePoint, 0, len(points))
	for _, p := range points {
		if strings.TrimSpace(p.ID) == "" {
			continue
		}
		if !p.HasValidCoords() {
			continue
		}
		out = append(out, p)
	}
	return out
}

func validLatitude(lat float64) bool {
	return !math.IsNaN(lat) && !math.IsInf(lat, 0) && lat >= -90 && lat <= 90
}

func validLongitude(lng float64) bool {
	return !math.IsNaN(lng) && !math.IsInf(lng, 0) && lng >= -180 && lng <= 180
}

// TrailPoint is one sample of a vehicle's recent path, ordered by RecordedAt
// ascending when rendered.
type TrailPoint struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	SpeedKmh   float64   `json:"speed_kmh"`
	RecordedAt time.Time `json:"recorded_at"`
}

// VehicleMeta is the backend-owned descriptive data joined onto telemetry.
type VehicleMeta struct {
	VehicleID     string
	Plate         string
	DriverName    string
	DriverPhone   string
	SpeedLimitKmh *float64
	FuelPercent   *float64
}

// Bounds is a geographic bounding box (south-west to north-east).
type Bounds struct {
	MinLat float64
	MinLng float64
	MaxLat float64
	MaxLng float64
}

// Contains reports whether the point lies inside the box (inclusive).
func (b Bounds) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// Extend grows the box to include the given point.
func (b *Bounds) Extend(lat, lng float64) {
	b.MinLat = math.Min(b.MinLat, lat)
	b.MinLng = math.Min(b.MinLng, lng)
	b.MaxLat = math.Max(b.MaxLat, lat)
	b.MaxLng = math.Max(b.MaxLng, lng)
}

// NewBounds returns an empty box ready for Extend.
func NewBounds() Bounds {
	return Bounds{
		MinLat: math.Inf(1),
		MinLng: math.Inf(1),
		MaxLat: math.Inf(-1),
		MaxLng: math.Inf(-1),
	}
}

// Empty reports whether the box has never been extended.
func (b Bounds) Empty() bool {
	return math.IsInf(b.MinLat, 1)
}
