package marker

import (
	"strings"
	"testing"

	"fleetwise/internal/domain/fleet"
)

func f64(v float64) *float64 { return &v }
func b(v bool) *bool         { return &v }

func TestVehicleIconOverspeedWinsOverStatus(t *testing.T) {
	statuses := []fleet.Status{
		fleet.StatusMoving,
		fleet.StatusIdle,
		fleet.StatusStopped,
		fleet.StatusOffline,
	}
	for _, s := range statuses {
		p := fleet.VehiclePoint{
			ID:            "v1",
			Status:        s,
			SpeedKmh:      95,
			SpeedLimitKmh: f64(80),
		}
		icon := VehicleIconFor(p, false)
		if icon.Color != colorOverspeed {
			t.Errorf("status %s: expected overspeed color, got %s", s, icon.Color)
		}
		if icon.Pulse != "urgent" {
			t.Errorf("status %s: expected urgent pulse, got %s", s, icon.Pulse)
		}
	}
}

func TestVehicleIconStatusColors(t *testing.T) {
	cases := []struct {
		status fleet.Status
		color  string
		pulse  string
	}{
		{fleet.StatusMoving, colorMoving, "steady"},
		{fleet.StatusIdle, colorIdle, "none"},
		{fleet.StatusStopped, colorStopped, "none"},
		{fleet.StatusOffline, colorOffline, "none"},
	}
	for _, c := range cases {
		icon := VehicleIconFor(fleet.VehiclePoint{ID: "v1", Status: c.status}, false)
		if icon.Color != c.color {
			t.Errorf("%s: expected color %s, got %s", c.status, c.color, icon.Color)
		}
		if icon.Pulse != c.pulse {
			t.Errorf("%s: expected pulse %s, got %s", c.status, c.pulse, icon.Pulse)
		}
	}
}

func TestVehicleIconGlyphAndRotation(t *testing.T) {
	moving := fleet.VehiclePoint{
		ID:             "v1",
		Status:         fleet.StatusMoving,
		SpeedKmh:       40,
		HeadingDegrees: f64(135),
		EngineOn:       b(true),
	}
	icon := VehicleIconFor(moving, false)
	if icon.Glyph != "arrow" {
		t.Errorf("expected arrow glyph for powered moving vehicle, got %s", icon.Glyph)
	}
	if icon.RotationDeg != 135 {
		t.Errorf("expected rotation 135, got %v", icon.RotationDeg)
	}

	parked := fleet.VehiclePoint{ID: "v2", Status: fleet.StatusStopped, HeadingDegrees: f64(90)}
	if got := VehicleIconFor(parked, false).Glyph; got != "dot" {
		t.Errorf("expected dot glyph for parked vehicle, got %s", got)
	}

	engineOff := fleet.VehiclePoint{ID: "v3", Status: fleet.StatusMoving, EngineOn: b(false)}
	if got := VehicleIconFor(engineOff, false).Glyph; got != "dot" {
		t.Errorf("expected dot glyph when engine is off, got %s", got)
	}
}

func TestVehicleIconSelectionGrowsMarker(t *testing.T) {
	p := fleet.VehiclePoint{ID: "v1", Status: fleet.StatusMoving}
	plain := VehicleIconFor(p, false)
	selected := VehicleIconFor(p, true)
	if selected.SizePx <= plain.SizePx {
		t.Errorf("selected marker should be larger: %d vs %d", selected.SizePx, plain.SizePx)
	}
	if !selected.Selected {
		t.Error("selected flag not set")
	}
}

func TestClusterIconScaling(t *testing.T) {
	small := ClusterIconFor(2)
	mid := ClusterIconFor(50)
	big := ClusterIconFor(1540)

	if !(small.SizePx < mid.SizePx && mid.SizePx <= big.SizePx) {
		t.Errorf("sizes not monotone: %d, %d, %d", small.SizePx, mid.SizePx, big.SizePx)
	}
	if big.SizePx > 64 {
		t.Errorf("size should cap at 64, got %d", big.SizePx)
	}
	if big.Label != "1540" {
		t.Errorf("label must be the exact count, got %q", big.Label)
	}
}

func TestRenderPopupEscapesUntrustedText(t *testing.T) {
	html, err := RenderPopup(PopupData{
		VehicleID:  "v1",
		Plate:      `<script>alert("x")</script>`,
		DriverName: "O'Brien & Sons",
		Status:     fleet.StatusMoving,
		SpeedKmh:   42,
		Address:    `<img src=x onerror=alert(1)>`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(html, "<script>") {
		t.Errorf("script tag not escaped: %s", html)
	}
	if strings.Contains(html, "<img") {
		t.Errorf("address markup not escaped: %s", html)
	}
	if !strings.Contains(html, "&lt;script&gt;") {
		t.Errorf("expected escaped plate in output: %s", html)
	}
}

func TestRenderPopupFallsBackToCoordinates(t *testing.T) {
	html, err := RenderPopup(PopupData{
		VehicleID: "v1",
		Status:    fleet.StatusIdle,
		Lat:       52.52001,
		Lng:       13.40499,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "52.52001, 13.40499") {
		t.Errorf("expected coordinate fallback in popup: %s", html)
	}
	if !strings.Contains(html, "v1") {
		t.Errorf("expected vehicle id as title when plate missing: %s", html)
	}
}
