package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"fleetwise/internal/domain/fleet"
	"fleetwise/internal/general/contracts"
	"fleetwise/internal/general/logger"
)

type popupOp struct {
	key    string
	html   string
	pinned bool
}

// fakeBackend records every command a session emits.
type fakeBackend struct {
	mu          sync.Mutex
	inits       []MapInit
	unavailable []string
	created     map[string]MarkerIcon
	createOps   int
	lastPos     map[string][2]float64
	moveOps     int
	icons       map[string]MarkerIcon
	removed     []string
	popups      []popupOp
	hidden      []string
	trails      map[string][]fleet.TrailPoint
	flights     [][3]float64
	fits        int
	selections  []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		created: make(map[string]MarkerIcon),
		lastPos: make(map[string][2]float64),
		icons:   make(map[string]MarkerIcon),
		trails:  make(map[string][]fleet.TrailPoint),
	}
}

func (f *fakeBackend) Init(init MapInit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits = append(f.inits, init)
}

func (f *fakeBackend) Unavailable(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unavailable = append(f.unavailable, reason)
}

func (f *fakeBackend) CreateMarker(key string, lat, lng float64, icon MarkerIcon) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[key] = icon
	f.lastPos[key] = [2]float64{lat, lng}
	f.createOps++
}

func (f *fakeBackend) MoveMarker(key string, lat, lng float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPos[key] = [2]float64{lat, lng}
	f.moveOps++
}

func (f *fakeBackend) SetIcon(key string, icon MarkerIcon) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.icons[key] = icon
}

func (f *fakeBackend) RemoveMarker(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.created, key)
	f.removed = append(f.removed, key)
}

func (f *fakeBackend) ShowPopup(key, html string, pinned bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.popups = append(f.popups, popupOp{key: key, html: html, pinned: pinned})
}

func (f *fakeBackend) HidePopup(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hidden = append(f.hidden, key)
}

func (f *fakeBackend) SetTrail(vehicleID string, points []fleet.TrailPoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trails[vehicleID] = points
}

func (f *fakeBackend) FlyTo(lat, lng float64, zoom int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flights = append(f.flights, [3]float64{lat, lng, float64(zoom)})
}

func (f *fakeBackend) FitBounds(b fleet.Bounds, paddingPx, maxZoom int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fits++
}

func (f *fakeBackend) VehicleSelected(vehicleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selections = append(f.selections, vehicleID)
}

func (f *fakeBackend) snapshot(fn func(*fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func osmSettings() Settings {
	return Settings{Provider: "osm", Style: "streets"}
}

func newTestService(settings Settings) *Service {
	return New(logger.New("tracking-test"), settings, nil, nil, nil)
}

func report(id string, lat, lng, speed float64) contracts.VehicleTelemetry {
	return contracts.VehicleTelemetry{
		VehicleID:  id,
		Lat:        lat,
		Lng:        lng,
		SpeedKMH:   speed,
		RecordedAt: time.Now(),
	}
}

func worldView() fleet.Bounds {
	return fleet.Bounds{MinLat: -90, MinLng: -180, MaxLat: 90, MaxLng: 180}
}

func TestSessionRendersSnapshotOnConnect(t *testing.T) {
	svc := newTestService(osmSettings())
	svc.Apply(context.Background(), []contracts.VehicleTelemetry{
		report("v1", 52.52, 13.405, 40),
		report("v2", 48.8566, 2.3522, 0),
	})

	fake := newFakeBackend()
	sess := svc.Connect(context.Background(), "viewer-1", fake)
	defer sess.Dispose()
	sess.ViewportChanged(worldView(), 10)

	waitFor(t, "markers never created", func() bool {
		var n int
		fake.snapshot(func(f *fakeBackend) { n = len(f.created) })
		return n == 2
	})

	fake.snapshot(func(f *fakeBackend) {
		if len(f.inits) != 1 {
			t.Errorf("expected exactly one map init, got %d", len(f.inits))
		}
		if _, ok := f.created["vehicle-v1"]; !ok {
			t.Error("vehicle-v1 marker missing")
		}
		icon := f.created["vehicle-v1"]
		if icon.Vehicle == nil || icon.Vehicle.Color == "" {
			t.Error("vehicle marker has no icon")
		}
	})
}

func TestRepeatedSnapshotIsIdempotent(t *testing.T) {
	svc := newTestService(osmSettings())
	reports := []contracts.VehicleTelemetry{
		report("v1", 52.52, 13.405, 40),
		report("v2", 48.8566, 2.3522, 0),
	}
	svc.Apply(context.Background(), reports)

	fake := newFakeBackend()
	sess := svc.Connect(context.Background(), "viewer-1", fake)
	defer sess.Dispose()
	sess.ViewportChanged(worldView(), 10)

	waitFor(t, "markers never created", func() bool {
		var n int
		fake.snapshot(func(f *fakeBackend) { n = len(f.created) })
		return n == 2
	})

	var before int
	fake.snapshot(func(f *fakeBackend) { before = f.createOps + f.moveOps + len(f.removed) })

	// identical positions again: the diff must produce no marker commands
	svc.Apply(context.Background(), reports)
	time.Sleep(100 * time.Millisecond)

	fake.snapshot(func(f *fakeBackend) {
		after := f.createOps + f.moveOps + len(f.removed)
		if after != before {
			t.Errorf("no-op snapshot produced %d marker ops", after-before)
		}
	})
}

func TestVehicleMovementAnimatesToExactTarget(t *testing.T) {
	svc := newTestService(osmSettings())
	svc.Apply(context.Background(), []contracts.VehicleTelemetry{report("v1", 52.5200, 13.4050, 40)})

	fake := newFakeBackend()
	sess := svc.Connect(context.Background(), "viewer-1", fake)
	defer sess.Dispose()
	sess.ViewportChanged(worldView(), 10)

	waitFor(t, "marker never created", func() bool {
		var ok bool
		fake.snapshot(func(f *fakeBackend) { _, ok = f.created["vehicle-v1"] })
		return ok
	})

	svc.Apply(context.Background(), []contracts.VehicleTelemetry{report("v1", 52.5300, 13.4150, 40)})

	waitFor(t, "marker never reached the new position", func() bool {
		var pos [2]float64
		fake.snapshot(func(f *fakeBackend) { pos = f.lastPos["vehicle-v1"] })
		return pos[0] == 52.5300 && pos[1] == 13.4150
	})

	fake.snapshot(func(f *fakeBackend) {
		if f.moveOps == 0 {
			t.Error("expected tweened move frames, got none")
		}
		if len(f.removed) != 0 {
			t.Errorf("movement must not recreate markers, removed %v", f.removed)
		}
	})
}

func TestClusterClickFliesToExpansionZoom(t *testing.T) {
	svc := newTestService(osmSettings())
	svc.Apply(context.Background(), []contracts.VehicleTelemetry{
		report("v1", 52.52000, 13.40500, 0),
		report("v2", 52.52004, 13.40505, 0), // meters away: clustered until max zoom
	})

	fake := newFakeBackend()
	sess := svc.Connect(context.Background(), "viewer-1", fake)
	defer sess.Dispose()
	sess.ViewportChanged(worldView(), 10)

	var clusterKey string
	waitFor(t, "cluster marker never created", func() bool {
		fake.snapshot(func(f *fakeBackend) {
			for key := range f.created {
				if strings.HasPrefix(key, "cluster-") {
					clusterKey = key
				}
			}
		})
		return clusterKey != ""
	})

	sess.Click(clusterKey)

	waitFor(t, "cluster click produced no camera flight", func() bool {
		var n int
		fake.snapshot(func(f *fakeBackend) { n = len(f.flights) })
		return n == 1
	})

	fake.snapshot(func(f *fakeBackend) {
		if int(f.flights[0][2]) != 16 {
			t.Errorf("expected flight to expansion zoom 16, got %v", f.flights[0][2])
		}
	})
}

func TestVehicleClickSelectsAndPinsPopup(t *testing.T) {
	svc := newTestService(osmSettings())
	svc.Apply(context.Background(), []contracts.VehicleTelemetry{report("v1", 52.52, 13.405, 40)})

	fake := newFakeBackend()
	sess := svc.Connect(context.Background(), "viewer-1", fake)
	defer sess.Dispose()
	sess.ViewportChanged(worldView(), 10)

	waitFor(t, "marker never created", func() bool {
		var ok bool
		fake.snapshot(func(f *fakeBackend) { _, ok = f.created["vehicle-v1"] })
		return ok
	})

	sess.Click("vehicle-v1")

	waitFor(t, "vehicle click produced no selection", func() bool {
		var n int
		fake.snapshot(func(f *fakeBackend) { n = len(f.selections) })
		return n == 1
	})

	fake.snapshot(func(f *fakeBackend) {
		if f.selections[0] != "v1" {
			t.Errorf("selected %q", f.selections[0])
		}
		if len(f.flights) != 1 || int(f.flights[0][2]) != focusZoom {
			t.Errorf("expected flight to focus zoom, got %v", f.flights)
		}
		if len(f.popups) == 0 {
			t.Fatal("no popup shown")
		}
		last := f.popups[len(f.popups)-1]
		if !last.pinned {
			t.Error("selection popup must be pinned")
		}
		if !strings.Contains(last.html, "v1") {
			t.Errorf("popup missing vehicle id: %s", last.html)
		}
		icon := f.icons["vehicle-v1"]
		if icon.Vehicle == nil || !icon.Vehicle.Selected {
			t.Error("selected vehicle icon not applied")
		}
	})
}

func TestHoverShowsTransientPopup(t *testing.T) {
	svc := newTestService(osmSettings())
	svc.Apply(context.Background(), []contracts.VehicleTelemetry{report("v1", 52.52, 13.405, 40)})

	fake := newFakeBackend()
	sess := svc.Connect(context.Background(), "viewer-1", fake)
	defer sess.Dispose()
	sess.ViewportChanged(worldView(), 10)

	waitFor(t, "marker never created", func() bool {
		var ok bool
		fake.snapshot(func(f *fakeBackend) { _, ok = f.created["vehicle-v1"] })
		return ok
	})

	sess.Hover("vehicle-v1", true)
	waitFor(t, "hover popup never shown", func() bool {
		var n int
		fake.snapshot(func(f *fakeBackend) { n = len(f.popups) })
		return n == 1
	})
	fake.snapshot(func(f *fakeBackend) {
		if f.popups[0].pinned {
			t.Error("hover popup must not be pinned")
		}
	})

	sess.Hover("vehicle-v1", false)
	waitFor(t, "hover popup never hidden", func() bool {
		var n int
		fake.snapshot(func(f *fakeBackend) { n = len(f.hidden) })
		return n == 1
	})
}

func TestInitialFitBoundsHappensOnce(t *testing.T) {
	svc := newTestService(osmSettings())
	svc.Apply(context.Background(), []contracts.VehicleTelemetry{report("v1", 52.52, 13.405, 40)})

	fake := newFakeBackend()
	sess := svc.Connect(context.Background(), "viewer-1", fake)
	defer sess.Dispose()
	sess.ViewportChanged(worldView(), 10)

	waitFor(t, "initial fit never happened", func() bool {
		var n int
		fake.snapshot(func(f *fakeBackend) { n = f.fits })
		return n == 1
	})

	svc.Apply(context.Background(), []contracts.VehicleTelemetry{report("v2", 48.85, 2.35, 10)})
	time.Sleep(100 * time.Millisecond)

	fake.snapshot(func(f *fakeBackend) {
		if f.fits != 1 {
			t.Errorf("fit-bounds fired %d times, want exactly 1", f.fits)
		}
	})
}

func TestTrailRequestUsesAccumulatedHistory(t *testing.T) {
	svc := newTestService(osmSettings())
	for i := 0; i < 3; i++ {
		svc.Apply(context.Background(), []contracts.VehicleTelemetry{
			report("v1", 52.52+float64(i)*0.001, 13.405, 30),
		})
	}

	fake := newFakeBackend()
	sess := svc.Connect(context.Background(), "viewer-1", fake)
	defer sess.Dispose()

	sess.RequestTrail("v1")

	waitFor(t, "trail never delivered", func() bool {
		var n int
		fake.snapshot(func(f *fakeBackend) { n = len(f.trails["v1"]) })
		return n == 3
	})
}

func TestDisposeTearsDownAndFreezes(t *testing.T) {
	svc := newTestService(osmSettings())
	svc.Apply(context.Background(), []contracts.VehicleTelemetry{report("v1", 52.52, 13.405, 40)})

	fake := newFakeBackend()
	sess := svc.Connect(context.Background(), "viewer-1", fake)
	sess.ViewportChanged(worldView(), 10)

	waitFor(t, "marker never created", func() bool {
		var ok bool
		fake.snapshot(func(f *fakeBackend) { _, ok = f.created["vehicle-v1"] })
		return ok
	})

	sess.Dispose()
	sess.Dispose() // idempotent

	fake.snapshot(func(f *fakeBackend) {
		if len(f.removed) == 0 {
			t.Error("teardown did not remove markers")
		}
	})

	var frozen int
	fake.snapshot(func(f *fakeBackend) { frozen = f.createOps + f.moveOps + len(f.flights) })

	// calls after disposal must be silently dropped
	sess.Click("vehicle-v1")
	sess.ViewportChanged(worldView(), 5)
	svc.Apply(context.Background(), []contracts.VehicleTelemetry{report("v1", 53.0, 14.0, 40)})
	time.Sleep(100 * time.Millisecond)

	fake.snapshot(func(f *fakeBackend) {
		if got := f.createOps + f.moveOps + len(f.flights); got != frozen {
			t.Errorf("disposed session still emitted %d ops", got-frozen)
		}
	})
}

func TestMapboxWithoutTokenReportsUnavailable(t *testing.T) {
	svc := newTestService(Settings{Provider: "mapbox", Style: "streets"})
	svc.Apply(context.Background(), []contracts.VehicleTelemetry{report("v1", 52.52, 13.405, 40)})

	fake := newFakeBackend()
	sess := svc.Connect(context.Background(), "viewer-1", fake)
	defer sess.Dispose()
	sess.ViewportChanged(worldView(), 10)

	waitFor(t, "unavailable never reported", func() bool {
		var n int
		fake.snapshot(func(f *fakeBackend) { n = len(f.unavailable) })
		return n == 1
	})

	time.Sleep(50 * time.Millisecond)
	fake.snapshot(func(f *fakeBackend) {
		if len(f.inits) != 0 {
			t.Error("unavailable map must not init")
		}
		if len(f.created) != 0 {
			t.Error("unavailable map must not create markers")
		}
	})
}

func TestOfflineDecayAfterSweep(t *testing.T) {
	svc := newTestService(osmSettings())
	stale := contracts.VehicleTelemetry{
		VehicleID:  "v1",
		Lat:        52.52,
		Lng:        13.405,
		SpeedKMH:   40,
		RecordedAt: time.Now().Add(-10 * time.Minute),
	}
	svc.Apply(context.Background(), []contracts.VehicleTelemetry{stale})

	p, ok := svc.vehicle("v1")
	if !ok {
		t.Fatal("vehicle missing")
	}
	if p.Status != fleet.StatusOffline {
		t.Errorf("stale report should derive offline, got %s", p.Status)
	}
}

func removedHas(list []string, want string) bool {
	for _, key := range list {
		if key == want {
			return true
		}
	}
	return false
}

func TestZoomChangeReplacesClusterWithVehiclesAndBack(t *testing.T) {
	svc := newTestService(osmSettings())
	svc.Apply(context.Background(), []contracts.VehicleTelemetry{
		report("v1", 52.52000, 13.40500, 30),
		report("v2", 52.52004, 13.40506, 25),
	})

	fake := newFakeBackend()
	sess := svc.Connect(context.Background(), "viewer-1", fake)
	defer sess.Dispose()

	sess.ViewportChanged(worldView(), 10)
	var clusterKey string
	waitFor(t, "cluster never formed at low zoom", func() bool {
		var ok bool
		fake.snapshot(func(f *fakeBackend) {
			for key := range f.created {
				if strings.HasPrefix(key, "cluster-") {
					clusterKey, ok = key, true
				}
			}
		})
		return ok
	})
	fake.snapshot(func(f *fakeBackend) {
		if len(f.created) != 1 {
			t.Fatalf("expected a single cluster marker, got %d markers", len(f.created))
		}
	})

	// zooming past the split point swaps the cluster for both vehicles
	sess.ViewportChanged(worldView(), 16)
	waitFor(t, "vehicles never split out of the cluster", func() bool {
		var ok bool
		fake.snapshot(func(f *fakeBackend) {
			_, v1 := f.created["vehicle-v1"]
			_, v2 := f.created["vehicle-v2"]
			ok = v1 && v2
		})
		return ok
	})
	fake.snapshot(func(f *fakeBackend) {
		if len(f.created) != 2 {
			t.Errorf("expected exactly the two vehicle markers, got %d", len(f.created))
		}
		if !removedHas(f.removed, clusterKey) {
			t.Errorf("cluster marker %s was never removed on split", clusterKey)
		}
	})

	// zooming back out re-merges and drops the vehicle markers
	sess.ViewportChanged(worldView(), 10)
	waitFor(t, "vehicles never re-merged into a cluster", func() bool {
		var live int
		var v1, v2 bool
		fake.snapshot(func(f *fakeBackend) {
			live = len(f.created)
			_, v1 = f.created["vehicle-v1"]
			_, v2 = f.created["vehicle-v2"]
		})
		return live == 1 && !v1 && !v2
	})
	fake.snapshot(func(f *fakeBackend) {
		if !removedHas(f.removed, "vehicle-v1") || !removedHas(f.removed, "vehicle-v2") {
			t.Error("vehicle markers were not removed on re-merge")
		}
		for key := range f.created {
			if !strings.HasPrefix(key, "cluster-") {
				t.Errorf("unexpected marker %s after re-merge", key)
			}
		}
	})
}

func TestFocusOffscreenVehiclePinsPopupOnceRendered(t *testing.T) {
	svc := newTestService(osmSettings())
	svc.Apply(context.Background(), []contracts.VehicleTelemetry{
		report("v1", 52.52, 13.405, 40),
		report("v2", -33.8688, 151.2093, 10),
	})

	fake := newFakeBackend()
	sess := svc.Connect(context.Background(), "viewer-1", fake)
	defer sess.Dispose()

	// viewer is looking at Sydney; the Berlin vehicle is not rendered
	sess.ViewportChanged(fleet.Bounds{MinLat: -35, MinLng: 150, MaxLat: -33, MaxLng: 152}, 12)
	waitFor(t, "in-view marker never created", func() bool {
		var ok bool
		fake.snapshot(func(f *fakeBackend) { _, ok = f.created["vehicle-v2"] })
		return ok
	})

	sess.FocusVehicle("v1")
	waitFor(t, "focus never flew to the vehicle", func() bool {
		var n int
		fake.snapshot(func(f *fakeBackend) { n = len(f.flights) })
		return n > 0
	})
	fake.snapshot(func(f *fakeBackend) {
		if len(f.popups) != 0 {
			t.Fatal("popup opened before the marker was rendered")
		}
	})

	// the fly-to lands and the viewer's map reports its new viewport
	sess.ViewportChanged(fleet.Bounds{MinLat: 52, MinLng: 13, MaxLat: 53, MaxLng: 14}, 16)
	waitFor(t, "pinned popup never opened after the focused vehicle rendered", func() bool {
		var ok bool
		fake.snapshot(func(f *fakeBackend) {
			for _, p := range f.popups {
				if p.key == "vehicle-v1" && p.pinned {
					ok = true
				}
			}
		})
		return ok
	})
}
