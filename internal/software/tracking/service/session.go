package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"fleetwise/internal/cluster"
	"fleetwise/internal/domain/fleet"
	"fleetwise/internal/marker"
	"fleetwise/internal/motion"
)

const (
	// markers closer than this (degrees) are considered unmoved
	posEpsilon = 1e-5
	// vehicle marker glide time between position updates
	animDuration = 800 * time.Millisecond
	// zoom used when focusing a single vehicle
	focusZoom = 17
	// initial fit-bounds framing
	fitPaddingPx = 40
	fitMaxZoom   = 15
	// overview used until the viewer reports its first viewport
	overviewZoom = 3
)

// markerEntry is the session's record of one rendered marker.
type markerEntry struct {
	key       string
	lat, lng  float64
	isCluster bool
	clusterID int64
	vehicleID string
	icon      MarkerIcon
}

// MapSession is one viewer's live map. All session state is owned by a single
// event loop goroutine; external callers (the WebSocket reader, the service's
// change notifications, geocoder callbacks) post closures into the loop, so
// diffs against the shared snapshot are strictly serialized per viewer.
type MapSession struct {
	id       string
	viewerID string
	svc      *Service
	backend  Backend
	anim     *motion.Animator

	events chan func()
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	// loop-owned state below
	ctx         context.Context
	registry    map[string]*markerEntry
	viewport    fleet.Bounds
	zoom        int
	hasViewport bool
	unavailable bool
	selected    string
	// focused vehicle whose marker is not rendered yet; its popup pins as
	// soon as a refresh creates the marker
	pendingFocus string
	popupKey     string
	popupVeh     string
	popupPinned  bool
}

func newMapSession(id, viewerID string, svc *Service, backend Backend) *MapSession {
	return &MapSession{
		id:       id,
		viewerID: viewerID,
		svc:      svc,
		backend:  backend,
		anim:     motion.NewAnimator(0),
		events:   make(chan func(), 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		registry: make(map[string]*markerEntry),
	}
}

// ID returns the session id used in logs and metrics.
func (s *MapSession) ID() string { return s.id }

func (s *MapSession) start(ctx context.Context) {
	s.ctx = ctx
	go s.loop()
	s.post(s.bootstrap)
}

func (s *MapSession) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			s.teardown()
			return
		case fn := <-s.events:
			fn()
		}
	}
}

// post hands a closure to the loop; it is dropped if the session is disposed.
func (s *MapSession) post(fn func()) {
	select {
	case <-s.quit:
	case s.events <- fn:
	}
}

// Dispose stops the loop and tears the map down. Safe to call more than
// once; it blocks until the loop has exited, so callers can rely on no
// further backend writes afterwards.
func (s *MapSession) Dispose() {
	s.once.Do(func() {
		close(s.quit)
		<-s.done
		s.svc.dropSession(s.id)
		s.svc.log.Info(s.ctx, "map_session_closed", "Viewer disconnected from live map", nil)
	})
	<-s.done
}

func (s *MapSession) teardown() {
	s.anim.Close()
	if s.popupKey != "" {
		s.backend.HidePopup(s.popupKey)
	}
	if s.popupVeh != "" {
		s.svc.dropInterest(s.popupVeh)
	}
	for key := range s.registry {
		s.backend.RemoveMarker(key)
		delete(s.registry, key)
	}
}

// --- public entry points (thread-safe, routed through the loop) ---

// ViewportChanged records the viewer's map window and rediffs against it.
func (s *MapSession) ViewportChanged(b fleet.Bounds, zoom int) {
	s.post(func() {
		s.viewport = b
		s.zoom = zoom
		s.hasViewport = true
		s.refresh()
	})
}

// Click handles a tap on a marker: clusters zoom toward their split point,
// vehicles become the selection.
func (s *MapSession) Click(markerKey string) {
	s.post(func() {
		entry, ok := s.registry[markerKey]
		if !ok {
			return
		}
		if entry.isCluster {
			target := s.svc.expansionZoom(entry.clusterID)
			s.backend.FlyTo(entry.lat, entry.lng, target)
			return
		}
		s.selectVehicle(entry.vehicleID)
	})
}

// Hover shows a transient popup while the pointer rests on a vehicle marker.
// A pinned popup (from selection) is never displaced by hovering.
func (s *MapSession) Hover(markerKey string, entered bool) {
	s.post(func() {
		if s.popupPinned {
			return
		}
		if !entered {
			s.hidePopup()
			return
		}
		entry, ok := s.registry[markerKey]
		if !ok || entry.isCluster {
			return
		}
		s.showPopup(entry, false)
	})
}

// FocusVehicle selects a vehicle addressed directly, e.g. from a list next to
// the map, regardless of whether its marker is currently in view.
func (s *MapSession) FocusVehicle(vehicleID string) {
	s.post(func() {
		s.selectVehicle(vehicleID)
	})
}

// RequestTrail sends the vehicle's recent path to the viewer.
func (s *MapSession) RequestTrail(vehicleID string) {
	s.post(func() {
		pts, err := s.svc.trailFor(s.ctx, vehicleID)
		if err != nil {
			s.svc.log.Error(s.ctx, "trail_load_failed", "Failed to load vehicle trail", err, map[string]any{
				"vehicle_id": vehicleID,
			})
			return
		}
		s.backend.SetTrail(vehicleID, pts)
	})
}

// dataChanged is posted by the service after each snapshot rebuild.
func (s *MapSession) dataChanged() {
	s.post(s.refresh)
}

// addressUpdated re-renders the open popup once a geocode lands.
func (s *MapSession) addressUpdated(vehicleID string) {
	s.post(func() {
		if s.popupVeh != vehicleID {
			return
		}
		entry, ok := s.registry[s.popupKey]
		if !ok {
			return
		}
		s.showPopup(entry, s.popupPinned)
	})
}

// --- loop-side logic ---

func (s *MapSession) bootstrap() {
	init, ok := mapInitFor(s.svc.settings)
	if !ok {
		s.unavailable = true
		s.backend.Unavailable("map provider is not configured")
		return
	}
	s.backend.Init(init)

	// frame the whole fleet exactly once at startup; afterwards the camera
	// belongs to the viewer
	if b, n := s.svc.fleetBounds(); n > 0 {
		s.backend.FitBounds(b, fitPaddingPx, fitMaxZoom)
	}
	s.refresh()
}

// refresh diffs the current snapshot against the rendered registry and sends
// the minimum set of marker commands.
func (s *MapSession) refresh() {
	if s.unavailable {
		return
	}

	bounds, zoom := s.viewport, s.zoom
	if !s.hasViewport {
		bounds = fleet.Bounds{MinLat: -90, MinLng: -180, MaxLat: 90, MaxLng: 180}
		zoom = overviewZoom
	}

	entities := s.svc.query(bounds, zoom)
	seen := make(map[string]struct{}, len(entities))

	for i := range entities {
		e := &entities[i]
		seen[e.Key] = struct{}{}
		icon := s.iconFor(e)

		entry, ok := s.registry[e.Key]
		if !ok {
			entry = &markerEntry{
				key:       e.Key,
				lat:       e.Lat,
				lng:       e.Lng,
				isCluster: e.IsCluster,
				clusterID: e.ClusterID,
				vehicleID: vehicleIDFromKey(e.Key),
				icon:      icon,
			}
			s.registry[e.Key] = entry
			s.backend.CreateMarker(e.Key, e.Lat, e.Lng, icon)
			continue
		}

		if moved(entry.lat, entry.lng, e.Lat, e.Lng) {
			if e.IsCluster {
				// centroids jump, they do not glide
				s.anim.Stop(e.Key)
				s.backend.MoveMarker(e.Key, e.Lat, e.Lng)
			} else {
				s.anim.Animate(e.Key, entry.lat, entry.lng, e.Lat, e.Lng, animDuration, func(lat, lng float64) {
					s.backend.MoveMarker(e.Key, lat, lng)
				}, nil)
			}
			entry.lat, entry.lng = e.Lat, e.Lng
		}

		if !sameIcon(entry.icon, icon) {
			entry.icon = icon
			s.backend.SetIcon(e.Key, icon)
		}
		entry.clusterID = e.ClusterID
	}

	for key := range s.registry {
		if _, ok := seen[key]; ok {
			continue
		}
		s.anim.Stop(key)
		if s.popupKey == key {
			s.hidePopup()
		}
		s.backend.RemoveMarker(key)
		delete(s.registry, key)
	}

	if s.pendingFocus != "" {
		if entry, ok := s.registry["vehicle-"+s.pendingFocus]; ok {
			s.pendingFocus = ""
			s.showPopup(entry, true)
		}
	}
}

func (s *MapSession) iconFor(e *cluster.Entity) MarkerIcon {
	if e.IsCluster {
		icon := marker.ClusterIconFor(e.Count)
		return MarkerIcon{Cluster: &icon}
	}
	icon := marker.VehicleIconFor(*e.Point, e.Point.ID == s.selected)
	return MarkerIcon{Vehicle: &icon}
}

func (s *MapSession) selectVehicle(vehicleID string) {
	p, ok := s.svc.vehicle(vehicleID)
	if !ok {
		return
	}

	prev := s.selected
	s.selected = vehicleID
	s.backend.VehicleSelected(vehicleID)
	s.backend.FlyTo(p.Lat, p.Lng, focusZoom)

	// restyle old and new selection if rendered
	for _, id := range []string{prev, vehicleID} {
		if id == "" {
			continue
		}
		if entry, ok := s.registry["vehicle-"+id]; ok {
			vp, ok := s.svc.vehicle(id)
			if !ok {
				continue
			}
			icon := marker.VehicleIconFor(vp, id == s.selected)
			mi := MarkerIcon{Vehicle: &icon}
			if !sameIcon(entry.icon, mi) {
				entry.icon = mi
				s.backend.SetIcon(entry.key, mi)
			}
		}
	}

	if entry, ok := s.registry["vehicle-"+vehicleID]; ok {
		s.pendingFocus = ""
		s.showPopup(entry, true)
	} else {
		s.pendingFocus = vehicleID
	}
}

func (s *MapSession) showPopup(entry *markerEntry, pinned bool) {
	data, ok := s.svc.popupData(entry.vehicleID)
	if !ok {
		return
	}
	html, err := marker.RenderPopup(data)
	if err != nil {
		s.svc.log.Error(s.ctx, "popup_render_failed", "Failed to render vehicle popup", err, map[string]any{
			"vehicle_id": entry.vehicleID,
		})
		return
	}

	if s.popupKey != "" && s.popupKey != entry.key {
		s.backend.HidePopup(s.popupKey)
	}
	if s.popupVeh != "" && s.popupVeh != entry.vehicleID {
		s.svc.dropInterest(s.popupVeh)
	}

	s.popupKey = entry.key
	s.popupVeh = entry.vehicleID
	s.popupPinned = pinned
	s.svc.noteInterest(s.ctx, entry.vehicleID)
	s.backend.ShowPopup(entry.key, html, pinned)
}

func (s *MapSession) hidePopup() {
	if s.popupKey == "" {
		return
	}
	s.backend.HidePopup(s.popupKey)
	s.svc.dropInterest(s.popupVeh)
	s.popupKey = ""
	s.popupVeh = ""
	s.popupPinned = false
}

func sameIcon(a, b MarkerIcon) bool {
	switch {
	case a.Vehicle != nil && b.Vehicle != nil:
		return *a.Vehicle == *b.Vehicle
	case a.Cluster != nil && b.Cluster != nil:
		return *a.Cluster == *b.Cluster
	default:
		return a.Vehicle == nil && b.Vehicle == nil && a.Cluster == nil && b.Cluster == nil
	}
}

func moved(aLat, aLng, bLat, bLng float64) bool {
	return motion.Distance(aLat, aLng, bLat, bLng) > posEpsilon
}

func vehicleIDFromKey(key string) string {
	if strings.HasPrefix(key, "vehicle-") {
		return strings.TrimPrefix(key, "vehicle-")
	}
	return ""
}
