package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleetwise/internal/cluster"
	"fleetwise/internal/domain/fleet"
	"fleetwise/internal/general/contracts"
	"fleetwise/internal/general/logger"
	"fleetwise/internal/marker"

	"github.com/google/uuid"
)

const (
	// speed below which an engine-on vehicle counts as idling rather than moving
	movingSpeedKmh = 3.0
	// a vehicle with no report for this long shows as offline
	staleAfter = 5 * time.Minute
	// in-memory trail length when no history source is configured
	trailRingCap = 50
)

// Settings is the slice of configuration the tracking service needs.
type Settings struct {
	Provider        string // osm | esri | mapbox
	Style           string // streets | satellite
	MapboxToken     string
	ClusterRadiusPx int
	MaxZoom         int
}

// Service holds the authoritative fleet snapshot and fans changes out to map
// sessions. One instance serves all connected viewers; each viewer gets its
// own MapSession with its own marker registry.
type Service struct {
	log      *logger.Logger
	settings Settings
	meta     MetadataSource
	trails   TrailSource
	geo      Geocoder

	mu         sync.RWMutex
	state      map[string]fleet.VehiclePoint
	metaByID   map[string]fleet.VehicleMeta
	addr       map[string]string
	rings      map[string][]fleet.TrailPoint
	interested map[string]struct{}
	index      *cluster.Index
	generation uint64

	sessMu   sync.Mutex
	sessions map[string]*MapSession
}

// New constructs the tracking service. trails and geo may be nil; metadata
// may be nil in tests.
func New(log *logger.Logger, settings Settings, meta MetadataSource, trails TrailSource, geo Geocoder) *Service {
	if settings.ClusterRadiusPx <= 0 {
		settings.ClusterRadiusPx = 60
	}
	if settings.MaxZoom <= 0 {
		settings.MaxZoom = 16
	}
	s := &Service{
		log:        log,
		settings:   settings,
		meta:       meta,
		trails:     trails,
		geo:        geo,
		state:      make(map[string]fleet.VehiclePoint),
		metaByID:   make(map[string]fleet.VehicleMeta),
		addr:       make(map[string]string),
		rings:      make(map[string][]fleet.TrailPoint),
		interested: make(map[string]struct{}),
		sessions:   make(map[string]*MapSession),
	}
	s.rebuildLocked()
	return s
}

// Seed loads registry metadata and the last known position per vehicle so the
// map is populated before the first live report arrives.
func (s *Service) Seed(ctx context.Context) error {
	if s.meta == nil {
		return nil
	}

	metaByID, err := s.meta.LoadMetadata(ctx)
	if err != nil {
		return err
	}
	positions, err := s.meta.LatestPositions(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.metaByID = metaByID
	for _, p := range positions {
		p.Status = deriveStatus(p.SpeedKmh, p.EngineOn, p.RecordedAt)
		s.state[p.ID] = s.withMeta(p)
	}
	s.rebuildLocked()
	s.mu.Unlock()

	s.log.Info(ctx, "fleet_seeded", "Loaded fleet snapshot from database", map[string]any{
		"vehicles": len(positions),
		"metadata": len(metaByID),
	})

	s.notifySessions()
	return nil
}

// Apply merges a batch of telemetry reports into the snapshot, rebuilds the
// spatial index, and wakes every session to diff against the new state.
func (s *Service) Apply(ctx context.Context, reports []contracts.VehicleTelemetry) {
	if len(reports) == 0 {
		return
	}

	type pending struct {
		id       string
		lat, lng float64
	}
	var lookups []pending

	s.mu.Lock()
	for _, r := range reports {
		p := fleet.VehiclePoint{
			ID:             r.VehicleID,
			Lat:            r.Lat,
			Lng:            r.Lng,
			SpeedKmh:       r.SpeedKMH,
			HeadingDegrees: r.HeadingDegrees,
			EngineOn:       r.EngineOn,
			RecordedAt:     r.RecordedAt,
		}
		p.Status = deriveStatus(p.SpeedKmh, p.EngineOn, p.RecordedAt)
		p = s.withMeta(p)
		if err := p.Validate(); err != nil {
			s.log.Error(ctx, "telemetry_rejected", "Dropping invalid telemetry report", err, map[string]any{
				"vehicle_id": r.VehicleID,
			})
			continue
		}

		s.state[p.ID] = p
		s.appendRingLocked(p)

		if _, want := s.interested[p.ID]; want && s.geo != nil {
			// position changed; the cached address no longer applies
			delete(s.addr, p.ID)
			lookups = append(lookups, pending{id: p.ID, lat: p.Lat, lng: p.Lng})
		}
	}
	s.rebuildLocked()
	s.mu.Unlock()

	for _, l := range lookups {
		s.scheduleGeocode(ctx, l.id, l.lat, l.lng)
	}

	s.notifySessions()
}

// Sweep re-derives statuses so vehicles that stopped reporting decay to
// offline even with no fresh telemetry. Run it periodically.
func (s *Service) Sweep(ctx context.Context) {
	s.mu.Lock()
	changed := false
	for id, p := range s.state {
		status := deriveStatus(p.SpeedKmh, p.EngineOn, p.RecordedAt)
		if status != p.Status {
			p.Status = status
			s.state[id] = p
			changed = true
		}
	}
	if changed {
		s.rebuildLocked()
	}
	s.mu.Unlock()

	if changed {
		s.notifySessions()
	}
}

// Run drives the periodic stale sweep until ctx is canceled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Connect opens a map session for one viewer and starts its event loop.
func (s *Service) Connect(ctx context.Context, viewerID string, backend Backend) *MapSession {
	sess := newMapSession(uuid.NewString(), viewerID, s, backend)

	s.sessMu.Lock()
	s.sessions[sess.ID()] = sess
	s.sessMu.Unlock()

	sessCtx := s.log.WithSessionID(context.WithoutCancel(ctx), sess.ID())
	s.log.Info(sessCtx, "map_session_opened", "Viewer connected to live map", map[string]any{
		"viewer_id": viewerID,
	})

	sess.start(sessCtx)
	return sess
}

func (s *Service) dropSession(id string) {
	s.sessMu.Lock()
	delete(s.sessions, id)
	s.sessMu.Unlock()
}

func (s *Service) notifySessions() {
	s.sessMu.Lock()
	sessions := make([]*MapSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessMu.Unlock()

	for _, sess := range sessions {
		sess.dataChanged()
	}
}

// --- snapshot access (used by sessions) ---

// query returns the visible entities for one viewport.
func (s *Service) query(b fleet.Bounds, zoom int) []cluster.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Query(b, zoom)
}

func (s *Service) expansionZoom(clusterID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.ExpansionZoom(clusterID)
}

func (s *Service) fleetBounds() (fleet.Bounds, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Bounds(), s.index.PointCount()
}

// VehicleList returns the current snapshot sorted by vehicle id, for the
// dashboard's sidebar listing.
func (s *Service) VehicleList() []fleet.VehiclePoint {
	s.mu.RLock()
	out := make([]fleet.VehiclePoint, 0, len(s.state))
	for _, p := range s.state {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Service) vehicle(id string) (fleet.VehiclePoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state[id]
	return p, ok
}

// popupData assembles everything the popup shows for one vehicle.
func (s *Service) popupData(id string) (marker.PopupData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.state[id]
	if !ok {
		return marker.PopupData{}, false
	}
	return marker.PopupData{
		VehicleID:   p.ID,
		Plate:       p.Plate,
		DriverName:  p.DriverName,
		DriverPhone: p.DriverPhone,
		Status:      p.Status,
		SpeedKmh:    p.SpeedKmh,
		FuelPercent: p.FuelPercent,
		Address:     s.addr[id],
		Lat:         p.Lat,
		Lng:         p.Lng,
	}, true
}

// noteInterest marks a vehicle as popup-visible somewhere, which makes its
// address worth resolving. Kicks off a lookup if none is cached.
func (s *Service) noteInterest(ctx context.Context, id string) {
	s.mu.Lock()
	s.interested[id] = struct{}{}
	p, ok := s.state[id]
	_, cached := s.addr[id]
	s.mu.Unlock()

	if ok && !cached && s.geo != nil {
		s.scheduleGeocode(ctx, id, p.Lat, p.Lng)
	}
}

func (s *Service) dropInterest(id string) {
	s.mu.Lock()
	delete(s.interested, id)
	s.mu.Unlock()
}

func (s *Service) scheduleGeocode(ctx context.Context, id string, lat, lng float64) {
	s.geo.Schedule(ctx, id, lat, lng, func(address string) {
		s.mu.Lock()
		s.addr[id] = address
		s.mu.Unlock()

		s.sessMu.Lock()
		sessions := make([]*MapSession, 0, len(s.sessions))
		for _, sess := range s.sessions {
			sessions = append(sessions, sess)
		}
		s.sessMu.Unlock()

		for _, sess := range sessions {
			sess.addressUpdated(id)
		}
	})
}

// trailFor returns recent history for a vehicle: the database when a source
// is wired, otherwise the in-memory ring accumulated from live reports.
func (s *Service) trailFor(ctx context.Context, id string) ([]fleet.TrailPoint, error) {
	if s.trails != nil {
		return s.trails.RecentTrail(ctx, id, trailRingCap)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring := s.rings[id]
	out := make([]fleet.TrailPoint, len(ring))
	copy(out, ring)
	return out, nil
}

// --- internals, s.mu held ---

func (s *Service) withMeta(p fleet.VehiclePoint) fleet.VehiclePoint {
	m, ok := s.metaByID[p.ID]
	if !ok {
		return p
	}
	p.Plate = m.Plate
	p.DriverName = m.DriverName
	p.DriverPhone = m.DriverPhone
	p.SpeedLimitKmh = m.SpeedLimitKmh
	p.FuelPercent = m.FuelPercent
	return p
}

func (s *Service) appendRingLocked(p fleet.VehiclePoint) {
	ring := append(s.rings[p.ID], fleet.TrailPoint{
		Lat:        p.Lat,
		Lng:        p.Lng,
		SpeedKmh:   p.SpeedKmh,
		RecordedAt: p.RecordedAt,
	})
	if len(ring) > trailRingCap {
		ring = ring[len(ring)-trailRingCap:]
	}
	s.rings[p.ID] = ring
}

func (s *Service) rebuildLocked() {
	points := make([]fleet.VehiclePoint, 0, len(s.state))
	for _, p := range s.state {
		points = append(points, p)
	}
	s.index = cluster.Build(fleet.FilterValid(points), cluster.Options{
		RadiusPx: float64(s.settings.ClusterRadiusPx),
		MaxZoom:  s.settings.MaxZoom,
	})
	s.generation++
}

func deriveStatus(speedKmh float64, engineOn *bool, recordedAt time.Time) fleet.Status {
	switch {
	case time.Since(recordedAt) > staleAfter:
		return fleet.StatusOffline
	case speedKmh > movingSpeedKmh:
		return fleet.StatusMoving
	case engineOn != nil && !*engineOn:
		return fleet.StatusStopped
	default:
		return fleet.StatusIdle
	}
}
