package cluster

import (
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"fleetwise/internal/domain/fleet"
)

func worldBounds() fleet.Bounds {
	return fleet.Bounds{MinLat: -90, MinLng: -180, MaxLat: 90, MaxLng: 180}
}

func point(id string, lat, lng float64) fleet.VehiclePoint {
	return fleet.VehiclePoint{
		ID:         id,
		Lat:        lat,
		Lng:        lng,
		Status:     fleet.StatusMoving,
		RecordedAt: time.Now(),
	}
}

func TestProjectRoundTrip(t *testing.T) {
	cases := []struct{ lat, lng float64 }{
		{0, 0},
		{52.52, 13.405},
		{-33.8688, 151.2093},
		{85, -179.9},
		{-85, 179.9},
	}
	for _, c := range cases {
		x, y := project(c.lng, c.lat)
		lng, lat := unproject(x, y)
		if math.Abs(lat-c.lat) > 1e-9 || math.Abs(lng-c.lng) > 1e-9 {
			t.Errorf("round trip (%v, %v) -> (%v, %v)", c.lat, c.lng, lat, lng)
		}
	}
}

func TestMaxZoomRendersEveryPointIndividually(t *testing.T) {
	pts := []fleet.VehiclePoint{
		point("a", 52.5200, 13.4050),
		point("b", 52.52004, 13.40505), // ~5 m away
		point("c", 52.52008, 13.40510),
	}
	idx := Build(pts, Options{})

	out := idx.Query(worldBounds(), 16)
	if len(out) != 3 {
		t.Fatalf("expected 3 individual points at max zoom, got %d", len(out))
	}
	for _, e := range out {
		if e.IsCluster {
			t.Errorf("entity %s is a cluster at max zoom", e.Key)
		}
		if e.Point == nil {
			t.Errorf("entity %s missing point payload", e.Key)
		}
	}
}

func TestTightGroupsMergeAtLowZoom(t *testing.T) {
	// three vehicles within meters of each other, plus one city ~50 km away
	pts := []fleet.VehiclePoint{
		point("a", 52.5200, 13.4050),
		point("b", 52.52004, 13.40505),
		point("c", 52.52008, 13.40510),
		point("d", 52.3906, 13.0645), // Potsdam
	}
	idx := Build(pts, Options{})

	// at city zoom the tight trio is one cluster, the distant point separate
	out := idx.Query(worldBounds(), 10)
	if len(out) != 2 {
		t.Fatalf("expected 2 entities at zoom 10, got %d", len(out))
	}
	var trio *Entity
	for i := range out {
		if out[i].IsCluster && out[i].Count == 3 {
			trio = &out[i]
		}
	}
	if trio == nil {
		t.Fatalf("no cluster of 3 at zoom 10: %+v", out)
	}
	wantMembers := map[string]bool{"a": true, "b": true, "c": true}
	for _, id := range trio.MemberIDs {
		if !wantMembers[id] {
			t.Errorf("unexpected member %q", id)
		}
	}
	if len(trio.MemberIDs) != 3 {
		t.Errorf("expected 3 member ids, got %v", trio.MemberIDs)
	}

	// zoomed all the way out everything folds into one cluster of 4
	out = idx.Query(worldBounds(), 0)
	if len(out) != 1 || !out[0].IsCluster || out[0].Count != 4 {
		t.Fatalf("expected single cluster of 4 at zoom 0, got %+v", out)
	}
}

func TestEntityCountNeverDecreasesWithZoom(t *testing.T) {
	pts := []fleet.VehiclePoint{
		point("a", 52.5200, 13.4050),
		point("b", 52.52004, 13.40505),
		point("c", 52.52008, 13.40510),
		point("d", 52.3906, 13.0645),
		point("e", 48.8566, 2.3522),
		point("f", 48.8570, 2.3530),
	}
	idx := Build(pts, Options{})

	prev := 0
	for z := 0; z <= 16; z++ {
		n := len(idx.Query(worldBounds(), z))
		if n < prev {
			t.Fatalf("entity count dropped from %d to %d at zoom %d", prev, n, z)
		}
		prev = n
	}
	if prev != len(pts) {
		t.Fatalf("expected all %d points at max zoom, got %d", len(pts), prev)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	pts := []fleet.VehiclePoint{
		point("d", 52.3906, 13.0645),
		point("a", 52.5200, 13.4050),
		point("c", 52.52008, 13.40510),
		point("b", 52.52004, 13.40505),
	}
	a := Build(pts, Options{})

	// same set, different input order
	shuffled := []fleet.VehiclePoint{pts[2], pts[0], pts[3], pts[1]}
	b := Build(shuffled, Options{})

	for z := 0; z <= 16; z++ {
		qa := a.Query(worldBounds(), z)
		qb := b.Query(worldBounds(), z)
		if !reflect.DeepEqual(keysOf(qa), keysOf(qb)) {
			t.Fatalf("zoom %d: keys diverge: %v vs %v", z, keysOf(qa), keysOf(qb))
		}
	}
}

func keysOf(es []Entity) []string {
	keys := make([]string, len(es))
	for i, e := range es {
		keys[i] = e.Key
	}
	return keys
}

func TestExpansionZoom(t *testing.T) {
	pts := []fleet.VehiclePoint{
		point("a", 52.5200, 13.4050),
		point("b", 52.52004, 13.40505), // meters apart: only split at max zoom
		point("c", 52.3906, 13.0645),
	}
	idx := Build(pts, Options{})

	out := idx.Query(worldBounds(), 10)
	var pair *Entity
	for i := range out {
		if out[i].IsCluster && out[i].Count == 2 {
			pair = &out[i]
		}
	}
	if pair == nil {
		t.Fatalf("no pair cluster at zoom 10: %+v", out)
	}
	ez := idx.ExpansionZoom(pair.ClusterID)
	if ez != 16 {
		t.Errorf("expected expansion zoom clamped to 16 for near-coincident pair, got %d", ez)
	}
	if got := idx.Query(worldBounds(), ez); len(got) != 3 {
		t.Errorf("expected 3 entities at expansion zoom, got %d", len(got))
	}

	if got := idx.ExpansionZoom(999999); got != 16 {
		t.Errorf("unknown cluster id should resolve to max zoom, got %d", got)
	}
}

func TestQueryFiltersByBounds(t *testing.T) {
	pts := []fleet.VehiclePoint{
		point("berlin", 52.5200, 13.4050),
		point("paris", 48.8566, 2.3522),
	}
	idx := Build(pts, Options{})

	berlinOnly := fleet.Bounds{MinLat: 52, MinLng: 13, MaxLat: 53, MaxLng: 14}
	out := idx.Query(berlinOnly, 16)
	if len(out) != 1 || out[0].Key != "vehicle-berlin" {
		t.Fatalf("expected only berlin, got %+v", out)
	}
}

func TestEmptyIndex(t *testing.T) {
	idx := Build(nil, Options{})
	if out := idx.Query(worldBounds(), 5); out != nil {
		t.Fatalf("expected nil result, got %+v", out)
	}
	if n := idx.PointCount(); n != 0 {
		t.Fatalf("expected zero points, got %d", n)
	}
}

func TestLargeFleetClusterCounts(t *testing.T) {
	var pts []fleet.VehiclePoint
	for i := 0; i < 200; i++ {
		lat := 52.3 + float64(i%20)*0.002
		lng := 13.2 + float64(i/20)*0.002
		pts = append(pts, point(fmt.Sprintf("v%03d", i), lat, lng))
	}
	idx := Build(pts, Options{})

	low := idx.Query(worldBounds(), 4)
	if len(low) >= 200 {
		t.Fatalf("expected aggregation at low zoom, got %d entities", len(low))
	}
	total := 0
	for _, e := range low {
		total += e.Count
	}
	if total != 200 {
		t.Fatalf("cluster counts must sum to point count, got %d", total)
	}
}
