package cluster

import (
	"fmt"
	"math"
	"sort"

	"fleetwise/internal/domain/fleet"
)

// Options controls clustering behaviour. Zero values fall back to defaults.
type Options struct {
	MinZoom   int     // lowest zoom with a precomputed level
	MaxZoom   int     // zoom at which every point renders individually
	RadiusPx  float64 // clustering radius in screen pixels
	Extent    float64 // tile extent the radius is expressed against
	MinPoints int     // minimum member count to form a cluster
}

func (o *Options) normalize() {
	if o.MaxZoom <= 0 {
		o.MaxZoom = 16
	}
	if o.MinZoom < 0 {
		o.MinZoom = 0
	}
	if o.MinZoom > o.MaxZoom {
		o.MinZoom = o.MaxZoom
	}
	if o.RadiusPx <= 0 {
		o.RadiusPx = 60
	}
	if o.Extent <= 0 {
		o.Extent = 256
	}
	if o.MinPoints < 2 {
		o.MinPoints = 2
	}
}

// Entity is one visible map entity: either a raw vehicle point or a synthetic
// cluster aggregating nearby points at the queried zoom.
type Entity struct {
	Key       string
	IsCluster bool
	Lat       float64
	Lng       float64
	Count     int
	ClusterID int64
	Point     *fleet.VehiclePoint // set for raw points only
	MemberIDs []string            // set for clusters only
}

// item is one node of a precomputed zoom level, in world coordinates.
// Leaves have pointIdx >= 0; clusters carry an id and >1 children.
type item struct {
	x, y     float64
	count    int
	pointIdx int32   // index into Index.points, -1 for clusters
	id       int64   // cluster id, 0 for leaves
	children []int32 // indices into the level one zoom above
}

type clusterRef struct {
	zoom int
	idx  int
}

// Index is an immutable spatial index over a vehicle snapshot. It precomputes
// cluster levels for every zoom between MinZoom and MaxZoom; queries are
// read-only and safe for concurrent use. Rebuilding from scratch on every
// data refresh is deliberate: fleets top out in the low thousands of points,
// so a full build is cheap next to feed latency.
type Index struct {
	opts   Options
	points []fleet.VehiclePoint
	levels [][]item // levels[z-opts.MinZoom]
	byID   map[int64]clusterRef
	bounds fleet.Bounds
}

// Build constructs an index from the given points. Callers are responsible
// for filtering invalid coordinates first (fleet.FilterValid); the index
// trusts its input. Points are ordered by id internally so that two builds
// over the same set produce identical cluster ids.
func Build(points []fleet.VehiclePoint, opts Options) *Index {
	opts.normalize()

	sorted := make([]fleet.VehiclePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	idx := &Index{
		opts:   opts,
		points: sorted,
		levels: make([][]item, opts.MaxZoom-opts.MinZoom+1),
		byID:   make(map[int64]clusterRef),
		bounds: fleet.NewBounds(),
	}

	// leaf level: every point individual at max zoom
	leaves := make([]item, len(sorted))
	for i, p := range sorted {
		x, y := project(p.Lng, p.Lat)
		leaves[i] = item{x: x, y: y, count: 1, pointIdx: int32(i), children: nil}
		idx.bounds.Extend(p.Lat, p.Lng)
	}
	idx.levels[opts.MaxZoom-opts.MinZoom] = leaves

	for z := opts.MaxZoom - 1; z >= opts.MinZoom; z-- {
		prev := idx.levels[z+1-opts.MinZoom]
		idx.levels[z-opts.MinZoom] = idx.clusterLevel(prev, z)
	}

	return idx
}

// clusterLevel merges the items of the level above within the zoom-scaled
// radius, producing the level for zoom z. Linear neighbor scans keep this
// simple; they are fine at fleet scale.
func (idx *Index) clusterLevel(prev []item, z int) []item {
	r := idx.opts.RadiusPx / (idx.opts.Extent * math.Pow(2, float64(z)))
	r2 := r * r

	out := make([]item, 0, len(prev))
	visited := make([]bool, len(prev))

	for i := range prev {
		if visited[i] {
			continue
		}
		visited[i] = true

		var neighbors []int32
		for j := i + 1; j < len(prev); j++ {
			if visited[j] {
				continue
			}
			dx := prev[j].x - prev[i].x
			dy := prev[j].y - prev[i].y
			if dx*dx+dy*dy <= r2 {
				neighbors = append(neighbors, int32(j))
			}
		}

		if len(neighbors)+1 < idx.opts.MinPoints {
			// carry the item down unchanged, remembering its origin
			carried := prev[i]
			carried.children = []int32{int32(i)}
			out = append(out, carried)
			continue
		}

		// weighted centroid over the merged items
		members := append([]int32{int32(i)}, neighbors...)
		var sx, sy float64
		count := 0
		for _, m := range members {
			visited[m] = true
			w := float64(prev[m].count)
			sx += prev[m].x * w
			sy += prev[m].y * w
			count += prev[m].count
		}
		inv := 1.0 / float64(count)

		id := encodeClusterID(z, len(out))
		idx.byID[id] = clusterRef{zoom: z, idx: len(out)}
		out = append(out, item{
			x:        sx * inv,
			y:        sy * inv,
			count:    count,
			pointIdx: -1,
			id:       id,
			children: members,
		})
	}

	return out
}

// encodeClusterID packs the formation zoom into the low bits so expansion
// lookups can recover it. Index position makes the id unique per build.
func encodeClusterID(zoom, pos int) int64 {
	return int64(pos)<<5 | int64(zoom+1)
}

// Query returns the entities visible in the given bounds at the given zoom.
// Zoom is clamped to the configured range; at MaxZoom every entity is a raw
// point. For a fixed index and fixed (bounds, zoom) the result is stable in
// membership, ids, and order.
func (idx *Index) Query(b fleet.Bounds, zoom int) []Entity {
	if len(idx.points) == 0 {
		return nil
	}
	if zoom < idx.opts.MinZoom {
		zoom = idx.opts.MinZoom
	}
	if zoom > idx.opts.MaxZoom {
		zoom = idx.opts.MaxZoom
	}

	level := idx.levels[zoom-idx.opts.MinZoom]
	var out []Entity
	for i := range level {
		it := &level[i]
		lng, lat := unproject(it.x, it.y)
		if !b.Contains(lat, lng) {
			continue
		}
		if it.pointIdx >= 0 {
			p := &idx.points[it.pointIdx]
			out = append(out, Entity{
				Key:   "vehicle-" + p.ID,
				Lat:   p.Lat,
				Lng:   p.Lng,
				Count: 1,
				Point: p,
			})
			continue
		}
		out = append(out, Entity{
			Key:       fmt.Sprintf("cluster-%d", it.id),
			IsCluster: true,
			Lat:       lat,
			Lng:       lng,
			Count:     it.count,
			ClusterID: it.id,
			MemberIDs: idx.memberIDs(zoom, i),
		})
	}
	return out
}

// memberIDs walks the level hierarchy down to leaves and collects vehicle ids.
func (idx *Index) memberIDs(zoom, pos int) []string {
	var ids []string
	var walk func(z, p int)
	walk = func(z, p int) {
		it := &idx.levels[z-idx.opts.MinZoom][p]
		if it.pointIdx >= 0 {
			ids = append(ids, idx.points[it.pointIdx].ID)
			return
		}
		for _, c := range it.children {
			walk(z+1, int(c))
		}
	}
	walk(zoom, pos)
	return ids
}

// ExpansionZoom returns the minimum zoom at which the given cluster splits
// into more than one entity, clamped to MaxZoom so clicking a tight pair does
// not zoom in absurdly far. Unknown ids resolve to MaxZoom.
func (idx *Index) ExpansionZoom(clusterID int64) int {
	ref, ok := idx.byID[clusterID]
	if !ok {
		return idx.opts.MaxZoom
	}
	z := ref.zoom
	it := &idx.levels[z-idx.opts.MinZoom][ref.idx]
	for z < idx.opts.MaxZoom && len(it.children) == 1 {
		z++
		it = &idx.levels[z-idx.opts.MinZoom][it.children[0]]
	}
	if z+1 > idx.opts.MaxZoom {
		return idx.opts.MaxZoom
	}
	return z + 1
}

// PointCount returns the number of indexed points.
func (idx *Index) PointCount() int {
	return len(idx.points)
}

// Bounds returns the bounding box of all indexed points.
func (idx *Index) Bounds() fleet.Bounds {
	return idx.bounds
}

// MaxZoom exposes the configured maximum zoom.
func (idx *Index) MaxZoom() int {
	return idx.opts.MaxZoom
}
