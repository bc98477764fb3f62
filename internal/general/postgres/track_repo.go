package postgres

import (
	"context"

	"fleetwise/internal/domain/fleet"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TrackRepo reads historical position rows for trail rendering.
type TrackRepo struct {
	pool *pgxpool.Pool
}

// NewTrackRepo constructs a new TrackRepo.
func NewTrackRepo(pool *pgxpool.Pool) *TrackRepo {
	return &TrackRepo{pool: pool}
}

// RecentTrail returns up to limit recent positions for a vehicle, oldest
// first, so the polyline draws from tail to current position.
func (repo *TrackRepo) RecentTrail(ctx context.Context, vehicleID string, limit int) ([]fleet.TrailPoint, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := repo.pool.Query(ctx, `
		SELECT latitude, longitude, speed_kmh, recorded_at
		FROM vehicle_positions
		WHERE vehicle_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, vehicleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pts []fleet.TrailPoint
	for rows.Next() {
		var p fleet.TrailPoint
		if err := rows.Scan(&p.Lat, &p.Lng, &p.SpeedKmh, &p.RecordedAt); err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse into chronological order
	for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
		pts[i], pts[j] = pts[j], pts[i]
	}

	return pts, nil
}
