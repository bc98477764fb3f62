package postgres

import (
	"context"

	"fleetwise/internal/domain/fleet"

	"github.com/jackc/pgx/v5/pgxpool"
)

// FleetRepo reads vehicle registry data using pgx and plain SQL. The tracking
// service never writes business rows, so the repo holds the pool directly and
// runs plain queries without a transaction wrapper.
type FleetRepo struct {
	pool *pgxpool.Pool
}

// NewFleetRepo constructs a new FleetRepo.
func NewFleetRepo(pool *pgxpool.Pool) *FleetRepo {
	return &FleetRepo{pool: pool}
}

// LoadMetadata returns plate, driver, and limit data for the whole fleet,
// keyed by vehicle id. Vehicles without an assigned driver come back with
// empty driver fields.
func (repo *FleetRepo) LoadMetadata(ctx context.Context) (map[string]fleet.VehicleMeta, error) {
	rows, err := repo.pool.Query(ctx, `
		SELECT v.id, v.plate, v.speed_limit_kmh, v.fuel_percent,
		       COALESCE(d.name, ''), COALESCE(d.phone, '')
		FROM vehicles v
		LEFT JOIN drivers d ON d.id = v.driver_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]fleet.VehicleMeta)
	for rows.Next() {
		var m fleet.VehicleMeta
		if err := rows.Scan(
			&m.VehicleID,
			&m.Plate,
			&m.SpeedLimitKmh,
			&m.FuelPercent,
			&m.DriverName,
			&m.DriverPhone,
		); err != nil {
			return nil, err
		}
		out[m.VehicleID] = m
	}

	return out, rows.Err()
}

// LatestPositions returns the most recent position row per vehicle, used to
// seed the in-memory snapshot on startup before the live feed takes over.
func (repo *FleetRepo) LatestPositions(ctx context.Context) ([]fleet.VehiclePoint, error) {
	rows, err := repo.pool.Query(ctx, `
		SELECT DISTINCT ON (vehicle_id)
		       vehicle_id, latitude, longitude, speed_kmh,
		       heading_degrees, engine_on, recorded_at
		FROM vehicle_positions
		ORDER BY vehicle_id, recorded_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fleet.VehiclePoint
	for rows.Next() {
		var p fleet.VehiclePoint
		if err := rows.Scan(
			&p.ID,
			&p.Lat,
			&p.Lng,
			&p.SpeedKmh,
			&p.HeadingDegrees,
			&p.EngineOn,
			&p.RecordedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	return out, rows.Err()
}
