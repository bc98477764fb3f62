package service

import (
	"context"

	"fleetwise/internal/domain/fleet"
	"fleetwise/internal/general/contracts"
)

// FeedSource delivers live telemetry. Both the Postgres NOTIFY listener and
// the RabbitMQ consumer satisfy it; the service does not care which.
type FeedSource interface {
	Stream(ctx context.Context, handle func(contracts.VehicleTelemetry)) error
}

// MetadataSource loads registry data (plates, drivers, limits) for the fleet.
type MetadataSource interface {
	LoadMetadata(ctx context.Context) (map[string]fleet.VehicleMeta, error)
	LatestPositions(ctx context.Context) ([]fleet.VehiclePoint, error)
}

// TrailSource loads recent position history for one vehicle.
type TrailSource interface {
	RecentTrail(ctx context.Context, vehicleID string, limit int) ([]fleet.TrailPoint, error)
}

// Geocoder resolves coordinates to addresses, debounced per vehicle.
type Geocoder interface {
	Schedule(ctx context.Context, vehicleID string, lat, lng float64, deliver func(address string))
}
