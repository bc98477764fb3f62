package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"fleetwise/internal/domain/fleet"
	"fleetwise/internal/general/contracts"
	"fleetwise/internal/general/logger"
	"fleetwise/internal/general/rabbitmq"
)

// Simulator drives a synthetic fleet around a bounding box and publishes its
// telemetry to the fanout exchange. It exists so the tracking service can be
// exercised without real trackers.
type Simulator struct {
	pub      *rabbitmq.MQPublisher
	log      *logger.Logger
	bounds   fleet.Bounds
	interval time.Duration
	vehicles []*simVehicle
	rng      *rand.Rand
}

type simVehicle struct {
	id       string
	lat      float64
	lng      float64
	heading  float64 // degrees
	speedKmh float64
	engineOn bool
}

// New seeds count vehicles at random positions inside bounds.
func New(pub *rabbitmq.MQPublisher, log *logger.Logger, bounds fleet.Bounds, count int, interval time.Duration) *Simulator {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	vehicles := make([]*simVehicle, count)
	for i := range vehicles {
		vehicles[i] = &simVehicle{
			id:       fmt.Sprintf("sim-%03d", i+1),
			lat:      bounds.MinLat + rng.Float64()*(bounds.MaxLat-bounds.MinLat),
			lng:      bounds.MinLng + rng.Float64()*(bounds.MaxLng-bounds.MinLng),
			heading:  rng.Float64() * 360,
			speedKmh: rng.Float64() * 60,
			engineOn: true,
		}
	}

	return &Simulator{
		pub:      pub,
		log:      log,
		bounds:   bounds,
		interval: interval,
		vehicles: vehicles,
		rng:      rng,
	}
}

// Run ticks until ctx is canceled, publishing one batch per tick.
func (s *Simulator) Run(ctx context.Context) error {
	s.log.Info(ctx, "simulator_started", "Fleet simulator running", map[string]any{
		"vehicles":    len(s.vehicles),
		"interval_ms": s.interval.Milliseconds(),
	})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info(ctx, "simulator_stopped", "Fleet simulator stopped", nil)
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.log.Error(ctx, "simulator_publish_failed", "Failed to publish telemetry batch", err, nil)
			}
		}
	}
}

func (s *Simulator) tick(ctx context.Context) error {
	now := time.Now().UTC()
	reports := make([]contracts.VehicleTelemetry, 0, len(s.vehicles))

	for _, v := range s.vehicles {
		s.step(v)
		heading := v.heading
		engine := v.engineOn
		reports = append(reports, contracts.VehicleTelemetry{
			VehicleID:      v.id,
			Lat:            v.lat,
			Lng:            v.lng,
			SpeedKMH:       v.speedKmh,
			HeadingDegrees: &heading,
			EngineOn:       &engine,
			RecordedAt:     now,
		})
	}

	batch := contracts.TelemetryBatch{
		Reports: reports,
		Envelope: contracts.Envelope{
			Producer: "fleet-simulator",
			SentAt:   now,
		},
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return s.pub.Publish(contracts.ExchangeTelemetryFanout, "", body)
}

// step advances one vehicle: jitter the heading, vary the speed, and bounce
// off the bounding box edges. A small fraction of ticks toggles the engine so
// idle and stopped states show up on the map too.
func (s *Simulator) step(v *simVehicle) {
	if s.rng.Float64() < 0.02 {
		v.engineOn = !v.engineOn
	}
	if !v.engineOn {
		v.speedKmh = 0
		return
	}

	v.heading += (s.rng.Float64() - 0.5) * 30
	if v.heading < 0 {
		v.heading += 360
	}
	if v.heading >= 360 {
		v.heading -= 360
	}

	v.speedKmh += (s.rng.Float64() - 0.5) * 10
	if v.speedKmh < 0 {
		v.speedKmh = 0
	}
	if v.speedKmh > 90 {
		v.speedKmh = 90
	}

	// distance covered this tick, converted to degrees (~111 km per degree)
	distKm := v.speedKmh * s.interval.Hours()
	rad := v.heading * math.Pi / 180
	v.lat += distKm / 111.0 * math.Cos(rad)
	v.lng += distKm / 111.0 * math.Sin(rad) / math.Cos(v.lat*math.Pi/180)

	if v.lat < s.bounds.MinLat || v.lat > s.bounds.MaxLat {
		v.heading = math.Mod(540-v.heading, 360) // reverse north-south component
		v.lat = math.Max(s.bounds.MinLat, math.Min(s.bounds.MaxLat, v.lat))
	}
	if v.lng < s.bounds.MinLng || v.lng > s.bounds.MaxLng {
		v.heading = math.Mod(720-v.heading, 360) // reverse east-west component
		v.lng = math.Max(s.bounds.MinLng, math.Min(s.bounds.MaxLng, v.lng))
	}
}
