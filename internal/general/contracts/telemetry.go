package contracts

import "time"

// VehicleTelemetry is one position report from a vehicle tracker. It arrives
// either as a Postgres NOTIFY payload or on the telemetry fanout exchange;
// both feeds carry the same JSON shape.
type VehicleTelemetry struct {
	VehicleID      string    `json:"vehicle_id"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	SpeedKMH       float64   `json:"speed_kmh,omitempty"`
	HeadingDegrees *float64  `json:"heading_degrees,omitempty"`
	EngineOn       *bool     `json:"engine_on,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
	Envelope
}

// TelemetryBatch groups reports published together, e.g. one simulator tick.
// Exchange: ExchangeTelemetryFanout (fanout, no routing key).
type TelemetryBatch struct {
	Reports []VehicleTelemetry `json:"reports"`
	Envelope
}
