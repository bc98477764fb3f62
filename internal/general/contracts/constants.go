package contracts

// Exchanges
const (
	ExchangeTelemetryFanout = "fleet_telemetry_fanout"
)

// Queues
const (
	QueueTelemetryTracking = "fleet_telemetry_tracking"
)
