package rabbitmq

import (
	"context"
	"encoding/json"

	"fleetwise/internal/general/contracts"
	"fleetwise/internal/general/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TelemetryFeed consumes telemetry batches from the fanout queue and hands
// individual reports to a handler. It is the broker-backed twin of the
// Postgres NOTIFY listener; the tracking service picks one per config.
type TelemetryFeed struct {
	client *Client
	log    *logger.Logger
}

// NewTelemetryFeed constructs a feed over an established client.
func NewTelemetryFeed(client *Client, log *logger.Logger) *TelemetryFeed {
	return &TelemetryFeed{client: client, log: log}
}

// Stream blocks consuming telemetry until ctx is canceled or the channel
// breaks. Malformed bodies are acked and dropped so they cannot wedge the
// queue; decoding problems are a producer bug, not a reason to stall the map.
func (f *TelemetryFeed) Stream(ctx context.Context, handle func(contracts.VehicleTelemetry)) error {
	return f.client.Consume(ctx, contracts.QueueTelemetryTracking, "tracking-service", 32,
		func(ctx context.Context, d amqp.Delivery) error {
			var batch contracts.TelemetryBatch
			if err := json.Unmarshal(d.Body, &batch); err != nil {
				f.log.Error(ctx, "telemetry_body_invalid", "Dropping malformed telemetry batch", err, map[string]any{
					"size": len(d.Body),
				})
				return nil
			}

			for _, report := range batch.Reports {
				handle(report)
			}
			return nil
		})
}
