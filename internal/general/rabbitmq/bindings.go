package rabbitmq

import (
	"fmt"

	"fleetwise/internal/general/contracts"

	amqp "github.com/rabbitmq/amqp091-go"
)

func declareTopology(ch *amqp.Channel) error {
	// 1. Exchanges
	if err := ch.ExchangeDeclare(contracts.ExchangeTelemetryFanout, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", contracts.ExchangeTelemetryFanout, err)
	}

	// 2. Queues
	if _, err := ch.QueueDeclare(contracts.QueueTelemetryTracking, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", contracts.QueueTelemetryTracking, err)
	}

	// 3. Bindings (fanout ignores routing keys)
	if err := ch.QueueBind(contracts.QueueTelemetryTracking, "", contracts.ExchangeTelemetryFanout, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", contracts.QueueTelemetryTracking, contracts.ExchangeTelemetryFanout, err)
	}

	return nil
}
