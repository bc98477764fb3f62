package fleetsimulator

import (
	"context"
	"time"

	"fleetwise/internal/domain/fleet"
	"fleetwise/internal/general/config"
	"fleetwise/internal/general/logger"
	"fleetwise/internal/general/rabbitmq"
	"fleetwise/internal/software/simulator"
)

// Run wires the fleet simulator and blocks until ctx is cancelled.
func Run(ctx context.Context, vehicles int, interval time.Duration) error {
	// set up a new logger and context for the simulator with a static session ID for startup logs
	logger := logger.New("fleet-simulator")
	ctx = logger.WithSessionID(ctx, "startup-001")

	// load a config from file
	cfg, err := config.LoadFromFile("config/config.yaml")
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load configuration", err, nil)
		return err
	}

	// connect to RabbitMQ
	rmq, err := rabbitmq.ConnectRabbitMQ(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
		return err
	}

	// set up the RabbitMQ publisher
	pub := rabbitmq.NewMQPublisher(rmq)

	// simulated fleet roams central Berlin
	bounds := fleet.Bounds{MinLat: 52.45, MinLng: 13.25, MaxLat: 52.58, MaxLng: 13.50}

	sim := simulator.New(pub, logger, bounds, vehicles, interval)
	return sim.Run(ctx)
}
