package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"fleetwise/internal/general/contracts"
	"fleetwise/internal/general/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TelemetryListener turns Postgres LISTEN/NOTIFY into a telemetry feed.
// Trackers (or an ingest trigger) NOTIFY the channel with one JSON report
// per payload; the listener holds a dedicated connection and hands decoded
// reports to the handler.
type TelemetryListener struct {
	pool    *pgxpool.Pool
	channel string
	log     *logger.Logger
}

// NewTelemetryListener constructs a listener on the given NOTIFY channel.
func NewTelemetryListener(pool *pgxpool.Pool, channel string, log *logger.Logger) *TelemetryListener {
	return &TelemetryListener{pool: pool, channel: channel, log: log}
}

// Stream blocks, delivering each telemetry report to handle until ctx is
// canceled or the connection breaks. A broken connection returns an error;
// the caller decides whether to retry.
func (l *TelemetryListener) Stream(ctx context.Context, handle func(contracts.VehicleTelemetry)) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf(`LISTEN %q`, l.channel)); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}

	l.log.Info(ctx, "telemetry_listen_started", "Listening for vehicle telemetry", map[string]any{
		"channel": l.channel,
	})

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wait for notification: %w", err)
		}

		var report contracts.VehicleTelemetry
		if err := json.Unmarshal([]byte(n.Payload), &report); err != nil {
			// a malformed payload must not kill the feed
			l.log.Error(ctx, "telemetry_payload_invalid", "Dropping malformed telemetry payload", err, map[string]any{
				"channel": l.channel,
			})
			continue
		}

		handle(report)
	}
}
