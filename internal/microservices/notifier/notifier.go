// Package notifier tails every realtime room for operations: each fan-out
// event is logged as one structured line. Useful when debugging what
// connected clients would have seen.
package notifier

import (
	"context"
	"encoding/json"

	"swiftdrop/internal/common/logger"
	"swiftdrop/internal/connections/rabbitmq"
	"swiftdrop/internal/realtime"
)

func Run(ctx context.Context, mq *rabbitmq.Client) error {
	lg := logger.New("notifier")

	msgs, err := mq.Consume(rabbitmq.NotificationsQueue, "notifier", 10)
	if err != nil {
		return err
	}

	lg.Info("notifier_started", map[string]any{"queue": rabbitmq.NotificationsQueue})
	for {
		select {
		case <-ctx.Done():
			lg.Info("graceful_shutdown", nil)
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev realtime.Event
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				lg.Error("event_decode_failed", err, map[string]any{"routing_key": d.RoutingKey})
				_ = d.Nack(false, false)
				continue
			}
			lg.Info("event_delivered", map[string]any{
				"room": ev.Room, "event": ev.Event, "message_id": ev.ID,
			})
			_ = d.Ack(false)
		}
	}
}
