// Package realtime is the fan-out layer: best-effort, room-keyed
// notifications for connected dashboards and apps. There is no durable
// queue per subscriber; a disconnected client misses the message and
// reconciles by refetching.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/google/uuid"

	"swiftdrop/internal/common/logger"
	"swiftdrop/internal/common/metrics"
	"swiftdrop/internal/connections/rabbitmq"
)

// Publisher is injected into the escrow ledger and delivery coordinator;
// callers publish after their transaction commits and never fail the
// operation on a publish error.
type Publisher interface {
	Publish(ctx context.Context, room, event string, payload any)
}

// Room names. Routing keys on the topic exchange, one room per key.
func UserRoom(id string) string     { return "user." + id }
func OrderRoom(id string) string    { return "order." + id }
func DeliveryRoom(id string) string { return "delivery." + id }
func AdminRoom(topic string) string { return "admin." + topic }

// DriverBroadcastRoom groups pending-request broadcasts by urgency so
// driver apps can subscribe per tier.
func DriverBroadcastRoom(urgency string) string { return "drivers." + urgency }

type Event struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type AMQPPublisher struct {
	mq *rabbitmq.Client
	lg *logger.Logger
}

func NewAMQPPublisher(mq *rabbitmq.Client, lg *logger.Logger) *AMQPPublisher {
	return &AMQPPublisher{mq: mq, lg: lg}
}

// Publish emits a transient message keyed by room. Errors are logged and
// swallowed; fan-out is best effort by design and the caller's state
// change has already been committed.
func (p *AMQPPublisher) Publish(ctx context.Context, room, event string, payload any) {
	ev := Event{
		ID:        uuid.NewString(),
		Room:      room,
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	body, err := json.Marshal(ev)
	if err != nil {
		p.lg.Error("realtime_marshal_failed", err, map[string]any{"room": room, "event": event})
		metrics.RealtimePublishTotal.WithLabelValues("error").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	headers := amqp.Table{"x-event": event, "x-message-id": ev.ID}
	if err := p.mq.Publish(ctx, rabbitmq.RealtimeExchange, room, body, headers, false); err != nil {
		p.lg.Error("realtime_publish_failed", err, map[string]any{"room": room, "event": event})
		metrics.RealtimePublishTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.RealtimePublishTotal.WithLabelValues("ok").Inc()
}

// NopPublisher discards events; used in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, any) {}

var _ Publisher = (*AMQPPublisher)(nil)
var _ Publisher = NopPublisher{}

// FanOut publishes the same event to several rooms.
func FanOut(ctx context.Context, p Publisher, event string, payload any, rooms ...string) {
	for _, room := range rooms {
		if room == "" {
			continue
		}
		p.Publish(ctx, room, event, payload)
	}
}
