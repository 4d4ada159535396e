package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// Handler processes one decoded message body for a given event type.
// An error return rolls back whatever transaction the handler opened;
// the consumer always acknowledges the delivery regardless of the
// outcome — see Consumer.Run.
type Handler func(ctx context.Context, eventType string, payload json.RawMessage) error

// Registry is the closed event-type -> handler mapping the calculation
// worker dispatches through.
type Registry map[string]Handler

// wireMessage mirrors the body shape the outbox publisher writes:
// {"payload": <object|null>, "event_type": "<key>"}.
type wireMessage struct {
	Payload   json.RawMessage `json:"payload"`
	EventType string          `json:"event_type"`
}

// Consumer pulls deliveries from a durable queue and dispatches each to
// the registered handler for its event type. It never declares
// topology — it passively checks the queue exists so misconfiguration
// fails fast instead of silently creating a mismatched queue.
type Consumer struct {
	conn     *amqp.Connection
	registry Registry
	prefetch int
	logger   *slog.Logger
}

func NewConsumer(conn *amqp.Connection, registry Registry, prefetch int, logger *slog.Logger) *Consumer {
	return &Consumer{conn: conn, registry: registry, prefetch: prefetch, logger: logger}
}

// Run opens a channel, verifies the queue exists, and processes
// deliveries until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclarePassive(Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue %q missing topology, is the registration API running: %w", Queue, err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(Queue, "calculation-worker", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.Info("calculation worker consuming", "queue", Queue, "prefetch", c.prefetch)

	// Deliveries are dispatched to handle concurrently, bounded by the
	// same prefetch count the channel's Qos just set, so in-flight work
	// never outruns the deliveries RabbitMQ is willing to push.
	limit := c.prefetch
	if limit < 1 {
		limit = 1
	}
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var closedErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case d, ok := <-deliveries:
			if !ok {
				closedErr = fmt.Errorf("delivery channel closed")
				break loop
			}
			g.Go(func() error {
				c.handle(ctx, d)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return closedErr
}

// handle decodes and dispatches one delivery. Every path ends in an
// Ack: a malformed body or an unknown event type is dropped after a
// log, and a handler error is also dropped after a log rather than
// requeued. This is a deliberate choice to avoid a poison message
// looping forever; see the strategy documentation for the tradeoff.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	defer func() {
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack delivery", "error", ackErr)
		}
	}()

	var msg wireMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Error("dropping malformed message", "error", err)
		return
	}

	handler, ok := c.registry[msg.EventType]
	if !ok {
		c.logger.Warn("dropping message with unknown event type", "event_type", msg.EventType)
		return
	}

	if err := handler(ctx, msg.EventType, msg.Payload); err != nil {
		c.logger.Error("strategy failed, dropping message", "event_type", msg.EventType, "error", err)
	}
}
