package events

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// Exchange is the single topic exchange both the publisher and the
	// worker bind to. Only the topology initializer declares it.
	Exchange = "parcel_exchange"
	// Queue is the durable queue the calculation worker consumes from.
	Queue = "parcel_registry_queue"
)

// DeclareTopology declares the exchange, queue, and bindings this
// system needs. Only the registration API calls this, at startup — the
// publisher and the worker treat topology as already present.
func DeclareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	for _, routingKey := range []string{"parcel.registered", "parcel.recalculate"} {
		if err := ch.QueueBind(q.Name, routingKey, Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue for %s: %w", routingKey, err)
		}
	}

	return nil
}

// RabbitMQPublisher publishes outbox rows with publisher confirms and
// persistent delivery. It never declares topology itself.
type RabbitMQPublisher struct {
	channel *amqp.Channel
}

// NewRabbitMQPublisher opens a confirm-mode channel on conn. The
// exchange is expected to already exist, declared by the topology
// initializer.
func NewRabbitMQPublisher(conn *amqp.Connection) (*RabbitMQPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return &RabbitMQPublisher{channel: ch}, nil
}

func (p *RabbitMQPublisher) Close() error {
	return p.channel.Close()
}

// Publish sends body to exchange with routingKey, waiting for the
// broker's publisher confirm before returning.
func (p *RabbitMQPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	ok, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !ok {
		return fmt.Errorf("broker nacked publish to %s/%s", exchange, routingKey)
	}

	return nil
}
