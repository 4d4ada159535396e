//go:build integration

package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floroz/parcel-registry/internal/parcel"
	pkgdb "github.com/floroz/parcel-registry/pkg/database"
	"github.com/floroz/parcel-registry/pkg/events"
	"github.com/floroz/parcel-registry/pkg/testhelpers"
	adapterdb "github.com/floroz/parcel-registry/services/parcel-service/internal/adapters/database"
)

// TestOutboxRelay_PublishesAndMarksApplied runs the relay against a real
// Postgres instance and a real broker, verifying that a row inserted
// into outbox_events is both delivered and marked applied.
func TestOutboxRelay_PublishesAndMarksApplied(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	testDB := testhelpers.NewTestDatabase(t, "../../migrations")
	defer testDB.Close()

	broker := testhelpers.NewTestBroker(t)
	defer broker.Close()

	pubConn, err := amqp.Dial(broker.AmqpURL)
	require.NoError(t, err)
	defer pubConn.Close()

	topologyCh, err := pubConn.Channel()
	require.NoError(t, err)
	require.NoError(t, events.DeclareTopology(topologyCh))
	topologyCh.Close()

	publisher, err := events.NewRabbitMQPublisher(pubConn)
	require.NoError(t, err)
	defer publisher.Close()

	txManager := pkgdb.NewPostgresTransactionManager(testDB.Pool, 0)
	outboxRepo := adapterdb.NewOutboxRepository()
	relaySource := adapterdb.NewRelaySource(outboxRepo)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := events.NewOutboxRelay(relaySource, publisher, txManager, 10, 50*time.Millisecond, events.Exchange, logger)

	// Separate consumer connection to observe what actually reaches the
	// queue the worker would consume from.
	consumeConn, err := amqp.Dial(broker.AmqpURL)
	require.NoError(t, err)
	defer consumeConn.Close()

	consumeCh, err := consumeConn.Channel()
	require.NoError(t, err)
	defer consumeCh.Close()

	msgs, err := consumeCh.Consume(events.Queue, "test-consumer", true, false, false, false, nil)
	require.NoError(t, err)

	eventID := uuid.New().String()
	parcelID := uuid.New().String()
	sessionID := "session-relay"
	payload, err := json.Marshal(parcel.RegisterPayload{
		ParcelID:          parcelID,
		SessionID:         sessionID,
		Name:              "relay box",
		WeightKg:          1,
		TypeID:            1,
		CostAdjustmentUSD: 1,
	})
	require.NoError(t, err)

	_, err = testDB.Pool.Exec(ctx, `
		INSERT INTO outbox_events (id, parcel_id, session_id, event_type, payload, applied, created_at)
		VALUES ($1, $2, $3, $4, $5, false, now())
	`, eventID, parcelID, sessionID, parcel.EventTypeParcelRegistered, payload)
	require.NoError(t, err)

	relayCtx, cancel := context.WithCancel(ctx)
	go func() { _ = relay.Run(relayCtx) }()
	defer cancel()

	select {
	case msg := <-msgs:
		assert.Equal(t, parcel.EventTypeParcelRegistered, msg.RoutingKey)
		var wire struct {
			Payload   json.RawMessage `json:"payload"`
			EventType string          `json:"event_type"`
		}
		require.NoError(t, json.Unmarshal(msg.Body, &wire))
		assert.Equal(t, parcel.EventTypeParcelRegistered, wire.EventType)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the relay to publish the event")
	}

	require.Eventually(t, func() bool {
		var applied bool
		err := testDB.Pool.QueryRow(ctx, `SELECT applied FROM outbox_events WHERE id = $1`, eventID).Scan(&applied)
		return err == nil && applied
	}, 5*time.Second, 100*time.Millisecond, "event should be marked applied once published")
}

// TestConsumer_AcksAndDropsOnStrategyFailure verifies the deliberate
// ack-and-drop divergence: a handler error must still result in the
// delivery being acknowledged, never redelivered.
func TestConsumer_AcksAndDropsOnStrategyFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	broker := testhelpers.NewTestBroker(t)
	defer broker.Close()

	conn, err := amqp.Dial(broker.AmqpURL)
	require.NoError(t, err)
	defer conn.Close()

	topologyCh, err := conn.Channel()
	require.NoError(t, err)
	require.NoError(t, events.DeclareTopology(topologyCh))
	topologyCh.Close()

	publisher, err := events.NewRabbitMQPublisher(conn)
	require.NoError(t, err)
	defer publisher.Close()

	var callCount atomic.Int64
	strategyErr := errors.New("strategy failure for test purposes")
	registry := events.Registry{
		parcel.EventTypeParcelRegistered: func(ctx context.Context, eventType string, payload json.RawMessage) error {
			callCount.Add(1)
			return strategyErr
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	consumer := events.NewConsumer(conn, registry, 1, logger)

	consumeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	go func() { _ = consumer.Run(consumeCtx) }()

	body, err := json.Marshal(struct {
		Payload   json.RawMessage `json:"payload"`
		EventType string          `json:"event_type"`
	}{Payload: json.RawMessage(`{}`), EventType: parcel.EventTypeParcelRegistered})
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(ctx, events.Exchange, parcel.EventTypeParcelRegistered, body))

	<-consumeCtx.Done()

	// A failing handler that gets redelivered would drive callCount well
	// past one within this window; ack-and-drop keeps it at exactly one.
	assert.Equal(t, int64(1), callCount.Load())
}
