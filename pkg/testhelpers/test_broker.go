package testhelpers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestBroker is a RabbitMQ testcontainer exposing an AMQP connection
// string, used by the publisher and worker integration tests.
type TestBroker struct {
	Container *rabbitmq.RabbitMQContainer
	AmqpURL   string
}

func NewTestBroker(t *testing.T) *TestBroker {
	t.Helper()
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(testcontainers.TestLogger(t)),
	)
	if err != nil {
		t.Fatalf("failed to start rabbitmq container: %s", err)
	}

	amqpURL, err := container.AmqpURL(ctx)
	if err != nil {
		t.Fatalf("failed to get amqp url: %s", err)
	}

	return &TestBroker{Container: container, AmqpURL: amqpURL}
}

func (tb *TestBroker) Close() {
	ctx := context.Background()
	if err := tb.Container.Terminate(ctx); err != nil {
		fmt.Printf("failed to terminate rabbitmq container: %v\n", err)
	}
}
