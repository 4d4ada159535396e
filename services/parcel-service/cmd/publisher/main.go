// Command publisher runs the outbox publisher: it repeatedly claims a
// batch of unapplied outbox rows under row locks and drains them to
// the broker. It never declares broker topology — the registration API
// process owns that.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/floroz/parcel-registry/pkg/config"
	"github.com/floroz/parcel-registry/pkg/database"
	"github.com/floroz/parcel-registry/pkg/events"
	adapterdb "github.com/floroz/parcel-registry/services/parcel-service/internal/adapters/database"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	config.LoadDotEnv()
	dbCfg := config.LoadDatabase()
	rabbitCfg := config.LoadRabbitMQ()
	pubCfg := config.LoadPublisher()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, dbCfg.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	conn, err := amqp.Dial(rabbitCfg.URL)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	publisher, err := events.NewRabbitMQPublisher(conn)
	if err != nil {
		logger.Error("failed to open publisher channel", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	txManager := database.NewPostgresTransactionManager(pool, 0)
	outboxRepo := adapterdb.NewOutboxRepository()
	relaySource := adapterdb.NewRelaySource(outboxRepo)

	relay := events.NewOutboxRelay(relaySource, publisher, txManager, pubCfg.BatchSize, pubCfg.SleepInterval, events.Exchange, logger)

	logger.Info("outbox publisher starting", "batch_size", pubCfg.BatchSize, "sleep_interval", pubCfg.SleepInterval)
	if err := relay.Run(ctx); err != nil {
		logger.Error("outbox publisher stopped with error", "error", err)
		os.Exit(1)
	}
}
