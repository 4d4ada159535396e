// Command worker runs the calculation worker: it consumes
// parcel.registered and parcel.recalculate messages from the durable
// queue the registration API declared, dispatches each to its
// strategy, and acknowledges every delivery regardless of outcome.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/floroz/parcel-registry/internal/parcel"
	"github.com/floroz/parcel-registry/pkg/cache"
	"github.com/floroz/parcel-registry/pkg/config"
	"github.com/floroz/parcel-registry/pkg/database"
	"github.com/floroz/parcel-registry/pkg/document"
	"github.com/floroz/parcel-registry/pkg/events"
	adapterdb "github.com/floroz/parcel-registry/services/parcel-service/internal/adapters/database"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	config.LoadDotEnv()
	dbCfg := config.LoadDatabase()
	redisCfg := config.LoadRedis()
	mongoCfg := config.LoadMongo()
	rabbitCfg := config.LoadRabbitMQ()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, dbCfg.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	opts, err := redis.ParseURL(redisCfg.URL)
	if err != nil {
		logger.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	mongoClient, err := mongo.Connect(options.Client().ApplyURI(mongoCfg.URI))
	if err != nil {
		logger.Error("failed to connect to mongo", "error", err)
		os.Exit(1)
	}
	defer mongoClient.Disconnect(ctx)
	auditStore := document.NewAuditStore(mongoClient.Database(mongoCfg.DBName), mongoCfg.CollectionName)

	conn, err := amqp.Dial(rabbitCfg.URL)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	txManager := database.NewPostgresTransactionManager(pool, 0)
	parcelRepo := adapterdb.NewParcelRepository()
	currency := cache.NewCurrencyService(rdb, nil, logger)
	strategies := parcel.NewStrategies(txManager, parcelRepo, currency, auditStore, logger)

	registry := events.Registry{
		parcel.EventTypeParcelRegistered:  strategies.Register,
		parcel.EventTypeParcelRecalculate: strategies.Recalculate,
	}

	consumer := events.NewConsumer(conn, registry, rabbitCfg.PrefetchCount, logger)

	logger.Info("calculation worker starting", "prefetch", rabbitCfg.PrefetchCount)
	if err := consumer.Run(ctx); err != nil {
		logger.Error("calculation worker stopped with error", "error", err)
		os.Exit(1)
	}
}
