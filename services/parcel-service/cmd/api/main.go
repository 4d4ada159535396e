// Command api runs the registration API: it serves parcel
// register/detail/list/bind-company/debug/analytics/monitoring
// endpoints and is the process that declares the broker topology every
// other process in this system assumes already exists.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/floroz/parcel-registry/internal/parcel"
	"github.com/floroz/parcel-registry/pkg/cache"
	"github.com/floroz/parcel-registry/pkg/config"
	"github.com/floroz/parcel-registry/pkg/database"
	"github.com/floroz/parcel-registry/pkg/document"
	"github.com/floroz/parcel-registry/pkg/events"
	"github.com/floroz/parcel-registry/services/parcel-service/internal/adapters/api"
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
	appCfg := config.LoadApp()
	metaCfg := config.LoadMeta()

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
	opts.PoolSize = redisCfg.MaxConnections
	opts.ReadTimeout = redisCfg.SocketTimeout
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

	txManager := database.NewPostgresTransactionManager(pool, dbCfg.LockTimeout)
	parcelRepo := adapterdb.NewParcelRepository()
	outboxRepo := adapterdb.NewOutboxRepository()
	companyRepo := adapterdb.NewCompanyRepository()
	typeRepo := adapterdb.NewParcelTypeRepository()
	combinedRepo := adapterdb.NewCombinedRepository()

	service := parcel.NewRegistrationService(txManager, parcelRepo, outboxRepo, companyRepo, typeRepo, combinedRepo, pool, logger)
	readCache := cache.NewReadThroughCache(rdb, logger)
	handler := api.NewHandler(service, readCache, auditStore)
	router := api.NewRouter(handler, pool, metaCfg)

	srv := &http.Server{Addr: appCfg.HTTPAddr, Handler: router}

	// The HTTP server and the topology declaration start side by side:
	// neither depends on the other, and a topology failure should stop
	// the process just as surely as a listener failure.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		topologyCh, err := conn.Channel()
		if err != nil {
			return err
		}
		defer topologyCh.Close()
		return events.DeclareTopology(topologyCh)
	})

	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() {
			logger.Info("registration api listening", "addr", appCfg.HTTPAddr, "title", metaCfg.Title, "version", metaCfg.Version)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
				return
			}
			errCh <- nil
		}()

		select {
		case err := <-errCh:
			return err
		case <-gctx.Done():
			logger.Info("shutting down registration api")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("registration api stopped with error", "error", err)
		os.Exit(1)
	}
}
