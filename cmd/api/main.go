package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	dynamodbclient "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/dynamodb"
	dynidempotency "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/dynamodb/idempotency"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/httpapi"
	kafkaevents "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/kafka/events"
	memidempotency "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/memory/idempotency"
	memrecordrepo "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/memory/recordrepo"
	postgres "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/postgres"
	pgidempotency "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/postgres/idempotency"
	pgrecordrepo "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/postgres/recordrepo"
	redisidempotency "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/redis/idempotency"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/app/bulk"
	idemapp "github.com/Overland-East-Bay/catalog-intake-api/internal/app/idempotency"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/app/records"
	platformclock "github.com/Overland-East-Bay/catalog-intake-api/internal/platform/clock"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/platform/config"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/platform/logging"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/platform/metrics"
	eventsport "github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/events"
	idempotencyport "github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/idempotency"
	recordrepoport "github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/recordrepo"
)

var version = "dev"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logrus.WithError(err).Fatal("invalid config")
	}
	log, err := logging.New(cfg.Log, os.Stdout)
	if err != nil {
		logrus.WithError(err).Fatal("invalid log config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("api exited")
	}
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	clk := platformclock.NewSystemClock()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		recordRepo recordrepoport.Repository
		idemStore  idempotencyport.Store
		publisher  eventsport.Publisher = eventsport.Nop{}
		readiness  []httpapi.ReadinessCheck
		pool       *pgxpool.Pool
	)

	if cfg.Storage.Backend == config.BackendPostgres || cfg.Idempotency.Backend == config.BackendPostgres {
		p, err := postgres.NewPool(ctx, cfg.Storage.DatabaseURL, postgres.PoolOptions{})
		if err != nil {
			return err
		}
		defer p.Close()
		if err := postgres.Migrate(ctx, p); err != nil {
			return err
		}
		pool = p
		readiness = append(readiness, httpapi.ReadinessCheck{Name: "postgres", Ping: p.Ping})
	}

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		recordRepo = pgrecordrepo.NewRepo(pool)
	default:
		recordRepo = memrecordrepo.NewRepo(clk)
	}

	switch cfg.Idempotency.Backend {
	case config.BackendPostgres:
		idemStore = pgidempotency.NewStore(pool)
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		idemStore = redisidempotency.NewStore(client)
		readiness = append(readiness, httpapi.ReadinessCheck{Name: "redis", Ping: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	case config.BackendDynamoDB:
		client, err := dynamodbclient.NewClient(ctx, dynamodbclient.ClientOptions{
			Region:   cfg.DynamoDB.Region,
			Endpoint: cfg.DynamoDB.Endpoint,
		})
		if err != nil {
			return err
		}
		idemStore = dynidempotency.NewStore(client, cfg.DynamoDB.Table)
		readiness = append(readiness, httpapi.ReadinessCheck{Name: "dynamodb", Ping: func(ctx context.Context) error {
			_, err := client.DescribeTable(ctx, &dyn.DescribeTableInput{TableName: aws.String(cfg.DynamoDB.Table)})
			return err
		}})
	default:
		idemStore = memidempotency.NewStore()
	}

	if cfg.Events.Backend == config.EventsKafka {
		kp := kafkaevents.NewPublisher(kafkaevents.Options{Brokers: cfg.Events.Brokers, Topic: cfg.Events.Topic}, clk, log)
		defer func() {
			if err := kp.Close(); err != nil {
				log.WithError(err).Warn("failed to close kafka writer")
			}
		}()
		publisher = kp
	}

	svc := records.NewService(recordRepo, publisher, log)
	proc := bulk.NewProcessor(svc, svc.Validator(), log, bulk.Options{
		Limits:  bulk.Limits{MaxItems: cfg.Bulk.MaxItems, MaxSizeMB: cfg.Bulk.MaxSizeMB},
		Metrics: m,
	})
	gate := idemapp.NewGate(idemStore, clk, log, idemapp.Options{
		TTL:      cfg.Idempotency.TTL,
		FailOpen: cfg.Idempotency.FailOpen,
		Metrics:  m,
	})
	sweeper := idemapp.NewSweeper(idemStore, clk, log, idemapp.SweeperOptions{
		Interval: cfg.Idempotency.SweepInterval,
		Backoff:  cfg.Idempotency.SweepBackoff,
		Metrics:  m,
	})

	handler := httpapi.NewRouter(httpapi.NewServer(svc, proc, gate, log), httpapi.RouterOptions{
		Logger:         log,
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Readiness:      readiness,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(sweepCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":                cfg.Server.Port,
			"storage_backend":     cfg.Storage.Backend,
			"idempotency_backend": cfg.Idempotency.Backend,
			"events_backend":      cfg.Events.Backend,
		}).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
	cancelSweep()
	<-sweepDone
	return nil
}
