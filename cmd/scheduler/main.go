package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/outbound/campaign-dispatcher/internal/config"
	"github.com/outbound/campaign-dispatcher/internal/coordstore"
	"github.com/outbound/campaign-dispatcher/internal/infra/db"
	"github.com/outbound/campaign-dispatcher/internal/repository/postgres"
	scyllarepo "github.com/outbound/campaign-dispatcher/internal/repository/scylla"
	"github.com/outbound/campaign-dispatcher/internal/scheduler"
	"github.com/outbound/campaign-dispatcher/internal/telemetry"
	"github.com/outbound/campaign-dispatcher/internal/worker/callback"
	applog "github.com/outbound/campaign-dispatcher/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := applog.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.App.Name+"-scheduler")
	if err != nil {
		logger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pg.Close(context.Background()) //nolint:errcheck

	redisOpts := &redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
	}

	listClient := redis.NewClient(redisOpts)
	defer listClient.Close() //nolint:errcheck

	campaigns := postgres.NewCampaignRepository(pg.DB())
	leads := postgres.NewLeadRepository(pg.DB())
	stats := postgres.NewCampaignStatisticsRepository(pg.DB())

	var history callback.HistorySink
	if cfg.Scylla.Enabled {
		scyllaConn, err := db.NewScylla(cfg.Scylla)
		if err != nil {
			logger.Fatal("failed to connect to scylla", zap.Error(err))
		}
		defer scyllaConn.Close() //nolint:errcheck
		history = scyllarepo.NewCallHistory(scyllaConn.Session())
	}

	// Each spawned Campaign Worker gets its own Coordination Store connection
	// *and* its own Postgres pool (spec.md §5, §9: one DB handle and one
	// store connection per task, bounding blast-radius on pool saturation).
	// The `campaigns`/`leads`/`stats` built above are never handed to a
	// worker: `campaigns`/`leads` serve the Scheduler's own listing cycle and
	// `stats` the Callback Consumer.
	newDeps := func(ctx context.Context, campaignID string) (scheduler.WorkerDeps, error) {
		workerPG, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return scheduler.WorkerDeps{}, err
		}

		client := redis.NewClient(redisOpts)
		store := coordstore.New(client)

		return scheduler.WorkerDeps{
			Campaigns: postgres.NewCampaignRepository(workerPG.DB()),
			Leads:     postgres.NewLeadRepository(workerPG.DB()),
			Store:     store,
			Stats:     postgres.NewCampaignStatisticsRepository(workerPG.DB()),
			Close: func() error {
				store.Close()
				return workerPG.Close(context.Background())
			},
		}, nil
	}

	sched := scheduler.New(
		campaigns,
		leads,
		newDeps,
		cfg.Scheduler.CheckInterval,
		cfg.Scheduler.MaxConcurrentCampaigns,
		cfg.Scheduler.CampaignFetchLimit,
		logger.Logger,
	)

	consumer := callback.New(coordstore.New(listClient), stats, logger.Logger).
		WithRetryConfig(callback.RetryConfig{
			DefaultRetryInterval: cfg.Retry.DefaultRetryInterval,
			MaxRetryAttempts:     cfg.Retry.MaxRetryAttempts,
		})
	if history != nil {
		consumer = consumer.WithHistory(history)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			logger.Error("component exited with error", zap.Error(err))
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
