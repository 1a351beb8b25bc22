package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/outbound/campaign-dispatcher/internal/api"
	"github.com/outbound/campaign-dispatcher/internal/api/handlers"
	"github.com/outbound/campaign-dispatcher/internal/config"
	"github.com/outbound/campaign-dispatcher/internal/infra/db"
	"github.com/outbound/campaign-dispatcher/internal/repository/postgres"
	"github.com/outbound/campaign-dispatcher/internal/telemetry"
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

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.App.Name+"-api")
	if err != nil {
		logger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pg.Close(context.Background()) //nolint:errcheck

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
	})
	defer redisClient.Close() //nolint:errcheck

	campaigns := postgres.NewCampaignRepository(pg.DB())
	stats := postgres.NewCampaignStatisticsRepository(pg.DB())

	deps := map[string]handlers.Pinger{
		"postgres": handlers.PingerFunc(func(ctx context.Context) error {
			return pg.DB().PingContext(ctx)
		}),
		"redis": handlers.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
	}

	if cfg.Scylla.Enabled {
		scyllaConn, err := db.NewScylla(cfg.Scylla)
		if err != nil {
			logger.Fatal("failed to connect to scylla", zap.Error(err))
		}
		defer scyllaConn.Close() //nolint:errcheck
		deps["scylla"] = handlers.PingerFunc(func(ctx context.Context) error {
			return scyllaConn.Session().Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
		})
	}

	handlerSet := handlers.NewHandlerSet(campaigns, stats, deps, logger.Logger)
	server := api.NewServer(cfg.HTTP, handlerSet)

	if err := server.Start(ctx); err != nil {
		logger.Fatal("server terminated", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
