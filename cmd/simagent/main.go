// Command simagent stands in for a real Call Agent: it drains call_requests,
// places a simulated call, and reports a call_callbacks outcome — letting the
// rest of the system be exercised end-to-end without an actual telephony
// integration (spec.md §1's "external Call Agent" boundary).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/outbound/campaign-dispatcher/internal/config"
	"github.com/outbound/campaign-dispatcher/internal/coordstore"
	"github.com/outbound/campaign-dispatcher/internal/domain"
	"github.com/outbound/campaign-dispatcher/internal/telephony"
	applog "github.com/outbound/campaign-dispatcher/pkg/logger"
)

const popTimeout = 1 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	callDuration := flag.Duration("call-duration", 200*time.Millisecond, "simulated call duration")
	seed := flag.Int64("seed", time.Now().UnixNano(), "RNG seed for simulated outcomes")
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

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
	})
	defer client.Close() //nolint:errcheck

	store := coordstore.New(client)
	defer store.Close() //nolint:errcheck

	provider := telephony.NewSimulatedProvider(*seed, *callDuration)

	logger.Info("simagent: started", zap.Duration("call_duration", *callDuration))

	for {
		if err := ctx.Err(); err != nil {
			return
		}

		requests, err := store.GetCallRequests(ctx, popTimeout)
		if err != nil {
			logger.Error("simagent: failed to drain call requests", zap.Error(err))
			continue
		}

		for _, req := range requests {
			handle(ctx, provider, store, req, logger.Logger)
		}
	}
}

func handle(ctx context.Context, provider telephony.Provider, store *coordstore.Store, req domain.CallRequest, logger *zap.Logger) {
	result, err := provider.PlaceCall(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error("simagent: call placement failed", zap.String("call_id", req.CallID), zap.Error(err))
		return
	}

	cb := domain.Callback{
		CallID:        req.CallID,
		CampaignID:    req.CampaignID,
		LeadID:        req.LeadID,
		PhoneNumber:   req.PhoneNumber,
		Status:        result.Status,
		Attempt:       req.Attempt,
		MaxAttempts:   req.MaxAttempts,
		RetryInterval: req.RetryInterval,
		Timestamp:     time.Now(),
		DurationMs:    result.Duration.Milliseconds(),
	}

	if err := store.SendCallCallback(ctx, cb); err != nil {
		logger.Error("simagent: failed to send call callback", zap.String("call_id", req.CallID), zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
