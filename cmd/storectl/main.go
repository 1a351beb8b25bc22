// Command storectl is an operational CLI for resetting a campaign's
// coordination-store state — the Go equivalent of the ad-hoc delete_keys.py
// script operators used to wipe a campaign's done/in-progress/retry keys
// before re-running it from scratch.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/outbound/campaign-dispatcher/internal/config"
)

const scanCount = 100

func main() {
	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	campaignID := flag.String("campaign", "", "campaign ID to reset (required unless -pattern is given)")
	pattern := flag.String("pattern", "", "override the key pattern instead of deriving one from -campaign")
	dryRun := flag.Bool("dry-run", false, "list matching keys without deleting them")
	flag.Parse()

	if *campaignID == "" && *pattern == "" {
		log.Fatal("storectl: -campaign or -pattern is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("storectl: failed to load configuration: %v", err)
	}

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

	matchPattern := *pattern
	if matchPattern == "" {
		matchPattern = fmt.Sprintf("camp:%s:*", *campaignID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := reset(ctx, client, matchPattern, *dryRun)
	if err != nil {
		log.Fatalf("storectl: %v", err)
	}

	if *dryRun {
		fmt.Printf("storectl: %d keys matched %q (dry run, nothing deleted)\n", deleted, matchPattern)
		return
	}
	fmt.Printf("storectl: deleted %d keys matching %q\n", deleted, matchPattern)
}

// reset scans the keyspace for matchPattern and deletes every matching key
// (with dryRun it only counts them), mirroring the cursor-driven SCAN+DELETE loop operators previously ran by
// hand (original delete_keys.py used "call*" against the whole keyspace).
func reset(ctx context.Context, client *redis.Client, matchPattern string, dryRun bool) (int, error) {
	var cursor uint64
	var total int

	for {
		keys, next, err := client.Scan(ctx, cursor, matchPattern, scanCount).Result()
		if err != nil {
			return total, fmt.Errorf("scan: %w", err)
		}

		if len(keys) > 0 {
			if dryRun {
				total += len(keys)
			} else {
				n, err := client.Del(ctx, keys...).Result()
				if err != nil {
					return total, fmt.Errorf("delete: %w", err)
				}
				total += int(n)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return total, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
