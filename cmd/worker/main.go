package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"ledger/internal/attendance"
	"ledger/internal/config"
	"ledger/internal/metrics"
	"ledger/internal/queue"
	"ledger/internal/statcache"
	"ledger/internal/store"
)

// Worker consumes session events and precomputes student stats into the cache.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend == "memory" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis; the in-memory queue lives inside the API process")
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	docs, err := store.OpenDocStore(ctx, cfg)
	if err != nil {
		log.Fatalf("document store connect failed: %v", err)
	}
	defer docs.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis not reachable at %s, will keep retrying", cfg.RedisAddr)
	}

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	cache := statcache.New(redisClient.Client, cfg.StatsCacheTTL)
	repo := attendance.NewRepository(docs, loc)
	agg := attendance.NewAggregator(repo, cache, metrics.New(prometheus.DefaultRegisterer))

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for session events...")
	attendance.NewWarmer(agg, cache).Run(ctx, messages)
	log.Println("worker stopped")
}
