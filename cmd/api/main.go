package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"ledger/internal/attendance"
	"ledger/internal/config"
	"ledger/internal/httpapi"
	"ledger/internal/httpmiddleware"
	"ledger/internal/metrics"
	"ledger/internal/outbox"
	"ledger/internal/queue"
	"ledger/internal/statcache"
	"ledger/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	docs, err := store.OpenDocStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer docs.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var cache attendance.StatsCache
	if redisClient.Healthy(ctx) {
		cache = statcache.New(redisClient.Client, cfg.StatsCacheTTL)
	} else {
		log.Printf("warning: redis not reachable at %s, stats cache disabled", cfg.RedisAddr)
	}

	observer := metrics.New(prometheus.DefaultRegisterer)
	repo := attendance.NewRepository(docs, loc)

	recOpts := []attendance.RecorderOption{
		attendance.WithObserver(observer),
		attendance.WithConnectivity(attendance.StoreProbe{Store: docs, Timeout: cfg.ProbeTimeout}),
	}
	if cache != nil {
		recOpts = append(recOpts, attendance.WithStatsCache(cache))
	}

	// Events are only published when something drains them: the worker
	// behind the redis queue, or an in-process warmer for the memory queue.
	var q queue.Queue
	var msgs <-chan queue.Message
	switch {
	case cfg.QueueBackend != "memory":
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	case cache != nil:
		mem := queue.NewInMemory(64)
		if msgs, err = mem.Consume(ctx); err != nil {
			return err
		}
		q = mem
	default:
		log.Printf("no stats cache, session events disabled")
	}
	if q != nil {
		recOpts = append(recOpts, attendance.WithEvents(q))
	}

	var replayer *outbox.Replayer
	box, err := outbox.Open(cfg.OutboxPath)
	if err != nil {
		log.Printf("warning: outbox unavailable, offline sessions will be rejected: %v", err)
	} else {
		defer box.Close()
		recOpts = append(recOpts, attendance.WithOutbox(box))
	}
	recorder := attendance.NewRecorder(repo, recOpts...)
	agg := attendance.NewAggregator(repo, cache, observer)
	if msgs != nil {
		go attendance.NewWarmer(agg, cache).Run(ctx, msgs)
	}

	if box != nil {
		replayer = outbox.NewReplayer(box, recorder)
		if cfg.ReplayOnStart {
			if rep, err := replayer.Replay(ctx); err != nil {
				log.Printf("startup outbox replay failed: %v", err)
			} else {
				log.Printf("startup outbox replay: replayed=%d conflicts=%d remaining=%d", rep.Replayed, rep.Conflicts, rep.Remaining)
			}
		}
		go replayer.Run(ctx, cfg.ReplayInterval)
	}

	deps := httpapi.Deps{
		Repo:       repo,
		Roster:     attendance.NewRosterBuilder(repo, observer),
		Recorder:   recorder,
		Aggregator: agg,
		Exporter:   attendance.NewExporter(repo, observer),
		CapPolicy:  cfg.CapPolicy,
		Limiter:    httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		Checks: map[string]httpapi.HealthCheck{
			"store": func(ctx context.Context) bool { return docs.Ping(ctx) == nil },
			"redis": redisClient.Healthy,
		},
		Observer:   observer,
		SigningKey: cfg.JWTSigningKey,
		Issuer:     cfg.JWTIssuer,
	}
	if replayer != nil {
		deps.Replayer = replayer
	}

	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	// Per-IP limit in front of everything; /v1 adds a per-user bucket.
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin*2, cfg.RateLimitPerMin*2).GinMiddleware())

	httpapi.New(deps).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting ledger API on :%s (store=%s, queue=%s)", cfg.HTTPPort, cfg.StoreBackend, cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	cancel()

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Expose-Headers", "Content-Disposition")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
