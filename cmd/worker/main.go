package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/marketing-engine/internal/analytics"
	"github.com/ignite/marketing-engine/internal/config"
	"github.com/ignite/marketing-engine/internal/delivery"
	"github.com/ignite/marketing-engine/internal/journey"
	"github.com/ignite/marketing-engine/internal/mailer"
	"github.com/ignite/marketing-engine/internal/pkg/distlock"
	"github.com/ignite/marketing-engine/internal/scheduler"
	"github.com/ignite/marketing-engine/internal/store"
)

// The worker runs the step scheduler on its own, for deployments that
// separate the HTTP surface from journey processing. The claim query keeps
// concurrent workers safe.
func main() {
	log.Println("[Worker] Starting journey worker...")

	cfg, err := config.LoadFromEnv(config.Path())
	if err != nil {
		log.Fatalf("[Worker] Config error: %v", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatalf("[Worker] Database error: %v", err)
	}
	defer st.Close()
	log.Println("[Worker] Connected to database")

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender, err := mailer.FromConfig(ctx, cfg.Mailer)
	if err != nil {
		log.Fatalf("[Worker] Mailer error: %v", err)
	}

	renderer := delivery.NewRenderer(cfg.Tracking.BaseURL)
	pipeline := delivery.NewPipeline(st, sender, renderer, cfg.Scheduler.SendTimeout())

	journeySvc := journey.NewService(st)
	pipeline.SetEnrollmentExiter(journeySvc)

	analyticsSvc := analytics.NewService(st)

	sched := scheduler.New(st, pipeline, analyticsSvc, journeySvc, scheduler.Config{
		TickInterval: cfg.Scheduler.TickInterval(),
		WorkerCount:  cfg.Scheduler.WorkerCount,
		BatchSize:    cfg.Scheduler.BatchSize,
		MaxAttempts:  cfg.Scheduler.MaxSendAttempts,
		RetryBase:    cfg.Scheduler.RetryBase(),
	}).WithLock(distlock.New(rdb, st.DB(), "journey-scheduler-tick", cfg.Scheduler.TickInterval()))

	go sched.Run(ctx)
	log.Printf("[Worker] Scheduler running (tick %s, %d workers, batch %d)",
		cfg.Scheduler.TickInterval(), cfg.Scheduler.WorkerCount, cfg.Scheduler.BatchSize)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[Worker] Shutting down...")
	cancel()
	log.Println("[Worker] Stopped")
}
