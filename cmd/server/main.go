package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/marketing-engine/internal/analytics"
	"github.com/ignite/marketing-engine/internal/api"
	"github.com/ignite/marketing-engine/internal/config"
	"github.com/ignite/marketing-engine/internal/delivery"
	"github.com/ignite/marketing-engine/internal/ingress"
	"github.com/ignite/marketing-engine/internal/journey"
	"github.com/ignite/marketing-engine/internal/mailer"
	"github.com/ignite/marketing-engine/internal/pkg/distlock"
	"github.com/ignite/marketing-engine/internal/scheduler"
	"github.com/ignite/marketing-engine/internal/store"
)

func main() {
	log.Println("[Server] Starting marketing engine...")

	cfg, err := config.LoadFromEnv(config.Path())
	if err != nil {
		log.Fatalf("[Server] Config error: %v", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatalf("[Server] Database error: %v", err)
	}
	defer st.Close()
	log.Println("[Server] Connected to database")

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
		log.Fatalf("[Server] Mailer error: %v", err)
	}
	log.Printf("[Server] Mailer provider: %s", cfg.Mailer.Provider)

	renderer := delivery.NewRenderer(cfg.Tracking.BaseURL)
	pipeline := delivery.NewPipeline(st, sender, renderer, cfg.Scheduler.SendTimeout())

	journeySvc := journey.NewService(st)
	pipeline.SetEnrollmentExiter(journeySvc)

	analyticsSvc := analytics.NewService(st)
	ingressSvc := ingress.NewService(journeySvc, st)

	handlers := api.NewHandlers(journeySvc, pipeline, analyticsSvc, ingressSvc, st)

	// The scheduler runs in-process by default; set RUN_SCHEDULER=false to
	// move it to the dedicated worker binary.
	if os.Getenv("RUN_SCHEDULER") != "false" {
		sched := scheduler.New(st, pipeline, analyticsSvc, journeySvc, scheduler.Config{
			TickInterval: cfg.Scheduler.TickInterval(),
			WorkerCount:  cfg.Scheduler.WorkerCount,
			BatchSize:    cfg.Scheduler.BatchSize,
			MaxAttempts:  cfg.Scheduler.MaxSendAttempts,
			RetryBase:    cfg.Scheduler.RetryBase(),
		}).WithLock(distlock.New(rdb, st.DB(), "journey-scheduler-tick", cfg.Scheduler.TickInterval()))
		handlers.SetSchedulerStats(sched)
		go sched.Run(ctx)
		log.Println("[Server] In-process scheduler started")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handlers),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("[Server] Listening on %s", cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[Server] HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[Server] Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] Shutdown error: %v", err)
	}
	log.Println("[Server] Stopped")
}
