package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/nodeflow-go/internal/engine/executor"
	"github.com/nodeflow-go/internal/engine/node"
	"github.com/nodeflow-go/internal/handlers"
	"github.com/nodeflow-go/internal/queue"
	"github.com/nodeflow-go/internal/store/repository"
	"github.com/nodeflow-go/internal/usage"
	"github.com/nodeflow-go/internal/vault"
	"github.com/nodeflow-go/internal/worker"
	"github.com/nodeflow-go/pkg/config"
	"github.com/nodeflow-go/pkg/logger"
	"github.com/nodeflow-go/pkg/metrics"
)

func main() {
	cfg, err := config.Load("worker")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Logger)

	repo, err := repository.Open(cfg.Database)
	if err != nil {
		log.Fatal("Failed to open database", "error", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}

	vaultManager, err := vault.NewManager(cfg.Vault.EncryptionKey, repo, log)
	if err != nil {
		log.Fatal("Failed to initialize vault", "error", err)
	}

	registry := node.NewRegistry(log)
	closeHandlers, err := handlers.RegisterAll(registry, log)
	if err != nil {
		log.Fatal("Failed to register node handlers", "error", err)
	}

	jobQueue := queue.NewManager(redisClient, cfg.Redis.JobQueue, cfg.Worker.MaxJobAttempts, log)

	var tracker usage.Tracker = usage.Nop{}
	if cfg.Usage.Endpoint != "" {
		tracker = usage.NewHTTPTracker(cfg.Usage, log)
	}

	exec := executor.New(registry, repo, jobQueue, vaultManager, tracker, log)

	if cfg.Metrics.Enabled {
		go func() {
			log.Info("Metrics server listening", "addr", cfg.Metrics.Addr)
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	runCtx, stopWorkers := context.WithCancel(context.Background())
	pool := worker.NewPool(jobQueue, exec, cfg.Worker.Count, log)
	pool.Start(runCtx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down worker service...")
	stopWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownDeadline())
	defer cancel()

	if err := pool.Wait(shutdownCtx); err != nil {
		log.Error("Worker pool forced to shut down", "error", err)
	}
	closeHandlers()
	if err := redisClient.Close(); err != nil {
		log.Error("Failed to close Redis", "error", err)
	}

	log.Info("Worker service exited")
}
