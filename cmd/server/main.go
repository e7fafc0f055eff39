// Package main is the entry point for the realtime notification server.
// It wires the session resolver, the Redis-backed group registry, the
// WebSocket handler, and the internal event ingestion endpoint.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bugtrackr/realtime/internal/config"
	"github.com/bugtrackr/realtime/internal/metrics"
	"github.com/bugtrackr/realtime/internal/notify"
	"github.com/bugtrackr/realtime/internal/registry"
	"github.com/bugtrackr/realtime/internal/session"
	"github.com/bugtrackr/realtime/internal/ws"
	"github.com/bugtrackr/realtime/pkg/logger"
	"github.com/bugtrackr/realtime/pkg/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger config is part of what failed to load.
		panic(err)
	}

	log := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: cfg.AppName,
	})
	defer func() {
		if err := log.Sync(); err != nil {
			log.Warn("Failed to sync logger", zap.Error(err))
		}
	}()

	// Create context that listens for the interrupt signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.NewClient(redis.Config{
		Host:         cfg.RedisHost,
		Port:         cfg.RedisPort,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		MinIdleConns: cfg.RedisMinIdleConns,
		MaxRetries:   cfg.RedisMaxRetries,
	}, log)
	if err != nil {
		log.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Warn("Failed to close redis client", zap.Error(err))
		}
	}()

	reg := registry.NewRedisRegistry(redisClient, cfg.GroupPrefix, log)
	store := session.NewRedisStore(redisClient)
	resolver := session.NewResolver(store, store, int64(cfg.SessionLookups), cfg.SessionTimeout, log)

	wsHandler := ws.NewHandler(reg, resolver, ws.Options{
		SendBufferSize: cfg.SendBufferSize,
		IdleTimeout:    cfg.IdleTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
	}, log)

	notifier := notify.NewNotifier(reg, log)

	mux := http.NewServeMux()
	mux.Handle("/ws/project/", wsHandler)
	mux.Handle("/internal/notify", notifier.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := redisClient.IsAvailable(r.Context()); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start Prometheus metrics server in a goroutine
	metricsServer := metrics.NewServer(":" + cfg.MetricsPort)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Metrics server exited", zap.Error(err))
		}
	}()

	go func() {
		log.Info("Starting realtime server",
			zap.String("port", cfg.AppPort),
			zap.String("metrics_port", cfg.MetricsPort),
			zap.String("environment", cfg.AppEnv),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to serve", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	log.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server shutdown", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Metrics server shutdown", zap.Error(err))
	}
	log.Info("Server stopped gracefully")
}
