// Waveline Orchestrator — продвигает задания.
//
// Процесс держит пул консьюмеров статусной очереди (применение исходов
// шагов, планирование следующих волн, финализация) и sweeper
// (таймауты шагов, GC кэша).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/savrin/waveline/internal/bus"
	"github.com/savrin/waveline/internal/cache"
	"github.com/savrin/waveline/internal/config"
	"github.com/savrin/waveline/internal/manifest"
	"github.com/savrin/waveline/internal/orchestrator"
	"github.com/savrin/waveline/internal/store"
	"github.com/savrin/waveline/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting waveline-orchestrator")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := store.EnsureSchema(ctx, pool); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	queueBus, err := bus.New(ctx, cfg.RedisAddr, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer queueBus.Close()

	manifests := manifest.NewRegistry()
	if cfg.ManifestDir != "" {
		if err := manifests.LoadDir(cfg.ManifestDir); err != nil {
			logger.Error("failed to load manifests", "dir", cfg.ManifestDir, "error", err)
			os.Exit(1)
		}
	}

	cacheIndex := cache.NewIndex(queueBus.Redis(), logger)

	engine := orchestrator.New(orchestrator.Config{
		Store:          store.NewJobStore(pool),
		Bus:            queueBus,
		Cache:          cacheIndex,
		Manifests:      manifests,
		Logger:         logger,
		TimeoutCeiling: time.Duration(cfg.StepTimeoutCeilingSec) * time.Second,
	})

	consumer := orchestrator.NewStatusConsumer(orchestrator.ConsumerConfig{
		Engine:     engine,
		Bus:        queueBus,
		Logger:     logger,
		PoolSize:   cfg.ConsumerPoolSize,
		PopTimeout: time.Duration(cfg.PopTimeoutSec) * time.Second,
	})
	consumer.Start(ctx)

	sweeper := orchestrator.NewSweeper(orchestrator.SweeperConfig{
		Engine:   engine,
		Cache:    cacheIndex,
		Logger:   logger,
		Interval: time.Duration(cfg.SweepIntervalSec) * time.Second,
	})
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}

	// /metrics и /healthz
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	mux.Handle("/metrics", promhttp.Handler())

	metricsAddr := fmt.Sprintf(":%d", cfg.MetricsPort)
	metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		logger.Info("metrics listening", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	sweeper.Stop()
	consumer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)

	logger.Info("stopped")
}
