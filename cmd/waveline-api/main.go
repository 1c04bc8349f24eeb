// Waveline API — внешняя поверхность оркестрации.
//
// Принимает конвейеры (submit), отдаёт документы заданий (get),
// запускает retry и отдаёт hydrate-контекст воркерам.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/savrin/waveline/internal/api"
	"github.com/savrin/waveline/internal/bus"
	"github.com/savrin/waveline/internal/cache"
	"github.com/savrin/waveline/internal/config"
	"github.com/savrin/waveline/internal/manifest"
	"github.com/savrin/waveline/internal/orchestrator"
	"github.com/savrin/waveline/internal/store"
	"github.com/savrin/waveline/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waveline_api_http_requests_total",
		Help: "Total HTTP requests handled by waveline-api",
	})
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting waveline-api")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Job Store
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

	// Queue Bus + Cache Index
	queueBus, err := bus.New(ctx, cfg.RedisAddr, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer queueBus.Close()

	// Манифесты сервисов
	manifests := manifest.NewRegistry()
	if cfg.ManifestDir != "" {
		if err := manifests.LoadDir(cfg.ManifestDir); err != nil {
			logger.Error("failed to load manifests", "dir", cfg.ManifestDir, "error", err)
			os.Exit(1)
		}
	}
	logger.Info("manifests loaded", "services", manifests.Services())

	engine := orchestrator.New(orchestrator.Config{
		Store:          store.NewJobStore(pool),
		Bus:            queueBus,
		Cache:          cache.NewIndex(queueBus.Redis(), logger),
		Manifests:      manifests,
		Logger:         logger,
		TimeoutCeiling: time.Duration(cfg.StepTimeoutCeilingSec) * time.Second,
	})

	handler := api.NewHandler(api.Config{Engine: engine, Logger: logger})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	addr := fmt.Sprintf(":%d", cfg.APIPort)
	server := &http.Server{
		Addr: addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqTotal.Inc()
			mux.ServeHTTP(w, r)
		}),
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
