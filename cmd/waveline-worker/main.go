// Waveline Worker — обёртка воркер-сервиса аудио-инструментов.
//
// Потребляет очередь своего сервиса (WORKER_SERVICE / -service),
// забирает контекст шагов через hydrate API и исполняет команды
// инструментов, отчитываясь в статусную очередь.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/savrin/waveline/internal/bus"
	"github.com/savrin/waveline/internal/config"
	"github.com/savrin/waveline/internal/telemetry"
	"github.com/savrin/waveline/internal/worker"
)

func main() {
	logger := telemetry.SetupLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	service := flag.String("service", cfg.WorkerService, "worker service name (queue routing key)")
	concurrency := flag.Int("concurrency", 2, "number of concurrent step executors")
	flag.Parse()

	if *service == "" {
		logger.Error("worker service not set (use -service or WORKER_SERVICE)")
		os.Exit(1)
	}

	logger.Info("starting waveline-worker", "service", *service)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	queueBus, err := bus.New(ctx, cfg.RedisAddr, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer queueBus.Close()

	w := worker.New(worker.Config{
		Service:     *service,
		Bus:         queueBus,
		Hydrate:     worker.NewHydrateClient(cfg.APIURL),
		Logger:      logger,
		Concurrency: *concurrency,
	})
	w.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, "ok")
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

	w.Stop()
	metricsServer.Close()

	logger.Info("stopped")
}
