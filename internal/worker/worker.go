package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/savrin/waveline/internal/bus"
	"github.com/savrin/waveline/internal/domain"
)

// Значения по умолчанию воркера.
const (
	defaultConcurrency = 2
	defaultPopTimeout  = 5 * time.Second
)

// Worker — процесс воркер-сервиса: потребляет сервисную очередь и
// исполняет шаги.
type Worker struct {
	service  string
	bus      *bus.Bus
	hydrate  *HydrateClient
	executor *CommandExecutor
	logger   *slog.Logger

	concurrency int
	popTimeout  time.Duration

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Worker.
type Config struct {
	// Service — имя сервиса; определяет потребляемую очередь.
	Service string

	Bus      *bus.Bus
	Hydrate  *HydrateClient
	Executor *CommandExecutor
	Logger   *slog.Logger

	// Concurrency — количество конкурентных исполнителей (default: 2).
	Concurrency int

	// PopTimeout — таймаут блокирующего pop (default: 5s).
	PopTimeout time.Duration
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	popTimeout := cfg.PopTimeout
	if popTimeout <= 0 {
		popTimeout = defaultPopTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	executor := cfg.Executor
	if executor == nil {
		executor = NewCommandExecutor(0)
	}
	return &Worker{
		service:     cfg.Service,
		bus:         cfg.Bus,
		hydrate:     cfg.Hydrate,
		executor:    executor,
		logger:      logger.With("service", cfg.Service),
		concurrency: concurrency,
		popTimeout:  popTimeout,
	}
}

// Start запускает исполнителей.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx)
		}()
	}

	w.logger.Info("worker started", "concurrency", w.concurrency)
}

// Stop останавливает воркер и дожидается текущих шагов.
func (w *Worker) Stop() {
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// loop — цикл одного исполнителя.
func (w *Worker) loop(ctx context.Context) {
	queue := bus.ServiceQueue(w.service)

	for {
		payload, err := w.bus.Pop(ctx, queue, w.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue pop failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if payload == nil {
			continue
		}

		msg, err := bus.ParseStepReadyMessage(payload)
		if err != nil {
			w.logger.Error("invalid step message dropped", "error", err)
			continue
		}

		w.processStep(ctx, msg)
	}
}

// processStep исполняет один шаг: hydrate → exec → статус.
func (w *Worker) processStep(ctx context.Context, msg *bus.StepReadyMessage) {
	logger := w.logger.With("job_id", msg.JobID, "step_name", msg.StepName)
	if msg.InstanceIndex != nil {
		logger = logger.With("instance", *msg.InstanceIndex)
	}

	step, err := w.hydrate.Hydrate(ctx, msg.JobID, msg.StepName, msg.InstanceIndex)
	if err != nil {
		logger.Error("hydrate failed", "error", err)
		w.report(ctx, msg, nil, domain.NewInfrastructureError(domain.ErrCodeHydrateFailed, err.Error()))
		return
	}

	logger.Info("step started", "program", step.CommandSpec.Program)
	started := time.Now()

	result, err := w.executor.Execute(ctx, step)
	if err != nil {
		logger.Error("executor failed", "error", err)
		w.report(ctx, msg, nil, domain.NewInfrastructureError(domain.ErrCodeToolStart, err.Error()))
		return
	}

	if result.Err != nil {
		logger.Warn("step failed",
			"error_type", result.Err.Type,
			"error_code", result.Err.Code,
			"duration", time.Since(started),
		)
		w.report(ctx, msg, nil, result.Err)
		return
	}

	logger.Info("step succeeded", "duration", time.Since(started), "outputs", len(result.Outputs))
	w.report(ctx, msg, result, nil)
}

// report публикует исход шага в статусную очередь.
func (w *Worker) report(ctx context.Context, msg *bus.StepReadyMessage, result *ExecutionResult, stepErr *domain.StepError) {
	status := bus.StatusMessage{
		JobID:         msg.JobID,
		StepName:      msg.StepName,
		InstanceIndex: msg.InstanceIndex,
	}

	if stepErr != nil {
		status.Outcome = domain.OutcomeFailed
		status.Error = stepErr
	} else {
		status.Outcome = domain.OutcomeComplete
		status.Outputs = result.Outputs
		status.OutputChecksums = result.Checksums
	}

	// При остановке ctx уже отменён — отправляем на свежем контексте,
	// иначе исход шага потеряется.
	pushCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		pushCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	if err := w.bus.Push(pushCtx, bus.StatusQueue, status); err != nil {
		w.logger.Error("status publish failed",
			"job_id", msg.JobID,
			"step_name", msg.StepName,
			"error", err,
		)
	}
}
