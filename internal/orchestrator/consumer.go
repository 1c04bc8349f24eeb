package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/savrin/waveline/internal/bus"
	"github.com/savrin/waveline/internal/domain"
	"github.com/savrin/waveline/internal/store"
	"github.com/savrin/waveline/internal/telemetry"
)

// Значения по умолчанию для пула консьюмеров.
const (
	defaultPoolSize   = 4
	defaultPopTimeout = 5 * time.Second
)

// StatusConsumer — пул воркеров, дренирующих статусную очередь.
//
// Каждый воркер блокирующе забирает сообщение, применяет исход к
// документу задания и перезапускает планировщик. Нечитаемые сообщения
// отбрасываются; сообщения, упавшие на инфраструктурной ошибке,
// возвращаются в очередь для повторной доставки.
type StatusConsumer struct {
	engine *Engine
	bus    *bus.Bus
	logger *slog.Logger

	poolSize   int
	popTimeout time.Duration

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ConsumerConfig — конфигурация StatusConsumer.
type ConsumerConfig struct {
	Engine *Engine
	Bus    *bus.Bus
	Logger *slog.Logger

	// PoolSize — количество конкурентных воркеров (default: 4).
	PoolSize int

	// PopTimeout — таймаут блокирующего pop (default: 5s).
	PopTimeout time.Duration
}

// NewStatusConsumer создаёт пул консьюмеров.
func NewStatusConsumer(cfg ConsumerConfig) *StatusConsumer {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	popTimeout := cfg.PopTimeout
	if popTimeout <= 0 {
		popTimeout = defaultPopTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusConsumer{
		engine:     cfg.Engine,
		bus:        cfg.Bus,
		logger:     logger,
		poolSize:   poolSize,
		popTimeout: popTimeout,
	}
}

// Start запускает пул.
func (c *StatusConsumer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	for i := 0; i < c.poolSize; i++ {
		c.wg.Add(1)
		go func(worker int) {
			defer c.wg.Done()
			c.loop(ctx, worker)
		}(i)
	}

	c.logger.Info("status consumer started", "pool_size", c.poolSize)
}

// Stop останавливает пул и дожидается воркеров.
func (c *StatusConsumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
	c.logger.Info("status consumer stopped")
}

// loop — цикл одного воркера пула.
func (c *StatusConsumer) loop(ctx context.Context, worker int) {
	for {
		payload, err := c.bus.Pop(ctx, bus.StatusQueue, c.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("status pop failed", "worker", worker, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if payload == nil {
			continue // таймаут pop — очередь пуста
		}

		msg, err := bus.ParseStatusMessage(payload)
		if err != nil {
			c.logger.Error("invalid status message dropped", "worker", worker, "error", err)
			continue
		}

		if err := c.engine.HandleStatus(ctx, msg); err != nil {
			if ctx.Err() != nil {
				// Остановка посреди обработки: сообщение не потеряно,
				// возвращаем его в очередь.
				requeueCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if rqErr := c.bus.Requeue(requeueCtx, bus.StatusQueue, payload); rqErr != nil {
					c.logger.Error("requeue on shutdown failed", "error", rqErr)
				}
				cancel()
				return
			}

			c.logger.Error("status apply failed, requeueing",
				"worker", worker,
				"job_id", msg.JobID,
				"step_name", msg.StepName,
				"error", err,
			)
			if rqErr := c.bus.Requeue(ctx, bus.StatusQueue, payload); rqErr != nil {
				c.logger.Error("requeue failed, message lost", "error", rqErr)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// HandleStatus применяет статусное сообщение воркера к документу
// задания и перезапускает планировщик.
//
// Применение идемпотентно: исход ложится только на шаг/инстанс в
// in-flight статусе; дубликаты и поздние результаты (после таймаута
// или retry) отбрасываются по текущему статусу.
func (e *Engine) HandleStatus(ctx context.Context, msg *bus.StatusMessage) error {
	job, err := e.store.Mutate(ctx, msg.JobID, func(j *domain.Job) error {
		return applyOutcome(j, msg)
	})

	switch {
	case errors.Is(err, ErrStaleStatus), errors.Is(err, ErrStepNotFound):
		e.logger.Debug("status message dropped",
			"job_id", msg.JobID,
			"step_name", msg.StepName,
			"reason", err,
		)
		return nil
	case errors.Is(err, store.ErrNotFound):
		e.logger.Warn("status for unknown job dropped", "job_id", msg.JobID)
		return nil
	case err != nil:
		return err
	}

	telemetry.StatusEvents.WithLabelValues(string(msg.Outcome)).Inc()

	if msg.Outcome == domain.OutcomeComplete {
		e.writeCacheEntry(ctx, job, msg)
		e.decrementJoins(ctx, job, msg.StepName)
	}

	return e.Advance(ctx, msg.JobID)
}

// applyOutcome применяет исход к шагу или инстансу.
func applyOutcome(j *domain.Job, msg *bus.StatusMessage) error {
	step := j.Step(msg.StepName)
	if step == nil {
		return ErrStepNotFound
	}

	stepErr := msg.Error
	if stepErr == nil && msg.Outcome == domain.OutcomeFailed {
		stepErr = domain.NewApplicationError(domain.ErrCodeToolExit, "worker reported failure")
	}

	if instance := msg.Instance(); instance >= 0 {
		inst := step.Instance(instance)
		if inst == nil {
			return ErrStaleStatus
		}
		if !outcomeApplicable(inst.Status) {
			return ErrStaleStatus
		}
		if msg.Outcome == domain.OutcomeComplete {
			inst.MarkComplete(msg.Outputs, msg.OutputChecksums)
		} else {
			inst.MarkFailed(stepErr)
		}
		step.RefreshFanOutStatus()
		return nil
	}

	if !outcomeApplicable(step.Status) {
		return ErrStaleStatus
	}
	if msg.Outcome == domain.OutcomeComplete {
		step.MarkComplete(msg.Outputs, msg.OutputChecksums)
	} else {
		step.MarkFailed(stepErr)
	}
	return nil
}

// outcomeApplicable — исход ложится на шаг между отправкой и
// терминалом. ready включён: воркер может успеть отчитаться раньше,
// чем диспетчер зафиксирует dispatched.
func outcomeApplicable(status domain.StepStatus) bool {
	switch status {
	case domain.StepStatusReady, domain.StepStatusDispatched, domain.StepStatusProcessing:
		return true
	default:
		return false
	}
}

// writeCacheEntry записывает кэш-запись завершённого детерминированного
// шага.
func (e *Engine) writeCacheEntry(ctx context.Context, job *domain.Job, msg *bus.StatusMessage) {
	step := job.Step(msg.StepName)
	if step == nil {
		return
	}

	op, err := e.operationFor(step)
	if err != nil || !op.Deterministic || op.CacheTTLMinutes <= 0 {
		return
	}

	key := step.CacheKey
	if key == "" || msg.Instance() >= 0 {
		key, err = e.cacheKeyFor(job, step, msg.Instance())
		if err != nil {
			e.logger.Warn("cache key derivation failed on completion",
				"job_id", job.ID,
				"step_name", step.Name,
				"error", err,
			)
			return
		}
	}

	if err := e.cache.Put(ctx, key, msg.Outputs, msg.OutputChecksums, op.CacheTTLMinutes); err != nil {
		e.logger.Warn("cache put failed", "job_id", job.ID, "error", err)
	}
}
