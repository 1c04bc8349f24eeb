package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/savrin/waveline/internal/bus"
	"github.com/savrin/waveline/internal/cache"
	"github.com/savrin/waveline/internal/domain"
	"github.com/savrin/waveline/internal/manifest"
	"github.com/savrin/waveline/internal/plan"
	"github.com/savrin/waveline/internal/store"
	"github.com/savrin/waveline/internal/telemetry"
	"github.com/savrin/waveline/internal/validate"
)

// Engine — движок оркестрации.
type Engine struct {
	store     *store.JobStore
	bus       *bus.Bus
	cache     *cache.Index
	manifests *manifest.Registry
	logger    *slog.Logger

	// timeoutCeiling — глобальный потолок таймаута шага.
	timeoutCeiling time.Duration
}

// Config — конфигурация Engine.
type Config struct {
	Store     *store.JobStore
	Bus       *bus.Bus
	Cache     *cache.Index
	Manifests *manifest.Registry
	Logger    *slog.Logger

	// TimeoutCeiling — глобальный потолок таймаута шага (default: 1h).
	TimeoutCeiling time.Duration
}

// New создаёт Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ceiling := cfg.TimeoutCeiling
	if ceiling <= 0 {
		ceiling = time.Hour
	}
	return &Engine{
		store:          cfg.Store,
		bus:            cfg.Bus,
		cache:          cfg.Cache,
		manifests:      cfg.Manifests,
		logger:         logger,
		timeoutCeiling: ceiling,
	}
}

// Submit валидирует конвейер, сохраняет задание и отправляет первую
// волну шагов. Возвращает сохранённое задание.
func (e *Engine) Submit(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if err := validate.Pipeline(job, e.manifests); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job.ID = uuid.New().String()
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := e.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}
	telemetry.JobsCreated.Inc()

	// Статические fan-in счётчики известны уже по объявленному графу.
	for _, join := range plan.Joins(job) {
		if err := e.bus.InitJoin(ctx, job.ID, join.StepName, join.Count); err != nil {
			return nil, err
		}
	}

	e.logger.Info("job submitted",
		"job_id", job.ID,
		"user_id", job.UserID,
		"steps", len(job.Steps),
		"transitions", len(job.Transitions),
	)

	// Первая отправка переводит задание в processing.
	if err := e.store.CASStatus(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing); err != nil &&
		!errors.Is(err, store.ErrCASFailed) {
		return nil, err
	}
	if err := e.Advance(ctx, job.ID); err != nil {
		e.logger.Error("initial dispatch failed", "job_id", job.ID, "error", err)
	}

	return job, nil
}

// Get возвращает снапшот документа задания.
func (e *Engine) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	job, _, err := e.store.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// Advance продвигает задание: планирует очередную волну, применяет
// материализации fan-out, отправляет готовые шаги и финализирует
// терминальное состояние. Попадания в кэш разблокируют следующие шаги
// немедленно, поэтому цикл крутится, пока волна даёт прогресс.
func (e *Engine) Advance(ctx context.Context, jobID string) error {
	for {
		wave, err := e.planWave(ctx, jobID)
		if err != nil {
			if errors.Is(err, plan.ErrUnplannable) {
				return e.failCorrupt(ctx, jobID, err)
			}
			return err
		}

		if wave.done {
			return e.finalize(ctx, jobID, domain.JobStatusComplete)
		}
		if wave.failed {
			return e.finalize(ctx, jobID, domain.JobStatusFailed)
		}
		if len(wave.targets) == 0 {
			return nil // ждём асинхронных статусов
		}

		for _, join := range wave.joinInits {
			if err := e.initOrBumpJoin(ctx, jobID, join); err != nil {
				return err
			}
		}

		progressed := false
		for _, tgt := range wave.targets {
			hit, err := e.dispatchTarget(ctx, jobID, tgt)
			if err != nil {
				e.logger.Error("dispatch failed",
					"job_id", jobID,
					"step_name", tgt.stepName,
					"instance", tgt.instance,
					"error", err,
				)
				continue
			}
			if hit {
				progressed = true
			}
		}

		if !progressed {
			return nil
		}
		// Попадания в кэш завершили шаги синхронно — планируем дальше.
	}
}

// finalize записывает терминальный статус задания ровно один раз:
// CAS по текущему статусу processing.
func (e *Engine) finalize(ctx context.Context, jobID string, status domain.JobStatus) error {
	err := e.store.CASStatus(ctx, jobID, domain.JobStatusProcessing, status)
	if errors.Is(err, store.ErrCASFailed) {
		// Конкурирующий консьюмер уже финализировал.
		return nil
	}
	if err != nil {
		return err
	}

	telemetry.JobsCompleted.WithLabelValues(string(status)).Inc()
	e.logger.Info("job finished", "job_id", jobID, "status", status)
	return nil
}

// failCorrupt финализирует задание с отличимым кодом повреждённого
// документа: первый незавершённый шаг получает инфраструктурную ошибку.
func (e *Engine) failCorrupt(ctx context.Context, jobID string, cause error) error {
	_, err := e.store.Mutate(ctx, jobID, func(j *domain.Job) error {
		for i := range j.Steps {
			step := &j.Steps[i]
			if !step.Status.IsTerminal() {
				step.MarkFailed(domain.NewInfrastructureError(domain.ErrCodeCorruptJob, cause.Error()))
				break
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return e.finalize(ctx, jobID, domain.JobStatusFailed)
}

// initOrBumpJoin заводит fan-in счётчик либо доводит его при
// материализации fan-out: статический счётчик уже учёл producer-шаг
// как единицу, материализация добавляет N-1.
func (e *Engine) initOrBumpJoin(ctx context.Context, jobID string, join joinInit) error {
	if join.bump {
		return e.bus.BumpJoin(ctx, jobID, join.stepName, int64(join.count-1))
	}
	return e.bus.InitJoin(ctx, jobID, join.stepName, join.count)
}
