package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/savrin/waveline/internal/cache"
	"github.com/savrin/waveline/internal/domain"
	"github.com/savrin/waveline/internal/telemetry"
)

// Значения по умолчанию sweeper'а.
const (
	defaultSweepInterval = 30 * time.Second
	defaultSweepBatch    = 200
	cacheGCSchedule      = "@every 10m"
)

// Sweeper — фоновый процесс: снимает просроченные шаги по таймауту и
// периодически вычищает кэш.
//
// Шаг, превысивший таймаут манифеста (с учётом глобального потолка),
// помечается failed с инфраструктурной ошибкой STEP_TIMEOUT. Поздний
// результат воркера игнорируется консьюмером: статус шага уже не
// in-flight.
type Sweeper struct {
	engine *Engine
	cache  *cache.Index
	logger *slog.Logger

	interval time.Duration
	batch    int

	cron *cron.Cron
}

// SweeperConfig — конфигурация Sweeper.
type SweeperConfig struct {
	Engine *Engine
	Cache  *cache.Index
	Logger *slog.Logger

	// Interval — период прохода по in-flight заданиям (default: 30s).
	Interval time.Duration

	// Batch — количество заданий за проход (default: 200).
	Batch int
}

// NewSweeper создаёт Sweeper.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	batch := cfg.Batch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		engine:   cfg.Engine,
		cache:    cfg.Cache,
		logger:   logger,
		interval: interval,
		batch:    batch,
	}
}

// Start запускает расписание проходов.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.sweepTimeouts(ctx)
	}); err != nil {
		return fmt.Errorf("schedule timeout sweep: %w", err)
	}

	if _, err := s.cron.AddFunc(cacheGCSchedule, func() {
		s.sweepCache(ctx)
	}); err != nil {
		return fmt.Errorf("schedule cache gc: %w", err)
	}

	s.cron.Start()
	s.logger.Info("sweeper started", "interval", s.interval)
	return nil
}

// Stop останавливает расписание и дожидается текущего прохода.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.logger.Info("sweeper stopped")
}

// sweepTimeouts — один проход по in-flight заданиям.
func (s *Sweeper) sweepTimeouts(ctx context.Context) {
	ids, err := s.engine.store.ListByStatus(ctx, domain.JobStatusProcessing, s.batch)
	if err != nil {
		s.logger.Error("sweep: list processing jobs failed", "error", err)
		return
	}

	for _, id := range ids {
		reaped, stalled, err := s.engine.reapTimedOutSteps(ctx, id)
		if err != nil {
			s.logger.Error("sweep: reap failed", "job_id", id, "error", err)
			continue
		}
		if reaped > 0 {
			s.logger.Warn("sweep: steps reaped by timeout", "job_id", id, "count", reaped)
		}
		// Polling fallback: повторно продвигаем задание и после снятия
		// шагов, и при застрявшей неотправленной волне.
		if reaped > 0 || stalled {
			if err := s.engine.Advance(ctx, id); err != nil {
				s.logger.Error("sweep: advance failed", "job_id", id, "error", err)
			}
		}
	}
}

// sweepCache — периодический GC кэша.
func (s *Sweeper) sweepCache(ctx context.Context) {
	removed, err := s.cache.Sweep(ctx)
	if err != nil {
		s.logger.Error("cache gc failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("cache gc done", "removed", removed)
	}
}

// reapTimedOutSteps помечает просроченные in-flight шаги задания как
// failed. Возвращает количество снятых шагов/инстансов и признак
// застрявшей волны (ready-шаги без отправки).
func (e *Engine) reapTimedOutSteps(ctx context.Context, jobID string) (int, bool, error) {
	reaped := 0
	stalled := false

	_, err := e.store.Mutate(ctx, jobID, func(j *domain.Job) error {
		reaped = 0
		stalled = false
		now := time.Now().UTC()

		for i := range j.Steps {
			step := &j.Steps[i]
			deadline := e.stepDeadline(step)

			if step.Status == domain.StepStatusReady {
				stalled = true
			}
			for k := range step.Instances {
				if step.Instances[k].Status == domain.StepStatusReady {
					stalled = true
				}
			}

			if step.Status.InFlight() && !step.IsFanOut() &&
				step.DispatchedAt != nil && now.Sub(*step.DispatchedAt) > deadline {
				step.MarkFailed(domain.NewInfrastructureError(domain.ErrCodeStepTimeout,
					fmt.Sprintf("step exceeded timeout of %s", deadline)))
				reaped++
				continue
			}

			for k := range step.Instances {
				inst := &step.Instances[k]
				if inst.Status.InFlight() &&
					inst.DispatchedAt != nil && now.Sub(*inst.DispatchedAt) > deadline {
					inst.MarkFailed(domain.NewInfrastructureError(domain.ErrCodeStepTimeout,
						fmt.Sprintf("instance exceeded timeout of %s", deadline)))
					reaped++
				}
			}
			step.RefreshFanOutStatus()
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}

	if reaped > 0 {
		telemetry.StepsReaped.Add(float64(reaped))
	}
	return reaped, stalled, nil
}

// stepDeadline возвращает эффективный таймаут шага: per-манифест с
// глобальным потолком.
func (e *Engine) stepDeadline(step *domain.Step) time.Duration {
	deadline := time.Duration(step.TimeoutSec) * time.Second
	if deadline <= 0 || deadline > e.timeoutCeiling {
		deadline = e.timeoutCeiling
	}
	return deadline
}
