package orchestrator

import (
	"context"
	"errors"

	"github.com/savrin/waveline/internal/domain"
	"github.com/savrin/waveline/internal/store"
	"github.com/savrin/waveline/internal/telemetry"
)

// Retry запускает повтор упавшего задания.
//
// Точка возобновления — самый ранний упавший шаг. Он и всё его
// транзитивное множество зависимых сбрасываются в pending с очисткой
// разрешённых входов, выходов и ошибок; завершённые шаги выше по
// графу сохраняются — их выходы остаются источником связывания для
// сброшенных. Возвращает имя шага-точки возобновления.
func (e *Engine) Retry(ctx context.Context, jobID string) (string, error) {
	current, err := e.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if current.Status != domain.JobStatusFailed {
		return "", ErrJobNotRetryable
	}

	var resume string
	job, err := e.store.Mutate(ctx, jobID, func(j *domain.Job) error {
		if j.Status != domain.JobStatusFailed {
			return ErrJobNotRetryable
		}

		failedStep := j.EarliestFailedStep()
		if failedStep == nil {
			return ErrNothingToRetry
		}
		resume = failedStep.Name

		for _, name := range j.DependencyClosure(resume) {
			j.Step(name).ResetForRetry()
		}
		j.MarkRetrying(j.StepIndex(resume))
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrJobNotFound
		}
		return "", err
	}

	e.resetJoinCounters(ctx, job, resume)

	telemetry.Retries.Inc()
	e.logger.Info("job retry started",
		"job_id", jobID,
		"resume_step", resume,
		"generation", job.RetryGeneration,
	)

	if err := e.store.CASStatus(ctx, jobID, domain.JobStatusRetrying, domain.JobStatusProcessing); err != nil &&
		!errors.Is(err, store.ErrCASFailed) {
		return "", err
	}

	if err := e.Advance(ctx, jobID); err != nil {
		e.logger.Error("retry dispatch failed", "job_id", jobID, "error", err)
	}

	return resume, nil
}

// resetJoinCounters переинициализирует fan-in счётчики сброшенного
// множества. Producer'ы вне множества уже завершены и декрементировать
// счётчик повторно не будут, поэтому join получает счётчик только по
// producer'ам, которые будут исполняться заново. Fan-out добор счётчика
// происходит при повторной материализации.
func (e *Engine) resetJoinCounters(ctx context.Context, job *domain.Job, resume string) {
	closure := make(map[string]bool)
	for _, name := range job.DependencyClosure(resume) {
		closure[name] = true
	}

	for name := range closure {
		if err := e.bus.ResetJoin(ctx, job.ID, name); err != nil {
			e.logger.Warn("join reset failed", "job_id", job.ID, "join_step", name, "error", err)
			continue
		}

		producers := job.Producers(name)
		if len(producers) <= 1 {
			continue // счётчик заведёт материализация fan-out, если будет
		}

		rerun := 0
		for _, producer := range producers {
			if closure[producer] {
				rerun++
			}
		}
		if rerun == 0 {
			continue
		}
		if err := e.bus.InitJoin(ctx, job.ID, name, rerun); err != nil {
			e.logger.Warn("join reinit failed", "job_id", job.ID, "join_step", name, "error", err)
		}
	}
}
