package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/savrin/waveline/internal/bus"
	"github.com/savrin/waveline/internal/cache"
	"github.com/savrin/waveline/internal/domain"
	"github.com/savrin/waveline/internal/manifest"
	"github.com/savrin/waveline/internal/plan"
	"github.com/savrin/waveline/internal/telemetry"
	"github.com/savrin/waveline/internal/tmpl"
)

// target — единица отправки одной волны.
type target struct {
	stepName   string
	instance   int // -1 для обычного шага
	service    string
	generation int
}

// joinInit — отложенная инициализация fan-in счётчика.
type joinInit struct {
	stepName string
	count    int

	// bump — счётчик уже существует (статический join), его нужно
	// довести на count-1 вместо инициализации.
	bump bool
}

// waveResult — применённая волна планировщика.
type waveResult struct {
	targets   []target
	joinInits []joinInit
	done      bool
	failed    bool
}

// planWave планирует волну и применяет её к документу одной мутацией:
// материализует fan-out, записывает разрешённые входы и помечает
// готовые шаги как ready. Отправка в очереди происходит после фиксации
// документа — инвариант «dispatched подразумевает разрешённые входы»
// держится записью в хранилище до push.
func (e *Engine) planWave(ctx context.Context, jobID string) (*waveResult, error) {
	var wave waveResult

	_, err := e.store.Mutate(ctx, jobID, func(j *domain.Job) error {
		wave = waveResult{}

		res, err := plan.Plan(j, e.manifests)
		if err != nil {
			return err
		}

		for _, ex := range res.Expansions {
			step := j.Step(ex.StepName)
			step.Instances = make([]domain.StepInstance, len(ex.InstanceInputs))
			for idx, inputs := range ex.InstanceInputs {
				step.Instances[idx] = domain.StepInstance{
					Index:          idx,
					Status:         domain.StepStatusPending,
					ResolvedInputs: inputs,
				}
			}
			if len(ex.InstanceInputs) == 0 {
				// Producer выдал пустой индексированный набор: шагу
				// нечего исполнять, он завершён без выходов.
				step.MarkComplete(nil, nil)
				continue
			}
			step.Status = domain.StepStatusProcessing
		}

		for _, join := range res.JoinInits {
			wave.joinInits = append(wave.joinInits, joinInit{
				stepName: join.StepName,
				count:    join.Count,
				bump:     len(j.Producers(join.StepName)) > 1,
			})
		}

		for _, t := range res.Ready {
			step := j.Step(t.StepName)
			if t.Instance < 0 {
				step.ResolvedInputs = res.Resolutions[t.StepName]
				step.Status = domain.StepStatusReady
			} else {
				inst := step.Instance(t.Instance)
				if inst == nil {
					continue
				}
				inst.Status = domain.StepStatusReady
			}
			wave.targets = append(wave.targets, target{
				stepName:   t.StepName,
				instance:   t.Instance,
				service:    step.Service,
				generation: j.RetryGeneration,
			})
		}

		wave.done = res.Done
		wave.failed = res.Failed
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &wave, nil
}

// dispatchTarget отправляет один готовый шаг: консультируется с кэшем
// для детерминированных операций, затем кладёт тонкое сообщение в
// очередь сервиса. Возвращает true, если шаг завершился синхронно
// (попадание в кэш) и планирование нужно продолжить.
func (e *Engine) dispatchTarget(ctx context.Context, jobID string, t target) (bool, error) {
	job, err := e.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	step := job.Step(t.stepName)
	if step == nil {
		return false, fmt.Errorf("%w: %s", ErrStepNotFound, t.stepName)
	}

	op, err := e.manifests.Operation(step.Service, step.Command.Program)
	if err != nil {
		return false, err
	}

	var cacheKey string
	if op.Deterministic {
		cacheKey, err = e.cacheKeyFor(job, step, t.instance)
		if err != nil {
			// Ключ не собрался — шаг исполняется без кэша.
			e.logger.Warn("cache key derivation failed",
				"job_id", jobID,
				"step_name", t.stepName,
				"error", err,
			)
			cacheKey = ""
		}
	}

	if cacheKey != "" {
		entry, ok, err := e.cache.Lookup(ctx, cacheKey)
		if err != nil {
			e.logger.Warn("cache lookup failed", "job_id", jobID, "error", err)
		} else if ok {
			applied, err := e.applyCacheHit(ctx, jobID, t, cacheKey, entry)
			if err != nil {
				return false, err
			}
			if !applied {
				// Конкурирующий диспетчер уже обработал шаг.
				return false, nil
			}
			telemetry.CacheHits.Inc()
			e.decrementJoins(ctx, job, t.stepName)
			e.logger.Info("step satisfied from cache",
				"job_id", jobID,
				"step_name", t.stepName,
				"instance", t.instance,
				"cache_key", cacheKey,
			)
			return true, nil
		} else {
			telemetry.CacheMisses.Inc()
		}
	}

	// Идемпотентность: повторная отправка того же (job, step, instance)
	// в том же поколении retry подавляется.
	first, err := e.bus.MarkDispatch(ctx, jobID, t.stepName, t.instance, t.generation)
	if err != nil {
		return false, err
	}
	if !first {
		return false, nil
	}

	msg := bus.StepReadyMessage{JobID: jobID, StepName: t.stepName}
	if t.instance >= 0 {
		idx := t.instance
		msg.InstanceIndex = &idx
	}
	if err := e.bus.Push(ctx, bus.ServiceQueue(step.Service), msg); err != nil {
		// Снимаем маркер: шаг остаётся ready и уйдёт следующей волной.
		if unmarkErr := e.bus.UnmarkDispatch(ctx, jobID, t.stepName, t.instance, t.generation); unmarkErr != nil {
			e.logger.Error("dispatch unmark failed", "job_id", jobID, "step_name", t.stepName, "error", unmarkErr)
		}
		return false, err
	}

	_, err = e.store.Mutate(ctx, jobID, func(j *domain.Job) error {
		s := j.Step(t.stepName)
		if s == nil {
			return ErrStepNotFound
		}
		if t.instance < 0 {
			if s.Status != domain.StepStatusReady {
				return ErrStaleStatus
			}
			s.CacheKey = cacheKey
			s.MarkDispatched()
			return nil
		}
		inst := s.Instance(t.instance)
		if inst == nil || inst.Status != domain.StepStatusReady {
			return ErrStaleStatus
		}
		inst.MarkDispatched()
		return nil
	})
	if err != nil && !errors.Is(err, ErrStaleStatus) {
		return false, err
	}

	telemetry.StepsDispatched.WithLabelValues(step.Service).Inc()
	e.logger.Info("step dispatched",
		"job_id", jobID,
		"step_name", t.stepName,
		"instance", t.instance,
		"service", step.Service,
	)
	return false, nil
}

// applyCacheHit переписывает шаг как skipped-cached с выходами из кэша.
// Возвращает false, если шаг уже обработан конкурентно.
func (e *Engine) applyCacheHit(ctx context.Context, jobID string, t target, key string, entry *cache.Entry) (bool, error) {
	_, err := e.store.Mutate(ctx, jobID, func(j *domain.Job) error {
		s := j.Step(t.stepName)
		if s == nil {
			return ErrStepNotFound
		}
		if t.instance < 0 {
			if s.Status != domain.StepStatusReady {
				return ErrStaleStatus
			}
			s.CacheKey = key
			s.MarkSkippedCached(entry.Outputs, entry.Checksums)
			return nil
		}
		inst := s.Instance(t.instance)
		if inst == nil || inst.Status != domain.StepStatusReady {
			return ErrStaleStatus
		}
		inst.MarkSkippedCached(entry.Outputs, entry.Checksums)
		s.RefreshFanOutStatus()
		return nil
	})
	if errors.Is(err, ErrStaleStatus) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// cacheKeyFor строит ключ кэша шага: сервис, программа, параметры после
// подстановки шаблонов и контрольные суммы разрешённых входов.
// Для входа без записанной суммы (литерал клиента) суррогатом служит
// сама ссылка — оркестратор артефакты не читает.
func (e *Engine) cacheKeyFor(job *domain.Job, step *domain.Step, instance int) (string, error) {
	resolved, err := tmpl.ResolveCommand(step.Command, job, step, instance)
	if err != nil {
		return "", err
	}

	inputs := step.ResolvedInputs
	if instance >= 0 {
		inst := step.Instance(instance)
		if inst == nil {
			return "", fmt.Errorf("%w: %s[%d]", ErrStepNotFound, step.Name, instance)
		}
		inputs = inst.ResolvedInputs
	}

	byRef := checksumsByRef(job)
	checksums := make([]string, 0, len(inputs))
	for _, ref := range inputs {
		if sum, ok := byRef[ref]; ok {
			checksums = append(checksums, sum)
			continue
		}
		checksums = append(checksums, ref)
	}

	return cache.Key(step.Service, step.Command.Program, resolved.Flags, checksums), nil
}

// checksumsByRef собирает карту «ссылка на артефакт → контрольная
// сумма» по всем произведённым выходам задания.
func checksumsByRef(job *domain.Job) map[string]string {
	byRef := make(map[string]string)
	record := func(produced, checksums map[string]string) {
		for output, ref := range produced {
			if sum, ok := checksums[output]; ok {
				byRef[ref] = sum
			}
		}
	}
	for i := range job.Steps {
		step := &job.Steps[i]
		record(step.Produced, step.Checksums)
		for k := range step.Instances {
			inst := &step.Instances[k]
			record(inst.Produced, inst.Checksums)
		}
	}
	return byRef
}

// decrementJoins уменьшает fan-in счётчики потребителей после успеха
// одного producer'а (шага или инстанса). Декремент до нуля — сигнал,
// что join собран; готовность подтверждает планировщик.
func (e *Engine) decrementJoins(ctx context.Context, job *domain.Job, stepName string) {
	step := job.Step(stepName)
	if step == nil {
		return
	}

	for _, consumer := range job.Consumers(stepName) {
		if len(job.Producers(consumer)) <= 1 && !step.IsFanOut() {
			continue // не join — счётчика нет
		}
		remaining, err := e.bus.DecrJoin(ctx, job.ID, consumer)
		if err != nil {
			e.logger.Warn("join decrement failed",
				"job_id", job.ID,
				"join_step", consumer,
				"error", err,
			)
			continue
		}
		if remaining == 0 {
			e.logger.Debug("join satisfied", "job_id", job.ID, "join_step", consumer)
		}
	}
}

// operationFor возвращает операцию манифеста для шага.
func (e *Engine) operationFor(step *domain.Step) (manifest.Operation, error) {
	return e.manifests.Operation(step.Service, step.Command.Program)
}
