package orchestrator

import (
	"context"
	"fmt"

	"github.com/savrin/waveline/internal/domain"
	"github.com/savrin/waveline/internal/tmpl"
)

// HydratedStep — полностью разрешённый контекст шага для воркера.
//
// Hydrate — единственный механизм получения инструкций воркером:
// по очередям ходят только идентификаторы, а подстановка шаблонов
// выполняется здесь по текущему состоянию документа. Благодаря этому
// правка параметров доезжает до retry, а воркеры не держат учётных
// данных хранилища.
type HydratedStep struct {
	JobID    string `json:"job_id"`
	StepName string `json:"step_name"`

	// InstanceIndex — индекс инстанса при fan-out; nil для обычного шага.
	InstanceIndex *int `json:"instance_index,omitempty"`

	Service       string `json:"service"`
	StoragePolicy string `json:"storage_policy,omitempty"`

	// CommandSpec — команда с подставленными шаблонами.
	CommandSpec domain.CommandSpec `json:"command_spec"`

	// ResolvedInputs — связанные входы: плейсхолдер → ссылка.
	ResolvedInputs map[string]string `json:"resolved_inputs"`

	// Outputs — назначения выходов с подставленными шаблонами.
	Outputs map[string]string `json:"outputs"`

	// Parameters — разрешённые CLI-флаги (дублируют CommandSpec.Flags
	// для удобства воркеров).
	Parameters map[string]any `json:"parameters"`

	// TimeoutSec — эффективный таймаут шага.
	TimeoutSec int `json:"timeout_sec"`

	// StepDir — каталог артефактов шага по соглашению
	// users/<user>/jobs/<job>/<composite_name>.
	StepDir string `json:"step_dir"`
}

// Hydrate возвращает полностью связанный шаг для воркера и фиксирует
// начало обработки: первый hydrate переводит dispatched → processing.
func (e *Engine) Hydrate(ctx context.Context, jobID, stepName string, instance int) (*HydratedStep, error) {
	job, err := e.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	step := job.Step(stepName)
	if step == nil {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepName)
	}

	inputs := step.ResolvedInputs
	if instance >= 0 {
		inst := step.Instance(instance)
		if inst == nil {
			return nil, fmt.Errorf("%w: %s[%d]", ErrStepNotFound, stepName, instance)
		}
		inputs = inst.ResolvedInputs
	}

	command, err := tmpl.ResolveCommand(step.Command, job, step, instance)
	if err != nil {
		return nil, fmt.Errorf("resolve command: %w", err)
	}

	outputs, err := tmpl.ResolveMap(step.Outputs, job, step, instance)
	if err != nil {
		return nil, fmt.Errorf("resolve outputs: %w", err)
	}

	resolvedInputs, err := tmpl.ResolveMap(inputs, job, step, instance)
	if err != nil {
		return nil, fmt.Errorf("resolve inputs: %w", err)
	}

	hydrated := &HydratedStep{
		JobID:          jobID,
		StepName:       stepName,
		Service:        step.Service,
		StoragePolicy:  step.StoragePolicy,
		CommandSpec:    command,
		ResolvedInputs: resolvedInputs,
		Outputs:        outputs,
		Parameters:     command.Flags,
		TimeoutSec:     step.TimeoutSec,
		StepDir:        tmpl.JobStepDir(job, step),
	}
	if instance >= 0 {
		idx := instance
		hydrated.InstanceIndex = &idx
	}

	// Первый hydrate — подтверждение, что воркер забрал шаг.
	_, err = e.store.Mutate(ctx, jobID, func(j *domain.Job) error {
		s := j.Step(stepName)
		if s == nil {
			return ErrStepNotFound
		}
		// ready включён: hydrate может прийти раньше, чем диспетчер
		// зафиксирует dispatched.
		if instance >= 0 {
			inst := s.Instance(instance)
			if inst != nil && (inst.Status == domain.StepStatusDispatched || inst.Status == domain.StepStatusReady) {
				inst.MarkProcessing()
			}
			return nil
		}
		if s.Status == domain.StepStatusDispatched || s.Status == domain.StepStatusReady {
			s.MarkProcessing()
		}
		return nil
	})
	if err != nil {
		e.logger.Warn("hydrate status update failed", "job_id", jobID, "step_name", stepName, "error", err)
	}

	return hydrated, nil
}
