package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/savrin/waveline/internal/domain"
	"github.com/savrin/waveline/internal/manifest"
)

// Значения по умолчанию для шагов без явного таймаута в манифесте.
const defaultStepTimeoutSec = 300

// Pipeline проверяет конвейер задания против манифестов и нормализует
// его: проставляет порядок шагов, статусы, таймауты и параметры по
// умолчанию. Мутирует job только при полном успехе всех проверок.
func Pipeline(job *domain.Job, reg *manifest.Registry) error {
	if len(job.Steps) == 0 {
		return newError("", "steps", "pipeline has no steps", ErrEmptyPipeline)
	}

	order := make(map[string]int, len(job.Steps))
	ops := make([]manifest.Operation, len(job.Steps))

	// Шаги: имена, сервисы, операции, параметры.
	for i := range job.Steps {
		step := &job.Steps[i]

		if step.Name == "" {
			return newError("", "name", fmt.Sprintf("step %d has empty name", i), ErrEmptyStepName)
		}
		if _, dup := order[step.Name]; dup {
			return newError(step.Name, "name",
				fmt.Sprintf("duplicate step name: %s", step.Name), ErrDuplicateStepName)
		}
		order[step.Name] = i

		op, err := reg.Operation(step.Service, step.Command.Program)
		if err != nil {
			sentinel := ErrUnknownOperation
			if errors.Is(err, manifest.ErrUnknownService) {
				sentinel = ErrUnknownService
			}
			return newError(step.Name, "service", err.Error(), sentinel)
		}
		ops[i] = op

		if err := checkParameters(step, op); err != nil {
			return err
		}

		if err := checkOutputs(step); err != nil {
			return err
		}
	}

	// Переходы: существование шагов, направление, известные выходы.
	for ti := range job.Transitions {
		t := &job.Transitions[ti]

		fromIdx, ok := order[t.From]
		if !ok {
			return newError(t.From, "from_step_name",
				fmt.Sprintf("transition from unknown step: %s", t.From), ErrUnknownTransitionStep)
		}
		toIdx, ok := order[t.To]
		if !ok {
			return newError(t.To, "to_step_name",
				fmt.Sprintf("transition to unknown step: %s", t.To), ErrUnknownTransitionStep)
		}
		if fromIdx >= toIdx {
			return newError(t.To, "step_transitions",
				fmt.Sprintf("transition %s -> %s goes backward", t.From, t.To), ErrBackEdge)
		}

		from := &job.Steps[fromIdx]
		for output := range t.Mapping {
			if _, declared := from.Outputs[output]; !declared {
				return newError(t.From, "output_to_input_mapping",
					fmt.Sprintf("step %s has no output %q", t.From, output), ErrUnknownOutput)
			}
		}
	}

	// Связывание входов: каждый вход либо литерал, либо переходы; не оба.
	if err := checkBindings(job); err != nil {
		return err
	}

	// Ацикличность. Запрет back-edges уже гарантирует её; сортировка
	// Кана остаётся защитой от рассинхронизации проверок.
	if err := checkAcyclic(job); err != nil {
		return err
	}

	// Нормализация — только после успеха всех проверок.
	for i := range job.Steps {
		step := &job.Steps[i]
		step.Order = i
		step.Status = domain.StepStatusPending

		op := ops[i]
		if op.TimeoutSec > 0 {
			step.TimeoutSec = op.TimeoutSec
		} else {
			step.TimeoutSec = defaultStepTimeoutSec
		}
		applyDefaults(step, op)
	}
	job.Status = domain.JobStatusPending

	return nil
}

// checkParameters сверяет CLI-флаги шага с дескрипторами операции.
// Значения-шаблоны проверяются только после подстановки (на воркере),
// здесь они пропускаются.
func checkParameters(step *domain.Step, op manifest.Operation) error {
	for flag, value := range step.Command.Flags {
		spec, declared := op.Parameters[flag]
		if !declared {
			// Флаг вне дескрипторов — адрес файла (-source, -features)
			// или пасс-through; типизации для него нет.
			continue
		}

		if s, ok := value.(string); ok && strings.Contains(s, "{{") {
			continue
		}

		if err := spec.CheckParameter(flag, value); err != nil {
			return newError(step.Name, "command_spec.flags", err.Error(), ErrBadParameter)
		}
	}

	for flag, spec := range op.Parameters {
		if !spec.Required {
			continue
		}
		if _, set := step.Command.Flags[flag]; !set {
			if spec.Default != nil {
				continue // будет проставлен applyDefaults
			}
			return newError(step.Name, "command_spec.flags",
				fmt.Sprintf("required parameter %s missing", flag), ErrMissingParameter)
		}
	}

	return nil
}

// checkOutputs проверяет выходы шага: непустые имена и уникальные
// шаблоны назначения.
func checkOutputs(step *domain.Step) error {
	destinations := make(map[string]string, len(step.Outputs))
	for name, dest := range step.Outputs {
		if name == "" {
			return newError(step.Name, "outputs", "output with empty name", ErrDuplicateOutput)
		}
		if prev, dup := destinations[dest]; dup {
			return newError(step.Name, "outputs",
				fmt.Sprintf("outputs %q and %q share destination %q", prev, name, dest),
				ErrDuplicateOutput)
		}
		destinations[dest] = name
	}
	return nil
}

// checkBindings проверяет связывание входных плейсхолдеров.
//
// Вход считается объявленным, если он есть в Inputs шага либо является
// целью входящего перехода. Объявленный вход должен быть связан ровно
// одним способом: непустым литералом/шаблоном ИЛИ переходами.
// Несколько переходов в один вход — fan-in, это допустимо; литерал
// плюс переход — двойное связывание.
func checkBindings(job *domain.Job) error {
	for i := range job.Steps {
		step := &job.Steps[i]

		// Цели входящих переходов и рёбра, их связывающие.
		edges := make(map[string][]string)
		for _, t := range job.TransitionsTo(step.Name) {
			for output, input := range t.Mapping {
				edge := t.From + "." + output
				for _, seen := range edges[input] {
					if seen == edge {
						return newError(step.Name, "step_transitions",
							fmt.Sprintf("input %q bound twice by %s", input, edge),
							ErrDoubleBinding)
					}
				}
				edges[input] = append(edges[input], edge)
			}
		}

		for input, literal := range step.Inputs {
			if literal != "" && len(edges[input]) > 0 {
				return newError(step.Name, "inputs",
					fmt.Sprintf("input %q has both a literal and transition %s",
						input, edges[input][0]), ErrDoubleBinding)
			}
			if literal == "" && len(edges[input]) == 0 {
				return newError(step.Name, "inputs",
					fmt.Sprintf("input %q is unbound", input), ErrUnboundInput)
			}
		}
	}

	return nil
}

// checkAcyclic выполняет сортировку Кана по графу переходов.
func checkAcyclic(job *domain.Job) error {
	inDegree := make(map[string]int, len(job.Steps))
	dependents := make(map[string][]string)
	for i := range job.Steps {
		inDegree[job.Steps[i].Name] = 0
	}

	seen := make(map[string]bool)
	for _, t := range job.Transitions {
		edge := t.From + "->" + t.To
		if seen[edge] {
			continue // параллельные рёбра не увеличивают степень
		}
		seen[edge] = true
		inDegree[t.To]++
		dependents[t.From] = append(dependents[t.From], t.To)
	}

	var queue []string
	for i := range job.Steps {
		if inDegree[job.Steps[i].Name] == 0 {
			queue = append(queue, job.Steps[i].Name)
		}
	}

	visited := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		visited++

		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(job.Steps) {
		return newError("", "step_transitions", "pipeline graph has a cycle", ErrCyclicPipeline)
	}
	return nil
}

// applyDefaults проставляет параметры по умолчанию из манифеста.
func applyDefaults(step *domain.Step, op manifest.Operation) {
	for flag, spec := range op.Parameters {
		if spec.Default == nil {
			continue
		}
		if step.Command.Flags == nil {
			step.Command.Flags = make(map[string]any)
		}
		if _, set := step.Command.Flags[flag]; !set {
			step.Command.Flags[flag] = spec.Default
		}
	}
}
