package tmpl

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/savrin/waveline/internal/domain"
)

// Ошибки подстановки.
var (
	// ErrUnknownStepRef — шаблон ссылается на несуществующий шаг.
	ErrUnknownStepRef = errors.New("template references unknown step")

	// ErrUnknownOutputRef — шаблон ссылается на непроизведённый выход.
	ErrUnknownOutputRef = errors.New("template references unknown output")

	// ErrUnresolvedPlaceholder — после подстановки остался плейсхолдер.
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder in template")
)

// stepRefPattern — {{steps.<имя>.outputs.<плейсхолдер>}}.
var stepRefPattern = regexp.MustCompile(`\{\{steps\.([a-zA-Z0-9_-]+)\.outputs\.([a-zA-Z0-9_.-]+)\}\}`)

// anyPlaceholder — любой оставшийся плейсхолдер (для финальной проверки).
var anyPlaceholder = regexp.MustCompile(`\{\{[^}]*\}\}`)

// Resolve подставляет все плейсхолдеры шаблона из документа задания.
// step и instance задают контекст для {{step_name}}, {{composite_name}}
// и {{instance_index}}; instance < 0 означает обычный шаг.
func Resolve(template string, job *domain.Job, step *domain.Step, instance int) (string, error) {
	if !strings.Contains(template, "{{") {
		return template, nil
	}

	value := template
	value = strings.ReplaceAll(value, "{{job_id}}", job.ID)
	value = strings.ReplaceAll(value, "{{user_id}}", job.UserID)

	if step != nil {
		value = strings.ReplaceAll(value, "{{step_name}}", step.Name)
		value = strings.ReplaceAll(value, "{{composite_name}}", step.CompositeName())
		if instance >= 0 {
			value = strings.ReplaceAll(value, "{{instance_index}}", strconv.Itoa(instance))
		}
	}

	var refErr error
	value = stepRefPattern.ReplaceAllStringFunc(value, func(match string) string {
		groups := stepRefPattern.FindStringSubmatch(match)
		stepName, output := groups[1], groups[2]

		target := job.Step(stepName)
		if target == nil {
			refErr = fmt.Errorf("%w: %s in %q", ErrUnknownStepRef, stepName, template)
			return match
		}

		if ref, ok := lookupOutput(target, output); ok {
			return ref
		}
		refErr = fmt.Errorf("%w: %s.%s in %q", ErrUnknownOutputRef, stepName, output, template)
		return match
	})
	if refErr != nil {
		return "", refErr
	}

	if leftover := anyPlaceholder.FindString(value); leftover != "" {
		return "", fmt.Errorf("%w: %s in %q", ErrUnresolvedPlaceholder, leftover, template)
	}

	return value, nil
}

// lookupOutput ищет выход шага: сначала среди произведённых ссылок,
// затем среди объявленных шаблонов назначения (для шагов, которые ещё
// не исполнялись — их назначение уже известно).
func lookupOutput(step *domain.Step, output string) (string, bool) {
	if ref, ok := step.Produced[output]; ok {
		return ref, true
	}
	if step.IsFanOut() {
		// "<output>.<index>" указывает на выход конкретного инстанса.
		if dot := strings.LastIndex(output, "."); dot > 0 {
			if idx, err := strconv.Atoi(output[dot+1:]); err == nil {
				if inst := step.Instance(idx); inst != nil {
					if ref, ok := inst.Produced[output[:dot]]; ok {
						return ref, true
					}
				}
			}
		}
	}
	if dest, ok := step.Outputs[output]; ok && !strings.Contains(dest, "{{") {
		return dest, true
	}
	return "", false
}

// ResolveMap подставляет плейсхолдеры во все значения карты.
func ResolveMap(values map[string]string, job *domain.Job, step *domain.Step, instance int) (map[string]string, error) {
	if values == nil {
		return nil, nil
	}
	resolved := make(map[string]string, len(values))
	for key, value := range values {
		r, err := Resolve(value, job, step, instance)
		if err != nil {
			return nil, err
		}
		resolved[key] = r
	}
	return resolved, nil
}

// ResolveCommand подставляет плейсхолдеры в значения флагов и аргументы
// копии CommandSpec.
func ResolveCommand(spec domain.CommandSpec, job *domain.Job, step *domain.Step, instance int) (domain.CommandSpec, error) {
	resolved := spec.Clone()

	for flag, value := range resolved.Flags {
		s, ok := value.(string)
		if !ok {
			continue
		}
		r, err := Resolve(s, job, step, instance)
		if err != nil {
			return domain.CommandSpec{}, err
		}
		resolved.Flags[flag] = r
	}

	for i, arg := range resolved.Args {
		r, err := Resolve(arg, job, step, instance)
		if err != nil {
			return domain.CommandSpec{}, err
		}
		resolved.Args[i] = r
	}

	return resolved, nil
}

// JobStepDir возвращает каталог артефактов шага по соглашению
// users/<user>/jobs/<job>/<composite>.
func JobStepDir(job *domain.Job, step *domain.Step) string {
	if job.UserID == "" {
		return fmt.Sprintf("jobs/%s/%s", job.ID, step.CompositeName())
	}
	return fmt.Sprintf("users/%s/jobs/%s/%s", job.UserID, job.ID, step.CompositeName())
}
