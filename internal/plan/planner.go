package plan

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/savrin/waveline/internal/domain"
	"github.com/savrin/waveline/internal/manifest"
	"github.com/savrin/waveline/internal/tmpl"
)

// Target — единица отправки: шаг или инстанс шага.
type Target struct {
	// StepName — имя шага.
	StepName string

	// Instance — индекс инстанса при fan-out; -1 для обычного шага.
	Instance int
}

// Expansion — материализация fan-out: шаг превращается в N инстансов.
type Expansion struct {
	// StepName — имя расширяемого шага.
	StepName string

	// InstanceInputs — разрешённые входы каждого инстанса, по индексу.
	InstanceInputs []map[string]string
}

// JoinInit — инициализация fan-in счётчика.
type JoinInit struct {
	// StepName — имя join-шага.
	StepName string

	// Count — количество параллельных producer-инстансов.
	Count int
}

// ErrUnplannable — документ задания не поддаётся планированию:
// неразрешимая ссылка в шаблоне или рассинхронизация с манифестами.
// Для движка это повреждённый документ.
var ErrUnplannable = errors.New("job document cannot be planned")

// Result — результат одного прохода планировщика.
type Result struct {
	// Ready — шаги/инстансы, готовые к отправке, в объявленном порядке.
	Ready []Target

	// Resolutions — разрешённые входы для готовых обычных шагов.
	Resolutions map[string]map[string]string

	// Expansions — fan-out материализации, которые нужно применить
	// к документу до отправки.
	Expansions []Expansion

	// JoinInits — счётчики, которые нужно завести до отправки
	// инстансов расширенного шага.
	JoinInits []JoinInit

	// Blocked — pending-шаги, ждущие незавершённых producer'ов.
	Blocked []string

	// Done — все шаги задания завершены успешно.
	Done bool

	// Failed — есть упавший шаг, in-flight шагов не осталось и новых
	// отправок не будет: задание можно финализировать как failed.
	Failed bool
}

// Plan вычисляет очередную волну отправки для задания.
func Plan(job *domain.Job, reg *manifest.Registry) (*Result, error) {
	res := &Result{Resolutions: make(map[string]map[string]string)}

	for i := range job.Steps {
		step := &job.Steps[i]

		// Инстансы уже материализованного fan-out шага. Упавший
		// инстанс останавливает отправку ещё не отправленных соседей;
		// уже in-flight инстансы дренируются.
		if step.IsFanOut() {
			if !step.InstancesFailed() {
				for k := range step.Instances {
					status := step.Instances[k].Status
					if status == domain.StepStatusPending || status == domain.StepStatusReady {
						res.Ready = append(res.Ready, Target{StepName: step.Name, Instance: step.Instances[k].Index})
					}
				}
			}
			continue
		}

		// ready без dispatched — неотправленная волна (например, после
		// сбоя push): шаг планируется повторно, идемпотентность отправки
		// обеспечивает диспетчер.
		if step.Status != domain.StepStatusPending && step.Status != domain.StepStatusReady {
			continue
		}

		producers := job.Producers(step.Name)
		if hasFailedProducer(job, producers) {
			// Шаг за упавшим producer'ом не отправляется никогда
			// (до retry).
			continue
		}
		if !allProducersDone(job, producers) {
			res.Blocked = append(res.Blocked, step.Name)
			continue
		}

		// Все producer'ы завершены: связываем входы.
		expansion, err := expandFanOut(job, step, reg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnplannable, err)
		}
		if expansion != nil {
			res.Expansions = append(res.Expansions, *expansion)
			for _, consumer := range job.Consumers(step.Name) {
				res.JoinInits = append(res.JoinInits, JoinInit{
					StepName: consumer,
					Count:    len(expansion.InstanceInputs),
				})
			}
			for idx := range expansion.InstanceInputs {
				res.Ready = append(res.Ready, Target{StepName: step.Name, Instance: idx})
			}
			continue
		}

		resolved, err := resolveInputs(job, step)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnplannable, err)
		}
		res.Resolutions[step.Name] = resolved
		res.Ready = append(res.Ready, Target{StepName: step.Name, Instance: -1})
	}

	res.Done = job.AllStepsDone()
	if !res.Done && len(res.Ready) == 0 {
		res.Failed = job.HasFailedStep() && !job.HasInFlightStep()
	}

	return res, nil
}

// hasFailedProducer проверяет падение среди producer'ов.
func hasFailedProducer(job *domain.Job, producers []string) bool {
	for _, name := range producers {
		p := job.Step(name)
		if p == nil {
			continue
		}
		if p.Status == domain.StepStatusFailed || p.InstancesFailed() {
			return true
		}
	}
	return false
}

// allProducersDone проверяет, что каждый producer произвёл выходы.
func allProducersDone(job *domain.Job, producers []string) bool {
	for _, name := range producers {
		p := job.Step(name)
		if p == nil {
			return false
		}
		if p.IsFanOut() {
			if !p.InstancesDone() {
				return false
			}
			continue
		}
		if !p.Status.IsDone() {
			return false
		}
	}
	return true
}

// producedOutputs возвращает произведённые выходы шага. Для fan-out
// шага выходы инстансов сливаются под индексированными ключами
// "<выход>.<индекс>".
func producedOutputs(step *domain.Step) map[string]string {
	if !step.IsFanOut() {
		return step.Produced
	}
	merged := make(map[string]string)
	for i := range step.Instances {
		inst := &step.Instances[i]
		for output, ref := range inst.Produced {
			merged[output+"."+strconv.Itoa(inst.Index)] = ref
		}
	}
	return merged
}

// resolveInputs связывает входы шага: литералы плюс входящие переходы.
// Шаблоны в литералах подставляются сразу — к моменту готовности все
// ссылки разрешимы.
func resolveInputs(job *domain.Job, step *domain.Step) (map[string]string, error) {
	resolved := make(map[string]string)

	for input, literal := range step.Inputs {
		if literal == "" {
			continue
		}
		ref, err := tmpl.Resolve(literal, job, step, -1)
		if err != nil {
			return nil, fmt.Errorf("step %s input %s: %w", step.Name, input, err)
		}
		resolved[input] = ref
	}

	for _, t := range job.TransitionsTo(step.Name) {
		producer := job.Step(t.From)
		if producer == nil {
			continue
		}
		for input, ref := range t.Apply(producedOutputs(producer)) {
			resolved[input] = ref
		}
	}

	return resolved, nil
}

// expandFanOut материализует fan-out: если какой-то входящий переход
// отображает индексированный выход fan-out операции, шаг превращается
// в N инстансов — по одному на индекс.
//
// Триггер fan-out явный: операция producer'а помечена fan_out в
// манифесте; эвристики по форме выходов не применяются.
func expandFanOut(job *domain.Job, step *domain.Step, reg *manifest.Registry) (*Expansion, error) {
	type indexedBinding struct {
		input string
		refs  map[int]string
	}
	var indexed *indexedBinding

	base := make(map[string]string)
	for input, literal := range step.Inputs {
		if literal == "" {
			continue
		}
		ref, err := tmpl.Resolve(literal, job, step, -1)
		if err != nil {
			return nil, fmt.Errorf("step %s input %s: %w", step.Name, input, err)
		}
		base[input] = ref
	}

	for _, t := range job.TransitionsTo(step.Name) {
		producer := job.Step(t.From)
		if producer == nil {
			continue
		}

		op, err := reg.Operation(producer.Service, producer.Command.Program)
		if err != nil {
			return nil, err
		}

		outputs := producedOutputs(producer)

		for output, input := range t.Mapping {
			if op.FanOut != nil && output == op.FanOut.IndexedOutput && !producer.IsFanOut() {
				// Индексированный выход fan-out producer'а.
				refs := make(map[int]string)
				prefix := output + "."
				for key, ref := range outputs {
					if strings.HasPrefix(key, prefix) {
						if idx, err := strconv.Atoi(key[len(prefix):]); err == nil {
							refs[idx] = ref
						}
					}
				}
				if indexed != nil {
					return nil, fmt.Errorf("step %s: two indexed inputs (%s and %s)",
						step.Name, indexed.input, input)
				}
				indexed = &indexedBinding{input: input, refs: refs}
				continue
			}

			if ref, ok := outputs[output]; ok {
				base[input] = ref
				continue
			}
			// Индексированные ключи обычного (уже fan-out) producer'а
			// агрегируются в base как "<вход>.<индекс>" — это fan-in.
			prefix := output + "."
			for key, ref := range outputs {
				if strings.HasPrefix(key, prefix) {
					base[input+"."+key[len(prefix):]] = ref
				}
			}
		}
	}

	if indexed == nil {
		return nil, nil
	}

	indices := make([]int, 0, len(indexed.refs))
	for idx := range indexed.refs {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	instances := make([]map[string]string, 0, len(indices))
	for _, idx := range indices {
		inputs := make(map[string]string, len(base)+1)
		for k, v := range base {
			inputs[k] = v
		}
		inputs[indexed.input] = indexed.refs[idx]
		instances = append(instances, inputs)
	}

	return &Expansion{StepName: step.Name, InstanceInputs: instances}, nil
}

// Joins возвращает инициализацию счётчиков для статических fan-in
// шагов: join — это шаг с более чем одним producer'ом. Счётчики для
// fan-out join'ов заводятся при материализации (см. Expansion).
func Joins(job *domain.Job) []JoinInit {
	var joins []JoinInit
	for i := range job.Steps {
		producers := job.Producers(job.Steps[i].Name)
		if len(producers) > 1 {
			joins = append(joins, JoinInit{StepName: job.Steps[i].Name, Count: len(producers)})
		}
	}
	return joins
}
