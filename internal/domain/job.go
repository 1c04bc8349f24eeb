package domain

import (
	"time"
)

// Job — задание: конвейер шагов с переходами между ними.
//
// Job создаётся API при submit после валидации и дальше является
// единственным источником истины о состоянии конвейера. Все мутации
// сериализуются через compare-and-set в Job Store.
type Job struct {
	// ID — уникальный идентификатор задания.
	ID string `json:"job_id"`

	// UserID — владелец задания. Используется в шаблонах путей.
	UserID string `json:"user_id,omitempty"`

	// Status — общий статус задания.
	Status JobStatus `json:"status"`

	// Steps — шаги в объявленном порядке.
	Steps []Step `json:"steps"`

	// Transitions — рёбра графа в объявленном порядке.
	Transitions []Transition `json:"step_transitions"`

	// Cursor — индекс точки возобновления последнего retry.
	Cursor int `json:"cursor"`

	// RetryGeneration — номер поколения retry. Входит в ключи
	// идемпотентности отправки, чтобы retry снимал подавление.
	RetryGeneration int `json:"retry_generation"`

	// CreatedAt — время создания (иммутабельно).
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последней мутации документа.
	UpdatedAt time.Time `json:"updated_at"`
}

// Step возвращает шаг по имени или nil.
func (j *Job) Step(name string) *Step {
	for i := range j.Steps {
		if j.Steps[i].Name == name {
			return &j.Steps[i]
		}
	}
	return nil
}

// StepIndex возвращает индекс шага по имени или -1.
func (j *Job) StepIndex(name string) int {
	for i := range j.Steps {
		if j.Steps[i].Name == name {
			return i
		}
	}
	return -1
}

// TransitionsTo возвращает входящие рёбра шага.
func (j *Job) TransitionsTo(name string) []Transition {
	var in []Transition
	for _, t := range j.Transitions {
		if t.To == name {
			in = append(in, t)
		}
	}
	return in
}

// TransitionsFrom возвращает исходящие рёбра шага.
func (j *Job) TransitionsFrom(name string) []Transition {
	var out []Transition
	for _, t := range j.Transitions {
		if t.From == name {
			out = append(out, t)
		}
	}
	return out
}

// Producers возвращает имена шагов-производителей для шага,
// без дубликатов, в объявленном порядке шагов.
func (j *Job) Producers(name string) []string {
	seen := make(map[string]bool)
	for _, t := range j.Transitions {
		if t.To == name {
			seen[t.From] = true
		}
	}
	var producers []string
	for i := range j.Steps {
		if seen[j.Steps[i].Name] {
			producers = append(producers, j.Steps[i].Name)
		}
	}
	return producers
}

// Consumers возвращает имена шагов-потребителей для шага,
// без дубликатов, в объявленном порядке шагов.
func (j *Job) Consumers(name string) []string {
	seen := make(map[string]bool)
	for _, t := range j.Transitions {
		if t.From == name {
			seen[t.To] = true
		}
	}
	var consumers []string
	for i := range j.Steps {
		if seen[j.Steps[i].Name] {
			consumers = append(consumers, j.Steps[i].Name)
		}
	}
	return consumers
}

// DependencyClosure возвращает имя шага и все шаги, транзитивно
// зависящие от него, в объявленном порядке. Используется retry:
// сбрасывается ровно это множество.
func (j *Job) DependencyClosure(name string) []string {
	inClosure := map[string]bool{name: true}

	// Шаги объявлены в топологическом порядке (валидатор запрещает
	// back-edges), поэтому одного прохода вперёд достаточно.
	for i := range j.Steps {
		stepName := j.Steps[i].Name
		if inClosure[stepName] {
			continue
		}
		for _, producer := range j.Producers(stepName) {
			if inClosure[producer] {
				inClosure[stepName] = true
				break
			}
		}
	}

	var closure []string
	for i := range j.Steps {
		if inClosure[j.Steps[i].Name] {
			closure = append(closure, j.Steps[i].Name)
		}
	}
	return closure
}

// AllStepsDone возвращает true, если каждый шаг завершён успешно
// (complete или skipped-cached, для fan-out — все инстансы).
func (j *Job) AllStepsDone() bool {
	for i := range j.Steps {
		step := &j.Steps[i]
		if step.IsFanOut() {
			if !step.InstancesDone() {
				return false
			}
			continue
		}
		if !step.Status.IsDone() {
			return false
		}
	}
	return true
}

// HasFailedStep возвращает true, если хотя бы один шаг упал.
func (j *Job) HasFailedStep() bool {
	for i := range j.Steps {
		step := &j.Steps[i]
		if step.Status == StepStatusFailed || step.InstancesFailed() {
			return true
		}
	}
	return false
}

// HasInFlightStep возвращает true, если хотя бы один шаг у воркера.
// Упавшее задание финализируется только после того, как in-flight
// соседи дренировались.
func (j *Job) HasInFlightStep() bool {
	for i := range j.Steps {
		step := &j.Steps[i]
		if step.Status.InFlight() || step.InstancesInFlight() {
			return true
		}
	}
	return false
}

// EarliestFailedStep возвращает первый упавший шаг в объявленном
// порядке — точку возобновления retry. nil, если падений нет.
func (j *Job) EarliestFailedStep() *Step {
	for i := range j.Steps {
		step := &j.Steps[i]
		if step.Status == StepStatusFailed || step.InstancesFailed() {
			return step
		}
	}
	return nil
}

// Touch обновляет время последней мутации.
func (j *Job) Touch() {
	j.UpdatedAt = time.Now().UTC()
}

// MarkProcessing переводит задание в processing.
func (j *Job) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.Touch()
}

// MarkRetrying переводит задание в retrying и открывает новое
// поколение retry.
func (j *Job) MarkRetrying(resumeIndex int) {
	j.Status = JobStatusRetrying
	j.Cursor = resumeIndex
	j.RetryGeneration++
	j.Touch()
}
