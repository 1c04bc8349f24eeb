package domain

import (
	"fmt"
	"strings"
	"time"
)

// Step — один шаг конвейера.
//
// Step объявляется клиентом при submit и дальше мутируется только
// оркестратором: статус, разрешённые входы, произведённые выходы, ошибка.
type Step struct {
	// Name — стабильное имя шага, уникальное внутри задания.
	Name string `json:"name"`

	// Service — ключ маршрутизации: имя воркер-сервиса и его очереди.
	Service string `json:"service"`

	// Order — позиция в объявленном порядке. Используется для
	// стабильного tie-break при одновременной готовности шагов.
	Order int `json:"order"`

	// Command — описание команды инструмента. Для движка непрозрачно.
	Command CommandSpec `json:"command_spec"`

	// Inputs — входные плейсхолдеры: имя → литерал или шаблон.
	Inputs map[string]string `json:"inputs,omitempty"`

	// Outputs — выходные плейсхолдеры: имя → шаблон пути назначения.
	Outputs map[string]string `json:"outputs,omitempty"`

	// StoragePolicy — подсказка воркеру о размещении артефактов.
	// Движок передаёт её насквозь.
	StoragePolicy string `json:"storage_policy,omitempty"`

	// Status — текущий статус шага. При fan-out — агрегат по инстансам.
	Status StepStatus `json:"status"`

	// CacheKey — детерминированный ключ кэша, если операция детерминирована.
	CacheKey string `json:"cache_key,omitempty"`

	// Err — структурированная ошибка последнего падения.
	Err *StepError `json:"error,omitempty"`

	// ResolvedInputs — входы после связывания переходами и подстановки.
	ResolvedInputs map[string]string `json:"resolved_inputs,omitempty"`

	// Produced — фактически произведённые выходы: плейсхолдер → ссылка.
	Produced map[string]string `json:"produced_outputs,omitempty"`

	// Checksums — контрольные суммы произведённых выходов.
	Checksums map[string]string `json:"output_checksums,omitempty"`

	// Instances — материализованные параллельные инстансы при fan-out.
	// Пусто для обычного шага.
	Instances []StepInstance `json:"instances,omitempty"`

	// TimeoutSec — таймаут шага, зафиксированный из манифеста при submit.
	TimeoutSec int `json:"timeout_sec,omitempty"`

	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// StepInstance — один параллельный инстанс шага при fan-out.
// Разделяет объявление с родительским шагом, но имеет собственные
// статус, входы, выходы и ошибку.
type StepInstance struct {
	// Index — индекс инстанса (0..N-1).
	Index int `json:"index"`

	Status         StepStatus        `json:"status"`
	ResolvedInputs map[string]string `json:"resolved_inputs,omitempty"`
	Produced       map[string]string `json:"produced_outputs,omitempty"`
	Checksums      map[string]string `json:"output_checksums,omitempty"`
	Err            *StepError        `json:"error,omitempty"`

	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// CompositeName возвращает стабильный dir-safe идентификатор шага,
// включающий порядок, сервис и программу: "02_flucoma_fluid-hpss".
func (s *Step) CompositeName() string {
	program := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s.Command.Program)
	return fmt.Sprintf("%02d_%s_%s", s.Order, s.Service, program)
}

// IsFanOut возвращает true, если шаг материализован в N инстансов.
func (s *Step) IsFanOut() bool {
	return len(s.Instances) > 0
}

// Instance возвращает инстанс по индексу или nil.
func (s *Step) Instance(index int) *StepInstance {
	if index < 0 || index >= len(s.Instances) {
		return nil
	}
	return &s.Instances[index]
}

// MarkDispatched переводит шаг в dispatched.
func (s *Step) MarkDispatched() {
	now := time.Now().UTC()
	s.Status = StepStatusDispatched
	s.DispatchedAt = &now
}

// MarkProcessing переводит шаг в processing.
func (s *Step) MarkProcessing() {
	now := time.Now().UTC()
	s.Status = StepStatusProcessing
	s.StartedAt = &now
}

// MarkComplete фиксирует успех и произведённые выходы.
func (s *Step) MarkComplete(produced, checksums map[string]string) {
	now := time.Now().UTC()
	s.Status = StepStatusComplete
	s.Produced = produced
	s.Checksums = checksums
	s.Err = nil
	s.FinishedAt = &now
}

// MarkFailed фиксирует падение со структурированной ошибкой.
func (s *Step) MarkFailed(stepErr *StepError) {
	now := time.Now().UTC()
	s.Status = StepStatusFailed
	s.Err = stepErr
	s.FinishedAt = &now
}

// MarkSkippedCached фиксирует попадание в кэш: шаг не исполнялся,
// выходы взяты из кэш-записи.
func (s *Step) MarkSkippedCached(produced, checksums map[string]string) {
	now := time.Now().UTC()
	s.Status = StepStatusSkippedCached
	s.Produced = produced
	s.Checksums = checksums
	s.Err = nil
	s.FinishedAt = &now
}

// ResetForRetry возвращает шаг в pending, очищая результаты и ошибку.
// Объявленные Inputs/Outputs/Command не трогаются.
func (s *Step) ResetForRetry() {
	s.Status = StepStatusPending
	s.ResolvedInputs = nil
	s.Produced = nil
	s.Checksums = nil
	s.Err = nil
	s.CacheKey = ""
	s.Instances = nil
	s.DispatchedAt = nil
	s.StartedAt = nil
	s.FinishedAt = nil
}

// InstancesDone возвращает true, если все инстансы успешно завершены.
func (s *Step) InstancesDone() bool {
	if len(s.Instances) == 0 {
		return false
	}
	for i := range s.Instances {
		if !s.Instances[i].Status.IsDone() {
			return false
		}
	}
	return true
}

// InstancesFailed возвращает true, если хотя бы один инстанс упал.
func (s *Step) InstancesFailed() bool {
	for i := range s.Instances {
		if s.Instances[i].Status == StepStatusFailed {
			return true
		}
	}
	return false
}

// InstancesInFlight возвращает true, если хотя бы один инстанс у воркера.
func (s *Step) InstancesInFlight() bool {
	for i := range s.Instances {
		if s.Instances[i].Status.InFlight() {
			return true
		}
	}
	return false
}

// MarkDispatched переводит инстанс в dispatched.
func (si *StepInstance) MarkDispatched() {
	now := time.Now().UTC()
	si.Status = StepStatusDispatched
	si.DispatchedAt = &now
}

// MarkProcessing переводит инстанс в processing.
func (si *StepInstance) MarkProcessing() {
	now := time.Now().UTC()
	si.Status = StepStatusProcessing
	si.StartedAt = &now
}

// MarkComplete фиксирует успех инстанса.
func (si *StepInstance) MarkComplete(produced, checksums map[string]string) {
	now := time.Now().UTC()
	si.Status = StepStatusComplete
	si.Produced = produced
	si.Checksums = checksums
	si.Err = nil
	si.FinishedAt = &now
}

// MarkFailed фиксирует падение инстанса.
func (si *StepInstance) MarkFailed(stepErr *StepError) {
	now := time.Now().UTC()
	si.Status = StepStatusFailed
	si.Err = stepErr
	si.FinishedAt = &now
}

// MarkSkippedCached фиксирует попадание инстанса в кэш.
func (si *StepInstance) MarkSkippedCached(produced, checksums map[string]string) {
	now := time.Now().UTC()
	si.Status = StepStatusSkippedCached
	si.Produced = produced
	si.Checksums = checksums
	si.Err = nil
	si.FinishedAt = &now
}

// RefreshFanOutStatus пересчитывает агрегатный статус fan-out шага по
// инстансам: complete — все инстансы done; failed — есть упавший и
// in-flight не осталось.
func (s *Step) RefreshFanOutStatus() {
	if !s.IsFanOut() {
		return
	}
	if s.InstancesDone() {
		now := time.Now().UTC()
		s.Status = StepStatusComplete
		s.FinishedAt = &now
		return
	}
	if s.InstancesFailed() && !s.InstancesInFlight() {
		s.Status = StepStatusFailed
	}
}
