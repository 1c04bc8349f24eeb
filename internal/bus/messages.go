package bus

import (
	"encoding/json"
	"fmt"

	"github.com/savrin/waveline/internal/domain"
)

// StatusQueue — очередь статусных сообщений воркеров.
const StatusQueue = "job_status_events"

// ServiceQueue возвращает имя очереди воркер-сервиса.
func ServiceQueue(service string) string {
	return service + "_queue"
}

// StepReadyMessage — тонкое сообщение о готовом шаге.
// Несёт только идентификаторы; контекст шага воркер забирает через
// hydrate API.
type StepReadyMessage struct {
	JobID    string `json:"job_id"`
	StepName string `json:"step_name"`

	// InstanceIndex — индекс инстанса при fan-out; nil для обычного шага.
	InstanceIndex *int `json:"instance_index,omitempty"`
}

// StatusMessage — статусное сообщение воркера о завершении шага.
type StatusMessage struct {
	JobID    string `json:"job_id"`
	StepName string `json:"step_name"`

	// InstanceIndex — индекс инстанса при fan-out; nil для обычного шага.
	InstanceIndex *int `json:"instance_index,omitempty"`

	// Outcome — complete или failed.
	Outcome domain.Outcome `json:"outcome"`

	// Outputs — произведённые выходы: плейсхолдер → ссылка.
	Outputs map[string]string `json:"outputs,omitempty"`

	// OutputChecksums — контрольные суммы произведённых выходов.
	OutputChecksums map[string]string `json:"output_checksums,omitempty"`

	// Error — структурированная ошибка при outcome=failed.
	Error *domain.StepError `json:"error,omitempty"`
}

// Instance возвращает индекс инстанса или -1.
func (m *StatusMessage) Instance() int {
	if m.InstanceIndex == nil {
		return -1
	}
	return *m.InstanceIndex
}

// ParseStatusMessage разбирает статусное сообщение из очереди.
func ParseStatusMessage(payload []byte) (*StatusMessage, error) {
	var msg StatusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal status message: %w", err)
	}
	if msg.JobID == "" || msg.StepName == "" || msg.Outcome == "" {
		return nil, fmt.Errorf("status message missing required fields: %s", payload)
	}
	return &msg, nil
}

// ParseStepReadyMessage разбирает тонкое сообщение сервисной очереди.
func ParseStepReadyMessage(payload []byte) (*StepReadyMessage, error) {
	var msg StepReadyMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal step ready message: %w", err)
	}
	if msg.JobID == "" || msg.StepName == "" {
		return nil, fmt.Errorf("step ready message missing required fields: %s", payload)
	}
	return &msg, nil
}
