package api

import (
	"github.com/savrin/waveline/internal/domain"
)

// SubmitJobRequest — запрос на создание задания.
type SubmitJobRequest struct {
	UserID          string              `json:"user_id"`
	Steps           []SubmitStep        `json:"steps"`
	StepTransitions []domain.Transition `json:"step_transitions"`
}

// SubmitStep — один шаг в запросе.
type SubmitStep struct {
	Name          string             `json:"name"`
	Service       string             `json:"service"`
	StoragePolicy string             `json:"storage_policy,omitempty"`
	CommandSpec   domain.CommandSpec `json:"command_spec"`
	Inputs        map[string]string  `json:"inputs,omitempty"`
	Outputs       map[string]string  `json:"outputs,omitempty"`
}

// ToDomain собирает доменное задание из запроса.
// Статусы, порядок и таймауты проставит валидатор.
func (r *SubmitJobRequest) ToDomain() *domain.Job {
	job := &domain.Job{
		UserID:      r.UserID,
		Transitions: r.StepTransitions,
		Steps:       make([]domain.Step, len(r.Steps)),
	}
	for i, s := range r.Steps {
		job.Steps[i] = domain.Step{
			Name:          s.Name,
			Service:       s.Service,
			StoragePolicy: s.StoragePolicy,
			Command:       s.CommandSpec,
			Inputs:        s.Inputs,
			Outputs:       s.Outputs,
		}
	}
	return job
}

// SubmitJobResponse — ответ на submit.
type SubmitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// RetryJobResponse — ответ на retry.
type RetryJobResponse struct {
	Status     string `json:"status"`
	ResumeStep string `json:"resume_step"`
}
