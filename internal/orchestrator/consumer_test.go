package orchestrator

import (
	"errors"
	"testing"

	"github.com/savrin/waveline/internal/bus"
	"github.com/savrin/waveline/internal/domain"
)

func statusJob() *domain.Job {
	return &domain.Job{
		ID:     "j1",
		Status: domain.JobStatusProcessing,
		Steps: []domain.Step{
			{Name: "a", Service: "librosa", Order: 0, Status: domain.StepStatusProcessing},
			{Name: "b", Service: "flucoma", Order: 1, Status: domain.StepStatusPending},
		},
		Transitions: []domain.Transition{
			{From: "a", To: "b", Mapping: map[string]string{"out": "in"}},
		},
	}
}

func TestApplyOutcome_Complete(t *testing.T) {
	job := statusJob()
	msg := &bus.StatusMessage{
		JobID:           "j1",
		StepName:        "a",
		Outcome:         domain.OutcomeComplete,
		Outputs:         map[string]string{"out": "x.wav"},
		OutputChecksums: map[string]string{"out": "abc"},
	}

	if err := applyOutcome(job, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	step := job.Step("a")
	if step.Status != domain.StepStatusComplete {
		t.Errorf("status = %s, want complete", step.Status)
	}
	if step.Produced["out"] != "x.wav" || step.Checksums["out"] != "abc" {
		t.Errorf("produced = %v, checksums = %v", step.Produced, step.Checksums)
	}
	if step.FinishedAt == nil {
		t.Error("finished_at should be set")
	}
}

func TestApplyOutcome_Failed(t *testing.T) {
	job := statusJob()
	msg := &bus.StatusMessage{
		JobID:    "j1",
		StepName: "a",
		Outcome:  domain.OutcomeFailed,
		Error:    domain.NewApplicationError(domain.ErrCodeToolExit, "exit 1"),
	}

	if err := applyOutcome(job, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	step := job.Step("a")
	if step.Status != domain.StepStatusFailed {
		t.Errorf("status = %s, want failed", step.Status)
	}
	if step.Err == nil || step.Err.Code != domain.ErrCodeToolExit {
		t.Errorf("error = %+v", step.Err)
	}
}

func TestApplyOutcome_FailedWithoutError(t *testing.T) {
	// Воркер не приложил ошибку — подставляется ошибка по умолчанию.
	job := statusJob()
	msg := &bus.StatusMessage{JobID: "j1", StepName: "a", Outcome: domain.OutcomeFailed}

	if err := applyOutcome(job, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Step("a").Err == nil {
		t.Error("default error should be attached")
	}
}

func TestApplyOutcome_DuplicateDropped(t *testing.T) {
	// Идемпотентность: complete не перезаписывается повторным complete.
	job := statusJob()
	job.Steps[0].Status = domain.StepStatusComplete
	job.Steps[0].Produced = map[string]string{"out": "first.wav"}

	msg := &bus.StatusMessage{
		JobID:    "j1",
		StepName: "a",
		Outcome:  domain.OutcomeComplete,
		Outputs:  map[string]string{"out": "second.wav"},
	}

	err := applyOutcome(job, msg)
	if !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("err = %v, want ErrStaleStatus", err)
	}
	if job.Step("a").Produced["out"] != "first.wav" {
		t.Error("duplicate must not overwrite outputs")
	}
}

func TestApplyOutcome_LateResultAfterReset(t *testing.T) {
	// Поздний результат после retry-сброса (pending) отбрасывается.
	job := statusJob()
	job.Steps[0].Status = domain.StepStatusPending

	msg := &bus.StatusMessage{JobID: "j1", StepName: "a", Outcome: domain.OutcomeComplete}

	if err := applyOutcome(job, msg); !errors.Is(err, ErrStaleStatus) {
		t.Errorf("err = %v, want ErrStaleStatus", err)
	}
}

func TestApplyOutcome_UnknownStep(t *testing.T) {
	job := statusJob()
	msg := &bus.StatusMessage{JobID: "j1", StepName: "ghost", Outcome: domain.OutcomeComplete}

	if err := applyOutcome(job, msg); !errors.Is(err, ErrStepNotFound) {
		t.Errorf("err = %v, want ErrStepNotFound", err)
	}
}

func TestApplyOutcome_ReadyAccepted(t *testing.T) {
	// Воркер может отчитаться раньше, чем диспетчер зафиксирует dispatched.
	job := statusJob()
	job.Steps[0].Status = domain.StepStatusReady

	msg := &bus.StatusMessage{
		JobID:    "j1",
		StepName: "a",
		Outcome:  domain.OutcomeComplete,
		Outputs:  map[string]string{"out": "x.wav"},
	}

	if err := applyOutcome(job, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Step("a").Status != domain.StepStatusComplete {
		t.Error("outcome must apply to a ready step")
	}
}

func TestApplyOutcome_Instance(t *testing.T) {
	job := statusJob()
	job.Steps[0].Status = domain.StepStatusProcessing
	job.Steps[0].Instances = []domain.StepInstance{
		{Index: 0, Status: domain.StepStatusProcessing},
		{Index: 1, Status: domain.StepStatusProcessing},
	}

	idx := 0
	msg := &bus.StatusMessage{
		JobID:         "j1",
		StepName:      "a",
		InstanceIndex: &idx,
		Outcome:       domain.OutcomeComplete,
		Outputs:       map[string]string{"out": "i0.wav"},
	}

	if err := applyOutcome(job, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	step := job.Step("a")
	if step.Instances[0].Status != domain.StepStatusComplete {
		t.Errorf("instance 0 status = %s", step.Instances[0].Status)
	}
	// Агрегат остаётся processing: второй инстанс не завершён
	if step.Status != domain.StepStatusProcessing {
		t.Errorf("aggregate status = %s, want processing", step.Status)
	}

	idx1 := 1
	msg2 := &bus.StatusMessage{
		JobID:         "j1",
		StepName:      "a",
		InstanceIndex: &idx1,
		Outcome:       domain.OutcomeComplete,
		Outputs:       map[string]string{"out": "i1.wav"},
	}
	if err := applyOutcome(job, msg2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step.Status != domain.StepStatusComplete {
		t.Errorf("aggregate status = %s, want complete after last instance", step.Status)
	}
}

func TestApplyOutcome_InstanceOutOfRange(t *testing.T) {
	job := statusJob()
	job.Steps[0].Instances = []domain.StepInstance{{Index: 0, Status: domain.StepStatusProcessing}}

	idx := 5
	msg := &bus.StatusMessage{JobID: "j1", StepName: "a", InstanceIndex: &idx, Outcome: domain.OutcomeComplete}

	if err := applyOutcome(job, msg); !errors.Is(err, ErrStaleStatus) {
		t.Errorf("err = %v, want ErrStaleStatus", err)
	}
}

func TestChecksumsByRef(t *testing.T) {
	job := statusJob()
	job.Steps[0].Produced = map[string]string{"out": "a.wav"}
	job.Steps[0].Checksums = map[string]string{"out": "sum-a"}
	job.Steps[1].Instances = []domain.StepInstance{
		{
			Index:     0,
			Produced:  map[string]string{"features": "f0.csv"},
			Checksums: map[string]string{"features": "sum-f0"},
		},
	}

	byRef := checksumsByRef(job)
	if byRef["a.wav"] != "sum-a" {
		t.Errorf("byRef[a.wav] = %q", byRef["a.wav"])
	}
	if byRef["f0.csv"] != "sum-f0" {
		t.Errorf("byRef[f0.csv] = %q", byRef["f0.csv"])
	}
}

func TestOutcomeApplicable(t *testing.T) {
	applicable := []domain.StepStatus{
		domain.StepStatusReady,
		domain.StepStatusDispatched,
		domain.StepStatusProcessing,
	}
	for _, status := range applicable {
		if !outcomeApplicable(status) {
			t.Errorf("outcome should apply to %s", status)
		}
	}

	notApplicable := []domain.StepStatus{
		domain.StepStatusPending,
		domain.StepStatusComplete,
		domain.StepStatusFailed,
		domain.StepStatusSkippedCached,
	}
	for _, status := range notApplicable {
		if outcomeApplicable(status) {
			t.Errorf("outcome should not apply to %s", status)
		}
	}
}
