package plan

import (
	"errors"
	"testing"

	"github.com/savrin/waveline/internal/domain"
	"github.com/savrin/waveline/internal/manifest"
)

// chain строит цепочку a → b: a с литеральным входом, b связан переходом.
func chain() *domain.Job {
	return &domain.Job{
		ID:     "job-1",
		UserID: "u1",
		Status: domain.JobStatusProcessing,
		Steps: []domain.Step{
			{
				Name:    "a",
				Service: "librosa",
				Order:   0,
				Command: domain.CommandSpec{Program: "librosa-trim"},
				Inputs:  map[string]string{"audio": "file:///in/song.wav"},
				Outputs: map[string]string{"audio": "a_out.wav"},
				Status:  domain.StepStatusPending,
			},
			{
				Name:    "b",
				Service: "flucoma",
				Order:   1,
				Command: domain.CommandSpec{Program: "fluid-mfcc"},
				Inputs:  map[string]string{"source": ""},
				Outputs: map[string]string{"features": "b_out.csv"},
				Status:  domain.StepStatusPending,
			},
		},
		Transitions: []domain.Transition{
			{From: "a", To: "b", Mapping: map[string]string{"audio": "source"}},
		},
	}
}

func TestPlan_InitialWave(t *testing.T) {
	job := chain()

	res, err := Plan(job, manifest.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Готов только корень a; b заблокирован
	if len(res.Ready) != 1 || res.Ready[0].StepName != "a" || res.Ready[0].Instance != -1 {
		t.Fatalf("ready = %v, want [a]", res.Ready)
	}
	if len(res.Blocked) != 1 || res.Blocked[0] != "b" {
		t.Errorf("blocked = %v, want [b]", res.Blocked)
	}
	if res.Resolutions["a"]["audio"] != "file:///in/song.wav" {
		t.Errorf("resolved inputs of a = %v", res.Resolutions["a"])
	}
	if res.Done || res.Failed {
		t.Error("fresh job is neither done nor failed")
	}
}

func TestPlan_ChainAdvances(t *testing.T) {
	// S2: после завершения a вход b связан выходом a
	job := chain()
	job.Steps[0].Status = domain.StepStatusComplete
	job.Steps[0].Produced = map[string]string{"audio": "x"}

	res, err := Plan(job, manifest.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Ready) != 1 || res.Ready[0].StepName != "b" {
		t.Fatalf("ready = %v, want [b]", res.Ready)
	}
	if res.Resolutions["b"]["source"] != "x" {
		t.Errorf("b.source = %q, want x", res.Resolutions["b"]["source"])
	}
}

func TestPlan_SkippedCachedCountsAsDone(t *testing.T) {
	job := chain()
	job.Steps[0].Status = domain.StepStatusSkippedCached
	job.Steps[0].Produced = map[string]string{"audio": "cached.wav"}

	res, err := Plan(job, manifest.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Ready) != 1 || res.Ready[0].StepName != "b" {
		t.Fatalf("ready = %v, want [b]", res.Ready)
	}
	if res.Resolutions["b"]["source"] != "cached.wav" {
		t.Errorf("b.source = %q", res.Resolutions["b"]["source"])
	}
}

func TestPlan_FailedProducerBlocksConsumer(t *testing.T) {
	// S4: после падения a шаг b не отправляется никогда
	job := chain()
	job.Steps[0].Status = domain.StepStatusFailed

	res, err := Plan(job, manifest.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Ready) != 0 {
		t.Errorf("ready = %v, want none", res.Ready)
	}
	if !res.Failed {
		t.Error("job with failed step and no in-flight work should finalize as failed")
	}
}

func TestPlan_FailedWaitsForInFlightSiblings(t *testing.T) {
	// Упавшее задание финализируется только после дренажа in-flight
	job := &domain.Job{
		Status: domain.JobStatusProcessing,
		Steps: []domain.Step{
			{Name: "a", Service: "librosa", Order: 0, Status: domain.StepStatusFailed,
				Command: domain.CommandSpec{Program: "librosa-trim"},
				Inputs:  map[string]string{"audio": "file:///a.wav"}},
			{Name: "b", Service: "librosa", Order: 1, Status: domain.StepStatusProcessing,
				Command: domain.CommandSpec{Program: "librosa-trim"},
				Inputs:  map[string]string{"audio": "file:///b.wav"}},
		},
	}

	res, err := Plan(job, manifest.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failed {
		t.Error("job should not finalize while a sibling is in flight")
	}

	job.Steps[1].Status = domain.StepStatusComplete
	res, err = Plan(job, manifest.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Failed {
		t.Error("job should finalize after siblings drained")
	}
}

func TestPlan_Done(t *testing.T) {
	job := chain()
	job.Steps[0].Status = domain.StepStatusComplete
	job.Steps[0].Produced = map[string]string{"audio": "x"}
	job.Steps[1].Status = domain.StepStatusComplete

	res, err := Plan(job, manifest.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Done {
		t.Error("all steps complete should report done")
	}
}

// fanOutJob — S3: split (fan-out) → analyze (N инстансов) → aggregate.
func fanOutJob() *domain.Job {
	return &domain.Job{
		ID:     "job-3",
		Status: domain.JobStatusProcessing,
		Steps: []domain.Step{
			{
				Name:    "split",
				Service: "librosa",
				Order:   0,
				Command: domain.CommandSpec{
					Program: "librosa-slice",
					Flags:   map[string]any{"--segments": float64(4)},
				},
				Inputs:  map[string]string{"audio": "file:///in.wav"},
				Outputs: map[string]string{"slice": "slices/"},
				Status:  domain.StepStatusComplete,
				Produced: map[string]string{
					"slice.0": "s0.wav",
					"slice.1": "s1.wav",
					"slice.2": "s2.wav",
					"slice.3": "s3.wav",
				},
			},
			{
				Name:    "analyze",
				Service: "flucoma",
				Order:   1,
				Command: domain.CommandSpec{Program: "fluid-mfcc"},
				Inputs:  map[string]string{"source": ""},
				Outputs: map[string]string{"features": "features_{{instance_index}}.csv"},
				Status:  domain.StepStatusPending,
			},
			{
				Name:    "aggregate",
				Service: "librosa",
				Order:   2,
				Command: domain.CommandSpec{Program: "librosa-concat"},
				Inputs:  map[string]string{"parts": ""},
				Outputs: map[string]string{"audio": "merged.csv"},
				Status:  domain.StepStatusPending,
			},
		},
		Transitions: []domain.Transition{
			{From: "split", To: "analyze", Mapping: map[string]string{"slice": "source"}},
			{From: "analyze", To: "aggregate", Mapping: map[string]string{"features": "parts"}},
		},
	}
}

func TestPlan_FanOutExpansion(t *testing.T) {
	job := fanOutJob()

	res, err := Plan(job, manifest.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Expansions) != 1 {
		t.Fatalf("expansions = %d, want 1", len(res.Expansions))
	}
	ex := res.Expansions[0]
	if ex.StepName != "analyze" || len(ex.InstanceInputs) != 4 {
		t.Fatalf("expansion = %+v, want analyze with 4 instances", ex)
	}
	// Инстансы в порядке индексов
	if ex.InstanceInputs[0]["source"] != "s0.wav" || ex.InstanceInputs[3]["source"] != "s3.wav" {
		t.Errorf("instance inputs = %v", ex.InstanceInputs)
	}

	// 4 цели отправки — инстансы analyze
	if len(res.Ready) != 4 {
		t.Fatalf("ready = %v, want 4 instance targets", res.Ready)
	}
	for i, target := range res.Ready {
		if target.StepName != "analyze" || target.Instance != i {
			t.Errorf("ready[%d] = %+v", i, target)
		}
	}

	// Счётчик join для aggregate инициализируется в 4
	if len(res.JoinInits) != 1 || res.JoinInits[0].StepName != "aggregate" || res.JoinInits[0].Count != 4 {
		t.Errorf("join inits = %v, want aggregate=4", res.JoinInits)
	}
}

func TestPlan_FanInAfterAllInstances(t *testing.T) {
	job := fanOutJob()
	job.Steps[1].Status = domain.StepStatusProcessing
	job.Steps[1].Instances = []domain.StepInstance{
		{Index: 0, Status: domain.StepStatusComplete, Produced: map[string]string{"features": "f0.csv"}},
		{Index: 1, Status: domain.StepStatusComplete, Produced: map[string]string{"features": "f1.csv"}},
		{Index: 2, Status: domain.StepStatusComplete, Produced: map[string]string{"features": "f2.csv"}},
		{Index: 3, Status: domain.StepStatusProcessing},
	}

	res, err := Plan(job, manifest.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// aggregate заблокирован, пока четвёртый инстанс не завершён
	for _, target := range res.Ready {
		if target.StepName == "aggregate" {
			t.Fatal("aggregate must not be ready before all instances complete")
		}
	}

	job.Steps[1].Instances[3] = domain.StepInstance{
		Index: 3, Status: domain.StepStatusComplete,
		Produced: map[string]string{"features": "f3.csv"},
	}

	res, err = Plan(job, manifest.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Ready) != 1 || res.Ready[0].StepName != "aggregate" {
		t.Fatalf("ready = %v, want [aggregate]", res.Ready)
	}

	// Входы join'а агрегированы с индексами
	inputs := res.Resolutions["aggregate"]
	if inputs["parts.0"] != "f0.csv" || inputs["parts.3"] != "f3.csv" {
		t.Errorf("aggregate inputs = %v", inputs)
	}
}

func TestPlan_FailedInstanceStopsSiblings(t *testing.T) {
	job := fanOutJob()
	job.Steps[1].Status = domain.StepStatusProcessing
	job.Steps[1].Instances = []domain.StepInstance{
		{Index: 0, Status: domain.StepStatusFailed},
		{Index: 1, Status: domain.StepStatusPending},
		{Index: 2, Status: domain.StepStatusProcessing},
		{Index: 3, Status: domain.StepStatusPending},
	}

	res, err := Plan(job, manifest.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Неотправленные соседи упавшего инстанса не отправляются
	if len(res.Ready) != 0 {
		t.Errorf("ready = %v, want none", res.Ready)
	}
	// Инстанс 2 ещё in-flight — задание не финализируется
	if res.Failed {
		t.Error("job should drain in-flight instances before failing")
	}
}

func TestPlan_UnresolvableTemplate(t *testing.T) {
	job := chain()
	job.Steps[0].Inputs["audio"] = "{{steps.ghost.outputs.audio}}"

	_, err := Plan(job, manifest.NewRegistry())
	if !errors.Is(err, ErrUnplannable) {
		t.Errorf("err = %v, want ErrUnplannable", err)
	}
}

func TestJoins_StaticFanIn(t *testing.T) {
	job := &domain.Job{
		Steps: []domain.Step{
			{Name: "left", Order: 0},
			{Name: "right", Order: 1},
			{Name: "mix", Order: 2},
		},
		Transitions: []domain.Transition{
			{From: "left", To: "mix", Mapping: map[string]string{"o": "a"}},
			{From: "right", To: "mix", Mapping: map[string]string{"o": "b"}},
		},
	}

	joins := Joins(job)
	if len(joins) != 1 || joins[0].StepName != "mix" || joins[0].Count != 2 {
		t.Errorf("joins = %v, want mix=2", joins)
	}
}
