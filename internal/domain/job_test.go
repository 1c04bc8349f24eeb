package domain

import (
	"testing"
)

// chainJob строит цепочку a → b → c.
func chainJob() *Job {
	return &Job{
		ID: "job-1",
		Steps: []Step{
			{Name: "a", Service: "librosa", Order: 0, Status: StepStatusPending},
			{Name: "b", Service: "flucoma", Order: 1, Status: StepStatusPending},
			{Name: "c", Service: "flucoma", Order: 2, Status: StepStatusPending},
		},
		Transitions: []Transition{
			{From: "a", To: "b", Mapping: map[string]string{"out": "in"}},
			{From: "b", To: "c", Mapping: map[string]string{"out": "in"}},
		},
	}
}

func TestJob_Producers(t *testing.T) {
	job := chainJob()

	if got := job.Producers("b"); len(got) != 1 || got[0] != "a" {
		t.Errorf("producers of b = %v, want [a]", got)
	}
	if got := job.Producers("a"); len(got) != 0 {
		t.Errorf("producers of a = %v, want none", got)
	}
}

func TestJob_DependencyClosure_Chain(t *testing.T) {
	job := chainJob()

	closure := job.DependencyClosure("b")
	if len(closure) != 2 || closure[0] != "b" || closure[1] != "c" {
		t.Errorf("closure of b = %v, want [b c]", closure)
	}
}

func TestJob_DependencyClosure_Diamond(t *testing.T) {
	// a → b → d, a → c → d: closure(b) не трогает c
	job := &Job{
		Steps: []Step{
			{Name: "a", Order: 0},
			{Name: "b", Order: 1},
			{Name: "c", Order: 2},
			{Name: "d", Order: 3},
		},
		Transitions: []Transition{
			{From: "a", To: "b", Mapping: map[string]string{"o": "i"}},
			{From: "a", To: "c", Mapping: map[string]string{"o": "i"}},
			{From: "b", To: "d", Mapping: map[string]string{"o": "i1"}},
			{From: "c", To: "d", Mapping: map[string]string{"o": "i2"}},
		},
	}

	closure := job.DependencyClosure("b")
	if len(closure) != 2 || closure[0] != "b" || closure[1] != "d" {
		t.Errorf("closure of b = %v, want [b d]", closure)
	}
}

func TestJob_EarliestFailedStep(t *testing.T) {
	job := chainJob()
	job.Steps[0].Status = StepStatusComplete
	job.Steps[1].Status = StepStatusFailed
	job.Steps[2].Status = StepStatusFailed

	earliest := job.EarliestFailedStep()
	if earliest == nil || earliest.Name != "b" {
		t.Errorf("earliest failed = %v, want b", earliest)
	}
}

func TestJob_AllStepsDone(t *testing.T) {
	job := chainJob()
	if job.AllStepsDone() {
		t.Error("pending job should not be done")
	}

	job.Steps[0].Status = StepStatusComplete
	job.Steps[1].Status = StepStatusSkippedCached
	job.Steps[2].Status = StepStatusComplete

	if !job.AllStepsDone() {
		t.Error("job with complete/skipped-cached steps should be done")
	}
}

func TestJob_AllStepsDone_FanOut(t *testing.T) {
	job := chainJob()
	job.Steps[0].Status = StepStatusComplete
	job.Steps[1].Status = StepStatusProcessing
	job.Steps[1].Instances = []StepInstance{
		{Index: 0, Status: StepStatusComplete},
		{Index: 1, Status: StepStatusProcessing},
	}
	job.Steps[2].Status = StepStatusComplete

	if job.AllStepsDone() {
		t.Error("job with an in-flight instance should not be done")
	}

	job.Steps[1].Instances[1].Status = StepStatusComplete
	if !job.AllStepsDone() {
		t.Error("job with all instances complete should be done")
	}
}

func TestJob_HasInFlightStep(t *testing.T) {
	job := chainJob()
	if job.HasInFlightStep() {
		t.Error("pending job has no in-flight steps")
	}

	job.Steps[1].Status = StepStatusDispatched
	if !job.HasInFlightStep() {
		t.Error("dispatched step should count as in-flight")
	}
}

func TestStep_ResetForRetry(t *testing.T) {
	step := Step{
		Name:           "b",
		Status:         StepStatusFailed,
		ResolvedInputs: map[string]string{"in": "x"},
		Produced:       map[string]string{"out": "y"},
		CacheKey:       "abc",
		Err:            NewApplicationError(ErrCodeToolExit, "boom"),
		Instances:      []StepInstance{{Index: 0, Status: StepStatusFailed}},
	}

	step.ResetForRetry()

	if step.Status != StepStatusPending {
		t.Errorf("status = %s, want pending", step.Status)
	}
	if step.ResolvedInputs != nil || step.Produced != nil || step.Err != nil {
		t.Error("reset should clear bindings, outputs and error")
	}
	if step.CacheKey != "" || step.Instances != nil {
		t.Error("reset should clear cache key and instances")
	}
}

func TestStep_CompositeName(t *testing.T) {
	step := Step{
		Name:    "split",
		Service: "librosa",
		Order:   2,
		Command: CommandSpec{Program: "librosa-slice"},
	}

	if got := step.CompositeName(); got != "02_librosa_librosa-slice" {
		t.Errorf("composite name = %q", got)
	}
}

func TestStep_RefreshFanOutStatus(t *testing.T) {
	step := Step{
		Name:   "analyze",
		Status: StepStatusProcessing,
		Instances: []StepInstance{
			{Index: 0, Status: StepStatusComplete},
			{Index: 1, Status: StepStatusSkippedCached},
		},
	}

	step.RefreshFanOutStatus()
	if step.Status != StepStatusComplete {
		t.Errorf("status = %s, want complete", step.Status)
	}

	step.Status = StepStatusProcessing
	step.Instances[1] = StepInstance{Index: 1, Status: StepStatusFailed}
	step.RefreshFanOutStatus()
	if step.Status != StepStatusFailed {
		t.Errorf("status = %s, want failed", step.Status)
	}
}

func TestTransition_Apply(t *testing.T) {
	tr := Transition{From: "a", To: "b", Mapping: map[string]string{"out": "in"}}

	bound := tr.Apply(map[string]string{"out": "ref.wav", "other": "x"})
	if len(bound) != 1 || bound["in"] != "ref.wav" {
		t.Errorf("bound = %v, want {in: ref.wav}", bound)
	}
}

func TestTransition_Apply_Indexed(t *testing.T) {
	// Индексированные выходы fan-out producer'а переносят индекс на вход.
	tr := Transition{From: "split", To: "analyze", Mapping: map[string]string{"slice": "audio"}}

	bound := tr.Apply(map[string]string{
		"slice.0": "s0.wav",
		"slice.1": "s1.wav",
	})
	if len(bound) != 2 || bound["audio.0"] != "s0.wav" || bound["audio.1"] != "s1.wav" {
		t.Errorf("bound = %v", bound)
	}
}

func TestCommandSpec_Argv(t *testing.T) {
	spec := CommandSpec{
		Program: "fluid-hpss",
		Flags:   map[string]any{"-source": "in.wav", "-maskingmode": 1},
		Args:    []string{"extra"},
	}

	argv := spec.Argv()
	// Флаги отсортированы: -maskingmode раньше -source
	want := []string{"fluid-hpss", "-maskingmode", "1", "-source", "in.wav", "extra"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
}
