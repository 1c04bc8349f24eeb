package validate

import (
	"errors"
	"testing"

	"github.com/savrin/waveline/internal/domain"
	"github.com/savrin/waveline/internal/manifest"
)

// validChain — валидная цепочка resample → hpss.
func validChain() *domain.Job {
	return &domain.Job{
		UserID: "u1",
		Steps: []domain.Step{
			{
				Name:    "resample",
				Service: "librosa",
				Command: domain.CommandSpec{
					Program: "librosa-resample",
					Flags:   map[string]any{"--target-sr": float64(44100)},
				},
				Inputs:  map[string]string{"audio": "file:///in/song.wav"},
				Outputs: map[string]string{"audio": "{{composite_name}}/resampled.wav"},
			},
			{
				Name:    "hpss",
				Service: "flucoma",
				Command: domain.CommandSpec{Program: "fluid-hpss"},
				Inputs:  map[string]string{"source": ""},
				Outputs: map[string]string{
					"harmonic":   "{{composite_name}}/harmonic.wav",
					"percussive": "{{composite_name}}/percussive.wav",
				},
			},
		},
		Transitions: []domain.Transition{
			{From: "resample", To: "hpss", Mapping: map[string]string{"audio": "source"}},
		},
	}
}

func TestPipeline_Valid(t *testing.T) {
	job := validChain()

	if err := Pipeline(job, manifest.NewRegistry()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Нормализация: порядок, статусы, таймауты
	if job.Steps[0].Order != 0 || job.Steps[1].Order != 1 {
		t.Error("orders should be assigned by position")
	}
	if job.Steps[0].Status != domain.StepStatusPending {
		t.Errorf("status = %s, want pending", job.Steps[0].Status)
	}
	if job.Steps[1].TimeoutSec != 600 {
		t.Errorf("hpss timeout = %d, want 600 from manifest", job.Steps[1].TimeoutSec)
	}
	if job.Status != domain.JobStatusPending {
		t.Errorf("job status = %s, want pending", job.Status)
	}
}

func TestPipeline_EmptySteps(t *testing.T) {
	err := Pipeline(&domain.Job{}, manifest.NewRegistry())
	if !errors.Is(err, ErrEmptyPipeline) {
		t.Errorf("err = %v, want ErrEmptyPipeline", err)
	}
}

func TestPipeline_UnknownService(t *testing.T) {
	job := validChain()
	job.Steps[0].Service = "sox"

	err := Pipeline(job, manifest.NewRegistry())
	if !errors.Is(err, ErrUnknownService) {
		t.Errorf("err = %v, want ErrUnknownService", err)
	}
}

func TestPipeline_UnknownOperation(t *testing.T) {
	job := validChain()
	job.Steps[0].Command.Program = "librosa-reverse"

	err := Pipeline(job, manifest.NewRegistry())
	if !errors.Is(err, ErrUnknownOperation) {
		t.Errorf("err = %v, want ErrUnknownOperation", err)
	}
}

func TestPipeline_ParameterOutOfRange(t *testing.T) {
	job := validChain()
	job.Steps[0].Command.Flags["--target-sr"] = float64(1000) // ниже минимума 8000

	err := Pipeline(job, manifest.NewRegistry())
	if !errors.Is(err, ErrBadParameter) {
		t.Errorf("err = %v, want ErrBadParameter", err)
	}
}

func TestPipeline_UndeclaredFlagPassesThrough(t *testing.T) {
	// Флаги вне дескрипторов (-source и подобные адреса файлов)
	// не типизируются и проходят валидацию.
	job := validChain()
	job.Steps[1].Command.Flags = map[string]any{"-source": "file:///x.wav"}

	if err := Pipeline(job, manifest.NewRegistry()); err != nil {
		t.Fatalf("undeclared flag should pass: %v", err)
	}
}

func TestPipeline_RequiredParameterMissing(t *testing.T) {
	job := validChain()
	delete(job.Steps[0].Command.Flags, "--target-sr")

	err := Pipeline(job, manifest.NewRegistry())
	if !errors.Is(err, ErrMissingParameter) {
		t.Errorf("err = %v, want ErrMissingParameter", err)
	}
}

func TestPipeline_TemplateFlagSkipsRangeCheck(t *testing.T) {
	job := validChain()
	job.Steps[1].Command.Flags = map[string]any{"-source": "{{steps.resample.outputs.audio}}"}

	if err := Pipeline(job, manifest.NewRegistry()); err != nil {
		t.Fatalf("template flag should pass validation: %v", err)
	}
}

func TestPipeline_BackEdge(t *testing.T) {
	job := validChain()
	job.Transitions = append(job.Transitions, domain.Transition{
		From: "hpss", To: "resample", Mapping: map[string]string{"harmonic": "audio"},
	})

	err := Pipeline(job, manifest.NewRegistry())
	if !errors.Is(err, ErrBackEdge) {
		t.Errorf("err = %v, want ErrBackEdge", err)
	}
}

func TestPipeline_TransitionUnknownStep(t *testing.T) {
	job := validChain()
	job.Transitions[0].To = "ghost"

	err := Pipeline(job, manifest.NewRegistry())
	if !errors.Is(err, ErrUnknownTransitionStep) {
		t.Errorf("err = %v, want ErrUnknownTransitionStep", err)
	}
}

func TestPipeline_TransitionUnknownOutput(t *testing.T) {
	job := validChain()
	job.Transitions[0].Mapping = map[string]string{"spectrum": "source"}

	err := Pipeline(job, manifest.NewRegistry())
	if !errors.Is(err, ErrUnknownOutput) {
		t.Errorf("err = %v, want ErrUnknownOutput", err)
	}
}

func TestPipeline_UnboundInput(t *testing.T) {
	job := validChain()
	job.Transitions = nil // hpss.source остаётся пустым

	err := Pipeline(job, manifest.NewRegistry())
	if !errors.Is(err, ErrUnboundInput) {
		t.Errorf("err = %v, want ErrUnboundInput", err)
	}
}

func TestPipeline_DoubleBinding(t *testing.T) {
	job := validChain()
	// Литерал и переход на один вход
	job.Steps[1].Inputs["source"] = "file:///direct.wav"

	err := Pipeline(job, manifest.NewRegistry())
	if !errors.Is(err, ErrDoubleBinding) {
		t.Errorf("err = %v, want ErrDoubleBinding", err)
	}
}

func TestPipeline_FanInAllowed(t *testing.T) {
	// Несколько переходов в один вход — это join, не двойное связывание.
	job := &domain.Job{
		Steps: []domain.Step{
			{
				Name:    "left",
				Service: "librosa",
				Command: domain.CommandSpec{Program: "librosa-trim"},
				Inputs:  map[string]string{"audio": "file:///l.wav"},
				Outputs: map[string]string{"audio": "l_out.wav"},
			},
			{
				Name:    "right",
				Service: "librosa",
				Command: domain.CommandSpec{Program: "librosa-trim"},
				Inputs:  map[string]string{"audio": "file:///r.wav"},
				Outputs: map[string]string{"audio": "r_out.wav"},
			},
			{
				Name:    "mix",
				Service: "librosa",
				Command: domain.CommandSpec{Program: "librosa-concat"},
				Inputs:  map[string]string{"parts": ""},
				Outputs: map[string]string{"audio": "mix.wav"},
			},
		},
		Transitions: []domain.Transition{
			{From: "left", To: "mix", Mapping: map[string]string{"audio": "parts"}},
			{From: "right", To: "mix", Mapping: map[string]string{"audio": "parts"}},
		},
	}

	if err := Pipeline(job, manifest.NewRegistry()); err != nil {
		t.Fatalf("fan-in pipeline should validate: %v", err)
	}
}

func TestPipeline_DuplicateStepName(t *testing.T) {
	job := validChain()
	job.Steps[1].Name = "resample"

	err := Pipeline(job, manifest.NewRegistry())
	if !errors.Is(err, ErrDuplicateStepName) {
		t.Errorf("err = %v, want ErrDuplicateStepName", err)
	}
}

func TestPipeline_DuplicateOutputDestination(t *testing.T) {
	job := validChain()
	job.Steps[1].Outputs = map[string]string{
		"harmonic":   "same.wav",
		"percussive": "same.wav",
	}

	err := Pipeline(job, manifest.NewRegistry())
	if !errors.Is(err, ErrDuplicateOutput) {
		t.Errorf("err = %v, want ErrDuplicateOutput", err)
	}
}

func TestPipeline_ValidationErrorNamesStep(t *testing.T) {
	job := validChain()
	job.Steps[0].Service = "sox"

	err := Pipeline(job, manifest.NewRegistry())

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %T, want *ValidationError", err)
	}
	if verr.Step != "resample" {
		t.Errorf("step = %q, want resample", verr.Step)
	}
}
