package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/savrin/waveline/internal/domain"
)

func TestExecute_Success(t *testing.T) {
	executor := NewCommandExecutor(0)
	step := &StepContext{
		CommandSpec: domain.CommandSpec{Program: "true"},
	}

	result, err := executor.Execute(context.Background(), step)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Err != nil {
		t.Fatalf("step error: %v", result.Err)
	}
}

func TestExecute_NonZeroExit(t *testing.T) {
	executor := NewCommandExecutor(0)
	step := &StepContext{
		CommandSpec: domain.CommandSpec{Program: "false"},
	}

	result, err := executor.Execute(context.Background(), step)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Err == nil {
		t.Fatal("expected step error")
	}
	if result.Err.Type != domain.ErrorTypeApplication || result.Err.Code != domain.ErrCodeToolExit {
		t.Errorf("error = %+v, want application/TOOL_EXIT_NONZERO", result.Err)
	}
}

func TestExecute_ProgramNotFound(t *testing.T) {
	executor := NewCommandExecutor(0)
	step := &StepContext{
		CommandSpec: domain.CommandSpec{Program: "waveline-no-such-tool"},
	}

	result, err := executor.Execute(context.Background(), step)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Err == nil || result.Err.Type != domain.ErrorTypeInfrastructure {
		t.Errorf("error = %+v, want infrastructure", result.Err)
	}
}

func TestExecute_MissingInput(t *testing.T) {
	executor := NewCommandExecutor(0)
	step := &StepContext{
		CommandSpec:    domain.CommandSpec{Program: "true"},
		ResolvedInputs: map[string]string{"audio": "/no/such/input.wav"},
	}

	result, err := executor.Execute(context.Background(), step)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Err == nil || result.Err.Code != domain.ErrCodeMissingInput {
		t.Errorf("error = %+v, want MISSING_INPUT", result.Err)
	}
}

func TestExecute_CollectsOutputs(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.wav")

	executor := NewCommandExecutor(0)
	step := &StepContext{
		CommandSpec: domain.CommandSpec{
			Program: "sh",
			Args:    []string{"-c", "printf audio > " + out},
		},
		Outputs: map[string]string{"audio": out},
	}

	result, err := executor.Execute(context.Background(), step)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Err != nil {
		t.Fatalf("step error: %v", result.Err)
	}
	if result.Outputs["audio"] != out {
		t.Errorf("outputs = %v", result.Outputs)
	}
	if len(result.Checksums["audio"]) != 64 {
		t.Errorf("checksum = %q, want sha256 hex", result.Checksums["audio"])
	}
}

func TestExecute_MissingOutput(t *testing.T) {
	dir := t.TempDir()

	executor := NewCommandExecutor(0)
	step := &StepContext{
		CommandSpec: domain.CommandSpec{Program: "true"},
		Outputs:     map[string]string{"audio": filepath.Join(dir, "never-written.wav")},
	}

	result, err := executor.Execute(context.Background(), step)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Err == nil || result.Err.Code != domain.ErrCodeMissingOutput {
		t.Errorf("error = %+v, want MISSING_OUTPUT", result.Err)
	}
}

func TestExecute_NoProgram(t *testing.T) {
	executor := NewCommandExecutor(0)

	_, err := executor.Execute(context.Background(), &StepContext{})
	if err == nil {
		t.Error("empty program must be rejected")
	}
}

func TestFileChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.wav")
	if err := os.WriteFile(path, []byte("waveform"), 0o644); err != nil {
		t.Fatal(err)
	}

	sum1, err := FileChecksum(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum2, _ := FileChecksum(path)
	if sum1 != sum2 || len(sum1) != 64 {
		t.Errorf("checksums %q / %q", sum1, sum2)
	}
}

func TestIsLocalRef(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"/data/in.wav", true},
		{"file:///data/in.wav", true},
		{"relative/path.wav", true},
		{"s3://bucket/key.wav", false},
		{"gs://bucket/key.wav", false},
	}

	for _, tt := range tests {
		if got := isLocalRef(tt.ref); got != tt.want {
			t.Errorf("isLocalRef(%q) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}

func TestCommandArgv_ResolvedFlags(t *testing.T) {
	step := &StepContext{
		CommandSpec: domain.CommandSpec{
			Program: "fluid-mfcc",
			Flags:   map[string]any{"-source": "in.wav", "-numcoeffs": float64(13)},
			Args:    []string{"tailarg"},
		},
	}

	argv := commandArgv(step)
	want := []string{"fluid-mfcc", "-numcoeffs", "13", "-source", "in.wav", "tailarg"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %v", argv)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
}
