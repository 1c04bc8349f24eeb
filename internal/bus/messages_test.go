package bus

import (
	"testing"

	"github.com/savrin/waveline/internal/domain"
)

func TestServiceQueue(t *testing.T) {
	if got := ServiceQueue("flucoma"); got != "flucoma_queue" {
		t.Errorf("got %q, want flucoma_queue", got)
	}
}

func TestParseStatusMessage(t *testing.T) {
	payload := []byte(`{
		"job_id": "j1",
		"step_name": "hpss",
		"instance_index": 2,
		"outcome": "complete",
		"outputs": {"harmonic": "h.wav"},
		"output_checksums": {"harmonic": "abc"}
	}`)

	msg, err := ParseStatusMessage(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.JobID != "j1" || msg.StepName != "hpss" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Instance() != 2 {
		t.Errorf("instance = %d, want 2", msg.Instance())
	}
	if msg.Outcome != domain.OutcomeComplete {
		t.Errorf("outcome = %s", msg.Outcome)
	}
	if msg.Outputs["harmonic"] != "h.wav" {
		t.Errorf("outputs = %v", msg.Outputs)
	}
}

func TestParseStatusMessage_NoInstance(t *testing.T) {
	msg, err := ParseStatusMessage([]byte(`{"job_id":"j1","step_name":"a","outcome":"failed"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Instance() != -1 {
		t.Errorf("instance = %d, want -1", msg.Instance())
	}
}

func TestParseStatusMessage_MissingFields(t *testing.T) {
	if _, err := ParseStatusMessage([]byte(`{"job_id":"j1"}`)); err == nil {
		t.Error("message without step_name/outcome must be rejected")
	}
	if _, err := ParseStatusMessage([]byte(`not json`)); err == nil {
		t.Error("garbage must be rejected")
	}
}

func TestParseStepReadyMessage(t *testing.T) {
	msg, err := ParseStepReadyMessage([]byte(`{"job_id":"j1","step_name":"split"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.JobID != "j1" || msg.StepName != "split" || msg.InstanceIndex != nil {
		t.Errorf("msg = %+v", msg)
	}

	if _, err := ParseStepReadyMessage([]byte(`{"step_name":"split"}`)); err == nil {
		t.Error("message without job_id must be rejected")
	}
}
