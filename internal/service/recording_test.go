package service

import (
	"testing"

	"whonext/internal/config"
)

func TestRecorderStateGuards(t *testing.T) {
	r := NewRecorder(&config.Config{}, nil, nil, nil, nil, nil, NewTriggerEvaluator(DefaultTriggerConfig()))

	if state, _ := r.State(); state != StateIdle {
		t.Fatalf("initial state = %s, want %s", state, StateIdle)
	}

	if _, err := r.StopRecording(); err == nil {
		t.Error("StopRecording from idle must fail")
	}
	if err := r.Pause(); err == nil {
		t.Error("Pause from idle must fail")
	}
	if err := r.Resume(); err == nil {
		t.Error("Resume from idle must fail")
	}

	// AcknowledgeError вне Error - no-op
	r.AcknowledgeError()
	if state, _ := r.State(); state != StateIdle {
		t.Errorf("state after AcknowledgeError = %s, want %s", state, StateIdle)
	}
	if r.IsPaused() {
		t.Error("recorder must not be paused initially")
	}
}

func TestRecorderContextInjection(t *testing.T) {
	r := NewRecorder(&config.Config{}, nil, nil, nil, nil, nil, NewTriggerEvaluator(DefaultTriggerConfig()))

	// Без провайдера контекст не добавляет уверенности
	if d := r.triggers.EvaluateWithProvider(0.6, false, r.Context); d.Fire {
		t.Error("trigger must not fire at 0.6 without context provider")
	}

	r.Context = &fakeContext{meeting: true}
	if d := r.triggers.EvaluateWithProvider(0.6, false, r.Context); !d.Fire {
		t.Error("trigger must fire at 0.6 with a calendar meeting in progress")
	}
}
