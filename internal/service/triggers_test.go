package service

import (
	"testing"
	"time"
)

type fakeContext struct {
	meeting    bool
	foreground bool
}

func (f *fakeContext) HasCurrentMeeting() bool    { return f.meeting }
func (f *fakeContext) MeetingAppForeground() bool { return f.foreground }

func TestTriggerTwoWayAudio(t *testing.T) {
	e := NewTriggerEvaluator(DefaultTriggerConfig())

	tests := []struct {
		name       string
		confidence float64
		twoWay     bool
		wantFire   bool
	}{
		{"strong two-way", 0.8, true, true},
		{"exact floor", 0.7, true, true},
		{"below floor", 0.65, true, false},
		{"high confidence without two-way", 0.95, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(TriggerSignals{Confidence: tt.confidence, TwoWayAudio: tt.twoWay})
			if d.Fire != tt.wantFire {
				t.Errorf("Fire = %v, want %v", d.Fire, tt.wantFire)
			}
		})
	}
}

func TestTriggerCalendarRequiresIntegration(t *testing.T) {
	// Одни и те же сигналы: уверенность 0.6 и текущая встреча в
	// календаре. Решение должно зависеть только от того включена
	// ли интеграция с календарём
	sig := TriggerSignals{Confidence: 0.6, HasCalendarEvent: true}

	disabled := NewTriggerEvaluator(TriggerConfig{})
	if d := disabled.Evaluate(sig); d.Fire {
		t.Error("fired with calendar integration disabled")
	}

	cfg := TriggerConfig{CalendarEnabled: true}
	enabled := NewTriggerEvaluator(cfg)
	if d := enabled.Evaluate(sig); !d.Fire {
		t.Error("did not fire with calendar integration enabled")
	}
}

func TestTriggerMeetingApp(t *testing.T) {
	e := NewTriggerEvaluator(TriggerConfig{MeetingAppEnabled: true})

	if d := e.Evaluate(TriggerSignals{Confidence: 0.5, MeetingAppForeground: true}); !d.Fire {
		t.Error("did not fire at context floor with meeting app foreground")
	}
	if d := e.Evaluate(TriggerSignals{Confidence: 0.4, MeetingAppForeground: true}); d.Fire {
		t.Error("fired below context floor")
	}
}

func TestTriggerTimeRule(t *testing.T) {
	rule := TimeRule{Weekdays: []time.Weekday{time.Monday}, FromHour: 10, ToHour: 12}
	e := NewTriggerEvaluator(TriggerConfig{TimeRules: []TimeRule{rule}})

	monday := time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC) // понедельник
	sunday := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	if d := e.Evaluate(TriggerSignals{Confidence: 0.65, Now: monday}); !d.Fire {
		t.Error("did not fire inside time rule window")
	}
	if d := e.Evaluate(TriggerSignals{Confidence: 0.55, Now: monday}); d.Fire {
		t.Error("fired below time rule floor")
	}
	if d := e.Evaluate(TriggerSignals{Confidence: 0.65, Now: sunday}); d.Fire {
		t.Error("fired on wrong weekday")
	}
}

func TestTriggerProvider(t *testing.T) {
	e := NewTriggerEvaluator(TriggerConfig{CalendarEnabled: true, MeetingAppEnabled: true})
	provider := &fakeContext{meeting: true}

	if d := e.EvaluateWithProvider(0.6, false, provider); !d.Fire {
		t.Error("did not fire from provider calendar signal")
	}
	if d := e.EvaluateWithProvider(0.6, false, nil); d.Fire {
		t.Error("fired without provider")
	}
}
