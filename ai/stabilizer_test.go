package ai

import "testing"

func TestStabilizerSuppressesSingleFlip(t *testing.T) {
	s := NewSpeakerStabilizer()

	// Одиночный выброс B посреди речи A не должен дойти до UI
	input := []string{"A", "B", "A", "A", "A"}
	want := []string{"A", "A", "A", "A", "A"}

	for i, raw := range input {
		if got := s.Stabilize(raw); got != want[i] {
			t.Errorf("window %d: Stabilize(%q) = %q, want %q", i, raw, got, want[i])
		}
	}
}

func TestStabilizerAcceptsSustainedChange(t *testing.T) {
	s := NewSpeakerStabilizer()

	input := []string{"A", "A", "B", "B", "B"}
	want := []string{"A", "A", "A", "B", "B"}

	for i, raw := range input {
		if got := s.Stabilize(raw); got != want[i] {
			t.Errorf("window %d: Stabilize(%q) = %q, want %q", i, raw, got, want[i])
		}
	}
}

func TestStabilizerFirstLabelImmediate(t *testing.T) {
	s := NewSpeakerStabilizer()
	if got := s.Stabilize("A"); got != "A" {
		t.Errorf("first label must be accepted immediately, got %q", got)
	}
}

func TestStabilizerEmptyInputKeepsCurrent(t *testing.T) {
	s := NewSpeakerStabilizer()
	s.Stabilize("A")
	if got := s.Stabilize(""); got != "A" {
		t.Errorf("empty input must keep current label, got %q", got)
	}
}

func TestStabilizerReset(t *testing.T) {
	s := NewSpeakerStabilizer()
	s.Stabilize("A")
	s.Stabilize("A")
	s.Reset()

	if s.Current() != "" {
		t.Errorf("expected empty current after reset, got %q", s.Current())
	}
	if got := s.Stabilize("B"); got != "B" {
		t.Errorf("first label after reset must be accepted, got %q", got)
	}
}
