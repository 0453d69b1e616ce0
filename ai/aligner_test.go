package ai

import "testing"

func TestDominantSpeakerMaxOverlap(t *testing.T) {
	a := NewSegmentAligner(nil)
	a.UpdateSegments([]SpeakerSegment{
		{SpeakerID: "speaker_0", Start: 0, End: 3},
		{SpeakerID: "speaker_1", Start: 3, End: 10},
	})

	// Окно [2, 7): speaker_0 перекрывает 1с, speaker_1 - 4с
	id, ok := a.DominantSpeaker(2, 5)
	if !ok {
		t.Fatal("expected a speaker")
	}
	if id != "speaker_1" {
		t.Errorf("expected speaker_1, got %s", id)
	}
}

func TestDominantSpeakerTieBreakEarlierStart(t *testing.T) {
	a := NewSegmentAligner(nil)
	a.UpdateSegments([]SpeakerSegment{
		{SpeakerID: "speaker_1", Start: 5, End: 7.5},
		{SpeakerID: "speaker_0", Start: 2.5, End: 5},
	})

	// Окно [2.5, 7.5): у обоих перекрытие ровно 2.5с,
	// побеждает более ранний старт
	id, ok := a.DominantSpeaker(2.5, 5)
	if !ok {
		t.Fatal("expected a speaker")
	}
	if id != "speaker_0" {
		t.Errorf("tie must go to earlier start, got %s", id)
	}
}

func TestDominantSpeakerSumsSplitSegments(t *testing.T) {
	a := NewSegmentAligner(nil)
	// speaker_0 дважды по 1.5с, speaker_1 один раз 2с
	a.UpdateSegments([]SpeakerSegment{
		{SpeakerID: "speaker_0", Start: 0, End: 1.5},
		{SpeakerID: "speaker_1", Start: 1.5, End: 3.5},
		{SpeakerID: "speaker_0", Start: 3.5, End: 5},
	})

	id, ok := a.DominantSpeaker(0, 5)
	if !ok {
		t.Fatal("expected a speaker")
	}
	if id != "speaker_0" {
		t.Errorf("overlap must sum across segments, got %s", id)
	}
}

func TestDominantSpeakerNoOverlap(t *testing.T) {
	a := NewSegmentAligner(nil)
	a.UpdateSegments([]SpeakerSegment{
		{SpeakerID: "speaker_0", Start: 0, End: 5},
	})

	if _, ok := a.DominantSpeaker(10, 5); ok {
		t.Error("expected no speaker outside diarized range")
	}
	if _, ok := NewSegmentAligner(nil).DominantSpeaker(0, 5); ok {
		t.Error("expected no speaker with empty snapshot")
	}
}

// Каждый UpdateSegments заменяет снапшот целиком
func TestUpdateSegmentsReplacesWholesale(t *testing.T) {
	a := NewSegmentAligner(nil)
	a.UpdateSegments([]SpeakerSegment{
		{SpeakerID: "speaker_0", Start: 0, End: 10},
	})
	a.UpdateSegments([]SpeakerSegment{
		{SpeakerID: "speaker_1", Start: 0, End: 10},
	})

	id, ok := a.DominantSpeaker(0, 5)
	if !ok || id != "speaker_1" {
		t.Errorf("expected speaker_1 from latest snapshot, got %s (ok=%v)", id, ok)
	}
	if a.SegmentCount() != 1 {
		t.Errorf("expected 1 segment after replace, got %d", a.SegmentCount())
	}
}

func TestDisplayLabel(t *testing.T) {
	a := NewSegmentAligner(nil)

	tests := []struct {
		in   string
		want string
	}{
		{"speaker_0", "Speaker 1"},
		{"speaker_1", "Speaker 2"},
		{"SPEAKER 7", "Speaker 8"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := a.DisplayLabel(tt.in); got != tt.want {
			t.Errorf("DisplayLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDisplayLabelFallbackStable(t *testing.T) {
	a := NewSegmentAligner(nil)

	first := a.DisplayLabel("host-voice")
	second := a.DisplayLabel("host-voice")
	if first != second {
		t.Errorf("fallback label must be stable: %q vs %q", first, second)
	}
	if first == "" {
		t.Error("expected non-empty fallback label")
	}
}

func TestDisplayLabelByAppearanceOrder(t *testing.T) {
	a := NewSegmentAligner(nil)
	a.UpdateSegments([]SpeakerSegment{
		{SpeakerID: "alice-mic", Start: 0, End: 2},
		{SpeakerID: "bob-mic", Start: 2, End: 4},
	})

	if got := a.DisplayLabel("alice-mic"); got != "Speaker 1" {
		t.Errorf("expected Speaker 1 for first seen, got %q", got)
	}
	if got := a.DisplayLabel("bob-mic"); got != "Speaker 2" {
		t.Errorf("expected Speaker 2 for second seen, got %q", got)
	}
}
