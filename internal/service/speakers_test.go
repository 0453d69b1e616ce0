package service

import (
	"errors"
	"testing"

	"whonext/ai"
	"whonext/audio"
	"whonext/voiceprint"
)

// fakeEmbedder возвращает вектор по значению первого сэмпла
type fakeEmbedder struct {
	vecs map[float32][]float32
}

func (f fakeEmbedder) Encode(samples []float32) ([]float32, error) {
	return f.vecs[samples[0]], nil
}

func speechSamples(value float32, seconds float64) []float32 {
	samples := make([]float32, int(seconds*audio.PipelineSampleRate))
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func TestSpeakerIdentifier(t *testing.T) {
	store, err := voiceprint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.Add("Иван", []float32{1, 0}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// 6с знакомого голоса, 6с нового, 0.5с слишком короткого
	var samples []float32
	samples = append(samples, speechSamples(0.25, 6)...)
	samples = append(samples, speechSamples(0.75, 6)...)
	samples = append(samples, speechSamples(0.9, 0.5)...)

	segments := []ai.SpeakerSegment{
		{SpeakerID: "spk_0", Start: 0, End: 6},
		{SpeakerID: "spk_1", Start: 6, End: 12},
		{SpeakerID: "spk_2", Start: 12, End: 12.5},
	}

	embedder := fakeEmbedder{vecs: map[float32][]float32{
		0.25: {1, 0},
		0.75: {0, 1},
		0.9:  {0.7, 0.7},
	}}

	readFile := func(path string) ([]float32, error) { return samples, nil }
	si := NewSpeakerIdentifier(embedder, store, readFile)

	names := si.Identify("meeting.mp3", segments)

	if names["spk_0"] != "Иван" {
		t.Errorf("spk_0 = %q, want Иван", names["spk_0"])
	}
	if names["spk_1"] != "Участник 2" {
		t.Errorf("spk_1 = %q, want auto-enrolled name", names["spk_1"])
	}
	if _, ok := names["spk_2"]; ok {
		t.Errorf("spk_2 should be skipped: too little speech")
	}
	if store.Count() != 2 {
		t.Errorf("store.Count() = %d, want 2", store.Count())
	}
}

func TestSpeakerIdentifierReadError(t *testing.T) {
	store, err := voiceprint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	readFile := func(path string) ([]float32, error) {
		return nil, errors.New("decode failed")
	}
	si := NewSpeakerIdentifier(fakeEmbedder{}, store, readFile)

	if names := si.Identify("missing.mp3", nil); names != nil {
		t.Errorf("expected nil names on read error, got %v", names)
	}
}
