package voiceprint

import (
	"math"
	"testing"
)

func TestStoreRoundtrip(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	vp, err := store.Add("Иван", []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := store.Add("Мария", []float32{0, 1, 0}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := store.UpdateName(vp.ID, "Иван Петров"); err != nil {
		t.Fatalf("UpdateName: %v", err)
	}

	// Повторное открытие читает тот же файл
	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", reopened.Count())
	}
	got, err := reopened.Get(vp.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Иван Петров" {
		t.Errorf("Name = %q, want Иван Петров", got.Name)
	}

	if err := reopened.Delete(vp.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if reopened.Count() != 1 {
		t.Errorf("Count() after delete = %d, want 1", reopened.Count())
	}
	if err := reopened.Delete("no-such-id"); err == nil {
		t.Errorf("Delete of unknown id should fail")
	}
}

func TestUpdateEmbeddingAverages(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	vp, err := store.Add("Иван", []float32{1, 0})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := store.UpdateEmbedding(vp.ID, []float32{0, 1}); err != nil {
		t.Fatalf("UpdateEmbedding: %v", err)
	}

	got, err := store.Get(vp.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SeenCount != 2 {
		t.Errorf("SeenCount = %d, want 2", got.SeenCount)
	}
	// Старый и новый вес равны (seenCount=1), результат нормализован
	want := float32(1 / math.Sqrt2)
	if math.Abs(float64(got.Embedding[0]-want)) > 1e-4 || math.Abs(float64(got.Embedding[1]-want)) > 1e-4 {
		t.Errorf("Embedding = %v, want [%.4f %.4f]", got.Embedding, want, want)
	}
}

func TestMatcherThresholds(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.Add("Иван", []float32{1, 0}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	m := NewMatcher(store)

	tests := []struct {
		name       string
		embedding  []float32
		wantMatch  bool
		confidence string
	}{
		{"identical", []float32{1, 0}, true, "high"},
		{"close", []float32{0.95, 0.3122}, true, "high"},
		{"medium", []float32{0.75, 0.6614}, true, "medium"},
		{"orthogonal", []float32{0, 1}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match := m.FindBestMatch(tt.embedding)
			if (match != nil) != tt.wantMatch {
				t.Fatalf("FindBestMatch = %v, wantMatch=%v", match, tt.wantMatch)
			}
			if match != nil && match.Confidence != tt.confidence {
				t.Errorf("Confidence = %q, want %q", match.Confidence, tt.confidence)
			}
		})
	}
}

func TestMatchWithAutoUpdate(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	vp, err := store.Add("Иван", []float32{1, 0})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	m := NewMatcher(store)

	match := m.MatchWithAutoUpdate([]float32{1, 0.05})
	if match == nil || match.Confidence != "high" {
		t.Fatalf("expected high-confidence match, got %v", match)
	}

	got, err := store.Get(vp.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SeenCount != 2 {
		t.Errorf("SeenCount = %d, want 2 after auto-update", got.SeenCount)
	}
}
