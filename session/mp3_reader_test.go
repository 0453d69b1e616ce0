package session

import (
	"math"
	"path/filepath"
	"testing"
)

// writeTestMP3 кодирует синусоиду заданной длительности в mp3
func writeTestMP3(t *testing.T, seconds float64) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "full.mp3")
	writer, err := NewAudioWriter(path, 16000)
	if err != nil {
		t.Fatalf("NewAudioWriter: %v", err)
	}

	samples := make([]float32, int(seconds*16000))
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	if err := writer.Write(samples); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestReadMono16kRoundtrip(t *testing.T) {
	path := writeTestMP3(t, 3)

	samples, err := ReadMono16k(path)
	if err != nil {
		t.Fatalf("ReadMono16k: %v", err)
	}

	// MP3 фреймы дают погрешность по краям
	expected := 3 * 16000
	tolerance := 3000
	if len(samples) < expected-tolerance || len(samples) > expected+tolerance {
		t.Errorf("got %d samples, expected ~%d", len(samples), expected)
	}

	// Значения в допустимом диапазоне, сигнал не пустой
	var peak float64
	for _, s := range samples {
		if s > 1.001 || s < -1.001 {
			t.Fatalf("sample out of range: %v", s)
		}
		if abs := math.Abs(float64(s)); abs > peak {
			peak = abs
		}
	}
	if peak < 0.2 {
		t.Errorf("decoded signal too quiet: peak=%v", peak)
	}
}

func TestExtractRange(t *testing.T) {
	path := writeTestMP3(t, 5)

	segment, err := ExtractRange(path, 1000, 3000)
	if err != nil {
		t.Fatalf("ExtractRange: %v", err)
	}

	expected := 2 * 16000
	tolerance := 3000
	if len(segment) < expected-tolerance || len(segment) > expected+tolerance {
		t.Errorf("got %d samples for 2s range, expected ~%d", len(segment), expected)
	}
}

func TestExtractRangeInvalid(t *testing.T) {
	path := writeTestMP3(t, 2)

	// Диапазон целиком за концом файла
	if _, err := ExtractRange(path, 60000, 70000); err == nil {
		t.Error("expected error for range beyond end of file")
	}
}

func TestReadMono16kMissingFile(t *testing.T) {
	if _, err := ReadMono16k(filepath.Join(t.TempDir(), "missing.mp3")); err == nil {
		t.Error("expected error for missing file")
	}
}
