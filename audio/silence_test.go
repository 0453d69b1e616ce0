package audio

import (
	"math"
	"testing"
)

func sineWave(amplitude float64, n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(PipelineSampleRate)))
	}
	return samples
}

func TestSilenceGate(t *testing.T) {
	gate := NewSilenceGate(DefaultSilenceGateConfig())

	tests := []struct {
		name    string
		samples []float32
		silent  bool
	}{
		{"digital silence", make([]float32, PipelineSampleRate), true},
		{"empty", nil, true},
		{"room noise", sineWave(0.002, PipelineSampleRate), true},
		{"quiet speech", sineWave(0.02, PipelineSampleRate), false},
		{"normal speech", sineWave(0.1, PipelineSampleRate), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gate.IsSilent(tt.samples); got != tt.silent {
				t.Errorf("IsSilent() = %v, want %v (rms=%f)", got, tt.silent, CalculateRMS(tt.samples))
			}
		})
	}
}

func TestCalculateRMS(t *testing.T) {
	// RMS синуса = amplitude / sqrt(2)
	samples := sineWave(0.5, PipelineSampleRate)
	want := 0.5 / math.Sqrt2
	got := CalculateRMS(samples)
	if math.Abs(got-want) > 0.01 {
		t.Errorf("CalculateRMS() = %f, want ~%f", got, want)
	}

	if CalculateRMS(nil) != 0 {
		t.Error("expected 0 for empty input")
	}
}

func TestCalculatePeak(t *testing.T) {
	samples := []float32{0.1, -0.7, 0.3}
	if got := CalculatePeak(samples); math.Abs(got-0.7) > 1e-6 {
		t.Errorf("CalculatePeak() = %f, want 0.7", got)
	}
}
