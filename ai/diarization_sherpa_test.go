package ai

import (
	"context"
	"errors"
	"os"
	"testing"
)

func TestSherpaDiarizerConfig_Defaults(t *testing.T) {
	config := DefaultSherpaDiarizerConfig("/path/to/seg.onnx", "/path/to/emb.onnx")

	if config.SegmentationModelPath != "/path/to/seg.onnx" {
		t.Errorf("Expected segmentation path '/path/to/seg.onnx', got %q", config.SegmentationModelPath)
	}
	if config.EmbeddingModelPath != "/path/to/emb.onnx" {
		t.Errorf("Expected embedding path '/path/to/emb.onnx', got %q", config.EmbeddingModelPath)
	}
	if config.NumThreads != 4 {
		t.Errorf("Expected 4 threads, got %d", config.NumThreads)
	}
	if config.ClusteringThreshold != 0.5 {
		t.Errorf("Expected threshold 0.5, got %f", config.ClusteringThreshold)
	}
	if config.MinDurationOn != 0.3 {
		t.Errorf("Expected min duration on 0.3, got %f", config.MinDurationOn)
	}
	if config.MinDurationOff != 0.5 {
		t.Errorf("Expected min duration off 0.5, got %f", config.MinDurationOff)
	}
	// Provider по умолчанию "auto" для автоопределения
	if config.Provider != "auto" {
		t.Errorf("Expected provider 'auto', got %q", config.Provider)
	}
}

func TestSherpaDiarizer_NotInitialized(t *testing.T) {
	d := NewSherpaDiarizer(DefaultSherpaDiarizerConfig("seg.onnx", "emb.onnx"), nil)

	if d.IsInitialized() {
		t.Error("Diarizer should not be initialized before Initialize")
	}

	if _, err := d.Diarize(make([]float32, 16000)); !errors.Is(err, ErrEngineNotInitialized) {
		t.Errorf("Diarize without Initialize: got %v, want ErrEngineNotInitialized", err)
	}
	if _, err := d.ProcessAudioFile(context.Background(), "meeting.mp3"); !errors.Is(err, ErrEngineNotInitialized) {
		t.Errorf("ProcessAudioFile without Initialize: got %v, want ErrEngineNotInitialized", err)
	}
}

func TestSherpaDiarizer_SampleRateDefault(t *testing.T) {
	d := NewSherpaDiarizer(DefaultSherpaDiarizerConfig("seg.onnx", "emb.onnx"), nil)
	if rate := d.SampleRate(); rate != 16000 {
		t.Errorf("SampleRate() = %d, want 16000", rate)
	}
}

func TestSherpaDiarizer_Integration(t *testing.T) {
	// Пропускаем если нет моделей
	segmentationPath := os.Getenv("DIARIZATION_SEGMENTATION_MODEL")
	embeddingPath := os.Getenv("DIARIZATION_EMBEDDING_MODEL")

	if segmentationPath == "" || embeddingPath == "" {
		t.Skip("DIARIZATION_SEGMENTATION_MODEL and DIARIZATION_EMBEDDING_MODEL not set")
	}
	if _, err := os.Stat(segmentationPath); os.IsNotExist(err) {
		t.Skipf("Segmentation model not found: %s", segmentationPath)
	}
	if _, err := os.Stat(embeddingPath); os.IsNotExist(err) {
		t.Skipf("Embedding model not found: %s", embeddingPath)
	}

	config := DefaultSherpaDiarizerConfig(segmentationPath, embeddingPath)
	diarizer := NewSherpaDiarizer(config, nil)
	if err := diarizer.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer diarizer.Close()

	if !diarizer.IsInitialized() {
		t.Error("Diarizer should be initialized")
	}

	// Тишина: пустой результат или один сегмент
	silence := make([]float32, 16000*3)
	result, err := diarizer.Diarize(silence)
	if err != nil {
		t.Errorf("Diarize failed: %v", err)
	}
	t.Logf("Silence diarization: %d segments, %d speakers", len(result.Segments), result.NumSpeakers)
}
