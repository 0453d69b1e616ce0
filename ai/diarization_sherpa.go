// Package ai предоставляет SherpaDiarizer для диаризации спикеров через sherpa-onnx
package ai

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

// AudioFileReader декодирует аудио файл в 16kHz mono float32.
// Инжектится снаружи чтобы диаризатор не знал про форматы файлов
type AudioFileReader func(path string) ([]float32, error)

// SherpaDiarizerConfig конфигурация для SherpaDiarizer
type SherpaDiarizerConfig struct {
	SegmentationModelPath string  // Путь к модели сегментации (pyannote)
	EmbeddingModelPath    string  // Путь к модели эмбеддингов (wespeaker/3dspeaker)
	NumThreads            int     // Количество потоков
	ClusteringThreshold   float32 // Порог кластеризации (0.0-1.0, по умолчанию 0.5)
	MinDurationOn         float32 // Минимальная длительность речи (сек)
	MinDurationOff        float32 // Минимальная длительность паузы (сек)
	Provider              string  // ONNX provider: cpu, cuda, coreml, auto
}

// detectBestProvider определяет лучший provider для текущей платформы
func detectBestProvider() string {
	// На macOS с Apple Silicon предпочитаем CoreML
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return "coreml"
	}
	// На Linux/Windows с NVIDIA GPU можно использовать cuda
	// Но для безопасности по умолчанию используем cpu
	return "cpu"
}

// DefaultSherpaDiarizerConfig возвращает конфигурацию по умолчанию
// с автоматическим определением лучшего provider для платформы
func DefaultSherpaDiarizerConfig(segmentationPath, embeddingPath string) SherpaDiarizerConfig {
	return SherpaDiarizerConfig{
		SegmentationModelPath: segmentationPath,
		EmbeddingModelPath:    embeddingPath,
		NumThreads:            4,
		ClusteringThreshold:   0.5,
		MinDurationOn:         0.3,
		MinDurationOff:        0.5,
		Provider:              "auto", // Автоопределение
	}
}

// SherpaDiarizer выполняет диаризацию спикеров через sherpa-onnx
type SherpaDiarizer struct {
	config      SherpaDiarizerConfig
	readFile    AudioFileReader
	diarizer    *sherpa.OfflineSpeakerDiarization
	mu          sync.Mutex
	initialized bool
}

// NewSherpaDiarizer создаёт диаризатор. Модель загружается в Initialize,
// не в конструкторе - создание дешёвое, инициализация тяжёлая
func NewSherpaDiarizer(config SherpaDiarizerConfig, readFile AudioFileReader) *SherpaDiarizer {
	return &SherpaDiarizer{
		config:   config,
		readFile: readFile,
	}
}

// Initialize загружает модели sherpa-onnx
func (d *SherpaDiarizer) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	// Проверяем существование файлов моделей
	if _, err := os.Stat(d.config.SegmentationModelPath); os.IsNotExist(err) {
		return fmt.Errorf("%w: segmentation model %s", ErrModelNotFound, d.config.SegmentationModelPath)
	}
	if _, err := os.Stat(d.config.EmbeddingModelPath); os.IsNotExist(err) {
		return fmt.Errorf("%w: embedding model %s", ErrModelNotFound, d.config.EmbeddingModelPath)
	}

	// Определяем provider (auto = автоопределение)
	provider := d.config.Provider
	if provider == "auto" || provider == "" {
		provider = detectBestProvider()
	}
	log.Printf("SherpaDiarizer: using provider=%s (requested=%s)", provider, d.config.Provider)

	sherpaConfig := &sherpa.OfflineSpeakerDiarizationConfig{
		Segmentation: sherpa.OfflineSpeakerSegmentationModelConfig{
			Pyannote: sherpa.OfflineSpeakerSegmentationPyannoteModelConfig{
				Model: d.config.SegmentationModelPath,
			},
			NumThreads: d.config.NumThreads,
			Debug:      0,
			Provider:   provider,
		},
		Embedding: sherpa.SpeakerEmbeddingExtractorConfig{
			Model:      d.config.EmbeddingModelPath,
			NumThreads: d.config.NumThreads,
			Debug:      0,
			Provider:   provider,
		},
		Clustering: sherpa.FastClusteringConfig{
			NumClusters: -1, // Автоматическое определение количества спикеров
			Threshold:   d.config.ClusteringThreshold,
		},
		MinDurationOn:  d.config.MinDurationOn,
		MinDurationOff: d.config.MinDurationOff,
	}

	diarizer := sherpa.NewOfflineSpeakerDiarization(sherpaConfig)
	if diarizer == nil {
		// Если CoreML не сработал, пробуем CPU
		if provider != "cpu" {
			log.Printf("SherpaDiarizer: %s provider failed, falling back to CPU", provider)
			sherpaConfig.Segmentation.Provider = "cpu"
			sherpaConfig.Embedding.Provider = "cpu"
			diarizer = sherpa.NewOfflineSpeakerDiarization(sherpaConfig)
			if diarizer == nil {
				return fmt.Errorf("failed to create sherpa-onnx diarizer (tried %s and cpu)", provider)
			}
			provider = "cpu"
		} else {
			return fmt.Errorf("failed to create sherpa-onnx diarizer")
		}
	}

	log.Printf("SherpaDiarizer initialized: provider=%s, segmentation=%s, embedding=%s",
		provider, d.config.SegmentationModelPath, d.config.EmbeddingModelPath)

	// Сохраняем фактически используемый provider
	d.config.Provider = provider
	d.diarizer = diarizer
	d.initialized = true
	return nil
}

// ProcessAudioFile выполняет диаризацию аудио файла целиком
func (d *SherpaDiarizer) ProcessAudioFile(ctx context.Context, path string) (*DiarizationResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil, ErrEngineNotInitialized
	}
	if d.readFile == nil {
		return nil, fmt.Errorf("no audio file reader configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	samples, err := d.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}

	return d.diarizeLocked(samples)
}

// Diarize выполняет диаризацию сырых семплов (16kHz mono)
func (d *SherpaDiarizer) Diarize(samples []float32) (*DiarizationResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil, ErrEngineNotInitialized
	}
	return d.diarizeLocked(samples)
}

func (d *SherpaDiarizer) diarizeLocked(samples []float32) (*DiarizationResult, error) {
	if len(samples) == 0 {
		return &DiarizationResult{}, nil
	}

	segments := d.diarizer.Process(samples)
	if len(segments) == 0 {
		return &DiarizationResult{}, nil
	}

	result := &DiarizationResult{
		Segments: make([]SpeakerSegment, len(segments)),
	}
	speakers := make(map[int]bool)
	for i, seg := range segments {
		result.Segments[i] = SpeakerSegment{
			SpeakerID: fmt.Sprintf("speaker_%d", seg.Speaker),
			Start:     float64(seg.Start),
			End:       float64(seg.End),
		}
		speakers[seg.Speaker] = true
	}
	result.NumSpeakers = len(speakers)

	log.Printf("SherpaDiarizer: found %d segments from %d speakers",
		len(result.Segments), result.NumSpeakers)

	return result, nil
}

// SetClusteringConfig обновляет параметры кластеризации
func (d *SherpaDiarizer) SetClusteringConfig(numClusters int, threshold float32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.diarizer != nil {
		config := &sherpa.OfflineSpeakerDiarizationConfig{
			Clustering: sherpa.FastClusteringConfig{
				NumClusters: numClusters,
				Threshold:   threshold,
			},
		}
		d.diarizer.SetConfig(config)
	}
}

// SampleRate возвращает ожидаемую частоту дискретизации (16kHz)
func (d *SherpaDiarizer) SampleRate() int {
	if d.diarizer != nil {
		return d.diarizer.SampleRate()
	}
	return 16000
}

// Close освобождает ресурсы
func (d *SherpaDiarizer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.diarizer != nil {
		sherpa.DeleteOfflineSpeakerDiarization(d.diarizer)
		d.diarizer = nil
	}
	d.initialized = false
	log.Printf("SherpaDiarizer closed")
}

// IsInitialized проверяет инициализирован ли диаризатор
func (d *SherpaDiarizer) IsInitialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

// GetProvider возвращает текущий ONNX provider (cpu, coreml, cuda)
func (d *SherpaDiarizer) GetProvider() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config.Provider
}
