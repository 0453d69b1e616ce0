// Package ai предоставляет движки распознавания речи и диаризации
package ai

import (
	"context"
	"errors"
)

// Ошибки движков
var (
	// ErrEngineNotInitialized - движок не инициализирован или уже закрыт
	ErrEngineNotInitialized = errors.New("engine not initialized")
	// ErrModelNotFound - файл модели не найден
	ErrModelNotFound = errors.New("model file not found")
)

// DecodeResult результат декодирования одного окна аудио.
// AvgLogProb и CompressionRatio - сырые метрики декодера, по ним
// HallucinationFilter решает принимать текст или нет. Сам движок
// текст не фильтрует.
type DecodeResult struct {
	Text             string
	Confidence       float64 // 0..1, производная от avg_logprob
	AvgLogProb       float64
	CompressionRatio float64
	NoSpeechProb     float64
}

// TranscriptSegment сегмент с таймстемпами (результат финальной обработки)
type TranscriptSegment struct {
	Start int64 // миллисекунды
	End   int64 // миллисекунды
	Text  string
}

// TranscriptionEngine интерфейс для движков транскрипции
type TranscriptionEngine interface {
	// Initialize загружает модель. Вызывается один раз до первого Transcribe
	Initialize() error

	// Transcribe транскрибирует окно аудио и возвращает сырой текст с метриками
	// samples - аудио данные в формате float32, 16kHz, mono
	Transcribe(ctx context.Context, samples []float32) (*DecodeResult, error)

	// TranscribeHighQuality выполняет высококачественную транскрипцию
	// с сегментами. Используется для финальной обработки записей
	TranscribeHighQuality(ctx context.Context, samples []float32) ([]TranscriptSegment, error)

	// SetLanguage устанавливает язык распознавания
	SetLanguage(lang string)

	// Close освобождает ресурсы движка
	Close()

	// Name возвращает имя движка (для логирования)
	Name() string
}

// SpeakerSegment интервал речи одного спикера
type SpeakerSegment struct {
	SpeakerID string
	Start     float64 // секунды
	End       float64 // секунды
	Embedding []float32
}

// DiarizationResult результат диаризации записи
type DiarizationResult struct {
	Segments    []SpeakerSegment
	NumSpeakers int
}

// DiarizationEngine интерфейс для движков диаризации
type DiarizationEngine interface {
	Initialize() error

	// ProcessAudioFile выполняет диаризацию аудио файла целиком
	ProcessAudioFile(ctx context.Context, path string) (*DiarizationResult, error)

	Close()
}
