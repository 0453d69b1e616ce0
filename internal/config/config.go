package config

import (
	"flag"
	"path/filepath"
	"time"
)

type Config struct {
	// Модели
	ModelPath             string // faster-whisper модель (путь или HuggingFace ID)
	SegmentationModelPath string // pyannote сегментация для диаризации
	EmbeddingModelPath    string // speaker embedding для диаризации
	VADModelPath          string // Silero VAD

	DataDir string
	Port    string
	GRPC    string // unix:/path или npipe:имя

	Language string

	// Устройства захвата
	MicDevice     string
	SystemDevice  string
	CaptureSystem bool

	// Нарезка и фильтрация
	WindowSeconds    float64
	SilenceThreshold float64

	// Автостарт записи
	AutoRecord          bool
	CalendarIntegration bool
	TriggerConfidence   float64

	// Лимиты записи
	MaxSilence          time.Duration // Автостоп после тишины
	MinMeetingDuration  time.Duration // Короче - не сохраняем
	FinalizationTimeout time.Duration // Сколько ждём уточнения при остановке
	RefinementMaxLag    time.Duration // Старше - уточнение пропускаем
}

func Load() *Config {
	modelPath := flag.String("model", "Systran/faster-whisper-small", "Path or HuggingFace ID of faster-whisper model")
	segModel := flag.String("segmentation-model", "", "Path to pyannote segmentation ONNX model (enables diarization)")
	embModel := flag.String("embedding-model", "", "Path to speaker embedding ONNX model")
	vadModel := flag.String("vad-model", "", "Path to Silero VAD ONNX model (enables auto-record triggers)")
	dataDir := flag.String("data", "data/meetings", "Directory for meeting data")
	port := flag.String("port", "8080", "WebSocket server port")
	grpcAddr := flag.String("grpc", "", "gRPC control listener (unix:/path or npipe:name, empty = disabled)")
	language := flag.String("lang", "auto", "Transcription language (auto = detect)")

	micDevice := flag.String("mic", "default", "Microphone device name")
	systemDevice := flag.String("system-device", "", "Loopback device name for system audio")
	captureSystem := flag.Bool("capture-system", false, "Capture system audio")

	windowSeconds := flag.Float64("window", 5.0, "Transcription window length in seconds")
	silenceThreshold := flag.Float64("silence-threshold", 0.005, "RMS threshold below which a window is silent")

	autoRecord := flag.Bool("auto-record", false, "Start recording automatically on conversation triggers")
	calendar := flag.Bool("calendar", false, "Use calendar events as recording trigger")
	triggerConfidence := flag.Float64("trigger-confidence", 0.7, "Base confidence for auto-record triggers")

	maxSilence := flag.Duration("max-silence", 120*time.Second, "Auto-stop recording after this much silence")
	minDuration := flag.Duration("min-duration", 30*time.Second, "Discard recordings shorter than this")
	finalizationTimeout := flag.Duration("finalization-timeout", 30*time.Second, "How long to wait for in-flight refinements on stop")
	refinementMaxLag := flag.Duration("refinement-max-lag", 10*time.Minute, "Skip refinement for segments older than this")

	flag.Parse()

	return &Config{
		ModelPath:             *modelPath,
		SegmentationModelPath: *segModel,
		EmbeddingModelPath:    *embModel,
		VADModelPath:          *vadModel,
		DataDir:               *dataDir,
		Port:                  *port,
		GRPC:                  *grpcAddr,
		Language:              *language,
		MicDevice:             *micDevice,
		SystemDevice:          *systemDevice,
		CaptureSystem:         *captureSystem,
		WindowSeconds:         *windowSeconds,
		SilenceThreshold:      *silenceThreshold,
		AutoRecord:            *autoRecord,
		CalendarIntegration:   *calendar,
		TriggerConfidence:     *triggerConfidence,
		MaxSilence:            *maxSilence,
		MinMeetingDuration:    *minDuration,
		FinalizationTimeout:   *finalizationTimeout,
		RefinementMaxLag:      *refinementMaxLag,
	}
}

// MeetingsDir возвращает абсолютный путь к директории встреч
func (c *Config) MeetingsDir() string {
	abs, err := filepath.Abs(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return abs
}
