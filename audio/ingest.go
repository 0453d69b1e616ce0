package audio

import (
	"fmt"
	"time"
)

// ErrFormatChanged - формат входного аудио отличается от формата буфера.
// Буфер не ресемплирует, это ответственность захвата.
var ErrFormatChanged = fmt.Errorf("audio format changed mid-stream")

// Window - окно PCM фиксированной длины, готовое к транскрипции
type Window struct {
	Index      int       // Порядковый номер окна с начала записи
	Samples    []float32 // 16kHz mono
	StartTime  float64   // Секунды от начала записи
	Duration   float64   // Фактическая длительность (< WindowSeconds только для Flush)
	CapturedAt time.Time
}

// IngestConfig параметры нарезки аудио на окна
type IngestConfig struct {
	SampleRate    int
	Channels      int
	WindowSeconds float64
}

func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		SampleRate:    PipelineSampleRate,
		Channels:      1,
		WindowSeconds: 5.0,
	}
}

// IngestBuffer накапливает непрерывный PCM-поток и нарезает его на окна
// фиксированной длины. Тайминг окон считается по счётчику семплов, а не по
// wall clock - подвисания захвата не сдвигают таймлайн.
//
// Не потокобезопасен: Push/Flush зовутся из одной горутины пайплайна.
type IngestBuffer struct {
	config IngestConfig

	pending       []float32
	windowSamples int
	emitted       int64 // Всего семплов ушло в окна (для StartTime)
	windowIndex   int
}

func NewIngestBuffer(config IngestConfig) *IngestBuffer {
	if config.SampleRate <= 0 {
		config.SampleRate = PipelineSampleRate
	}
	if config.WindowSeconds <= 0 {
		config.WindowSeconds = 5.0
	}
	return &IngestBuffer{
		config:        config,
		windowSamples: int(float64(config.SampleRate) * config.WindowSeconds),
	}
}

// Push добавляет семплы и возвращает готовые окна (ноль или больше).
// Один Push может закрыть несколько окон если пришёл большой кусок.
// sampleRate и channels - формат входного куска, при расхождении с
// конфигом буфера возвращается ErrFormatChanged и кусок отбрасывается.
func (b *IngestBuffer) Push(samples []float32, sampleRate, channels int) ([]*Window, error) {
	if sampleRate != b.config.SampleRate || channels != b.config.Channels {
		return nil, fmt.Errorf("%w: got %dHz/%dch, expected %dHz/%dch",
			ErrFormatChanged, sampleRate, channels, b.config.SampleRate, b.config.Channels)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	b.pending = append(b.pending, samples...)

	var windows []*Window
	for len(b.pending) >= b.windowSamples {
		windows = append(windows, b.emit(b.windowSamples))
	}
	return windows, nil
}

// Flush выдаёт частичное окно из остатка буфера.
// Возвращает nil если буфер пуст. Вызывается при остановке записи,
// чтобы хвост короче окна не потерялся.
func (b *IngestBuffer) Flush() *Window {
	if len(b.pending) == 0 {
		return nil
	}
	return b.emit(len(b.pending))
}

func (b *IngestBuffer) emit(n int) *Window {
	samples := make([]float32, n)
	copy(samples, b.pending[:n])
	b.pending = b.pending[n:]

	w := &Window{
		Index:      b.windowIndex,
		Samples:    samples,
		StartTime:  float64(b.emitted) / float64(b.config.SampleRate),
		Duration:   float64(n) / float64(b.config.SampleRate),
		CapturedAt: time.Now(),
	}
	b.windowIndex++
	b.emitted += int64(n)
	return w
}

// Reset очищает буфер перед новой записью
func (b *IngestBuffer) Reset() {
	b.pending = nil
	b.emitted = 0
	b.windowIndex = 0
}

// PendingSamples возвращает число семплов, ещё не ушедших в окна
func (b *IngestBuffer) PendingSamples() int {
	return len(b.pending)
}
