package session

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/braheezy/shine-mp3/pkg/mp3"
)

// AudioWriter - стриминговый писатель full.mp3 встречи через shine-mp3
// (чистый Go, без FFmpeg). Сюда попадают все окна записи, включая тихие:
// аудио файл непрерывен даже там, где транскрипция пропущена
type AudioWriter struct {
	file       *os.File
	encoder    *mp3.Encoder
	filePath   string
	sampleRate int

	// Буфер для накопления сэмплов (shine кодирует блоками)
	buffer []int16

	samplesWritten int64
	startTime      time.Time
	mu             sync.Mutex
	closed         bool
}

// NewAudioWriter создаёт writer для mono 16kHz потока встречи
func NewAudioWriter(filePath string, sampleRate int) (*AudioWriter, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	encoder := mp3.NewEncoder(sampleRate, 1)

	log.Printf("AudioWriter started: %s (rate=%d)", filePath, sampleRate)

	return &AudioWriter{
		file:       file,
		encoder:    encoder,
		filePath:   filePath,
		sampleRate: sampleRate,
		buffer:     make([]int16, 0, 8192),
		startTime:  time.Now(),
	}, nil
}

// Write записывает float32 семплы
func (w *AudioWriter) Write(samples []float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	// Конвертируем float32 в int16
	for _, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		w.buffer = append(w.buffer, int16(s*32767))
	}

	w.samplesWritten += int64(len(samples))

	// Shine кодирует блоками по 1152 сэмплов для MP3 Layer III,
	// пишем пачками по 4 блока
	minBufferSize := 1152 * 4
	if len(w.buffer) >= minBufferSize {
		w.encoder.Write(w.file, w.buffer)
		w.buffer = w.buffer[:0] // Очищаем буфер, сохраняя capacity
	}

	return nil
}

// SamplesWritten возвращает количество записанных семплов
func (w *AudioWriter) SamplesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.samplesWritten
}

// Duration возвращает длительность записанного аудио
func (w *AudioWriter) Duration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Duration(w.samplesWritten) * time.Second / time.Duration(w.sampleRate)
}

// Close дописывает хвост буфера и закрывает файл
func (w *AudioWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	// Записываем остаток, дополнив до размера блока нулями
	if len(w.buffer) > 0 {
		const blockSize = 1152
		for len(w.buffer)%blockSize != 0 {
			w.buffer = append(w.buffer, 0)
		}
		w.encoder.Write(w.file, w.buffer)
	}

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	log.Printf("AudioWriter closed: %s (samples=%d)", w.filePath, w.samplesWritten)
	return nil
}

// FilePath возвращает путь к файлу
func (w *AudioWriter) FilePath() string {
	return w.filePath
}
