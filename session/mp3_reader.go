package session

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// MP3Reader читает MP3 файлы используя чистый Go (без FFmpeg)
type MP3Reader struct {
	decoder    *mp3.Decoder
	file       *os.File
	sampleRate int
	channels   int
	length     int64 // длина в байтах (signed 16-bit PCM)
}

// NewMP3Reader открывает MP3 файл для чтения
func NewMP3Reader(filePath string) (*MP3Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	// go-mp3 возвращает длину в байтах (signed 16-bit stereo = 4 bytes per sample)
	return &MP3Reader{
		decoder:    decoder,
		file:       file,
		sampleRate: decoder.SampleRate(),
		channels:   2, // go-mp3 всегда декодирует в стерео
		length:     decoder.Length(),
	}, nil
}

// SampleRate возвращает частоту дискретизации
func (r *MP3Reader) SampleRate() int {
	return r.sampleRate
}

// Duration возвращает длительность в секундах
func (r *MP3Reader) Duration() float64 {
	// length в байтах, 4 байта на сэмпл (16-bit stereo)
	samples := r.length / 4
	return float64(samples) / float64(r.sampleRate)
}

// ReadAllMono читает весь файл и возвращает моно (среднее каналов)
// с исходной частотой дискретизации
func (r *MP3Reader) ReadAllMono() ([]float32, error) {
	// Читаем весь PCM (signed 16-bit stereo, interleaved)
	pcmData := make([]byte, r.length)
	n, err := io.ReadFull(r.decoder, pcmData)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read PCM data: %w", err)
	}
	pcmData = pcmData[:n]

	numSamples := n / 4 // 2 bytes per sample * 2 channels
	mono := make([]float32, numSamples)

	for i := 0; i < numSamples; i++ {
		left := int16(binary.LittleEndian.Uint16(pcmData[i*4:]))
		right := int16(binary.LittleEndian.Uint16(pcmData[i*4+2:]))
		mono[i] = (float32(left) + float32(right)) / 2.0 / 32768.0
	}

	return mono, nil
}

// Close закрывает файл
func (r *MP3Reader) Close() error {
	return r.file.Close()
}

// resampleLinear выполняет линейную интерполяцию для ресемплинга
func resampleLinear(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate {
		return samples
	}

	ratio := float64(srcRate) / float64(dstRate)
	newLen := int(float64(len(samples)) / ratio)
	resampled := make([]float32, newLen)

	for i := 0; i < newLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		if srcIdx+1 < len(samples) {
			resampled[i] = samples[srcIdx]*(1-frac) + samples[srcIdx+1]*frac
		} else if srcIdx < len(samples) {
			resampled[i] = samples[srcIdx]
		}
	}

	return resampled
}

// ReadMono16k декодирует MP3 целиком в 16kHz mono float32.
// Этим путём диаризация и уточнение получают запись встречи
func ReadMono16k(mp3Path string) ([]float32, error) {
	reader, err := NewMP3Reader(mp3Path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	mono, err := reader.ReadAllMono()
	if err != nil {
		return nil, err
	}

	if reader.SampleRate() != SampleRate {
		mono = resampleLinear(mono, reader.SampleRate(), SampleRate)
	}
	return mono, nil
}

// ExtractRange извлекает временной диапазон из MP3 и возвращает
// 16kHz mono PCM. go-mp3 не умеет seek, читаем весь файл
func ExtractRange(mp3Path string, startMs, endMs int64) ([]float32, error) {
	reader, err := NewMP3Reader(mp3Path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	mono, err := reader.ReadAllMono()
	if err != nil {
		return nil, err
	}

	srcRate := reader.SampleRate()
	startSample := int(float64(startMs) * float64(srcRate) / 1000.0)
	endSample := int(float64(endMs) * float64(srcRate) / 1000.0)

	if startSample < 0 {
		startSample = 0
	}
	if endSample > len(mono) {
		endSample = len(mono)
	}
	if startSample >= endSample {
		return nil, fmt.Errorf("invalid range: start=%d, end=%d", startSample, endSample)
	}

	seg := mono[startSample:endSample]
	if srcRate != SampleRate {
		seg = resampleLinear(seg, srcRate, SampleRate)
	}

	log.Printf("ExtractRange: %s [%.1f-%.1f sec] -> %d samples",
		mp3Path, float64(startMs)/1000, float64(endMs)/1000, len(seg))

	return seg, nil
}
