package service

import (
	"fmt"
	"log"

	"whonext/ai"
	"whonext/audio"
	"whonext/voiceprint"
)

const (
	// Максимум речи на спикера для вычисления embedding
	maxEmbedSeconds = 10
	// Минимум речи, ниже которого embedding слишком шумный
	minEmbedSeconds = 1
	// Минимум речи для автоматической регистрации нового спикера
	minEnrollSeconds = 5
)

// SpeakerEmbedder вычисляет векторное представление голоса
type SpeakerEmbedder interface {
	Encode(samples []float32) ([]float32, error)
}

// SpeakerIdentifier сопоставляет спикеров диаризации с глобальной базой
// голосовых отпечатков. Незнакомые голоса с достаточным количеством речи
// регистрируются автоматически, имя им задаёт пользователь позже
type SpeakerIdentifier struct {
	embedder SpeakerEmbedder
	matcher  *voiceprint.Matcher
	readFile ai.AudioFileReader
}

// NewSpeakerIdentifier создаёт identifier поверх хранилища отпечатков
func NewSpeakerIdentifier(embedder SpeakerEmbedder, store *voiceprint.Store, readFile ai.AudioFileReader) *SpeakerIdentifier {
	return &SpeakerIdentifier{
		embedder: embedder,
		matcher:  voiceprint.NewMatcher(store),
		readFile: readFile,
	}
}

// Identify читает записанный файл и возвращает имена из базы отпечатков
// для меток диаризации. Метки без совпадения в результат не попадают
func (si *SpeakerIdentifier) Identify(path string, segments []ai.SpeakerSegment) map[string]string {
	samples, err := si.readFile(path)
	if err != nil {
		log.Printf("[Speakers] Failed to read %s: %v", path, err)
		return nil
	}

	names := make(map[string]string)
	for speakerID, voice := range collectSpeakerAudio(samples, segments) {
		if len(voice) < minEmbedSeconds*audio.PipelineSampleRate {
			continue
		}

		embedding, err := si.embedder.Encode(voice)
		if err != nil {
			log.Printf("[Speakers] Encode failed for %s: %v", speakerID, err)
			continue
		}

		match := si.matcher.MatchWithAutoUpdate(embedding)
		if match != nil && match.Confidence != "low" {
			if match.VoicePrint.Name != "" {
				names[speakerID] = match.VoicePrint.Name
			}
			continue
		}

		// Незнакомый голос: регистрируем, если речи достаточно
		if len(voice) >= minEnrollSeconds*audio.PipelineSampleRate {
			vp, err := si.matcher.GetStore().Add(fmt.Sprintf("Участник %d", si.matcher.GetStore().Count()+1), embedding)
			if err != nil {
				log.Printf("[Speakers] Failed to enroll %s: %v", speakerID, err)
				continue
			}
			names[speakerID] = vp.Name
		}
	}

	return names
}

// collectSpeakerAudio собирает до maxEmbedSeconds речи на каждого спикера
// из сегментов диаризации
func collectSpeakerAudio(samples []float32, segments []ai.SpeakerSegment) map[string][]float32 {
	limit := maxEmbedSeconds * audio.PipelineSampleRate
	voices := make(map[string][]float32)

	for _, seg := range segments {
		voice := voices[seg.SpeakerID]
		if len(voice) >= limit {
			continue
		}

		start := int(seg.Start * audio.PipelineSampleRate)
		end := int(seg.End * audio.PipelineSampleRate)
		if start < 0 {
			start = 0
		}
		if end > len(samples) {
			end = len(samples)
		}
		if start >= end {
			continue
		}
		if len(voice)+end-start > limit {
			end = start + limit - len(voice)
		}

		voices[seg.SpeakerID] = append(voice, samples[start:end]...)
	}

	return voices
}
