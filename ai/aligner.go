package ai

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"sync"
)

// SegmentAligner сопоставляет окна транскрипции со спикерами из диаризации.
// Диаризатор с каждым проходом пересматривает границы ранних сегментов,
// поэтому UpdateSegments заменяет весь список целиком, без инкрементального
// слияния - верим последнему полному снапшоту.
//
// Обновления диаризации и запросы выравнивания приходят из разных горутин,
// всё состояние под одним мьютексом.
type SegmentAligner struct {
	mu         sync.Mutex
	segments   []SpeakerSegment
	stabilizer *SpeakerStabilizer

	// Стабильная нумерация спикеров в рамках сессии:
	// первый увиденный ID -> "Speaker 1", второй -> "Speaker 2"
	labelOrder map[string]int
}

func NewSegmentAligner(stabilizer *SpeakerStabilizer) *SegmentAligner {
	return &SegmentAligner{
		stabilizer: stabilizer,
		labelOrder: make(map[string]int),
	}
}

// UpdateSegments заменяет список сегментов диаризации целиком
func (a *SegmentAligner) UpdateSegments(segments []SpeakerSegment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.segments = make([]SpeakerSegment, len(segments))
	copy(a.segments, segments)

	// Регистрируем новых спикеров в порядке появления на таймлайне
	for _, seg := range a.segments {
		if _, ok := a.labelOrder[seg.SpeakerID]; !ok {
			a.labelOrder[seg.SpeakerID] = len(a.labelOrder) + 1
		}
	}
}

// SegmentCount возвращает число сегментов в текущем снапшоте
func (a *SegmentAligner) SegmentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.segments)
}

// DominantSpeaker возвращает спикера с максимальным суммарным перекрытием
// окна [start, start+duration). При равном перекрытии побеждает сегмент
// с более ранним началом. Результат прогоняется через стабилизатор,
// чтобы одиночное спорное окно не переключало отображаемого спикера.
func (a *SegmentAligner) DominantSpeaker(start, duration float64) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	raw, ok := a.dominantRaw(start, start+duration)
	if !ok {
		return "", false
	}
	if a.stabilizer != nil {
		raw = a.stabilizer.Stabilize(raw)
	}
	return raw, true
}

func (a *SegmentAligner) dominantRaw(start, end float64) (string, bool) {
	// Суммируем перекрытие по спикеру: один спикер может попасть в окно
	// несколькими сегментами
	overlaps := make(map[string]float64)
	earliest := make(map[string]float64)

	for _, seg := range a.segments {
		overlapStart := start
		if seg.Start > overlapStart {
			overlapStart = seg.Start
		}
		overlapEnd := end
		if seg.End < overlapEnd {
			overlapEnd = seg.End
		}
		if overlapEnd <= overlapStart {
			continue
		}
		overlaps[seg.SpeakerID] += overlapEnd - overlapStart
		if first, ok := earliest[seg.SpeakerID]; !ok || seg.Start < first {
			earliest[seg.SpeakerID] = seg.Start
		}
	}

	best := ""
	bestOverlap := 0.0
	for id, overlap := range overlaps {
		if overlap > bestOverlap {
			best = id
			bestOverlap = overlap
			continue
		}
		if overlap == bestOverlap && best != "" && earliest[id] < earliest[best] {
			best = id
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

var speakerNumRe = regexp.MustCompile(`(\d+)\s*$`)

// DisplayLabel превращает внутренний ID движка в человекочитаемую метку.
// "speaker_0" -> "Speaker 1" (нумерация с единицы). ID без номера получает
// метку по порядку появления, а если спикер вообще не встречался в
// диаризации - стабильный номер из хеша строки
func (a *SegmentAligner) DisplayLabel(speakerID string) string {
	if speakerID == "" {
		return ""
	}

	if m := speakerNumRe.FindStringSubmatch(speakerID); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return fmt.Sprintf("Speaker %d", n+1)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if n, ok := a.labelOrder[speakerID]; ok {
		return fmt.Sprintf("Speaker %d", n)
	}

	// Фолбэк: детерминированный номер из хеша, стабильный в рамках сессии
	h := fnv.New32a()
	h.Write([]byte(speakerID))
	return fmt.Sprintf("Speaker %d", h.Sum32()%100+1)
}
