package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Палитра для участников, выдаётся по кругу в порядке появления
var participantColors = []string{
	"#4F8EF7", "#F7744F", "#4FC97A", "#C94FD8", "#F0B429",
	"#38BEC9", "#E8368F", "#7A5AF8",
}

// Meeting - активная или загруженная встреча.
// Транскрипт и участники обновляются из нескольких горутин
// (транскрипция, диаризация, уточнение), всё состояние под одним
// RWMutex встречи. Пайплайн при этом не сериализуется: тяжёлая
// работа происходит до захвата лока
type Meeting struct {
	Meta MeetingMeta

	mu           sync.RWMutex
	segments     []*Segment
	participants map[string]*Participant
}

// NewMeeting создаёт новую встречу
func NewMeeting(config MeetingConfig, dataDir string) *Meeting {
	return &Meeting{
		Meta: MeetingMeta{
			ID:        uuid.New().String(),
			Title:     config.Title,
			StartTime: time.Now(),
			Status:    MeetingStatusRecording,
			Language:  config.Language,
			DataDir:   dataDir,
		},
		participants: make(map[string]*Participant),
	}
}

// AppendSegment вставляет сегмент с сохранением порядка по Timestamp.
// Если сегмент с тем же ID уже есть - это замена (уточнённая версия
// поверх провизорной), не дубликат. Провизорная версия никогда не
// затирает финализированную
func (m *Meeting) AppendSegment(seg *Segment) {
	if seg == nil || seg.Text == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if seg.ID == "" {
		seg.ID = uuid.New().String()
	}

	for i, existing := range m.segments {
		if existing.ID == seg.ID {
			if existing.IsFinalized && !seg.IsFinalized {
				return
			}
			seg.Timestamp = existing.Timestamp // Идентичность сегмента - его место на таймлайне
			m.segments[i] = seg
			return
		}
	}

	// Вставка с сохранением неубывающего порядка таймстемпов.
	// Обычно сегмент идёт в конец, поэтому ищем с хвоста
	idx := len(m.segments)
	for idx > 0 && m.segments[idx-1].Timestamp > seg.Timestamp {
		idx--
	}
	m.segments = append(m.segments, nil)
	copy(m.segments[idx+1:], m.segments[idx:])
	m.segments[idx] = seg
}

// FinalizeSegmentAt заменяет провизорный сегмент по таймстемпу.
// Используется проходом уточнения: сегменты матчатся по исходному
// таймстемпу окна, не по ID. Возвращает false если сегмента нет
func (m *Meeting) FinalizeSegmentAt(timestamp float64, text string, confidence float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, seg := range m.segments {
		if seg.Timestamp == timestamp {
			if text != "" {
				seg.Text = text
			}
			if confidence > 0 {
				seg.Confidence = confidence
			}
			seg.IsFinalized = true
			m.Meta.Metrics.SegmentsRefined++
			return true
		}
	}
	return false
}

// FinalizeAllProvisional помечает оставшиеся провизорные сегменты
// финализированными с сохранением текста. Вызывается при завершении,
// когда очередь уточнения отменена или не успела
func (m *Meeting) FinalizeAllProvisional() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, seg := range m.segments {
		if !seg.IsFinalized {
			seg.IsFinalized = true
			n++
		}
	}
	return n
}

// SetSegmentSpeaker проставляет спикера сегменту (после выравнивания)
func (m *Meeting) SetSegmentSpeaker(segmentID, speakerID, speakerName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, seg := range m.segments {
		if seg.ID == segmentID {
			seg.SpeakerID = speakerID
			seg.SpeakerName = speakerName
			return
		}
	}
}

// Transcript возвращает копию транскрипта в порядке таймстемпов
func (m *Meeting) Transcript() []Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Segment, len(m.segments))
	for i, seg := range m.segments {
		out[i] = *seg
	}
	return out
}

// SegmentCount возвращает число сегментов
func (m *Meeting) SegmentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.segments)
}

// UpdateParticipant - единственный путь мутации состояния участника.
// Вызывается один раз на обработанное окно. Участник создаётся лениво
// при первом появлении speakerID
func (m *Meeting) UpdateParticipant(speakerID, displayName string, isSpeaking bool, additionalSeconds, confidence float64) {
	if speakerID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[speakerID]
	if !ok {
		p = &Participant{
			ID:          speakerID,
			DisplayName: displayName,
			Color:       participantColors[len(m.participants)%len(participantColors)],
		}
		m.participants[speakerID] = p
	}
	if displayName != "" {
		p.DisplayName = displayName
	}

	// Говорит сейчас только один: сброс флага у остальных
	if isSpeaking {
		for _, other := range m.participants {
			other.IsSpeaking = false
		}
	}
	p.IsSpeaking = isSpeaking
	p.SpeakingSeconds += additionalSeconds
	if confidence > 0 {
		p.Confidence = confidence
	}
}

// Participants возвращает участников, отсортированных по времени речи
func (m *Meeting) Participants() []Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Participant, 0, len(m.participants))
	for _, p := range m.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SpeakingSeconds > out[j].SpeakingSeconds
	})
	return out
}

// Participant возвращает участника по id
func (m *Meeting) Participant(speakerID string) (Participant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.participants[speakerID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// RecordWindow обновляет счётчики обработки окон
func (m *Meeting) RecordWindow(silent, transcribed, filtered, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Meta.Metrics.WindowsProcessed++
	if silent {
		m.Meta.Metrics.WindowsSilent++
	}
	if transcribed {
		m.Meta.Metrics.WindowsTranscribed++
	}
	if filtered {
		m.Meta.Metrics.WindowsFiltered++
	}
	if failed {
		m.Meta.Metrics.WindowsFailed++
	}
}

// Metrics возвращает снапшот счётчиков
func (m *Meeting) Metrics() MeetingMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Meta.Metrics
}

// SetDuration фиксирует длительность по счётчику семплов
func (m *Meeting) SetDuration(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Meta.DurationSeconds = seconds
}

// Duration возвращает текущую длительность записи в секундах
func (m *Meeting) Duration() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Meta.DurationSeconds
}

// snapshotMeta возвращает метаданные с актуальным числом спикеров
func (m *Meeting) snapshotMeta() MeetingMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meta := m.Meta
	meta.NumSpeakers = len(m.participants)
	return meta
}
