package session

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Manager управляет встречами: активная встреча, история, персистентность.
// Каждая встреча лежит в своей директории: meta.json, segments.json,
// participants.json, full.mp3
type Manager struct {
	meetings map[string]*Meeting
	activeID string
	dataDir  string
	mu       sync.RWMutex

	// Записи короче этого порога отбрасываются при остановке -
	// случайные срабатывания триггеров не должны засорять историю
	minDuration time.Duration
}

// NewManager создаёт новый менеджер встреч
func NewManager(dataDir string, minDuration time.Duration) (*Manager, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	m := &Manager{
		meetings:    make(map[string]*Meeting),
		dataDir:     dataDir,
		minDuration: minDuration,
	}

	// Загружаем существующие встречи
	if err := m.LoadMeetings(); err != nil {
		// Не критично, просто логируем
		log.Printf("Warning: failed to load meetings: %v", err)
	}

	return m, nil
}

// CreateMeeting создаёт новую встречу и её директорию
func (m *Manager) CreateMeeting(cfg MeetingConfig) (*Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID != "" {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, m.activeID)
	}

	meeting := NewMeeting(cfg, "")
	meeting.Meta.DataDir = filepath.Join(m.dataDir, meeting.Meta.ID)
	meeting.Meta.AudioFile = "full.mp3"

	if err := os.MkdirAll(meeting.Meta.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create meeting dir: %w", err)
	}

	m.meetings[meeting.Meta.ID] = meeting
	m.activeID = meeting.Meta.ID

	if err := m.saveMetaLocked(meeting); err != nil {
		return nil, err
	}

	return meeting, nil
}

// FinishMeeting завершает активную встречу. Встреча короче минимальной
// длительности отбрасывается: файлы удаляются, в истории не появляется.
// Возвращает (meeting, persisted, err)
func (m *Manager) FinishMeeting() (*Meeting, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID == "" {
		return nil, false, ErrNoActiveSession
	}

	meeting := m.meetings[m.activeID]
	m.activeID = ""

	now := time.Now()
	meeting.Meta.EndTime = &now

	if meeting.Duration() < m.minDuration.Seconds() {
		log.Printf("Meeting %s too short (%.1fs < %.1fs), discarding",
			meeting.Meta.ID, meeting.Duration(), m.minDuration.Seconds())
		meeting.Meta.Status = MeetingStatusDiscarded
		delete(m.meetings, meeting.Meta.ID)
		if err := os.RemoveAll(meeting.Meta.DataDir); err != nil {
			log.Printf("Warning: failed to remove discarded meeting dir: %v", err)
		}
		return meeting, false, nil
	}

	meeting.Meta.Status = MeetingStatusCompleted

	if err := m.persistLocked(meeting); err != nil {
		meeting.Meta.Status = MeetingStatusFailed
		return meeting, false, err
	}
	return meeting, true, nil
}

// FailMeeting помечает активную встречу завершившейся с ошибкой.
// Транскрипт сохраняется если запись успела набрать минимальную длительность
func (m *Manager) FailMeeting(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID == "" {
		return
	}
	meeting := m.meetings[m.activeID]
	m.activeID = ""

	now := time.Now()
	meeting.Meta.EndTime = &now
	meeting.Meta.Status = MeetingStatusFailed
	log.Printf("Meeting %s failed: %s", meeting.Meta.ID, reason)

	if meeting.Duration() < m.minDuration.Seconds() {
		delete(m.meetings, meeting.Meta.ID)
		os.RemoveAll(meeting.Meta.DataDir)
		return
	}
	if err := m.persistLocked(meeting); err != nil {
		log.Printf("Warning: failed to persist failed meeting: %v", err)
	}
}

// GetMeeting возвращает встречу по ID
func (m *Manager) GetMeeting(id string) (*Meeting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meeting, ok := m.meetings[id]
	if !ok {
		return nil, fmt.Errorf("meeting not found: %s", id)
	}
	return meeting, nil
}

// ActiveMeeting возвращает текущую активную встречу (nil если нет)
func (m *Manager) ActiveMeeting() *Meeting {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.activeID == "" {
		return nil
	}
	return m.meetings[m.activeID]
}

// IsActive проверяет есть ли активная встреча
func (m *Manager) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID != ""
}

// ListMeetings возвращает историю встреч (новые первые).
// Отброшенные встречи сюда не попадают - их нет в m.meetings
func (m *Manager) ListMeetings() []MeetingMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metas := make([]MeetingMeta, 0, len(m.meetings))
	for _, meeting := range m.meetings {
		metas = append(metas, meeting.snapshotMeta())
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].StartTime.After(metas[j].StartTime)
	})

	return metas
}

// DeleteMeeting удаляет встречу и её файлы
func (m *Manager) DeleteMeeting(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meeting, ok := m.meetings[id]
	if !ok {
		return fmt.Errorf("meeting not found: %s", id)
	}
	if m.activeID == id {
		return fmt.Errorf("cannot delete active meeting")
	}

	if err := os.RemoveAll(meeting.Meta.DataDir); err != nil {
		return fmt.Errorf("failed to delete meeting files: %w", err)
	}

	delete(m.meetings, id)
	return nil
}

// AudioPath возвращает путь к MP3 файлу встречи
func (m *Manager) AudioPath(id string) (string, error) {
	meeting, err := m.GetMeeting(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(meeting.Meta.DataDir, meeting.Meta.AudioFile), nil
}

// SaveMeta сохраняет только meta.json активной встречи
// (дёшево, зовётся периодически во время записи)
func (m *Manager) SaveMeta(meeting *Meeting) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveMetaLocked(meeting)
}

func (m *Manager) saveMetaLocked(meeting *Meeting) error {
	meta := meeting.snapshotMeta()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(meta.DataDir, "meta.json"), data, 0644)
}

// persistLocked сохраняет встречу целиком: метаданные, транскрипт
// и участников. Порядок сегментов на диске - порядок таймстемпов
func (m *Manager) persistLocked(meeting *Meeting) error {
	if err := m.saveMetaLocked(meeting); err != nil {
		return fmt.Errorf("failed to save meta: %w", err)
	}

	transcript := meeting.Transcript()
	data, err := json.MarshalIndent(transcript, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(meeting.Meta.DataDir, "segments.json"), data, 0644); err != nil {
		return fmt.Errorf("failed to save segments: %w", err)
	}

	participants := meeting.Participants()
	data, err = json.MarshalIndent(participants, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(meeting.Meta.DataDir, "participants.json"), data, 0644); err != nil {
		return fmt.Errorf("failed to save participants: %w", err)
	}

	return nil
}

// LoadMeetings загружает встречи с диска при старте
func (m *Manager) LoadMeetings() error {
	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(m.dataDir, entry.Name())
		data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
		if err != nil {
			continue
		}

		var meta MeetingMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}

		// DataDir может отличаться если директорию переносили
		meta.DataDir = dir

		// Оборванная запись (процесс умер) - помечаем failed
		if meta.Status == MeetingStatusRecording || meta.Status == MeetingStatusProcessing {
			meta.Status = MeetingStatusFailed
		}

		meeting := &Meeting{
			Meta:         meta,
			participants: make(map[string]*Participant),
		}

		if segData, err := os.ReadFile(filepath.Join(dir, "segments.json")); err == nil {
			var segments []Segment
			if err := json.Unmarshal(segData, &segments); err == nil {
				for i := range segments {
					meeting.segments = append(meeting.segments, &segments[i])
				}
			}
		}

		if pData, err := os.ReadFile(filepath.Join(dir, "participants.json")); err == nil {
			var participants []Participant
			if err := json.Unmarshal(pData, &participants); err == nil {
				for i := range participants {
					p := participants[i]
					p.IsSpeaking = false
					meeting.participants[p.ID] = &p
				}
			}
		}

		m.meetings[meta.ID] = meeting
	}

	return nil
}
