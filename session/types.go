// Package session хранит встречи: транскрипт, участников и аудио файл
package session

import (
	"errors"
	"time"
)

// MeetingStatus представляет состояние встречи
type MeetingStatus string

const (
	MeetingStatusRecording  MeetingStatus = "recording"
	MeetingStatusProcessing MeetingStatus = "processing"
	MeetingStatusCompleted  MeetingStatus = "completed"
	MeetingStatusFailed     MeetingStatus = "failed"
	MeetingStatusDiscarded  MeetingStatus = "discarded"
)

var (
	// ErrNoActiveSession - операция требует активной встречи
	ErrNoActiveSession = errors.New("no active session")
	// ErrSessionActive - встреча уже идёт
	ErrSessionActive = errors.New("session already active")
)

// Segment - один сегмент транскрипта.
// Создаётся провизорным (IsFinalized=false) быстрым локальным проходом,
// позже может быть заменён уточнённой версией с тем же Timestamp.
// После создания мутируются только поля спикера и статус финализации
type Segment struct {
	ID          string  `json:"id"`
	Text        string  `json:"text"`
	Timestamp   float64 `json:"timestamp"` // Секунды от начала записи (начало окна)
	Duration    float64 `json:"duration"`  // Длительность окна в секундах
	SpeakerID   string  `json:"speakerId,omitempty"`
	SpeakerName string  `json:"speakerName,omitempty"`
	Confidence  float64 `json:"confidence"`
	IsFinalized bool    `json:"isFinalized"`
}

// Participant - участник встречи. Создаётся лениво при первом появлении
// speakerID; живёт пока живёт встреча. Единственный мутатор полей
// SpeakingSeconds/IsSpeaking - пайплайн, через Meeting.UpdateParticipant
type Participant struct {
	ID              string  `json:"id"`
	DisplayName     string  `json:"displayName"`
	Color           string  `json:"color"`
	SpeakingSeconds float64 `json:"speakingDurationSeconds"`
	IsSpeaking      bool    `json:"isSpeaking"`
	Confidence      float64 `json:"confidence"`
}

// MeetingMetrics счётчики обработки окон за встречу
type MeetingMetrics struct {
	WindowsProcessed   int `json:"windowsProcessed"`
	WindowsSilent      int `json:"windowsSilent"`
	WindowsTranscribed int `json:"windowsTranscribed"`
	WindowsFiltered    int `json:"windowsFiltered"` // Отброшено фильтром галлюцинаций
	WindowsFailed      int `json:"windowsFailed"`
	SegmentsRefined    int `json:"segmentsRefined"`
}

// MeetingMeta - персистентные метаданные встречи (meta.json)
type MeetingMeta struct {
	ID        string        `json:"id"`
	Title     string        `json:"title,omitempty"`
	StartTime time.Time     `json:"startTime"`
	EndTime   *time.Time    `json:"endTime,omitempty"`
	Status    MeetingStatus `json:"status"`
	Language  string        `json:"language"`
	DataDir   string        `json:"dataDir"`

	// Длительность по счётчику семплов, не по wall clock
	DurationSeconds float64 `json:"durationSeconds"`

	AudioFile   string `json:"audioFile,omitempty"` // full.mp3 относительно DataDir
	NumSpeakers int    `json:"numSpeakers"`

	Metrics MeetingMetrics `json:"metrics"`
}

// MeetingConfig конфигурация для создаваемой встречи
type MeetingConfig struct {
	Language      string
	Title         string
	MicDevice     string
	SystemDevice  string
	CaptureSystem bool
}

// SampleRate константа частоты дискретизации пайплайна
const SampleRate = 16000
