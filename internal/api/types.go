package api

import (
	"whonext/audio"
	"whonext/session"
	"whonext/voiceprint"
)

// Message - структура сообщения WebSocket и gRPC Control стрима
type Message struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`

	// Параметры запуска записи
	Title    string `json:"title,omitempty"`
	Language string `json:"language,omitempty"`

	// Состояние рекордера
	State      string `json:"state,omitempty"`
	Paused     bool   `json:"paused,omitempty"`
	Monitoring bool   `json:"monitoring,omitempty"`
	Error      string `json:"error,omitempty"`

	// Встречи
	MeetingID    string                `json:"meetingId,omitempty"`
	Meeting      *session.MeetingMeta  `json:"meeting,omitempty"`
	Meetings     []session.MeetingMeta `json:"meetings,omitempty"`
	Segment      *session.Segment      `json:"segment,omitempty"`
	Transcript   []session.Segment     `json:"transcript,omitempty"`
	Participants []session.Participant `json:"participants,omitempty"`

	// Уровни аудио
	MicLevel    float64 `json:"micLevel,omitempty"`
	SystemLevel float64 `json:"systemLevel,omitempty"`

	// Устройства
	Devices []audio.Device `json:"devices,omitempty"`

	// Голосовые отпечатки
	SpeakerID   string                  `json:"speakerId,omitempty"`
	SpeakerName string                  `json:"speakerName,omitempty"`
	Speakers    []voiceprint.VoicePrint `json:"speakers,omitempty"`
}
