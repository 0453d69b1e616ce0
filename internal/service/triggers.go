// Package service содержит движок записи: триггеры, пайплайн обработки
// окон, очередь уточнения и машину состояний записи
package service

import (
	"log"
	"time"
)

// TriggerSignals - снимок контекстных сигналов на момент оценки
type TriggerSignals struct {
	// Confidence - базовая уверенность детектора разговора (0..1)
	Confidence float64
	// TwoWayAudio - речь слышна и в микрофоне, и в системном звуке
	TwoWayAudio bool
	// HasCalendarEvent - в календаре сейчас идёт встреча
	HasCalendarEvent bool
	// MeetingAppForeground - на переднем плане приложение для звонков
	MeetingAppForeground bool
	// Now - момент оценки (для правил по времени)
	Now time.Time
}

// TriggerDecision результат оценки триггеров
type TriggerDecision struct {
	Fire       bool
	Reason     string
	Confidence float64
}

// TimeRule - правило автозаписи по расписанию (например, ежедневный
// статус в 10:00 по будням)
type TimeRule struct {
	Weekdays []time.Weekday
	FromHour int
	ToHour   int
}

// Matches проверяет попадает ли момент в правило
func (r TimeRule) Matches(t time.Time) bool {
	dayOK := len(r.Weekdays) == 0
	for _, d := range r.Weekdays {
		if t.Weekday() == d {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}
	h := t.Hour()
	return h >= r.FromHour && h < r.ToHour
}

// ContextProvider - внешний оракул контекста (календарь, активное окно).
// Только чтение, триггеры ему ничего не сообщают
type ContextProvider interface {
	HasCurrentMeeting() bool
	MeetingAppForeground() bool
}

// TriggerConfig - какие сигналы включены и их пороги уверенности.
// Пороги разные: двусторонний звук - прямое свидетельство разговора
// и срабатывает сам по себе, контекстные сигналы слабее и требуют
// подтверждения уверенностью
type TriggerConfig struct {
	TwoWayAudioEnabled bool
	CalendarEnabled    bool
	MeetingAppEnabled  bool
	TimeRules          []TimeRule

	// Минимальные пороги уверенности по типу сигнала
	TwoWayAudioFloor float64
	ContextFloor     float64
	TimeRuleFloor    float64
}

func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		TwoWayAudioEnabled: true,
		TwoWayAudioFloor:   0.7,
		ContextFloor:       0.5,
		TimeRuleFloor:      0.6,
	}
}

// TriggerEvaluator решает пора ли начинать запись автоматически
type TriggerEvaluator struct {
	config TriggerConfig
}

func NewTriggerEvaluator(config TriggerConfig) *TriggerEvaluator {
	if config.TwoWayAudioFloor <= 0 {
		config.TwoWayAudioFloor = 0.7
	}
	if config.ContextFloor <= 0 {
		config.ContextFloor = 0.5
	}
	if config.TimeRuleFloor <= 0 {
		config.TimeRuleFloor = 0.6
	}
	return &TriggerEvaluator{config: config}
}

// Evaluate оценивает сигналы. Каждый сигнал срабатывает независимо
// со своим порогом; достаточно одного
func (e *TriggerEvaluator) Evaluate(sig TriggerSignals) TriggerDecision {
	if e.config.TwoWayAudioEnabled && sig.TwoWayAudio && sig.Confidence >= e.config.TwoWayAudioFloor {
		return TriggerDecision{Fire: true, Reason: "two-way audio", Confidence: sig.Confidence}
	}

	if e.config.CalendarEnabled && sig.HasCalendarEvent && sig.Confidence >= e.config.ContextFloor {
		return TriggerDecision{Fire: true, Reason: "calendar event", Confidence: sig.Confidence}
	}

	if e.config.MeetingAppEnabled && sig.MeetingAppForeground && sig.Confidence >= e.config.ContextFloor {
		return TriggerDecision{Fire: true, Reason: "meeting app foreground", Confidence: sig.Confidence}
	}

	if sig.Confidence >= e.config.TimeRuleFloor {
		for _, rule := range e.config.TimeRules {
			if rule.Matches(sig.Now) {
				return TriggerDecision{Fire: true, Reason: "time rule", Confidence: sig.Confidence}
			}
		}
	}

	return TriggerDecision{Confidence: sig.Confidence}
}

// EvaluateWithProvider снимает контекст с провайдера и оценивает
func (e *TriggerEvaluator) EvaluateWithProvider(confidence float64, twoWay bool, provider ContextProvider) TriggerDecision {
	sig := TriggerSignals{
		Confidence:  confidence,
		TwoWayAudio: twoWay,
		Now:         time.Now(),
	}
	if provider != nil {
		sig.HasCalendarEvent = provider.HasCurrentMeeting()
		sig.MeetingAppForeground = provider.MeetingAppForeground()
	}

	decision := e.Evaluate(sig)
	if decision.Fire {
		log.Printf("Trigger fired: %s (confidence=%.2f)", decision.Reason, decision.Confidence)
	}
	return decision
}
