package ai

// SpeakerStabilizer гасит дребезг меток спикеров между соседними окнами.
// Диаризация на границах реплик часто даёт одиночные выбросы
// (A, B, A, A - где B ошибка), смена метки в UI на одно окно выглядит
// как скачок. Новая метка принимается только когда она удержалась
// подряд consecutiveToSwitch окон.
//
// Не потокобезопасен сам по себе: вызывается под мьютексом SegmentAligner.
type SpeakerStabilizer struct {
	current string
	history []string
	depth   int

	// Сколько одинаковых окон подряд нужно для смены текущей метки
	consecutiveToSwitch int
}

func NewSpeakerStabilizer() *SpeakerStabilizer {
	return &SpeakerStabilizer{
		depth:               3,
		consecutiveToSwitch: 2,
	}
}

// Stabilize принимает сырую метку очередного окна и возвращает
// стабилизированную. Первая увиденная метка принимается сразу
func (s *SpeakerStabilizer) Stabilize(raw string) string {
	if raw == "" {
		return s.current
	}

	s.history = append(s.history, raw)
	if len(s.history) > s.depth {
		s.history = s.history[1:]
	}

	if s.current == "" {
		s.current = raw
		return s.current
	}
	if raw == s.current {
		return s.current
	}

	// Кандидат на смену: считаем сколько последних окон подряд дали его
	streak := 0
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i] != raw {
			break
		}
		streak++
	}
	if streak >= s.consecutiveToSwitch {
		s.current = raw
	}
	return s.current
}

// Current возвращает текущую стабильную метку
func (s *SpeakerStabilizer) Current() string {
	return s.current
}

// Reset сбрасывает состояние перед новой записью
func (s *SpeakerStabilizer) Reset() {
	s.current = ""
	s.history = s.history[:0]
}
