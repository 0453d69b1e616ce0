package audio

import "math"

// SilenceGateConfig параметры детектора тишины
type SilenceGateConfig struct {
	// RMSThreshold - порог RMS ниже которого окно считается тишиной.
	// 0.005 подобран на реальных записях: комнатный шум и вентиляторы
	// остаются ниже, тихая речь - выше
	RMSThreshold float64
}

func DefaultSilenceGateConfig() SilenceGateConfig {
	return SilenceGateConfig{
		RMSThreshold: 0.005,
	}
}

// SilenceGate отсекает окна без речи до транскрипции.
// Whisper на тишине галлюцинирует, поэтому дешёвая RMS-проверка
// до запуска модели экономит и CPU, и мусор в транскрипте.
type SilenceGate struct {
	config SilenceGateConfig
}

func NewSilenceGate(config SilenceGateConfig) *SilenceGate {
	if config.RMSThreshold <= 0 {
		config.RMSThreshold = 0.005
	}
	return &SilenceGate{config: config}
}

// IsSilent возвращает true если окно ниже порога RMS
func (g *SilenceGate) IsSilent(samples []float32) bool {
	return CalculateRMS(samples) < g.config.RMSThreshold
}

// Threshold возвращает текущий порог
func (g *SilenceGate) Threshold() float64 {
	return g.config.RMSThreshold
}

// CalculateRMS вычисляет среднеквадратичную амплитуду сигнала
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// CalculatePeak возвращает пиковую амплитуду (для индикатора уровня в UI)
func CalculatePeak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		v := math.Abs(float64(s))
		if v > peak {
			peak = v
		}
	}
	return peak
}
