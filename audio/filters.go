package audio

import "math"

// FilterConfig - настройки фильтров предобработки окна перед транскрипцией
type FilterConfig struct {
	// Noise Gate - затухание участков ниже порога
	NoiseGateEnabled   bool
	NoiseGateThreshold float32

	// Normalization - нормализация громкости к целевому пику
	NormalizationEnabled bool
	TargetPeakLevel      float32

	// High-Pass Filter - срез низкочастотного гула и DC offset
	HighPassEnabled bool
	HighPassCutoff  float32 // Hz

	// De-click - интерполяция одиночных щелчков
	DeClickEnabled   bool
	DeClickThreshold float32
}

// DefaultFilterConfig возвращает настройки по умолчанию
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		NoiseGateEnabled:     true,
		NoiseGateThreshold:   0.008,
		NormalizationEnabled: true,
		TargetPeakLevel:      0.9,
		HighPassEnabled:      true,
		HighPassCutoff:       80,
		DeClickEnabled:       true,
		DeClickThreshold:     0.4,
	}
}

// ApplyFilters применяет включённые фильтры к окну аудио.
// Исходный слайс не изменяется
func ApplyFilters(samples []float32, sampleRate int, config FilterConfig) []float32 {
	if len(samples) == 0 {
		return samples
	}

	result := make([]float32, len(samples))
	copy(result, samples)

	// Порядок важен: сначала убираем гул и щелчки, затем давим шум,
	// нормализация последней
	if config.HighPassEnabled {
		result = highPass(result, sampleRate, config.HighPassCutoff)
	}
	if config.DeClickEnabled {
		result = deClick(result, config.DeClickThreshold)
	}
	if config.NoiseGateEnabled {
		result = noiseGate(result, sampleRate, config.NoiseGateThreshold)
	}
	if config.NormalizationEnabled {
		result = normalize(result, config.TargetPeakLevel)
	}

	return result
}

// highPass - IIR фильтр первого порядка
func highPass(samples []float32, sampleRate int, cutoffHz float32) []float32 {
	if len(samples) == 0 || cutoffHz <= 0 {
		return samples
	}

	rc := 1.0 / (2.0 * math.Pi * float64(cutoffHz))
	dt := 1.0 / float64(sampleRate)
	alpha := float32(rc / (rc + dt))

	result := make([]float32, len(samples))
	result[0] = samples[0]

	prevInput := samples[0]
	prevOutput := samples[0]

	for i := 1; i < len(samples); i++ {
		// y[i] = alpha * (y[i-1] + x[i] - x[i-1])
		result[i] = alpha * (prevOutput + samples[i] - prevInput)
		prevInput = samples[i]
		prevOutput = result[i]
	}

	return result
}

// deClick интерполирует одиночные резкие скачки амплитуды
func deClick(samples []float32, threshold float32) []float32 {
	if len(samples) < 3 {
		return samples
	}

	result := make([]float32, len(samples))
	copy(result, samples)

	for i := 1; i < len(samples)-1; i++ {
		diffPrev := abs32(samples[i] - samples[i-1])
		diffNext := abs32(samples[i] - samples[i+1])

		// Скачок в обе стороны - щелчок
		if diffPrev > threshold && diffNext > threshold {
			result[i] = (samples[i-1] + samples[i+1]) / 2
		}
	}

	return result
}

// noiseGate ослабляет окна 10мс с RMS ниже порога. Плавное затухание
// вместо обнуления, чтобы не создавать артефактов
func noiseGate(samples []float32, sampleRate int, threshold float32) []float32 {
	if len(samples) == 0 {
		return samples
	}

	windowSize := sampleRate / 100
	if windowSize < 1 {
		windowSize = 1
	}

	result := make([]float32, len(samples))
	copy(result, samples)

	for i := 0; i < len(samples); i += windowSize {
		end := i + windowSize
		if end > len(samples) {
			end = len(samples)
		}

		rms := float32(CalculateRMS(samples[i:end]))
		if rms < threshold {
			attenuation := rms / threshold
			if attenuation < 0.1 {
				attenuation = 0.1
			}
			for j := i; j < end; j++ {
				result[j] *= attenuation
			}
		}
	}

	return result
}

// normalize поднимает громкость к целевому пику с клиппингом.
// Усиление ограничено 20x, чтобы не поднимать шум
func normalize(samples []float32, targetPeak float32) []float32 {
	if len(samples) == 0 || targetPeak <= 0 {
		return samples
	}

	var maxAbs float32
	for _, s := range samples {
		if abs := abs32(s); abs > maxAbs {
			maxAbs = abs
		}
	}

	// Слишком тихий сигнал: нормализация только усилит шум
	if maxAbs < 0.001 {
		return samples
	}

	gain := targetPeak / maxAbs
	if gain > 20 {
		gain = 20
	}

	result := make([]float32, len(samples))
	for i, s := range samples {
		result[i] = s * gain
		if result[i] > 1 {
			result[i] = 1
		} else if result[i] < -1 {
			result[i] = -1
		}
	}

	return result
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
