package ai

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// StatusCallback функция для уведомления о статусе операций
type StatusCallback func(status string, message string)

// Глобальный callback для уведомлений (устанавливается из main.go)
var globalStatusCallback StatusCallback
var globalStatusMu sync.Mutex

// SetGlobalStatusCallback устанавливает глобальный callback для уведомлений
func SetGlobalStatusCallback(cb StatusCallback) {
	globalStatusMu.Lock()
	defer globalStatusMu.Unlock()
	globalStatusCallback = cb
}

func notifyGlobalStatus(status, message string) {
	globalStatusMu.Lock()
	cb := globalStatusCallback
	globalStatusMu.Unlock()
	if cb != nil {
		cb(status, message)
	}
}

// WhisperEngine транскрибирует через faster-whisper (Python subprocess).
// Модель живёт в отдельном процессе, поэтому движок переживает
// падения инференса без порчи собственного состояния.
type WhisperEngine struct {
	modelPath   string
	language    string
	python      string
	initialized bool
	mu          sync.Mutex
}

func NewWhisperEngine(modelPath string) *WhisperEngine {
	lang := strings.TrimSpace(os.Getenv("WHISPER_LANG"))
	if lang == "" {
		lang = "auto" // Автоопределение позволит распознавать русский и английский
	}
	return &WhisperEngine{
		modelPath: modelPath,
		language:  lang,
	}
}

func (e *WhisperEngine) Name() string { return "faster-whisper" }

// Initialize проверяет модель и наличие faster-whisper в системе
func (e *WhisperEngine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	if err := ensureFasterModelFiles(e.modelPath); err != nil {
		return fmt.Errorf("%w: %s", ErrModelNotFound, e.modelPath)
	}

	python, err := ensureFasterWhisperInstalled()
	if err != nil {
		return err
	}
	e.python = python
	e.initialized = true

	log.Printf("Whisper init: language=%s model=%s python=%s", e.language, e.modelPath, python)
	return nil
}

// Transcribe транскрибирует окно аудио. Greedy decode (temperature=0,
// без контекста предыдущих сегментов) - детерминированный вывод,
// меньше галлюцинаций. Оценку текста делает фильтр выше по пайплайну.
func (e *WhisperEngine) Transcribe(ctx context.Context, samples []float32) (*DecodeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, ErrEngineNotInitialized
	}

	// Проверяем что аудио содержит речь (не только шум/тишину)
	if !hasSignificantAudio(samples) {
		log.Printf("Skipping transcription: audio too quiet or no speech detected")
		return nil, nil
	}

	norm := normalize(samples)
	out, err := e.runFasterWhisper(ctx, norm, 1, false)
	if err != nil {
		return nil, err
	}
	if len(out.Segments) == 0 {
		return nil, nil
	}

	// Схлопываем окно в один результат, метрики усредняем по длительности
	var texts []string
	var logProb, compression, noSpeech, total float64
	for _, seg := range out.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		texts = append(texts, text)
		dur := seg.End - seg.Start
		if dur <= 0 {
			dur = 0.1
		}
		logProb += seg.AvgLogProb * dur
		compression += seg.CompressionRatio * dur
		noSpeech += seg.NoSpeechProb * dur
		total += dur
	}
	if len(texts) == 0 || total == 0 {
		return nil, nil
	}

	avgLogProb := logProb / total
	return &DecodeResult{
		Text:             strings.Join(texts, " "),
		Confidence:       logProbToConfidence(avgLogProb),
		AvgLogProb:       avgLogProb,
		CompressionRatio: compression / total,
		NoSpeechProb:     noSpeech / total,
	}, nil
}

// TranscribeHighQuality - beam search с сегментами, для финальной обработки
func (e *WhisperEngine) TranscribeHighQuality(ctx context.Context, samples []float32) ([]TranscriptSegment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, ErrEngineNotInitialized
	}
	if !hasSignificantAudio(samples) {
		return nil, nil
	}

	out, err := e.runFasterWhisper(ctx, normalize(samples), 5, true)
	if err != nil {
		return nil, err
	}

	var segments []TranscriptSegment
	for _, seg := range out.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segments = append(segments, TranscriptSegment{
			Start: int64(seg.Start * 1000),
			End:   int64(seg.End * 1000),
			Text:  text,
		})
	}
	return segments, nil
}

func (e *WhisperEngine) SetLanguage(lang string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return
	}
	e.language = lang
}

func (e *WhisperEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized = false
}

// logProbToConfidence переводит avg_logprob в грубую оценку 0..1.
// exp(logprob) - средняя вероятность токена
func logProbToConfidence(logProb float64) float64 {
	c := math.Exp(logProb)
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

type fwSegment struct {
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Text             string  `json:"text"`
	AvgLogProb       float64 `json:"avg_logprob"`
	CompressionRatio float64 `json:"compression_ratio"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
}

type fwOutput struct {
	Segments []fwSegment `json:"segments"`
}

// runFasterWhisper пишет окно во временный WAV и гонит его через
// inline Python скрипт. JSON на stdout, диагностика на stderr.
func (e *WhisperEngine) runFasterWhisper(ctx context.Context, samples []float32, beamSize int, vadFilter bool) (*fwOutput, error) {
	tmpDir := os.TempDir()
	wavPath := filepath.Join(tmpDir, fmt.Sprintf("fw-%d.wav", time.Now().UnixNano()))
	if err := writeWav16k(wavPath, samples); err != nil {
		return nil, fmt.Errorf("failed to write WAV: %w", err)
	}
	defer os.Remove(wavPath)

	// Inline Python скрипт вместо файла - работает в любом окружении
	// без необходимости искать файл скрипта
	script := fmt.Sprintf(`
import json, sys
try:
    from faster_whisper import WhisperModel

    model = WhisperModel(
        %q,
        device="auto",
        compute_type="auto",
    )

    segments, _ = model.transcribe(
        %q,
        beam_size=%d,
        language=%s,
        task="transcribe",
        temperature=0.0,
        condition_on_previous_text=False,
        no_speech_threshold=0.5,
        vad_filter=%s,
    )

    out = []
    for seg in segments:
        out.append({
            "start": seg.start,
            "end": seg.end,
            "text": seg.text,
            "avg_logprob": seg.avg_logprob,
            "compression_ratio": seg.compression_ratio,
            "no_speech_prob": seg.no_speech_prob,
        })
    print(json.dumps({"segments": out}))
except Exception as e:
    print(f"ERROR: {e}", file=sys.stderr)
    sys.exit(1)
`, e.modelPath, wavPath, beamSize, pyLang(e.language), pyBool(vadFilter))

	cmd := exec.CommandContext(ctx, e.python, "-c", script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("faster-whisper failed: %v, stderr: %s", err, stderr.String())
	}

	var out fwOutput
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		return nil, fmt.Errorf("failed to parse faster-whisper output: %w", err)
	}
	return &out, nil
}

func pyLang(lang string) string {
	if lang == "auto" || lang == "" {
		return "None"
	}
	return fmt.Sprintf("%q", lang)
}

func pyBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

// hasSignificantAudio проверяет что аудио содержит значимый сигнал
func hasSignificantAudio(samples []float32) bool {
	if len(samples) < 1600 { // Меньше 0.1 секунды
		return false
	}

	// Вычисляем RMS
	var sum float64
	for _, s := range samples {
		sum += float64(s * s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	// Порог для определения наличия речи
	const minRMS = 0.005

	if rms < minRMS {
		log.Printf("Audio RMS %.4f below threshold %.4f", rms, minRMS)
		return false
	}

	// Проверяем что есть вариация (не просто DC offset или постоянный шум)
	var maxAbs float32
	for _, s := range samples {
		if s > maxAbs {
			maxAbs = s
		} else if -s > maxAbs {
			maxAbs = -s
		}
	}

	if maxAbs < 0.01 {
		log.Printf("Audio max amplitude %.4f too low", maxAbs)
		return false
	}

	return true
}

func normalize(in []float32) []float32 {
	const targetRMS = 0.03
	if len(in) == 0 {
		return in
	}
	var sum float64
	for _, s := range in {
		sum += float64(s * s)
	}
	rms := math.Sqrt(sum / float64(len(in)))
	scale := targetRMS / (rms + 1e-6)
	if scale > 5.0 {
		scale = 5.0
	}
	out := make([]float32, len(in))
	for i, v := range in {
		x := float64(v) * scale
		if x > 1 {
			x = 1
		} else if x < -1 {
			x = -1
		}
		out[i] = float32(x)
	}
	return out
}

// ensureFasterWhisperInstalled проверяет и автоматически устанавливает faster-whisper
func ensureFasterWhisperInstalled() (string, error) {
	// Находим Python
	pythonPaths := []string{
		// Dev: venv в проекте
		filepath.Join(".venv", "bin", "python3"),
		// Homebrew Python
		"/opt/homebrew/bin/python3",
		"/usr/local/bin/python3",
		// System Python
		"/usr/bin/python3",
		"python3",
	}

	var pythonWithFW string
	var pythonWithoutFW string

	for _, p := range pythonPaths {
		// Проверяем существование
		fullPath := p
		if _, err := os.Stat(p); err != nil {
			if path, err := exec.LookPath(p); err == nil {
				fullPath = path
			} else {
				continue
			}
		}

		// Проверяем что faster-whisper установлен
		cmd := exec.Command(fullPath, "-c", "import faster_whisper")
		if err := cmd.Run(); err == nil {
			pythonWithFW = fullPath
			break
		}

		// Запоминаем первый найденный Python без faster-whisper
		if pythonWithoutFW == "" {
			pythonWithoutFW = fullPath
		}
		log.Printf("Python %s found but faster-whisper not installed", fullPath)
	}

	// Если нашли Python с faster-whisper - используем его
	if pythonWithFW != "" {
		return pythonWithFW, nil
	}

	// Если нет Python вообще - ошибка
	if pythonWithoutFW == "" {
		return "", fmt.Errorf("python3 not found. Please install Python 3")
	}

	// Автоматически устанавливаем faster-whisper
	log.Printf("Installing faster-whisper automatically using %s...", pythonWithoutFW)
	notifyGlobalStatus("installing", "Устанавливаю faster-whisper... Это может занять несколько минут.")

	// Пробуем установить с --user --break-system-packages (для macOS с Homebrew Python)
	installCmd := exec.Command(pythonWithoutFW, "-m", "pip", "install",
		"--user", "--break-system-packages", "faster-whisper")
	installCmd.Env = append(os.Environ(), "PIP_DISABLE_PIP_VERSION_CHECK=1")

	output, err := installCmd.CombinedOutput()
	if err != nil {
		// Пробуем без --break-system-packages (для других систем)
		log.Printf("First install attempt failed, trying without --break-system-packages...")
		installCmd2 := exec.Command(pythonWithoutFW, "-m", "pip", "install", "--user", "faster-whisper")
		installCmd2.Env = append(os.Environ(), "PIP_DISABLE_PIP_VERSION_CHECK=1")
		output2, err2 := installCmd2.CombinedOutput()
		if err2 != nil {
			return "", fmt.Errorf("failed to install faster-whisper: %v\nOutput: %s\n%s", err2, string(output), string(output2))
		}
		output = output2
	}

	log.Printf("faster-whisper installation output: %s", string(output))

	// Проверяем что установка прошла успешно
	checkCmd := exec.Command(pythonWithoutFW, "-c", "import faster_whisper; print('OK')")
	if err := checkCmd.Run(); err != nil {
		return "", fmt.Errorf("faster-whisper installed but import failed: %v", err)
	}

	log.Printf("faster-whisper successfully installed!")
	notifyGlobalStatus("installed", "faster-whisper успешно установлен!")
	return pythonWithoutFW, nil
}

func writeWav16k(path string, samples []float32) error {
	const sampleRate = 16000
	buf := &bytes.Buffer{}

	// WAV header for PCM 16-bit mono
	writeString := func(s string) {
		buf.WriteString(s)
	}
	writeUint32 := func(v uint32) {
		_ = binary.Write(buf, binary.LittleEndian, v)
	}
	writeUint16 := func(v uint16) {
		_ = binary.Write(buf, binary.LittleEndian, v)
	}

	data := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int16(s * 32767)
	}
	dataBytes := new(bytes.Buffer)
	for _, v := range data {
		_ = binary.Write(dataBytes, binary.LittleEndian, v)
	}

	byteRate := sampleRate * 2
	blockAlign := uint16(2)
	subchunk2Size := uint32(len(data) * 2)

	writeString("RIFF")
	writeUint32(36 + subchunk2Size)
	writeString("WAVE")

	// fmt chunk
	writeString("fmt ")
	writeUint32(16) // PCM chunk size
	writeUint16(1)  // PCM
	writeUint16(1)  // mono
	writeUint32(sampleRate)
	writeUint32(uint32(byteRate))
	writeUint16(blockAlign)
	writeUint16(16) // bits per sample

	// data chunk
	writeString("data")
	writeUint32(subchunk2Size)
	buf.Write(dataBytes.Bytes())

	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func ensureFasterModelFiles(modelPath string) error {
	// Для HuggingFace ID - faster-whisper сам скачает модель
	if strings.Contains(modelPath, "/") && !strings.HasPrefix(modelPath, "/") {
		log.Printf("HuggingFace model ID detected: %s - faster-whisper will download automatically", modelPath)
		return nil
	}

	info, err := os.Stat(modelPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}
	modelBin := filepath.Join(modelPath, "model.bin")
	if binInfo, err := os.Stat(modelBin); err == nil && binInfo.Size() > 10*1024*1024 {
		return nil
	}

	python := filepath.Join(".venv", "bin", "python3")
	if _, err := os.Stat(python); err != nil {
		python = "python3"
	}

	repo := "Systran/faster-whisper-small"
	cmd := exec.Command(python, "-c", fmt.Sprintf(`from huggingface_hub import snapshot_download; snapshot_download(repo_id=%q, local_dir=%q, allow_patterns="*")`, repo, modelPath))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to fetch faster-whisper model via huggingface_hub: %v, output: %s", err, string(out))
	}
	return nil
}
