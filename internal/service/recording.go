package service

import (
	"context"
	"fmt"
	"log"
	"math"
	"path/filepath"
	"sync"
	"time"

	"whonext/ai"
	"whonext/audio"
	"whonext/internal/config"
	"whonext/session"
)

// State - состояние рекордера
type State string

const (
	StateIdle                 State = "idle"
	StateMonitoring           State = "monitoring"
	StateConversationDetected State = "conversation_detected"
	StateRecording            State = "recording"
	StateProcessing           State = "processing"
	StateError                State = "error"
)

const (
	// Столько аудио копим перед проверкой VAD
	vadProbeSeconds = 2.0
	// Предел очереди системного звука при сведении каналов
	mixQueueLimit = audio.PipelineSampleRate * 5
)

// recordingRun - рантайм одной активной записи. Живёт от StartRecording
// до конца обработки
type recordingRun struct {
	meeting  *session.Meeting
	writer   *session.AudioWriter
	ingest   *audio.IngestBuffer
	pipeline *WindowPipeline
	refiner  *RefinementQueue
	aligner  *ai.SegmentAligner

	// Хвост системного звука, ещё не сведённый с микрофоном
	sysQueue []float32

	startedAt    time.Time
	trigger      string
	watchdogStop chan struct{}
	watchdogDone chan struct{}
}

// Recorder - машина состояний записи встреч. Управляет захватом,
// мониторингом триггеров, активной записью и финальной обработкой.
// Ровно одна горутина (audioLoop) читает канал захвата; мониторинг
// и запись разделяют её, поэтому остановка мониторинга не трогает
// идущую запись
type Recorder struct {
	cfg      *config.Config
	capture  *audio.Capture
	engine   ai.TranscriptionEngine
	diarizer ai.DiarizationEngine
	vad      *ai.SileroVAD
	manager  *session.Manager
	triggers *TriggerEvaluator

	// Speakers распознаёт участников по базе голосовых отпечатков.
	// Опционален, выставляется до первого Start*
	Speakers *SpeakerIdentifier

	// Context отдаёт сигналы внешнего окружения (календарь, фокус окна)
	// для решений автозаписи. Опционален, выставляется до первого Start*
	Context ContextProvider

	// Колбэки для API слоя. Выставляются до первого Start*
	OnStateChange func(state State, message string)
	OnSegment     func(seg session.Segment)
	OnAudioLevel  func(mic, system float64)

	mu         sync.Mutex
	state      State
	errorMsg   string
	paused     bool
	monitoring bool
	rec        *recordingRun

	loopStop chan struct{}
	loopDone chan struct{}

	// Буферы мониторинга, доступ только из audioLoop
	vadMic []float32
	vadSys []float32

	levelMu  sync.Mutex
	micLevel float64
	sysLevel float64
}

func NewRecorder(
	cfg *config.Config,
	capture *audio.Capture,
	engine ai.TranscriptionEngine,
	diarizer ai.DiarizationEngine,
	vad *ai.SileroVAD,
	manager *session.Manager,
	triggers *TriggerEvaluator,
) *Recorder {
	return &Recorder{
		cfg:      cfg,
		capture:  capture,
		engine:   engine,
		diarizer: diarizer,
		vad:      vad,
		manager:  manager,
		triggers: triggers,
		state:    StateIdle,
	}
}

// State возвращает текущее состояние и сообщение об ошибке (для Error)
func (r *Recorder) State() (State, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.errorMsg
}

// IsPaused - запись на паузе
func (r *Recorder) IsPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// IsMonitoring - включён ли фоновый мониторинг
func (r *Recorder) IsMonitoring() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.monitoring
}

func (r *Recorder) setStateLocked(s State, msg string) {
	if r.state == s {
		return
	}
	log.Printf("Recorder: %s -> %s %s", r.state, s, msg)
	r.state = s
	if cb := r.OnStateChange; cb != nil {
		// Колбэк зовём без мьютекса чтобы API слой мог читать состояние
		go cb(s, msg)
	}
}

// StartMonitoring включает фоновый мониторинг триггеров разговора.
// Допустимо только из Idle
func (r *Recorder) StartMonitoring() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.monitoring {
		return nil
	}
	if r.state != StateIdle {
		return fmt.Errorf("cannot start monitoring in state %s", r.state)
	}

	if err := r.ensureLoopLocked(); err != nil {
		return err
	}
	r.monitoring = true
	r.setStateLocked(StateMonitoring, "")
	return nil
}

// StopMonitoring выключает мониторинг. Идущая запись не прерывается
func (r *Recorder) StopMonitoring() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.monitoring {
		return
	}
	r.monitoring = false
	if r.state == StateMonitoring || r.state == StateConversationDetected {
		r.setStateLocked(StateIdle, "")
	}
	r.releaseLoopLocked()
}

// StartRecording начинает запись вручную. Работает из Idle, Monitoring
// и ConversationDetected - ручной старт не требует триггеров
func (r *Recorder) StartRecording(title string) error {
	return r.startRecording(title, "manual")
}

func (r *Recorder) startRecording(title, trigger string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateIdle, StateMonitoring, StateConversationDetected:
	default:
		return fmt.Errorf("cannot start recording in state %s", r.state)
	}

	meeting, err := r.manager.CreateMeeting(session.MeetingConfig{
		Title:         title,
		Language:      r.cfg.Language,
		MicDevice:     r.cfg.MicDevice,
		SystemDevice:  r.cfg.SystemDevice,
		CaptureSystem: r.cfg.CaptureSystem,
	})
	if err != nil {
		return fmt.Errorf("failed to create meeting: %w", err)
	}

	cleanupOnError := func() {
		r.manager.FailMeeting("startup failed")
	}

	writer, err := session.NewAudioWriter(
		filepath.Join(meeting.Meta.DataDir, meeting.Meta.AudioFile),
		audio.PipelineSampleRate,
	)
	if err != nil {
		cleanupOnError()
		return fmt.Errorf("failed to create audio writer: %w", err)
	}

	if err := r.ensureLoopLocked(); err != nil {
		writer.Close()
		cleanupOnError()
		return err
	}

	aligner := ai.NewSegmentAligner(ai.NewSpeakerStabilizer())
	filter := ai.NewHallucinationFilter(ai.DefaultFilterConfig())
	refiner := NewRefinementQueue(RefinementConfig{
		MaxLag:              r.cfg.RefinementMaxLag,
		FinalizationTimeout: r.cfg.FinalizationTimeout,
	}, r.engine, filter, meeting)

	gate := audio.NewSilenceGate(audio.SilenceGateConfig{RMSThreshold: r.cfg.SilenceThreshold})
	pipeline := NewWindowPipeline(DefaultPipelineConfig(), r.engine, filter, gate, aligner, meeting, refiner)
	pipeline.OnSegment = func(seg session.Segment) {
		if cb := r.OnSegment; cb != nil {
			cb(seg)
		}
	}
	pipeline.OnFatal = func(err error) {
		go r.fail(err)
	}

	ingestCfg := audio.DefaultIngestConfig()
	if r.cfg.WindowSeconds > 0 {
		ingestCfg.WindowSeconds = r.cfg.WindowSeconds
	}

	run := &recordingRun{
		meeting:      meeting,
		writer:       writer,
		ingest:       audio.NewIngestBuffer(ingestCfg),
		pipeline:     pipeline,
		refiner:      refiner,
		aligner:      aligner,
		startedAt:    time.Now(),
		trigger:      trigger,
		watchdogStop: make(chan struct{}),
		watchdogDone: make(chan struct{}),
	}
	r.rec = run
	r.paused = false
	r.capture.ClearBuffers()
	r.setStateLocked(StateRecording, trigger)

	go r.watchdog(run)
	return nil
}

// StopRecording останавливает запись и выполняет финальную обработку:
// дожидается конвейера, закрывает mp3, прогоняет диаризацию, сохраняет
// или отбрасывает встречу. Блокируется до конца обработки.
// Возвращает (nil, nil) если встреча отброшена как слишком короткая
func (r *Recorder) StopRecording() (*session.Meeting, error) {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return nil, fmt.Errorf("not recording (state %s)", r.state)
	}
	run := r.rec
	r.rec = nil
	r.paused = false
	r.setStateLocked(StateProcessing, "")
	r.mu.Unlock()

	close(run.watchdogStop)
	<-run.watchdogDone

	meeting, kept := r.finishRun(run)

	r.mu.Lock()
	if r.monitoring {
		r.setStateLocked(StateMonitoring, "")
	} else {
		r.setStateLocked(StateIdle, "")
	}
	r.releaseLoopLocked()
	r.mu.Unlock()

	if !kept {
		return nil, nil
	}
	return meeting, nil
}

// finishRun - финальная обработка завершённой записи
func (r *Recorder) finishRun(run *recordingRun) (*session.Meeting, bool) {
	// Хвост короче окна тоже транскрибируем
	if tail := run.ingest.Flush(); tail != nil {
		run.pipeline.Submit(tail)
	}
	run.pipeline.Drain()

	if dropped := run.refiner.Stop(); dropped > 0 {
		log.Printf("Meeting %s: %d refinement jobs left provisional", run.meeting.Meta.ID, dropped)
	}

	if err := run.writer.Close(); err != nil {
		log.Printf("Failed to close audio file: %v", err)
	}
	run.meeting.SetDuration(float64(run.writer.SamplesWritten()) / float64(audio.PipelineSampleRate))

	r.finalDiarization(run)

	finalized := run.meeting.FinalizeAllProvisional()
	if finalized > 0 {
		log.Printf("Meeting %s: %d segments finalized with provisional text", run.meeting.Meta.ID, finalized)
	}

	meeting, kept, err := r.manager.FinishMeeting()
	if err != nil {
		log.Printf("Failed to finish meeting: %v", err)
		return nil, false
	}
	if !kept {
		log.Printf("Meeting discarded: shorter than %v", r.cfg.MinMeetingDuration)
		return nil, false
	}
	log.Printf("Meeting %s saved: %.0fs, %d segments", meeting.Meta.ID, meeting.Duration(), meeting.SegmentCount())
	return meeting, true
}

// finalDiarization прогоняет диаризацию по полному mp3 и назначает
// спикеров сегментам, оставшимся без них
func (r *Recorder) finalDiarization(run *recordingRun) {
	if r.diarizer == nil || run.writer.SamplesWritten() == 0 {
		return
	}

	result, err := r.diarizer.ProcessAudioFile(context.Background(), run.writer.FilePath())
	if err != nil {
		log.Printf("Final diarization failed: %v", err)
		return
	}
	run.aligner.UpdateSegments(result.Segments)
	run.meeting.Meta.NumSpeakers = result.NumSpeakers

	// Имена из базы голосовых отпечатков, если identifier настроен
	var known map[string]string
	if r.Speakers != nil {
		known = r.Speakers.Identify(run.writer.FilePath(), result.Segments)
	}

	speakerName := func(speakerID string) string {
		if name, ok := known[speakerID]; ok {
			return name
		}
		return run.aligner.DisplayLabel(speakerID)
	}

	for _, seg := range run.meeting.Transcript() {
		if seg.SpeakerID != "" {
			// Спикер назначен вживую; обновляем только имя, если голос узнан
			if name, ok := known[seg.SpeakerID]; ok {
				run.meeting.SetSegmentSpeaker(seg.ID, seg.SpeakerID, name)
				run.meeting.UpdateParticipant(seg.SpeakerID, name, false, 0, 0)
			}
			continue
		}
		if speakerID, ok := run.aligner.DominantSpeaker(seg.Timestamp, seg.Duration); ok {
			name := speakerName(speakerID)
			run.meeting.SetSegmentSpeaker(seg.ID, speakerID, name)
			run.meeting.UpdateParticipant(speakerID, name, false, seg.Duration, seg.Confidence)
		}
	}
}

// Pause приостанавливает запись: аудио не пишется и не обрабатывается,
// встреча остаётся активной
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return fmt.Errorf("not recording (state %s)", r.state)
	}
	r.paused = true
	log.Printf("Recording paused")
	return nil
}

// Resume снимает запись с паузы
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return fmt.Errorf("not recording (state %s)", r.state)
	}
	if !r.paused {
		return nil
	}
	r.paused = false
	r.capture.ClearBuffers()
	log.Printf("Recording resumed")
	return nil
}

// AcknowledgeError сбрасывает состояние Error в Idle
func (r *Recorder) AcknowledgeError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateError {
		return
	}
	r.errorMsg = ""
	r.setStateLocked(StateIdle, "")
	r.releaseLoopLocked()
}

// fail переводит рекордер в Error, обрывая запись. Встреча
// сохраняется как failed если успела набрать минимальную длительность
func (r *Recorder) fail(cause error) {
	r.mu.Lock()
	if r.state == StateError {
		r.mu.Unlock()
		return
	}
	run := r.rec
	r.rec = nil
	r.paused = false
	r.monitoring = false
	r.errorMsg = cause.Error()
	r.setStateLocked(StateError, cause.Error())
	r.mu.Unlock()

	log.Printf("Recorder error: %v", cause)

	if run != nil {
		close(run.watchdogStop)
		<-run.watchdogDone
		run.pipeline.Abort()
		run.refiner.Stop()
		run.writer.Close()
		run.meeting.SetDuration(float64(run.writer.SamplesWritten()) / float64(audio.PipelineSampleRate))
		r.manager.FailMeeting(cause.Error())
	}

	r.mu.Lock()
	r.releaseLoopLocked()
	r.mu.Unlock()
}

// watchdog следит за активной записью: автостоп по долгой тишине и
// периодическое обновление диаризации по уже записанному аудио
func (r *Recorder) watchdog(run *recordingRun) {
	defer close(run.watchdogDone)

	silenceTicker := time.NewTicker(time.Second)
	defer silenceTicker.Stop()
	diarTicker := time.NewTicker(30 * time.Second)
	defer diarTicker.Stop()

	for {
		select {
		case <-run.watchdogStop:
			return

		case <-silenceTicker.C:
			if r.cfg.MaxSilence <= 0 || r.IsPaused() {
				continue
			}
			if time.Since(run.pipeline.LastSpeechAt()) > r.cfg.MaxSilence {
				log.Printf("Auto-stop: no speech for %v", r.cfg.MaxSilence)
				go r.StopRecording()
				return
			}

		case <-diarTicker.C:
			r.refreshDiarization(run)
		}
	}
}

// refreshDiarization обновляет снимок спикеров по частично записанному
// файлу. Ошибки не фатальны - следующий тик попробует снова
func (r *Recorder) refreshDiarization(run *recordingRun) {
	if r.diarizer == nil {
		return
	}
	result, err := r.diarizer.ProcessAudioFile(context.Background(), run.writer.FilePath())
	if err != nil {
		log.Printf("Diarization refresh failed: %v", err)
		return
	}
	run.aligner.UpdateSegments(result.Segments)
}

// ensureLoopLocked запускает захват и цикл чтения аудио, если ещё
// не запущены. Вызывается под мьютексом
func (r *Recorder) ensureLoopLocked() error {
	if r.loopStop != nil {
		return nil
	}
	if err := r.capture.Start(); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}
	r.loopStop = make(chan struct{})
	r.loopDone = make(chan struct{})
	go r.audioLoop(r.loopStop, r.loopDone)
	return nil
}

// releaseLoopLocked останавливает захват, когда ни мониторинг, ни
// запись его больше не держат
func (r *Recorder) releaseLoopLocked() {
	if r.loopStop == nil || r.monitoring || r.rec != nil {
		return
	}
	close(r.loopStop)
	stopDone := r.loopDone
	r.loopStop = nil
	r.loopDone = nil
	go func() {
		<-stopDone
		if err := r.capture.Stop(); err != nil {
			log.Printf("Failed to stop capture: %v", err)
		}
	}()
}

// audioLoop - единственный потребитель канала захвата. Раздаёт аудио
// активной записи и буферам мониторинга, раз в 100мс шлёт уровни
func (r *Recorder) audioLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	levelTicker := time.NewTicker(100 * time.Millisecond)
	defer levelTicker.Stop()

	for {
		select {
		case <-stop:
			return

		case <-levelTicker.C:
			if cb := r.OnAudioLevel; cb != nil {
				r.levelMu.Lock()
				mic, sys := r.micLevel, r.sysLevel
				r.levelMu.Unlock()
				cb(mic, sys)
			}

		case data, ok := <-r.capture.Data():
			if !ok {
				return
			}
			r.handleAudio(data)
		}
	}
}

func (r *Recorder) handleAudio(data audio.ChannelData) {
	level := audio.CalculateRMS(data.Samples)
	r.levelMu.Lock()
	if data.Channel == audio.ChannelMicrophone {
		r.micLevel = level
	} else {
		r.sysLevel = level
	}
	r.levelMu.Unlock()

	r.mu.Lock()
	run := r.rec
	paused := r.paused
	monitoring := r.monitoring && run == nil
	r.mu.Unlock()

	if run != nil && !paused {
		r.feedRecording(run, data)
		return
	}
	if monitoring {
		r.feedMonitoring(data)
	}
}

// feedRecording сводит каналы в моно и гонит через нарезку окон.
// Микрофон задаёт часы записи; системный звук подмешивается к
// микрофонным семплам по мере поступления
func (r *Recorder) feedRecording(run *recordingRun, data audio.ChannelData) {
	var mixed []float32
	switch data.Channel {
	case audio.ChannelSystem:
		run.sysQueue = append(run.sysQueue, data.Samples...)
		if len(run.sysQueue) > mixQueueLimit {
			run.sysQueue = run.sysQueue[len(run.sysQueue)-mixQueueLimit:]
		}
		return
	case audio.ChannelMicrophone:
		mixed = make([]float32, len(data.Samples))
		copy(mixed, data.Samples)
		n := len(mixed)
		if len(run.sysQueue) < n {
			n = len(run.sysQueue)
		}
		for i := 0; i < n; i++ {
			v := mixed[i] + run.sysQueue[i]
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			mixed[i] = v
		}
		run.sysQueue = run.sysQueue[n:]
	}

	if err := run.writer.Write(mixed); err != nil {
		go r.fail(fmt.Errorf("audio write failed: %w", err))
		return
	}

	windows, err := run.ingest.Push(mixed, audio.PipelineSampleRate, 1)
	if err != nil {
		go r.fail(fmt.Errorf("audio ingest failed: %w", err))
		return
	}
	for _, w := range windows {
		run.pipeline.Submit(w)
	}
}

// feedMonitoring копит пробы каналов и проверяет триггеры, когда
// набралось достаточно аудио
func (r *Recorder) feedMonitoring(data audio.ChannelData) {
	if data.Channel == audio.ChannelMicrophone {
		r.vadMic = append(r.vadMic, data.Samples...)
	} else {
		r.vadSys = append(r.vadSys, data.Samples...)
	}

	probeLen := int(vadProbeSeconds * audio.PipelineSampleRate)
	if len(r.vadMic) < probeLen {
		return
	}

	micSpeech, micProb := r.probeSpeech(r.vadMic[:probeLen])
	sysSpeech, sysProb := false, float32(0)
	if len(r.vadSys) >= probeLen {
		sysSpeech, sysProb = r.probeSpeech(r.vadSys[:probeLen])
	}
	r.vadMic = r.vadMic[:0]
	r.vadSys = r.vadSys[:0]

	confidence := float64(micProb)
	twoWay := micSpeech && sysSpeech
	if twoWay && float64(sysProb) > confidence {
		confidence = float64(sysProb)
	}

	if !r.cfg.AutoRecord {
		return
	}

	decision := r.triggers.EvaluateWithProvider(confidence, twoWay, r.Context)
	if !decision.Fire {
		return
	}

	r.mu.Lock()
	if r.state == StateMonitoring {
		r.setStateLocked(StateConversationDetected, decision.Reason)
	}
	r.mu.Unlock()

	if err := r.startRecording("", decision.Reason); err != nil {
		log.Printf("Auto-start failed: %v", err)
		r.mu.Lock()
		if r.state == StateConversationDetected {
			r.setStateLocked(StateMonitoring, "")
		}
		r.mu.Unlock()
	}
}

func (r *Recorder) probeSpeech(samples []float32) (bool, float32) {
	if r.vad == nil {
		// Без VAD модели грубая оценка по RMS
		rms := audio.CalculateRMS(samples)
		return rms > r.cfg.SilenceThreshold, float32(math.Min(rms*20, 1))
	}
	speech, prob, err := r.vad.HasSpeech(samples)
	if err != nil {
		log.Printf("VAD probe failed: %v", err)
		return false, 0
	}
	return speech, prob
}
