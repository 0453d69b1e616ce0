package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"whonext/ai"
	"whonext/audio"
	"whonext/session"
)

// fakeEngine - управляемый движок транскрипции для тестов. Результат
// и задержка выбираются по длине окна, что позволяет различать окна
type fakeEngine struct {
	mu        sync.Mutex
	calls     int
	transcribe func(samples []float32) (*ai.DecodeResult, error)
	highQuality func(samples []float32) ([]ai.TranscriptSegment, error)
}

func (f *fakeEngine) Initialize() error { return nil }

func (f *fakeEngine) Transcribe(ctx context.Context, samples []float32) (*ai.DecodeResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.transcribe == nil {
		return &ai.DecodeResult{Text: "ok", Confidence: 0.9, AvgLogProb: -0.3, CompressionRatio: 1.2}, nil
	}
	return f.transcribe(samples)
}

func (f *fakeEngine) TranscribeHighQuality(ctx context.Context, samples []float32) ([]ai.TranscriptSegment, error) {
	if f.highQuality == nil {
		return nil, fmt.Errorf("not implemented")
	}
	return f.highQuality(samples)
}

func (f *fakeEngine) SetLanguage(lang string) {}
func (f *fakeEngine) Close()                  {}
func (f *fakeEngine) Name() string            { return "fake" }

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testMeeting() *session.Meeting {
	return session.NewMeeting(session.MeetingConfig{Language: "ru"}, "")
}

// speechWindow - окно с заведомо не-тихим сигналом. Длина кодирует
// идентичность окна для fakeEngine
func speechWindow(index int, extraSamples int) *audio.Window {
	n := audio.PipelineSampleRate*5 + extraSamples
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.1
	}
	return &audio.Window{
		Index:     index,
		Samples:   samples,
		StartTime: float64(index) * 5,
		Duration:  5,
	}
}

func silentWindow(index int) *audio.Window {
	return &audio.Window{
		Index:     index,
		Samples:   make([]float32, audio.PipelineSampleRate*5),
		StartTime: float64(index) * 5,
		Duration:  5,
	}
}

func newTestPipeline(engine *fakeEngine, meeting *session.Meeting, cfg PipelineConfig) *WindowPipeline {
	return NewWindowPipeline(
		cfg,
		engine,
		ai.NewHallucinationFilter(ai.DefaultFilterConfig()),
		audio.NewSilenceGate(audio.DefaultSilenceGateConfig()),
		ai.NewSegmentAligner(ai.NewSpeakerStabilizer()),
		meeting,
		nil,
	)
}

func TestPipelineCommitsInWindowOrder(t *testing.T) {
	// Первое окно транскрибируется медленно, второе быстро: воркеры
	// завершат их не по порядку, но во встречу они должны попасть
	// в порядке окон
	engine := &fakeEngine{
		transcribe: func(samples []float32) (*ai.DecodeResult, error) {
			idx := len(samples) - audio.PipelineSampleRate*5
			if idx == 0 {
				time.Sleep(150 * time.Millisecond)
			}
			return &ai.DecodeResult{
				Text:             fmt.Sprintf("window %d", idx),
				Confidence:       0.9,
				AvgLogProb:       -0.3,
				CompressionRatio: 1.2,
			}, nil
		},
	}
	meeting := testMeeting()
	p := newTestPipeline(engine, meeting, PipelineConfig{Workers: 2})

	for i := 0; i < 4; i++ {
		p.Submit(speechWindow(i, i))
	}
	p.Drain()

	transcript := meeting.Transcript()
	if len(transcript) != 4 {
		t.Fatalf("got %d segments, want 4", len(transcript))
	}
	for i, seg := range transcript {
		want := fmt.Sprintf("window %d", i)
		if seg.Text != want {
			t.Errorf("segment %d: text = %q, want %q", i, seg.Text, want)
		}
		if i > 0 && seg.Timestamp < transcript[i-1].Timestamp {
			t.Errorf("segment %d: timestamp %.1f before previous %.1f", i, seg.Timestamp, transcript[i-1].Timestamp)
		}
	}
}

func TestPipelineSilentWindowSkipsEngine(t *testing.T) {
	engine := &fakeEngine{}
	meeting := testMeeting()
	p := newTestPipeline(engine, meeting, PipelineConfig{Workers: 1})

	p.Submit(silentWindow(0))
	p.Submit(speechWindow(1, 0))
	p.Drain()

	if engine.callCount() != 1 {
		t.Errorf("engine called %d times, want 1 (silent window must not reach it)", engine.callCount())
	}
	m := meeting.Metrics()
	if m.WindowsSilent != 1 {
		t.Errorf("WindowsSilent = %d, want 1", m.WindowsSilent)
	}
	if m.WindowsTranscribed != 1 {
		t.Errorf("WindowsTranscribed = %d, want 1", m.WindowsTranscribed)
	}
}

func TestPipelineFiltersHallucinations(t *testing.T) {
	engine := &fakeEngine{
		transcribe: func(samples []float32) (*ai.DecodeResult, error) {
			return &ai.DecodeResult{Text: "Thanks for watching!", Confidence: 0.9, AvgLogProb: -0.3, CompressionRatio: 1.2}, nil
		},
	}
	meeting := testMeeting()
	p := newTestPipeline(engine, meeting, PipelineConfig{Workers: 1})

	p.Submit(speechWindow(0, 0))
	p.Drain()

	if n := meeting.SegmentCount(); n != 0 {
		t.Errorf("got %d segments, want 0", n)
	}
	if m := meeting.Metrics(); m.WindowsFiltered != 1 {
		t.Errorf("WindowsFiltered = %d, want 1", m.WindowsFiltered)
	}
}

func TestPipelineRejectsBadMetrics(t *testing.T) {
	engine := &fakeEngine{
		transcribe: func(samples []float32) (*ai.DecodeResult, error) {
			// Высокий compression_ratio - признак зацикленного декодера
			return &ai.DecodeResult{Text: "looks plausible", Confidence: 0.5, AvgLogProb: -0.5, CompressionRatio: 3.1}, nil
		},
	}
	meeting := testMeeting()
	p := newTestPipeline(engine, meeting, PipelineConfig{Workers: 1})

	p.Submit(speechWindow(0, 0))
	p.Drain()

	if n := meeting.SegmentCount(); n != 0 {
		t.Errorf("got %d segments, want 0", n)
	}
}

func TestPipelineEmptyDecodeResult(t *testing.T) {
	// Движок честно возвращает (nil, nil), когда не нашёл речи в окне.
	// Такое окно считается обработанным пустым, а не ошибкой, и не
	// должно останавливать конвейер коммита
	engine := &fakeEngine{
		transcribe: func(samples []float32) (*ai.DecodeResult, error) {
			idx := len(samples) - audio.PipelineSampleRate*5
			if idx == 0 {
				return nil, nil
			}
			return &ai.DecodeResult{Text: fmt.Sprintf("window %d", idx), Confidence: 0.9, AvgLogProb: -0.3, CompressionRatio: 1.2}, nil
		},
	}
	meeting := testMeeting()
	p := newTestPipeline(engine, meeting, PipelineConfig{Workers: 1})

	fired := make(chan struct{}, 1)
	p.OnFatal = func(err error) { fired <- struct{}{} }

	p.Submit(speechWindow(0, 0))
	p.Submit(speechWindow(1, 1))
	p.Drain()

	transcript := meeting.Transcript()
	if len(transcript) != 1 || transcript[0].Text != "window 1" {
		t.Fatalf("transcript = %+v, want single segment for window 1", transcript)
	}
	m := meeting.Metrics()
	if m.WindowsFiltered != 1 {
		t.Errorf("WindowsFiltered = %d, want 1", m.WindowsFiltered)
	}
	if m.WindowsFailed != 0 {
		t.Errorf("WindowsFailed = %d, want 0", m.WindowsFailed)
	}
	select {
	case <-fired:
		t.Error("OnFatal fired for an empty decode result")
	default:
	}
}

func TestPipelineAbortDuringSubmit(t *testing.T) {
	// Abort конкурентно с активными Submit: отправители не должны
	// писать в уже закрытый канал
	engine := &fakeEngine{
		transcribe: func(samples []float32) (*ai.DecodeResult, error) {
			time.Sleep(5 * time.Millisecond)
			return &ai.DecodeResult{Text: "ok", Confidence: 0.9, AvgLogProb: -0.3, CompressionRatio: 1.2}, nil
		},
	}
	p := newTestPipeline(engine, testMeeting(), PipelineConfig{Workers: 1})

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 32; i++ {
				p.Submit(speechWindow(base+i, 0))
			}
		}(g * 32)
	}

	time.Sleep(10 * time.Millisecond)
	p.Abort()
	wg.Wait()

	// Окна после останова молча отбрасываются
	p.Submit(speechWindow(999, 0))
}

func TestPipelineSegmentEventsInOrder(t *testing.T) {
	// Воркеры завершают окна вразнобой, и батчи готовых окон разных
	// воркеров не должны перемежаться: OnSegment видит сегменты строго
	// по порядку окон
	engine := &fakeEngine{
		transcribe: func(samples []float32) (*ai.DecodeResult, error) {
			idx := len(samples) - audio.PipelineSampleRate*5
			time.Sleep(time.Duration(idx%3) * 10 * time.Millisecond)
			return &ai.DecodeResult{
				Text:             fmt.Sprintf("window %d", idx),
				Confidence:       0.9,
				AvgLogProb:       -0.3,
				CompressionRatio: 1.2,
			}, nil
		},
	}
	meeting := testMeeting()
	p := newTestPipeline(engine, meeting, PipelineConfig{Workers: 2})

	var mu sync.Mutex
	var order []float64
	p.OnSegment = func(seg session.Segment) {
		mu.Lock()
		order = append(order, seg.Timestamp)
		mu.Unlock()
	}

	const total = 20
	for i := 0; i < total; i++ {
		p.Submit(speechWindow(i, i))
	}
	p.Drain()

	if len(order) != total {
		t.Fatalf("got %d segment events, want %d", len(order), total)
	}
	for i := 1; i < len(order); i++ {
		if order[i] <= order[i-1] {
			t.Errorf("segment event %d out of order: %.1f after %.1f", i, order[i], order[i-1])
		}
	}
}

func TestPipelineFailureStreakEscalates(t *testing.T) {
	engine := &fakeEngine{
		transcribe: func(samples []float32) (*ai.DecodeResult, error) {
			return nil, fmt.Errorf("engine crashed")
		},
	}
	meeting := testMeeting()
	p := newTestPipeline(engine, meeting, PipelineConfig{Workers: 1, FailureThreshold: 3})

	fatal := make(chan error, 1)
	p.OnFatal = func(err error) {
		select {
		case fatal <- err:
		default:
		}
	}

	for i := 0; i < 3; i++ {
		p.Submit(speechWindow(i, 0))
	}
	p.Drain()

	select {
	case <-fatal:
	default:
		t.Error("OnFatal not called after failure streak")
	}
	if m := meeting.Metrics(); m.WindowsFailed != 3 {
		t.Errorf("WindowsFailed = %d, want 3", m.WindowsFailed)
	}
}

func TestPipelineFailureStreakResetsOnSuccess(t *testing.T) {
	var n int
	var mu sync.Mutex
	engine := &fakeEngine{
		transcribe: func(samples []float32) (*ai.DecodeResult, error) {
			mu.Lock()
			n++
			i := n
			mu.Unlock()
			if i == 2 {
				return &ai.DecodeResult{Text: "recovered", Confidence: 0.9, AvgLogProb: -0.3, CompressionRatio: 1.2}, nil
			}
			return nil, fmt.Errorf("transient")
		},
	}
	meeting := testMeeting()
	p := newTestPipeline(engine, meeting, PipelineConfig{Workers: 1, FailureThreshold: 2})

	fired := make(chan struct{}, 1)
	p.OnFatal = func(err error) { fired <- struct{}{} }

	// Неудача, успех, неудача: серия не должна дорасти до двух
	for i := 0; i < 3; i++ {
		p.Submit(speechWindow(i, i))
	}
	p.Drain()

	select {
	case <-fired:
		t.Error("OnFatal fired despite streak reset")
	default:
	}
}
