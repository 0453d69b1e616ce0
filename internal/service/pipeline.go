package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"whonext/ai"
	"whonext/audio"
	"whonext/session"
)

// PipelineConfig параметры обработки окон
type PipelineConfig struct {
	// Workers - число параллельных воркеров транскрипции
	Workers int
	// FailureThreshold - столько подряд неудачных окон считаем
	// фатальной деградацией движка
	FailureThreshold int
	// Filters - предобработка окна перед транскрипцией. Запись в файл
	// идёт без фильтров
	Filters audio.FilterConfig
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Workers:          2,
		FailureThreshold: 5,
		Filters:          audio.DefaultFilterConfig(),
	}
}

// windowResult - итог обработки одного окна. Окна обрабатываются
// параллельно и завершаются не по порядку, поэтому каждое окно
// обязано дать результат (пусть и пустой), иначе конвейер коммита
// застрянет на его индексе
type windowResult struct {
	window  *audio.Window
	segment *session.Segment
	silent  bool
	failed  bool
}

// WindowPipeline прогоняет 5-секундные окна через гейт тишины,
// транскрипцию и фильтр галлюцинаций, и добавляет сегменты во встречу
// строго в порядке окон независимо от порядка завершения воркеров
type WindowPipeline struct {
	config  PipelineConfig
	engine  ai.TranscriptionEngine
	filter  *ai.HallucinationFilter
	gate    *audio.SilenceGate
	aligner *ai.SegmentAligner
	meeting *session.Meeting
	refiner *RefinementQueue

	// OnSegment вызывается после добавления сегмента во встречу
	OnSegment func(seg session.Segment)
	// OnFatal вызывается при серии неудач подряд. Конвейер при этом
	// не останавливает себя сам - решает владелец
	OnFatal func(err error)

	mu           sync.Mutex
	nextCommit   int
	pending      map[int]*windowResult
	failStreak   int
	lastSpeechAt time.Time

	// closed запрещает новые Submit, inflight считает отправки,
	// начатые до установки closed. Канал закрывается только когда
	// inflight обнулился - иначе Submit мог бы писать в закрытый канал
	closed   bool
	inflight int
	sendIdle *sync.Cond

	// commitMu сериализует коммиты: батч готовых окон воркера A
	// не должен перемежаться с батчем воркера B, иначе события
	// и очередь уточнения увидят окна не по порядку
	commitMu sync.Mutex

	windows chan *audio.Window
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewWindowPipeline(
	config PipelineConfig,
	engine ai.TranscriptionEngine,
	filter *ai.HallucinationFilter,
	gate *audio.SilenceGate,
	aligner *ai.SegmentAligner,
	meeting *session.Meeting,
	refiner *RefinementQueue,
) *WindowPipeline {
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &WindowPipeline{
		config:       config,
		engine:       engine,
		filter:       filter,
		gate:         gate,
		aligner:      aligner,
		meeting:      meeting,
		refiner:      refiner,
		pending:      make(map[int]*windowResult),
		lastSpeechAt: time.Now(),
		windows:      make(chan *audio.Window, 16),
		ctx:          ctx,
		cancel:       cancel,
	}
	p.sendIdle = sync.NewCond(&p.mu)

	for i := 0; i < config.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit принимает готовое окно. Тихие окна разрешаются сразу же,
// остальные уходят воркерам. Окна, пришедшие после Drain/Abort,
// молча отбрасываются
func (p *WindowPipeline) Submit(w *audio.Window) {
	if w == nil || len(w.Samples) == 0 {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	if p.gate.IsSilent(w.Samples) {
		p.mu.Unlock()
		p.complete(&windowResult{window: w, silent: true})
		return
	}

	p.lastSpeechAt = time.Now()
	p.inflight++
	p.mu.Unlock()

	select {
	case p.windows <- w:
	case <-p.ctx.Done():
	}

	p.mu.Lock()
	p.inflight--
	if p.inflight == 0 {
		p.sendIdle.Broadcast()
	}
	p.mu.Unlock()
}

// LastSpeechAt - момент последнего окна с речью (для автостопа по тишине)
func (p *WindowPipeline) LastSpeechAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSpeechAt
}

// FailStreak - текущая серия неудачных транскрипций подряд
func (p *WindowPipeline) FailStreak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failStreak
}

// Drain дожидается обработки всех принятых окон и останавливает
// воркеров. После Drain конвейер использовать нельзя
func (p *WindowPipeline) Drain() {
	p.closeWindows()
	p.wg.Wait()
	p.cancel()
}

// Abort бросает необработанные окна и останавливает воркеров
func (p *WindowPipeline) Abort() {
	p.cancel()
	p.closeWindows()
	p.wg.Wait()
}

// closeWindows закрывает канал окон, дождавшись завершения уже
// начатых Submit. Повторный вызов безопасен
func (p *WindowPipeline) closeWindows() {
	p.mu.Lock()
	already := p.closed
	p.closed = true
	for p.inflight > 0 {
		p.sendIdle.Wait()
	}
	p.mu.Unlock()

	if !already {
		close(p.windows)
	}
}

func (p *WindowPipeline) worker() {
	defer p.wg.Done()
	for w := range p.windows {
		if p.ctx.Err() != nil {
			p.complete(&windowResult{window: w, failed: true})
			continue
		}
		p.complete(p.processWindow(w))
	}
}

func (p *WindowPipeline) processWindow(w *audio.Window) *windowResult {
	ctx, cancel := context.WithTimeout(p.ctx, 30*time.Second)
	defer cancel()

	samples := audio.ApplyFilters(w.Samples, audio.PipelineSampleRate, p.config.Filters)
	result, err := p.engine.Transcribe(ctx, samples)
	if err != nil {
		log.Printf("Window %d transcription failed: %v", w.Index, err)
		return &windowResult{window: w, failed: true}
	}
	if result == nil {
		// Декодер не нашёл речи в окне: обработано, сегмента нет
		return &windowResult{window: w}
	}

	text := result.Text
	if !p.filter.AcceptMetrics(result.AvgLogProb, result.CompressionRatio) {
		text = ""
	} else {
		text = p.filter.Filter(text)
	}
	if text == "" {
		// Отфильтровано, но окно обработано успешно
		return &windowResult{window: w}
	}

	seg := &session.Segment{
		Text:       text,
		Timestamp:  w.StartTime,
		Duration:   w.Duration,
		Confidence: result.Confidence,
	}
	return &windowResult{window: w, segment: seg}
}

// complete регистрирует результат окна и коммитит всё что стало
// готово по порядку. Буфер переупорядочивания: сегмент окна N не
// попадёт во встречу раньше сегмента окна N-1
func (p *WindowPipeline) complete(res *windowResult) {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	p.mu.Lock()

	if res.failed {
		p.failStreak++
		if p.failStreak == p.config.FailureThreshold && p.OnFatal != nil {
			streak := p.failStreak
			p.mu.Unlock()
			p.OnFatal(fmt.Errorf("transcription failed %d windows in a row", streak))
			p.mu.Lock()
		}
	} else if !res.silent {
		p.failStreak = 0
	}

	p.pending[res.window.Index] = res

	var ready []*windowResult
	for {
		r, ok := p.pending[p.nextCommit]
		if !ok {
			break
		}
		delete(p.pending, p.nextCommit)
		p.nextCommit++
		ready = append(ready, r)
	}
	p.mu.Unlock()

	for _, r := range ready {
		p.commit(r)
	}
}

func (p *WindowPipeline) commit(res *windowResult) {
	w := res.window
	p.meeting.RecordWindow(res.silent, res.segment != nil, !res.silent && !res.failed && res.segment == nil, res.failed)
	if res.segment == nil {
		return
	}

	seg := res.segment
	if speakerID, ok := p.aligner.DominantSpeaker(w.StartTime, w.Duration); ok {
		seg.SpeakerID = speakerID
		seg.SpeakerName = p.aligner.DisplayLabel(speakerID)
	}

	p.meeting.AppendSegment(seg)
	if seg.SpeakerID != "" {
		p.meeting.UpdateParticipant(seg.SpeakerID, seg.SpeakerName, true, w.Duration, seg.Confidence)
	}

	if p.refiner != nil {
		p.refiner.Enqueue(RefinementJob{
			SegmentID:  seg.ID,
			Timestamp:  seg.Timestamp,
			Duration:   seg.Duration,
			Samples:    w.Samples,
			EnqueuedAt: time.Now(),
		})
	}

	if p.OnSegment != nil {
		p.OnSegment(*seg)
	}
}
