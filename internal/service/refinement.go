package service

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"whonext/ai"
	"whonext/session"
)

// RefinementJob - окно речи, ожидающее повторной качественной
// транскрипции. Сэмплы держим в памяти, чтобы не читать mp3
// во время записи
type RefinementJob struct {
	SegmentID  string
	Timestamp  float64
	Duration   float64
	Samples    []float32
	EnqueuedAt time.Time
}

type RefinementConfig struct {
	// MaxLag - если задание ждало дольше, пропускаем его:
	// провизорный текст остаётся, очередь не копит бесконечный хвост
	MaxLag time.Duration
	// FinalizationTimeout - сколько ждать завершения текущего
	// задания при остановке
	FinalizationTimeout time.Duration
}

func DefaultRefinementConfig() RefinementConfig {
	return RefinementConfig{
		MaxLag:              10 * time.Minute,
		FinalizationTimeout: 30 * time.Second,
	}
}

// RefinementQueue - фоновая очередь уточнения сегментов. Задания
// обрабатываются строго FIFO одним воркером: качественный проход
// медленный, и параллелить его с живой транскрипцией нельзя
type RefinementQueue struct {
	config  RefinementConfig
	engine  ai.TranscriptionEngine
	filter  *ai.HallucinationFilter
	meeting *session.Meeting

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []RefinementJob
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRefinementQueue(config RefinementConfig, engine ai.TranscriptionEngine, filter *ai.HallucinationFilter, meeting *session.Meeting) *RefinementQueue {
	if config.FinalizationTimeout <= 0 {
		config.FinalizationTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &RefinementQueue{
		config:  config,
		engine:  engine,
		filter:  filter,
		meeting: meeting,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.worker()
	return q
}

// Enqueue добавляет задание в хвост очереди. После Stop игнорируется
func (q *RefinementQueue) Enqueue(job RefinementJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.queue = append(q.queue, job)
	q.cond.Signal()
}

// Pending - число заданий в очереди (без учёта выполняемого)
func (q *RefinementQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Stop отменяет все ожидающие задания и даёт выполняемому завершиться
// в пределах FinalizationTimeout, после чего обрывает его. Возвращает
// число отменённых заданий
func (q *RefinementQueue) Stop() int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return 0
	}
	q.closed = true
	dropped := len(q.queue)
	q.queue = nil
	q.cond.Broadcast()
	q.mu.Unlock()

	select {
	case <-q.done:
	case <-time.After(q.config.FinalizationTimeout):
		log.Printf("Refinement did not finish in %v, cancelling", q.config.FinalizationTimeout)
		q.cancel()
		<-q.done
	}

	if dropped > 0 {
		log.Printf("Refinement queue stopped, %d pending jobs dropped", dropped)
	}
	return dropped
}

func (q *RefinementQueue) worker() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.queue) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.queue) == 0 {
			q.mu.Unlock()
			return
		}
		job := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()

		q.process(job)
	}
}

func (q *RefinementQueue) process(job RefinementJob) {
	if q.config.MaxLag > 0 && time.Since(job.EnqueuedAt) > q.config.MaxLag {
		log.Printf("Refinement job at %.1fs skipped: waited longer than %v", job.Timestamp, q.config.MaxLag)
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, 2*time.Minute)
	defer cancel()

	segments, err := q.engine.TranscribeHighQuality(ctx, job.Samples)
	if err != nil {
		// Провизорный текст остаётся - финализируется при завершении встречи
		log.Printf("Refinement at %.1fs failed: %v", job.Timestamp, err)
		return
	}

	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	text := q.filter.Filter(strings.Join(parts, " "))

	q.meeting.FinalizeSegmentAt(job.Timestamp, text, 0)
}
