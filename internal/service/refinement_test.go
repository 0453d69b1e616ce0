package service

import (
	"fmt"
	"testing"
	"time"

	"whonext/ai"
	"whonext/session"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func provisionalSegment(meeting *session.Meeting, timestamp float64, text string) *session.Segment {
	seg := &session.Segment{Text: text, Timestamp: timestamp, Duration: 5, Confidence: 0.5}
	meeting.AppendSegment(seg)
	return seg
}

func TestRefinementFinalizesSegment(t *testing.T) {
	engine := &fakeEngine{
		highQuality: func(samples []float32) ([]ai.TranscriptSegment, error) {
			return []ai.TranscriptSegment{
				{Start: 0, End: 2500, Text: "уточнённый"},
				{Start: 2500, End: 5000, Text: "текст"},
			}, nil
		},
	}
	meeting := testMeeting()
	seg := provisionalSegment(meeting, 10, "черновой текст")

	q := NewRefinementQueue(RefinementConfig{FinalizationTimeout: time.Second}, engine, ai.NewHallucinationFilter(ai.DefaultFilterConfig()), meeting)
	q.Enqueue(RefinementJob{SegmentID: seg.ID, Timestamp: 10, Duration: 5, Samples: make([]float32, 100), EnqueuedAt: time.Now()})

	ok := waitFor(t, 2*time.Second, func() bool {
		tr := meeting.Transcript()
		return len(tr) == 1 && tr[0].IsFinalized
	})
	if !ok {
		t.Fatal("segment was not finalized")
	}
	if got := meeting.Transcript()[0].Text; got != "уточнённый текст" {
		t.Errorf("text = %q, want %q", got, "уточнённый текст")
	}
	q.Stop()
}

func TestRefinementFailureKeepsProvisional(t *testing.T) {
	engine := &fakeEngine{
		highQuality: func(samples []float32) ([]ai.TranscriptSegment, error) {
			return nil, fmt.Errorf("model unavailable")
		},
	}
	meeting := testMeeting()
	provisionalSegment(meeting, 0, "черновик")

	q := NewRefinementQueue(RefinementConfig{FinalizationTimeout: time.Second}, engine, ai.NewHallucinationFilter(ai.DefaultFilterConfig()), meeting)
	q.Enqueue(RefinementJob{Timestamp: 0, Samples: make([]float32, 100), EnqueuedAt: time.Now()})

	waitFor(t, time.Second, func() bool { return q.Pending() == 0 })
	q.Stop()

	tr := meeting.Transcript()
	if tr[0].IsFinalized {
		t.Error("failed refinement must not finalize the segment")
	}
	if tr[0].Text != "черновик" {
		t.Errorf("provisional text lost: %q", tr[0].Text)
	}
}

func TestRefinementStopCancelsPending(t *testing.T) {
	block := make(chan struct{})
	engine := &fakeEngine{
		highQuality: func(samples []float32) ([]ai.TranscriptSegment, error) {
			<-block
			return []ai.TranscriptSegment{{Text: "готово"}}, nil
		},
	}
	meeting := testMeeting()
	for i := 0; i < 4; i++ {
		provisionalSegment(meeting, float64(i*5), fmt.Sprintf("черновик %d", i))
	}

	q := NewRefinementQueue(RefinementConfig{FinalizationTimeout: 200 * time.Millisecond}, engine, ai.NewHallucinationFilter(ai.DefaultFilterConfig()), meeting)
	for i := 0; i < 4; i++ {
		q.Enqueue(RefinementJob{Timestamp: float64(i * 5), Samples: make([]float32, 100), EnqueuedAt: time.Now()})
	}

	// Первое задание висит в воркере, остальные три в очереди
	waitFor(t, time.Second, func() bool { return q.Pending() == 3 })

	droppedCh := make(chan int, 1)
	go func() { droppedCh <- q.Stop() }()
	waitFor(t, time.Second, func() bool { return q.Pending() == 0 })
	close(block)

	dropped := <-droppedCh
	if dropped != 3 {
		t.Errorf("dropped = %d, want 3", dropped)
	}

	// Выполнявшееся задание успело завершиться, отменённые остались черновиками
	tr := meeting.Transcript()
	finalized := 0
	for _, seg := range tr {
		if seg.IsFinalized {
			finalized++
		}
	}
	if finalized != 1 {
		t.Errorf("finalized = %d, want 1", finalized)
	}
}

func TestRefinementMaxLagSkips(t *testing.T) {
	engine := &fakeEngine{
		highQuality: func(samples []float32) ([]ai.TranscriptSegment, error) {
			return []ai.TranscriptSegment{{Text: "не должен попасть"}}, nil
		},
	}
	meeting := testMeeting()
	provisionalSegment(meeting, 0, "старый черновик")

	q := NewRefinementQueue(RefinementConfig{MaxLag: time.Minute, FinalizationTimeout: time.Second}, engine, ai.NewHallucinationFilter(ai.DefaultFilterConfig()), meeting)
	q.Enqueue(RefinementJob{Timestamp: 0, Samples: make([]float32, 100), EnqueuedAt: time.Now().Add(-2 * time.Minute)})

	waitFor(t, time.Second, func() bool { return q.Pending() == 0 })
	q.Stop()

	tr := meeting.Transcript()
	if tr[0].Text != "старый черновик" {
		t.Errorf("stale job must be skipped, text = %q", tr[0].Text)
	}
	if tr[0].IsFinalized {
		t.Error("stale job must not finalize the segment")
	}
}

func TestRefinementEnqueueAfterStopIgnored(t *testing.T) {
	engine := &fakeEngine{}
	meeting := testMeeting()
	q := NewRefinementQueue(RefinementConfig{FinalizationTimeout: time.Second}, engine, ai.NewHallucinationFilter(ai.DefaultFilterConfig()), meeting)
	q.Stop()

	q.Enqueue(RefinementJob{Timestamp: 0, Samples: make([]float32, 100), EnqueuedAt: time.Now()})
	if q.Pending() != 0 {
		t.Error("enqueue after stop must be ignored")
	}
}
