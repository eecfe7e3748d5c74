package orchestrator

import (
	"container/heap"
	"testing"
	"time"

	"marketlifecycle/internal/gap"
)

func TestPriorityQueueOrdersByRemainingBarsThenDetectedAt(t *testing.T) {
	now := time.Now()
	pq := &priorityQueue{}
	heap.Init(pq)

	heap.Push(pq, &segItem{seg: gap.Segment{ID: 1, RemainingBars: 3, DetectedAt: now}})
	heap.Push(pq, &segItem{seg: gap.Segment{ID: 2, RemainingBars: 10, DetectedAt: now.Add(time.Minute)}})
	heap.Push(pq, &segItem{seg: gap.Segment{ID: 3, RemainingBars: 10, DetectedAt: now}})

	first := heap.Pop(pq).(*segItem)
	if first.seg.ID != 3 {
		t.Errorf("expected segment 3 first (same remaining_bars, earlier detected_at), got %d", first.seg.ID)
	}
	second := heap.Pop(pq).(*segItem)
	if second.seg.ID != 2 {
		t.Errorf("expected segment 2 second, got %d", second.seg.ID)
	}
	third := heap.Pop(pq).(*segItem)
	if third.seg.ID != 1 {
		t.Errorf("expected segment 1 last (fewest remaining_bars), got %d", third.seg.ID)
	}
}
