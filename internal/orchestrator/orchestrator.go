// Package orchestrator implements the Gap Orchestrator (C7): it
// periodically loads open gap segments, maintains a max-priority queue
// keyed by (-remaining_bars, detected_at ascending), and keeps up to
// `concurrency` backfill workers busy.
package orchestrator

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"marketlifecycle/internal/apperr"
	"marketlifecycle/internal/gap"
	"marketlifecycle/internal/metrics"
)

// Recoverer matches backfill.Worker.RecoverSegment without importing
// the backfill package, keeping the orchestrator decoupled from the
// concrete worker implementation (symbol/interval specific workers are
// looked up by the caller and passed in per segment).
type Recoverer interface {
	RecoverSegment(ctx context.Context, seg gap.Segment) (gap.Segment, error)
}

// segItem is one entry in the priority queue.
type segItem struct {
	seg   gap.Segment
	index int
}

type priorityQueue []*segItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].seg.RemainingBars != pq[j].seg.RemainingBars {
		return pq[i].seg.RemainingBars > pq[j].seg.RemainingBars // max-heap on remaining_bars
	}
	return pq[i].seg.DetectedAt.Before(pq[j].seg.DetectedAt)
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x any) {
	item := x.(*segItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

// Orchestrator drives bounded-concurrency recovery across all tracked
// segments, regardless of which (symbol, interval) series they belong
// to — the Recoverer lookup function routes each segment to its
// worker.
type Orchestrator struct {
	store         *gap.Store
	pollInterval  time.Duration
	concurrency   int
	logger        *slog.Logger
	recovererFor  func(seg gap.Segment) Recoverer

	mu      sync.Mutex
	pq      priorityQueue
	seen    map[int64]bool
	running map[int64]bool
}

func New(store *gap.Store, pollInterval time.Duration, concurrency int, recovererFor func(gap.Segment) Recoverer, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		store: store, pollInterval: pollInterval, concurrency: concurrency,
		recovererFor: recovererFor, logger: logger,
		seen: make(map[int64]bool), running: make(map[int64]bool),
	}
	heap.Init(&o.pq)
	return o
}

// Run blocks until ctx is canceled, cooperatively pruning finished
// workers before spawning new ones each cycle.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			o.refill(ctx)
			o.spawnWorkers(ctx, &wg)
		}
	}
}

func (o *Orchestrator) refill(ctx context.Context) {
	segs, err := o.store.LoadOpen(ctx, 500)
	if err != nil {
		o.logger.Error("orchestrator load open gaps failed", "error", err)
		return
	}
	o.reportBacklog(segs)

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, seg := range segs {
		if o.seen[seg.ID] || o.running[seg.ID] {
			continue
		}
		heap.Push(&o.pq, &segItem{seg: seg})
		o.seen[seg.ID] = true
	}
}

// reportBacklog publishes the open-segment count, remaining-bar total,
// and oldest-segment age gauges per (symbol, interval), giving operators
// the same backlog visibility as kline_gap_backfill_service.py's
// periodic gauge refresh.
func (o *Orchestrator) reportBacklog(segs []gap.Segment) {
	type agg struct {
		count     int
		remaining int64
		oldest    time.Time
	}
	byKey := make(map[[2]string]*agg)
	for _, seg := range segs {
		key := [2]string{seg.Symbol, seg.Interval}
		a, ok := byKey[key]
		if !ok {
			a = &agg{oldest: seg.DetectedAt}
			byKey[key] = a
		}
		a.count++
		a.remaining += seg.RemainingBars
		if seg.DetectedAt.Before(a.oldest) {
			a.oldest = seg.DetectedAt
		}
	}
	for key, a := range byKey {
		symbol, interval := key[0], key[1]
		metrics.KlineGapOpenSegments.WithLabelValues(symbol, interval).Set(float64(a.count))
		metrics.KlineGapRemainingBars.WithLabelValues(symbol, interval).Set(float64(a.remaining))
		metrics.KlineGapOldestAgeSeconds.WithLabelValues(symbol, interval).Set(time.Since(a.oldest).Seconds())
	}
}

func (o *Orchestrator) spawnWorkers(ctx context.Context, wg *sync.WaitGroup) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for len(o.running) < o.concurrency && o.pq.Len() > 0 {
		item := heap.Pop(&o.pq).(*segItem)
		seg := item.seg
		delete(o.seen, seg.ID)
		o.running[seg.ID] = true

		rec := o.recovererFor(seg)
		if rec == nil {
			delete(o.running, seg.ID)
			continue
		}

		wg.Add(1)
		go func(seg gap.Segment, rec Recoverer) {
			defer wg.Done()
			defer func() {
				o.mu.Lock()
				delete(o.running, seg.ID)
				o.mu.Unlock()
			}()
			if _, err := rec.RecoverSegment(ctx, seg); err != nil {
				o.logger.Error("orchestrator recovery failed", "segment_id", seg.ID, "error", err, "retryable", apperr.IsRetryable(err))
			}
		}(seg, rec)
	}
}
