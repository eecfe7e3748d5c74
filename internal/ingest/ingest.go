// Package ingest implements the Streaming Ingestor (C5): it consumes an
// ordered kline websocket stream, buffers closed bars for batch
// upsert into the candle store, and drives gap detection / late-fill
// repair against the gap store.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"marketlifecycle/internal/candle"
	"marketlifecycle/internal/gap"
	"marketlifecycle/internal/metrics"
)

// KlineEvent is the wire shape of a Binance futures kline stream
// message: {"k": {...}}.
type KlineEvent struct {
	EventTime int64     `json:"E"`
	Symbol    string    `json:"s"`
	Kline     KlineData `json:"k"`
}

type KlineData struct {
	OpenTime    int64       `json:"t"`
	CloseTime   int64       `json:"T"`
	Symbol      string      `json:"s"`
	Interval    string      `json:"i"`
	Open        json.Number `json:"o"`
	High        json.Number `json:"h"`
	Low         json.Number `json:"l"`
	Close       json.Number `json:"c"`
	Volume      json.Number `json:"v"`
	QuoteVolume json.Number `json:"q"`
	TradeCount  int64       `json:"n"`
	IsClosed    bool        `json:"x"`
}

// IntervalToMs parses a Binance interval string ("1m", "4h", "1d") into
// milliseconds, defaulting to one minute for unrecognized suffixes.
func IntervalToMs(interval string) int64 {
	if len(interval) < 2 {
		return 60_000
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil {
		return 60_000
	}
	unit := interval[len(interval)-1]
	switch unit {
	case 'm':
		return int64(n) * 60_000
	case 'h':
		return int64(n) * 3_600_000
	case 'd':
		return int64(n) * 86_400_000
	default:
		return 60_000
	}
}

// Status is a point-in-time snapshot of the ingestor's health.
type Status struct {
	Running             bool
	BufferSize          int
	LastMessageTs       int64
	LastClosedOpenTime  int64
	Reconnects          int
	OpenGapSegments     int
}

// FlushListener is invoked with each batch of just-persisted closed
// bars.
type FlushListener func(batch []candle.Candle)

// Ingestor owns buffer mutation and gap state for one (symbol,
// interval) series. A single goroutine mutates its fields; callers
// interact only through the exported methods.
type Ingestor struct {
	Symbol     string
	Interval   string
	intervalMs int64

	wsURL  string
	logger *slog.Logger

	candles *candle.Store
	gaps    *gap.Store

	flushEvery int
	flushEach  time.Duration

	mu                 sync.Mutex
	buffer             []candle.Candle
	lastClosedOpenTime int64
	openGaps           []gap.Segment
	hydrated           bool
	reconnects         int
	lastMessageTs      int64
	running            bool

	listeners []FlushListener

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(symbol, interval string, candles *candle.Store, gaps *gap.Store, flushEvery int, flushEach time.Duration, logger *slog.Logger) *Ingestor {
	lowerSymbol := strings.ToLower(symbol)
	url := fmt.Sprintf("wss://fstream.binance.com/ws/%s@kline_%s", lowerSymbol, interval)
	return &Ingestor{
		Symbol:     symbol,
		Interval:   interval,
		intervalMs: IntervalToMs(interval),
		wsURL:      url,
		logger:     logger,
		candles:    candles,
		gaps:       gaps,
		flushEvery: flushEvery,
		flushEach:  flushEach,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// OnFlush registers a callback fired best-effort after each successful
// flush.
func (ig *Ingestor) OnFlush(l FlushListener) {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	ig.listeners = append(ig.listeners, l)
}

// HydratePersisted loads open gap segments from the store exactly once.
func (ig *Ingestor) HydratePersisted(ctx context.Context) error {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	if ig.hydrated {
		return nil
	}
	segs, err := ig.gaps.LoadOpen(ctx, 1000)
	if err != nil {
		return fmt.Errorf("hydrate gaps: %w", err)
	}
	for _, seg := range segs {
		if seg.Symbol == ig.Symbol && seg.Interval == ig.Interval {
			ig.openGaps = append(ig.openGaps, seg)
		}
	}
	ig.hydrated = true
	return nil
}

func (ig *Ingestor) Status() Status {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	return Status{
		Running:            ig.running,
		BufferSize:         len(ig.buffer),
		LastMessageTs:      ig.lastMessageTs,
		LastClosedOpenTime: ig.lastClosedOpenTime,
		Reconnects:         ig.reconnects,
		OpenGapSegments:    len(ig.openGaps),
	}
}

func (ig *Ingestor) Gaps() []gap.Segment {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	out := make([]gap.Segment, len(ig.openGaps))
	copy(out, ig.openGaps)
	return out
}

// Stop signals the run loop to shut down and drain its buffer.
func (ig *Ingestor) Stop() {
	ig.mu.Lock()
	if !ig.running {
		ig.mu.Unlock()
		return
	}
	ig.mu.Unlock()
	close(ig.stopCh)
	<-ig.doneCh
}

// Start blocks, running the reconnect loop and periodic flusher until
// Stop is called or ctx is canceled.
func (ig *Ingestor) Start(ctx context.Context) error {
	ig.mu.Lock()
	if ig.running {
		ig.mu.Unlock()
		return nil
	}
	ig.running = true
	ig.mu.Unlock()
	defer close(ig.doneCh)

	if err := ig.HydratePersisted(ctx); err != nil {
		ig.logger.Error("hydrate gaps failed", "error", err)
	}

	msgCh := make(chan KlineEvent, 256)
	go ig.readLoop(ctx, msgCh)

	ticker := time.NewTicker(ig.flushEach)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ig.flush(ctx)
			ig.mu.Lock()
			ig.running = false
			ig.mu.Unlock()
			return ctx.Err()
		case <-ig.stopCh:
			ig.flush(ctx)
			ig.mu.Lock()
			ig.running = false
			ig.mu.Unlock()
			return nil
		case <-ticker.C:
			ig.flush(ctx)
		case ev, ok := <-msgCh:
			if !ok {
				ig.mu.Lock()
				ig.running = false
				ig.mu.Unlock()
				return fmt.Errorf("kline stream closed")
			}
			ig.handleMessage(ctx, ev)
		}
	}
}

func (ig *Ingestor) readLoop(ctx context.Context, out chan<- KlineEvent) {
	defer close(out)
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ig.stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, ig.wsURL, nil)
		if err != nil {
			ig.logger.Error("kline stream connect failed", "symbol", ig.Symbol, "error", err)
			ig.mu.Lock()
			ig.reconnects++
			ig.mu.Unlock()
			if !sleepWithJitter(ctx, ig.stopCh, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				ig.logger.Warn("kline stream read error", "symbol", ig.Symbol, "error", err)
				break
			}
			var ev KlineEvent
			if err := json.Unmarshal(message, &ev); err != nil {
				ig.logger.Error("kline stream decode error", "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				conn.Close()
				return
			case <-ig.stopCh:
				conn.Close()
				return
			}
		}
		conn.Close()
		ig.mu.Lock()
		ig.reconnects++
		ig.mu.Unlock()
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}

func sleepWithJitter(ctx context.Context, stopCh <-chan struct{}, d time.Duration) bool {
	jitter := time.Duration(rand.Int63n(int64(d) / 4 + 1))
	timer := time.NewTimer(d + jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	}
}

func (ig *Ingestor) handleMessage(ctx context.Context, ev KlineEvent) {
	ig.mu.Lock()
	ig.lastMessageTs = ev.EventTime
	ig.mu.Unlock()
	metrics.KlineMessagesTotal.WithLabelValues(ig.Symbol, ig.Interval).Inc()

	if !ev.Kline.IsClosed {
		return
	}
	start := time.Now()
	metrics.KlineClosedTotal.WithLabelValues(ig.Symbol, ig.Interval).Inc()

	c := ig.toCandle(ev.Kline, candle.SourceLiveStream)
	ig.onClosedBar(ctx, c)

	metrics.KlineProcessLatencySeconds.WithLabelValues(ig.Symbol, ig.Interval).Observe(time.Since(start).Seconds())
	metrics.IngestionLagSeconds.WithLabelValues(ig.Symbol, ig.Interval).Set(
		float64(time.Now().UnixMilli()-c.CloseTime) / 1000.0)
}

func (ig *Ingestor) toCandle(k KlineData, source candle.Source) candle.Candle {
	parse := func(s json.Number) decimal.Decimal {
		d, err := decimal.NewFromString(s.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	return candle.Candle{
		Symbol:      ig.Symbol,
		Interval:    ig.Interval,
		OpenTime:    k.OpenTime,
		CloseTime:   k.CloseTime,
		Open:        parse(k.Open),
		High:        parse(k.High),
		Low:         parse(k.Low),
		Close:       parse(k.Close),
		Volume:      parse(k.Volume),
		QuoteVolume: parse(k.QuoteVolume),
		TradeCount:  k.TradeCount,
		Source:      source,
	}
}

// onClosedBar applies gap detection/late-fill per spec.md §4.2 and
// enqueues the bar for the next flush.
func (ig *Ingestor) onClosedBar(ctx context.Context, c candle.Candle) {
	ig.mu.Lock()
	defer ig.mu.Unlock()

	tNew := c.OpenTime
	switch {
	case ig.lastClosedOpenTime == 0:
		ig.lastClosedOpenTime = tNew
	case tNew-ig.lastClosedOpenTime > ig.intervalMs:
		from := ig.lastClosedOpenTime + ig.intervalMs
		to := tNew - ig.intervalMs
		seg := gap.NewSegment(ig.Symbol, ig.Interval, from, to, ig.intervalMs, time.Now())
		ig.openGaps = append(ig.openGaps, seg)
		metrics.KlineGapDetectedTotal.WithLabelValues(ig.Symbol, ig.Interval).Inc()
		go func(s gap.Segment) {
			bg := context.Background()
			present, err := ig.candles.CountInRange(bg, s.Symbol, s.Interval, s.FromOpenTime, s.ToOpenTime)
			if err != nil {
				ig.logger.Error("gap present-bar count failed", "symbol", ig.Symbol, "error", err)
				present = 0
			}
			if _, err := ig.gaps.InsertWithMerge(bg, s, ig.intervalMs, present, time.Now()); err != nil {
				ig.logger.Error("gap persist failed", "symbol", ig.Symbol, "error", err)
			}
		}(seg)
		ig.lastClosedOpenTime = tNew
	case tNew < ig.lastClosedOpenTime:
		c.Source = candle.SourceWSLate
		ig.applyLateFill(tNew)
	default:
		ig.lastClosedOpenTime = tNew
	}

	ig.buffer = append(ig.buffer, c)
	metrics.KlineBufferSize.WithLabelValues(ig.Symbol, ig.Interval).Set(float64(len(ig.buffer)))

	if len(ig.buffer) >= ig.flushEvery {
		ig.flushLocked(ctx)
	}
}

// applyLateFill mutates ig.openGaps in place for a bar landing inside a
// tracked gap. Only the first matching segment is adjusted per
// spec.md's tie-break rule; overlap merging happens on gap insertion,
// not here.
func (ig *Ingestor) applyLateFill(openTime int64) {
	for i, seg := range ig.openGaps {
		if !seg.Contains(openTime) {
			continue
		}
		res := gap.ApplyLateFill(seg, openTime, ig.intervalMs, time.Now())
		metrics.KlineLateFillTotal.WithLabelValues(ig.Symbol, ig.Interval).Inc()

		switch {
		case res.Split:
			metrics.KlineGapSplitTotal.WithLabelValues(ig.Symbol, ig.Interval).Inc()
			ig.openGaps = append(ig.openGaps[:i], ig.openGaps[i+1:]...)
			ig.openGaps = append(ig.openGaps, *res.Left, *res.Right)
		case res.Updated.Status == gap.StatusRecovered:
			ig.openGaps = append(ig.openGaps[:i], ig.openGaps[i+1:]...)
		default:
			ig.openGaps[i] = res.Updated
		}
		return
	}
}

func (ig *Ingestor) flush(ctx context.Context) {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	ig.flushLocked(ctx)
}

func (ig *Ingestor) flushLocked(ctx context.Context) {
	if len(ig.buffer) == 0 {
		return
	}
	start := time.Now()
	batch := ig.buffer
	ig.buffer = nil

	if err := ig.candles.BulkUpsert(ctx, batch); err != nil {
		ig.logger.Error("flush failed, bars remain buffered", "symbol", ig.Symbol, "error", err)
		ig.buffer = append(batch, ig.buffer...)
		return
	}
	metrics.KlineFlushTotal.WithLabelValues(ig.Symbol, ig.Interval).Inc()
	metrics.KlineFlushLatencySeconds.WithLabelValues(ig.Symbol, ig.Interval).Observe(time.Since(start).Seconds())
	metrics.KlineBufferSize.WithLabelValues(ig.Symbol, ig.Interval).Set(0)

	for _, l := range ig.listeners {
		func() {
			defer func() { recover() }()
			l(batch)
		}()
	}
}
