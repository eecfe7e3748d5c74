// Package gap implements the Gap Segment Store (C2) and the detection,
// late-fill split, and overlap-merge algorithms shared by the streaming
// ingestor (C5) and the gap backfill worker (C6).
package gap

import "time"

type Status string

const (
	StatusOpen      Status = "open"
	StatusPartial   Status = "partial"
	StatusRecovered Status = "recovered"
	StatusMerged    Status = "merged"
)

// Segment is an inclusive [FromOpenTime, ToOpenTime] span of missing
// bars on bar boundaries for one (symbol, interval) series.
type Segment struct {
	ID            int64
	Symbol        string
	Interval      string
	FromOpenTime  int64
	ToOpenTime    int64
	MissingBars   int64
	RemainingBars int64
	RecoveredBars int64
	Status        Status
	Merged        bool
	DetectedAt    time.Time
	RecoveredAt   *time.Time
}

// NewSegment builds a freshly detected gap. missing_bars is derived
// from the span at creation time, per spec.md's Gap Segment invariant.
func NewSegment(symbol, interval string, fromOpenTime, toOpenTime, intervalMs int64, now time.Time) Segment {
	missing := (toOpenTime-fromOpenTime)/intervalMs + 1
	return Segment{
		Symbol:        symbol,
		Interval:      interval,
		FromOpenTime:  fromOpenTime,
		ToOpenTime:    toOpenTime,
		MissingBars:   missing,
		RemainingBars: missing,
		Status:        StatusOpen,
		DetectedAt:    now,
	}
}

// Contains reports whether openTime falls within the segment's span.
func (s Segment) Contains(openTime int64) bool {
	return openTime >= s.FromOpenTime && openTime <= s.ToOpenTime
}

// SplitResult is the outcome of applying an interior late fill to a
// segment: the fill consumes one bar, and if both remaining sides still
// have missing bars the segment splits in two.
type SplitResult struct {
	Left    *Segment // nil if the fill landed at FromOpenTime
	Right   *Segment // nil if the fill landed at ToOpenTime
	Split   bool
	Updated Segment // the (possibly now-exhausted) original segment, non-split case
}

// ApplyLateFill implements spec.md §4.2's late-fill adjustment: the
// filled bar decrements RemainingBars by one; if the fill is interior
// and both resulting sides would still have missing bars, the segment
// splits into two new segments with RemainingBars apportioned
// proportional to each side's bar count (the approved heuristic per
// spec.md §9's Open Question — implementers should watch
// kline_gap_split_total for drift from this policy).
func ApplyLateFill(seg Segment, openTime, intervalMs int64, now time.Time) SplitResult {
	seg.RemainingBars--
	seg.RecoveredBars++
	if seg.RemainingBars <= 0 {
		seg.RemainingBars = 0
		seg.Status = StatusRecovered
		t := now
		seg.RecoveredAt = &t
		return SplitResult{Updated: seg}
	}
	seg.Status = StatusPartial

	atStart := openTime == seg.FromOpenTime
	atEnd := openTime == seg.ToOpenTime
	if atStart || atEnd {
		// Fill at an edge just shrinks the span, no split.
		if atStart {
			seg.FromOpenTime = openTime + intervalMs
		} else {
			seg.ToOpenTime = openTime - intervalMs
		}
		return SplitResult{Updated: seg}
	}

	// Interior fill: only split if both sides still span at least one
	// whole bar-width; otherwise just shrink in place.
	leftSpan := openTime - seg.FromOpenTime
	rightSpan := seg.ToOpenTime - openTime
	if leftSpan < intervalMs || rightSpan < intervalMs {
		return SplitResult{Updated: seg}
	}

	leftTo := openTime - intervalMs
	rightFrom := openTime + intervalMs
	leftBarCount := (leftTo-seg.FromOpenTime)/intervalMs + 1
	rightBarCount := (seg.ToOpenTime-rightFrom)/intervalMs + 1
	totalBarCount := leftBarCount + rightBarCount
	if totalBarCount <= 0 {
		return SplitResult{Updated: seg}
	}

	// Apportion the already-decremented remainder by each side's own
	// bar count, not its millisecond span, matching the ratio the
	// original ws consumer derives (e.g. 2:3 for a 6-bar gap split
	// into a 2-bar left side and a 3-bar right side).
	remaining := seg.RemainingBars
	leftBars := int64(float64(remaining) * float64(leftBarCount) / float64(totalBarCount))
	rightBars := remaining - leftBars

	left := Segment{
		Symbol: seg.Symbol, Interval: seg.Interval,
		FromOpenTime: seg.FromOpenTime, ToOpenTime: leftTo,
		MissingBars: leftBarCount, RemainingBars: leftBars,
		Status: StatusOpen, DetectedAt: seg.DetectedAt,
	}
	right := Segment{
		Symbol: seg.Symbol, Interval: seg.Interval,
		FromOpenTime: rightFrom, ToOpenTime: seg.ToOpenTime,
		MissingBars: rightBarCount, RemainingBars: rightBars,
		Status: StatusOpen, DetectedAt: seg.DetectedAt,
	}
	return SplitResult{Left: &left, Right: &right, Split: true}
}

// MergeSpan computes the overlap-merged span per spec.md §4.3.1: when
// new and existing segments overlap or touch, the merged span is
// [min(from), max(to)] and precise missing bars are recomputed from
// actual candle presence rather than carried forward.
func MergeSpan(a, b Segment) (fromOpenTime, toOpenTime int64) {
	fromOpenTime = a.FromOpenTime
	if b.FromOpenTime < fromOpenTime {
		fromOpenTime = b.FromOpenTime
	}
	toOpenTime = a.ToOpenTime
	if b.ToOpenTime > toOpenTime {
		toOpenTime = b.ToOpenTime
	}
	return
}

// Overlaps reports whether two segments of the same series share any
// bar, used to decide whether an insertion must merge with an existing
// open segment instead of being inserted standalone.
func Overlaps(a, b Segment) bool {
	return a.FromOpenTime <= b.ToOpenTime && b.FromOpenTime <= a.ToOpenTime
}

// DefaultIntervalMs is the one-minute bar width. InsertWithMerge does
// not consult it: the merge path always uses the intervalMs its caller
// passes and never derives the interval from candle pairs.
const DefaultIntervalMs = 60_000

// ExpectedBars returns the number of bars expected across an inclusive
// span at the given interval.
func ExpectedBars(fromOpenTime, toOpenTime, intervalMs int64) int64 {
	return (toOpenTime-fromOpenTime)/intervalMs + 1
}
