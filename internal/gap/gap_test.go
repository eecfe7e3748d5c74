package gap

import (
	"testing"
	"time"
)

func TestApplyLateFill_EdgeShrinksNoSplit(t *testing.T) {
	now := time.Now()
	seg := NewSegment("BTCUSDT", "1m", 1000, 5000, 1000, now)
	// missing bars = (5000-1000)/1000+1 = 5

	res := ApplyLateFill(seg, 1000, 1000, now)
	if res.Split {
		t.Fatalf("expected no split for edge fill")
	}
	if res.Updated.FromOpenTime != 2000 {
		t.Errorf("expected FromOpenTime to advance to 2000, got %d", res.Updated.FromOpenTime)
	}
	if res.Updated.RemainingBars != 4 {
		t.Errorf("expected 4 remaining bars, got %d", res.Updated.RemainingBars)
	}
}

func TestApplyLateFill_InteriorSplits(t *testing.T) {
	now := time.Now()
	// span 1000..9000 step 1000 => 9 bars
	seg := NewSegment("BTCUSDT", "1m", 1000, 9000, 1000, now)

	res := ApplyLateFill(seg, 5000, 1000, now)
	if !res.Split {
		t.Fatalf("expected interior fill to split the segment")
	}
	if res.Left == nil || res.Right == nil {
		t.Fatalf("expected both halves present")
	}
	if res.Left.ToOpenTime != 4000 || res.Right.FromOpenTime != 6000 {
		t.Errorf("unexpected split boundaries: left=%+v right=%+v", res.Left, res.Right)
	}
	if res.Left.RemainingBars+res.Right.RemainingBars != seg.RemainingBars-1 {
		t.Errorf("split remaining bars should sum to original minus the filled bar: got %d+%d, want %d",
			res.Left.RemainingBars, res.Right.RemainingBars, seg.RemainingBars-1)
	}
}

func TestApplyLateFill_InteriorSplitBarCountRatio(t *testing.T) {
	now := time.Now()
	// gap [180000,480000] at interval_ms=60000 is 6 bars; a late fill
	// at 300000 leaves a 2-bar left side and a 3-bar right side, so the
	// remaining 5 bars must apportion 2:3, not by millisecond span.
	seg := NewSegment("BTCUSDT", "1m", 180000, 480000, 60000, now)

	res := ApplyLateFill(seg, 300000, 60000, now)
	if !res.Split {
		t.Fatalf("expected interior fill to split the segment")
	}
	if res.Left.RemainingBars != 2 || res.Right.RemainingBars != 3 {
		t.Errorf("expected a 2:3 bar-count split, got left=%d right=%d", res.Left.RemainingBars, res.Right.RemainingBars)
	}
}

func TestApplyLateFill_FullyRecovers(t *testing.T) {
	now := time.Now()
	seg := NewSegment("BTCUSDT", "1m", 1000, 1000, 1000, now)
	res := ApplyLateFill(seg, 1000, 1000, now)
	if res.Updated.Status != StatusRecovered {
		t.Errorf("expected fully recovered status, got %s", res.Updated.Status)
	}
	if res.Updated.RecoveredAt == nil {
		t.Errorf("expected RecoveredAt to be set")
	}
}

func TestOverlapsAndMergeSpan(t *testing.T) {
	a := Segment{FromOpenTime: 1000, ToOpenTime: 5000}
	b := Segment{FromOpenTime: 4000, ToOpenTime: 9000}
	if !Overlaps(a, b) {
		t.Fatal("expected overlap")
	}
	from, to := MergeSpan(a, b)
	if from != 1000 || to != 9000 {
		t.Errorf("unexpected merged span: [%d,%d]", from, to)
	}

	c := Segment{FromOpenTime: 20000, ToOpenTime: 30000}
	if Overlaps(a, c) {
		t.Fatal("did not expect overlap")
	}
}

func TestExpectedBars(t *testing.T) {
	if got := ExpectedBars(1000, 5000, 1000); got != 5 {
		t.Errorf("expected 5 bars, got %d", got)
	}
}
