package entry

import (
	"testing"

	"github.com/lseng/topstep-bot-5.0-sub000/internal/vpvr"
)

func sampleVPVR() vpvr.Summary {
	return vpvr.Summary{
		POC: 5050, VAH: 5080, VAL: 5020,
		RangeHigh: 5100, RangeLow: 5000,
		TotalVol: 1000, BarCount: 20,
	}
}

func TestComputeLong(t *testing.T) {
	levels := Compute(Long, sampleVPVR(), Params{Symbol: "ES"})

	if levels.EntryPrice != 5020 {
		t.Errorf("entry price = %v, want 5020 (VAL)", levels.EntryPrice)
	}
	if levels.TP1 != 5050 || levels.TP2 != 5080 || levels.TP3 != 5100 {
		t.Errorf("tp ladder = %v/%v/%v, want 5050/5080/5100", levels.TP1, levels.TP2, levels.TP3)
	}
	// No SL buffer: SL mirrors the entry<->TP1 distance on the opposite side.
	wantSL := 5020.0 - (5050.0 - 5020.0)
	if levels.InitialSL != wantSL {
		t.Errorf("initial SL = %v, want %v", levels.InitialSL, wantSL)
	}
}

func TestComputeShort(t *testing.T) {
	levels := Compute(Short, sampleVPVR(), Params{Symbol: "ES"})

	if levels.EntryPrice != 5080 {
		t.Errorf("entry price = %v, want 5080 (VAH)", levels.EntryPrice)
	}
	if levels.TP1 != 5050 || levels.TP2 != 5020 || levels.TP3 != 5000 {
		t.Errorf("tp ladder = %v/%v/%v, want 5050/5020/5000", levels.TP1, levels.TP2, levels.TP3)
	}
	wantSL := 5080.0 + (5080.0 - 5050.0)
	if levels.InitialSL != wantSL {
		t.Errorf("initial SL = %v, want %v", levels.InitialSL, wantSL)
	}
}

// TestComputeLongWithSLBuffer matches spec.md §8 scenario S4's setup:
// slBufferTicks=8 on ES (tickSize 0.25) anchored at a fill of 5020 gives
// initialSl=5018.
func TestComputeLongWithSLBuffer(t *testing.T) {
	sl := SLFromFill(Long, 5020, 5050, Params{Symbol: "ES", SLBufferTicks: 8})
	if sl != 5018 {
		t.Errorf("SLFromFill = %v, want 5018", sl)
	}
}

func TestComputeShortWithSLBuffer(t *testing.T) {
	sl := SLFromFill(Short, 5080, 5050, Params{Symbol: "ES", SLBufferTicks: 8})
	if sl != 5082 {
		t.Errorf("SLFromFill = %v, want 5082", sl)
	}
}

func TestRetryLadderLong(t *testing.T) {
	ladder := RetryLadder(Long, sampleVPVR())
	if len(ladder) != 3 {
		t.Fatalf("ladder length = %d, want 3", len(ladder))
	}
	if ladder[0] != 5020 {
		t.Errorf("rung 0 = %v, want VAL 5020", ladder[0])
	}
	if ladder[1] != 5000 {
		t.Errorf("rung 1 = %v, want rangeLow 5000", ladder[1])
	}
	wantRung2 := 5000.0 - (5020.0 - 5000.0)
	if ladder[2] != wantRung2 {
		t.Errorf("rung 2 = %v, want %v", ladder[2], wantRung2)
	}
}

func TestRetryPriceClampsToLastRung(t *testing.T) {
	ladder := RetryLadder(Long, sampleVPVR())
	if RetryPrice(ladder, 0) != ladder[0] {
		t.Errorf("attempt 0 should be rung 0")
	}
	if RetryPrice(ladder, 5) != ladder[2] {
		t.Errorf("attempt past the end should clamp to the last rung")
	}
	if RetryPrice(ladder, -1) != ladder[0] {
		t.Errorf("negative attempt should clamp to rung 0")
	}
}

func TestRetryPriceEmptyLadder(t *testing.T) {
	if got := RetryPrice(nil, 0); got != 0 {
		t.Errorf("RetryPrice on an empty ladder = %v, want 0", got)
	}
}

func TestComputeFlatVPVR(t *testing.T) {
	levels := Compute(Long, vpvr.Summary{}, Params{Symbol: "ES"})
	if levels.EntryPrice != 0 || levels.TP1 != 0 || levels.InitialSL != 0 {
		t.Errorf("a zero VPVR summary should produce zero levels, got %+v", levels)
	}
}
