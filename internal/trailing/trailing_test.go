package trailing

import (
	"testing"

	"github.com/lseng/topstep-bot-5.0-sub000/internal/entry"
)

// base is a long filled at 5020 on the sample VPVR (TP1/TP2/TP3 =
// 5050/5080/5100) with an 8-tick ES stop at 5018.
func base() Input {
	return Input{
		Side: entry.Long, State: Active,
		EntryPrice: 5020, CurrentSL: 5018,
		TP1: 5050, TP2: 5080, TP3: 5100,
		CurrentPrice: 5020,
	}
}

func TestActiveToTP1(t *testing.T) {
	in := base()
	in.CurrentPrice = 5050
	res := Evaluate(in)
	if !res.StateChanged || res.NewState != TP1Hit {
		t.Fatalf("expected transition to tp1_hit, got %+v", res)
	}
	if !res.SLChanged || res.NewSL != 5020 {
		t.Errorf("SL should move to breakeven (entry price) on tp1, got %v", res.NewSL)
	}
}

func TestSLBreachFromTP1TakesPriorityOverTP(t *testing.T) {
	in := base()
	in.State = TP1Hit
	in.CurrentSL = 5020
	// Contrived setup: TP2 sits below the stop, so 5019 both breaches the
	// SL (5020) and reaches TP2 (5010) — the breach must win.
	in.TP2 = 5010
	in.CurrentPrice = 5019
	res := Evaluate(in)
	if !res.ShouldClose {
		t.Fatalf("expected close on SL breach, got %+v", res)
	}
	if res.CloseReason != "sl_hit_from_tp1_hit" {
		t.Errorf("close reason = %q, want sl_hit_from_tp1_hit", res.CloseReason)
	}
}

func TestLadderProgressionLongS2(t *testing.T) {
	// spec.md §8 scenario S2: fill 5020, ticks 5050 -> tp1, 5080 -> tp2,
	// 5100 -> tp3, currentSl ends at 5080.
	in := base()

	in.CurrentPrice = 5050
	r := Evaluate(in)
	in.State, in.CurrentSL = r.NewState, r.NewSL

	in.CurrentPrice = 5080
	r = Evaluate(in)
	if r.NewState != TP2Hit {
		t.Fatalf("expected tp2_hit, got %+v", r)
	}
	in.State, in.CurrentSL = r.NewState, r.NewSL

	in.CurrentPrice = 5100
	r = Evaluate(in)
	if r.NewState != TP3Hit {
		t.Fatalf("expected tp3_hit, got %+v", r)
	}
	in.State, in.CurrentSL = r.NewState, r.NewSL

	if in.CurrentSL != 5080 {
		t.Errorf("currentSl after tp3 = %v, want 5080", in.CurrentSL)
	}

	in.CurrentPrice = 5079
	r = Evaluate(in)
	if !r.ShouldClose || r.CloseReason != "sl_hit_from_tp3_hit" {
		t.Fatalf("expected close at tp3 stop, got %+v", r)
	}
}

func TestTP3TrailingExtendsOnlyForward(t *testing.T) {
	in := base()
	in.State = TP3Hit
	in.CurrentSL = 5080
	in.CurrentPrice = 5110 // gap = TP3-TP2 = 20, new SL = 5090

	r := Evaluate(in)
	if !r.SLChanged || r.NewSL != 5090 {
		t.Fatalf("expected trailing SL to 5090, got %+v", r)
	}

	// A subsequent, less favorable price must not retreat the stop.
	in.CurrentSL = r.NewSL
	in.CurrentPrice = 5095
	r = Evaluate(in)
	if r.SLChanged {
		t.Errorf("trailing stop must never move backward, got %+v", r)
	}
}

func TestShortLadderS3(t *testing.T) {
	// spec.md §8 scenario S3: short fill 5080; ticks 5050 -> tp1 (SL=5080),
	// 5020 -> tp2 (SL=5050).
	in := Input{
		Side: entry.Short, State: Active,
		EntryPrice: 5080, CurrentSL: 5082,
		TP1: 5050, TP2: 5020, TP3: 5000,
		CurrentPrice: 5050,
	}
	r := Evaluate(in)
	if r.NewState != TP1Hit || r.NewSL != 5080 {
		t.Fatalf("expected tp1_hit with SL 5080, got %+v", r)
	}
	in.State, in.CurrentSL = r.NewState, r.NewSL

	in.CurrentPrice = 5020
	r = Evaluate(in)
	if r.NewState != TP2Hit || r.NewSL != 5050 {
		t.Fatalf("expected tp2_hit with SL 5050, got %+v", r)
	}
	in.State, in.CurrentSL = r.NewState, r.NewSL

	in.CurrentPrice = 5051
	r = Evaluate(in)
	if !r.ShouldClose || r.CloseReason != "sl_hit_from_tp2_hit" {
		t.Fatalf("expected close at tp2 stop, got %+v", r)
	}
}

func TestPendingStatesNeverEvaluate(t *testing.T) {
	for _, s := range []State{PendingEntry, PendingRetry, Closed, Cancelled} {
		in := base()
		in.State = s
		in.CurrentPrice = 1 // would breach any SL
		if r := Evaluate(in); r != (Result{}) {
			t.Errorf("state %s should never produce a decision, got %+v", s, r)
		}
	}
}
