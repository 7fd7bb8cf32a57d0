package observability

import (
	"testing"
	"time"
)

func TestTurnWindowKeysByStageAndProvider(t *testing.T) {
	w := newTurnWindow(8)
	for _, ms := range []float64{500, 700, 2000} {
		w.observe(StageFirstDelta, "openai", ms)
	}
	w.observe(StageFirstDelta, "mock", 3)
	w.observe(StageGate, "", 1)

	snap := w.snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 3 {
		t.Fatalf("len(Stages) = %d, want 3: %+v", len(snap.Stages), snap.Stages)
	}
	// Sorted by stage, then provider.
	if snap.Stages[0].Provider != "mock" || snap.Stages[1].Provider != "openai" || snap.Stages[2].Stage != StageGate {
		t.Fatalf("unexpected order: %+v", snap.Stages)
	}

	openai := snap.Stages[1]
	if openai.Samples != 3 || openai.LastMS != 2000 || openai.MaxMS != 2000 {
		t.Fatalf("openai first_delta = %+v", openai)
	}
	if openai.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", openai.P50MS)
	}
	if openai.BudgetMS != 1500 || openai.OverBudget != 1 {
		t.Fatalf("budget = %.0f over = %d, want 1500 and 1", openai.BudgetMS, openai.OverBudget)
	}
	if snap.Stages[0].OverBudget != 0 {
		t.Fatalf("mock OverBudget = %d, want 0", snap.Stages[0].OverBudget)
	}
}

func TestTurnWindowWraps(t *testing.T) {
	w := newTurnWindow(2)
	for _, v := range []float64{10, 20, 30} {
		w.observe(StageGate, "", v)
	}
	w.observe("", "", 5)
	w.observe(StageGate, "", -1)

	snap := w.snapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Samples != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if got := snap.Stages[0]; got.MeanMS != 25 || got.LastMS != 30 {
		t.Fatalf("MeanMS = %.2f LastMS = %.2f, want 25 and 30", got.MeanMS, got.LastMS)
	}
}

func TestTurnWindowTalliesOutcomes(t *testing.T) {
	w := newTurnWindow(4)
	w.observeTurn(TurnSample{Provider: "openai", Outcome: OutcomeReplied, Total: 40 * time.Millisecond})
	w.observeTurn(TurnSample{Provider: "openai", Outcome: OutcomeReplied, Flagged: true, Total: 60 * time.Millisecond})
	w.observeTurn(TurnSample{Provider: "openai", Outcome: OutcomeBlocked, Flagged: true})
	w.observeTurn(TurnSample{Provider: "openai", Outcome: OutcomeTimedOut})
	w.observeTurn(TurnSample{Provider: "openai"})

	snap := w.snapshot()
	want := []OutcomeTally{
		{Provider: "openai", Outcome: OutcomeBlocked, Count: 1, Flagged: 1},
		{Provider: "openai", Outcome: OutcomeReplied, Count: 2, Flagged: 1},
		{Provider: "openai", Outcome: OutcomeTimedOut, Count: 1},
	}
	if len(snap.Outcomes) != len(want) {
		t.Fatalf("Outcomes = %+v, want %+v", snap.Outcomes, want)
	}
	for i := range want {
		if snap.Outcomes[i] != want[i] {
			t.Fatalf("Outcomes[%d] = %+v, want %+v", i, snap.Outcomes[i], want[i])
		}
	}

	// Only turns with a total feed the turn_total latency.
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != StageTurnTotal || snap.Stages[0].Samples != 2 {
		t.Fatalf("Stages = %+v, want two turn_total samples", snap.Stages)
	}
	if snap.Stages[0].MeanMS != 50 {
		t.Fatalf("turn_total MeanMS = %.2f, want 50", snap.Stages[0].MeanMS)
	}
}
