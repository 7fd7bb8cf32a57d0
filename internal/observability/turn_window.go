package observability

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Pipeline stages observed per message.
const (
	StageGate         = "gate"
	StageContextReady = "context_ready"
	StageFirstDelta   = "first_delta"
	StageCompletion   = "completion"
	StageTurnTotal    = "turn_total"
)

// Turn outcomes tallied by the window. TimedOut is a failed turn whose
// provider call hit the request timeout.
const (
	OutcomeReplied  = "replied"
	OutcomeBlocked  = "blocked"
	OutcomeFailed   = "failed"
	OutcomeTimedOut = "timed_out"
)

// TurnSample describes one processed user message.
type TurnSample struct {
	Provider string
	Outcome  string
	// Flagged is true when the safety gate returned an unsafe verdict,
	// whether or not the message was blocked.
	Flagged bool
	// Total is recorded as turn_total latency when positive.
	Total time.Duration
}

type StageLatency struct {
	Stage      string  `json:"stage"`
	Provider   string  `json:"provider,omitempty"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	MeanMS     float64 `json:"mean_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_ms,omitempty"`
	OverBudget int     `json:"over_budget,omitempty"`
}

type OutcomeTally struct {
	Provider string `json:"provider"`
	Outcome  string `json:"outcome"`
	Count    int    `json:"count"`
	Flagged  int    `json:"flagged"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Stages      []StageLatency `json:"stages"`
	Outcomes    []OutcomeTally `json:"outcomes"`
}

type stageKey struct {
	stage    string
	provider string
}

type outcomeKey struct {
	provider string
	outcome  string
}

type outcomeCount struct {
	count   int
	flagged int
}

// turnWindow keeps the last size latencies per stage and provider, plus
// cumulative outcome counts per provider.
type turnWindow struct {
	mu       sync.Mutex
	size     int
	rings    map[stageKey]*ring
	outcomes map[outcomeKey]*outcomeCount
}

// ring is a fixed-size sample buffer; n counts every observation.
type ring struct {
	vals []float64
	n    int
}

func (r *ring) add(v float64) {
	r.vals[r.n%len(r.vals)] = v
	r.n++
}

func (r *ring) samples() []float64 {
	if r.n < len(r.vals) {
		return r.vals[:r.n]
	}
	return r.vals
}

func (r *ring) last() float64 {
	return r.vals[(r.n-1)%len(r.vals)]
}

func newTurnWindow(size int) *turnWindow {
	if size <= 0 {
		size = 256
	}
	return &turnWindow{
		size:     size,
		rings:    make(map[stageKey]*ring),
		outcomes: make(map[outcomeKey]*outcomeCount),
	}
}

func (w *turnWindow) observe(stage, provider string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	key := stageKey{stage: stage, provider: strings.TrimSpace(provider)}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rings[key]
	if !ok {
		r = &ring{vals: make([]float64, w.size)}
		w.rings[key] = r
	}
	r.add(ms)
}

func (w *turnWindow) observeTurn(s TurnSample) {
	if s.Outcome == "" {
		return
	}
	provider := strings.TrimSpace(s.Provider)
	if s.Total > 0 {
		w.observe(StageTurnTotal, provider, durationMS(s.Total))
	}
	key := outcomeKey{provider: provider, outcome: s.Outcome}
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.outcomes[key]
	if !ok {
		c = &outcomeCount{}
		w.outcomes[key] = c
	}
	c.count++
	if s.Flagged {
		c.flagged++
	}
}

func (w *turnWindow) snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageLatency, 0, len(w.rings)),
		Outcomes:    make([]OutcomeTally, 0, len(w.outcomes)),
	}
	for key, r := range w.rings {
		sorted := slices.Clone(r.samples())
		slices.Sort(sorted)
		sum := 0.0
		for _, v := range sorted {
			sum += v
		}
		budget := stageBudgetMS(key.stage)
		over := 0
		if budget > 0 {
			// sorted is ascending, so everything past the cut is over budget.
			cut, _ := slices.BinarySearch(sorted, math.Nextafter(budget, math.Inf(1)))
			over = len(sorted) - cut
		}
		snap.Stages = append(snap.Stages, StageLatency{
			Stage:      key.stage,
			Provider:   key.provider,
			Samples:    len(sorted),
			LastMS:     round2(r.last()),
			MeanMS:     round2(sum / float64(len(sorted))),
			P50MS:      round2(nearestRank(sorted, 50)),
			P95MS:      round2(nearestRank(sorted, 95)),
			MaxMS:      round2(sorted[len(sorted)-1]),
			BudgetMS:   budget,
			OverBudget: over,
		})
	}
	slices.SortFunc(snap.Stages, func(a, b StageLatency) int {
		if c := strings.Compare(a.Stage, b.Stage); c != 0 {
			return c
		}
		return strings.Compare(a.Provider, b.Provider)
	})

	for key, c := range w.outcomes {
		snap.Outcomes = append(snap.Outcomes, OutcomeTally{
			Provider: key.provider,
			Outcome:  key.outcome,
			Count:    c.count,
			Flagged:  c.flagged,
		})
	}
	slices.SortFunc(snap.Outcomes, func(a, b OutcomeTally) int {
		if c := strings.Compare(a.Provider, b.Provider); c != 0 {
			return c
		}
		return strings.Compare(a.Outcome, b.Outcome)
	})
	return snap
}

// nearestRank expects sorted to be non-empty and ascending.
func nearestRank(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(rank, len(sorted)-1))]
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// stageBudgetMS is the latency a single stage should stay under for a chat
// reply to feel responsive.
func stageBudgetMS(stage string) float64 {
	switch stage {
	case StageGate:
		return 5
	case StageContextReady:
		return 20
	case StageFirstDelta:
		return 1500
	case StageCompletion:
		return 8000
	case StageTurnTotal:
		return 9000
	default:
		return 0
	}
}
