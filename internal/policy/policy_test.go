package policy

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func scenarioParams() Params {
	return Params{
		ReturnCost:       10,
		ConversionImpact: 0.2,
		CostRatio:        0.3,
		GridStep:         50,
		Workers:          4,
	}
}

func TestGrid(t *testing.T) {
	tests := []struct {
		step float64
		want int
	}{
		{50, 3},
		{5, 21},
		{30, 5}, // 0, 30, 60, 90, 100
		{100, 2},
	}
	for _, tt := range tests {
		g := Grid(tt.step)
		if len(g) != tt.want {
			t.Errorf("Grid(%v): got %d points %v, want %d", tt.step, len(g), g, tt.want)
		}
		if g[0] != 0 || g[len(g)-1] != 100 {
			t.Errorf("Grid(%v): expected 0..100, got %v", tt.step, g)
		}
	}
}

func TestEvaluate(t *testing.T) {
	orders := []domain.ScoredOrder{{Revenue: 100, Risk: 60}}
	p := scenarioParams()

	if c := Evaluate(orders, 0, p); math.Abs(c.ExpectedProfit-56) > 1e-9 || c.OrdersBlocked != 1 {
		t.Errorf("tau=0: got %+v", c)
	}
	if c := Evaluate(orders, 100, p); math.Abs(c.ExpectedProfit-64) > 1e-9 || c.OrdersAllowed != 1 {
		t.Errorf("tau=100: got %+v", c)
	}
	// risk equal to tau blocks
	if c := Evaluate(orders, 60, p); c.OrdersBlocked != 1 {
		t.Errorf("tau=60: expected blocked, got %+v", c)
	}
}

func TestOptimizeSingleOrder(t *testing.T) {
	orders := []domain.ScoredOrder{{Revenue: 100, Risk: 60}}

	got, err := Optimize(context.Background(), orders, scenarioParams())
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if got.Tau != 100 {
		t.Errorf("expected tau 100, got %v", got.Tau)
	}
	if math.Abs(got.ExpectedProfit-64) > 1e-9 {
		t.Errorf("expected profit 64, got %v", got.ExpectedProfit)
	}
	if len(got.Candidates) != 3 || got.Refined {
		t.Errorf("unexpected candidates %d refined %v", len(got.Candidates), got.Refined)
	}
}

func TestOptimizeRefined(t *testing.T) {
	orders := []domain.ScoredOrder{{Revenue: 100, Risk: 60}}
	p := scenarioParams()
	p.RefineLevels = 2

	got, err := Optimize(context.Background(), orders, p)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if !got.Refined {
		t.Error("expected refinement to move the threshold")
	}
	if got.Tau <= 60 || got.Tau > 65 {
		t.Errorf("expected tau in (60,65], got %v", got.Tau)
	}
	if math.Abs(got.ExpectedProfit-64) > 1e-9 {
		t.Errorf("refinement must not lower profit, got %v", got.ExpectedProfit)
	}
}

func TestOptimizeTieBreak(t *testing.T) {
	// No return cost: allowing everything is as good as blocking nothing,
	// so every tau above the highest risk ties.
	orders := []domain.ScoredOrder{{Revenue: 10, Risk: 12}, {Revenue: 20, Risk: 30}}
	p := scenarioParams()
	p.ReturnCost = 0
	p.GridStep = 5

	got, err := Optimize(context.Background(), orders, p)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if got.Tau != 35 {
		t.Errorf("expected smallest tied tau 35, got %v", got.Tau)
	}
}

func TestOptimizeNotWorseThanZero(t *testing.T) {
	orders := ModeledSample([]float64{10, 25, 40, 5, 80, 15, 60, 30, 20, 45}, 42)
	p := ParamsFromConfig(domain.DefaultAnalyticsConfig().Policy)

	got, err := Optimize(context.Background(), orders, p)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	zero := Evaluate(orders, 0, p)
	if got.ExpectedProfit < zero.ExpectedProfit {
		t.Errorf("optimum %v below tau=0 profit %v", got.ExpectedProfit, zero.ExpectedProfit)
	}
	for _, c := range got.Candidates {
		if c.ExpectedProfit > got.ExpectedProfit {
			t.Errorf("candidate tau=%v beats optimum", c.Tau)
		}
	}
}

func TestOptimizeErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty sample", func(t *testing.T) {
		orders := []domain.ScoredOrder{{Revenue: 0, Risk: 10}, {Revenue: 10, Risk: 120}}
		if _, err := Optimize(ctx, orders, scenarioParams()); !errors.Is(err, domain.ErrEmptySample) {
			t.Errorf("expected ErrEmptySample, got %v", err)
		}
	})

	t.Run("capacity", func(t *testing.T) {
		p := scenarioParams()
		p.GridStep = 1
		p.MaxEvaluations = 50
		orders := []domain.ScoredOrder{{Revenue: 10, Risk: 10}}
		if _, err := Optimize(ctx, orders, p); !errors.Is(err, domain.ErrCapacityExceeded) {
			t.Errorf("expected ErrCapacityExceeded, got %v", err)
		}
	})

	t.Run("invalid params", func(t *testing.T) {
		p := scenarioParams()
		p.ConversionImpact = 1.5
		orders := []domain.ScoredOrder{{Revenue: 10, Risk: 10}}
		if _, err := Optimize(ctx, orders, p); !errors.Is(err, ErrInvalidParams) {
			t.Errorf("expected ErrInvalidParams, got %v", err)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		orders := []domain.ScoredOrder{{Revenue: 10, Risk: 10}}
		if _, err := Optimize(cctx, orders, scenarioParams()); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestOptimizeProgress(t *testing.T) {
	var calls atomic.Int32
	p := scenarioParams()
	p.GridStep = 10
	p.OnEvaluate = func(domain.PolicyCandidate) { calls.Add(1) }

	orders := []domain.ScoredOrder{{Revenue: 10, Risk: 10}}
	if _, err := Optimize(context.Background(), orders, p); err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if calls.Load() != 11 {
		t.Errorf("expected 11 progress calls, got %d", calls.Load())
	}
}

func TestSimulate(t *testing.T) {
	orders := []domain.ScoredOrder{
		{Revenue: 100, Risk: 10},
		{Revenue: 100, Risk: 30},
		{Revenue: 100, Risk: 70},
		{Revenue: 100, Risk: 90},
	}

	got, err := Simulate(orders, 50, scenarioParams())
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if got.OrdersBlocked != 2 || got.OrdersAllowed != 2 || got.TotalOrders != 4 {
		t.Errorf("unexpected counts: %+v", got)
	}
	if got.AvgRiskBlocked != 80 || got.AvgRiskAllowed != 20 {
		t.Errorf("unexpected averages %v/%v", got.AvgRiskBlocked, got.AvgRiskAllowed)
	}
	if got.BlockedPercent != 50 {
		t.Errorf("expected 50%% blocked, got %v", got.BlockedPercent)
	}
	if got.Recommendation != Recommendation(50) {
		t.Errorf("unexpected recommendation %q", got.Recommendation)
	}

	if _, err := Simulate(orders, 101, scenarioParams()); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
}

func TestRecommendationBands(t *testing.T) {
	seen := make(map[string]bool)
	for _, tau := range []float64{0, 19.9, 20, 39.9, 40, 59.9, 60, 100} {
		seen[Recommendation(tau)] = true
	}
	if len(seen) != 4 {
		t.Errorf("expected 4 distinct bands, got %d", len(seen))
	}
	if Recommendation(19.9) == Recommendation(20) {
		t.Error("expected band change at 20")
	}
}

func TestModeledSample(t *testing.T) {
	revenues := make([]float64, 2000)
	for i := range revenues {
		revenues[i] = 10
	}

	a := ModeledSample(revenues, 42)
	b := ModeledSample(revenues, 42)
	var sum float64
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample not deterministic at %d", i)
		}
		if a[i].Risk < 0 || a[i].Risk > 100 {
			t.Fatalf("risk out of range: %v", a[i].Risk)
		}
		sum += a[i].Risk
	}
	// Beta(2,5) has mean 2/7.
	if mean := sum / float64(len(a)); math.Abs(mean-100.0*2/7) > 3 {
		t.Errorf("unexpected mean risk %v", mean)
	}
}
