package apriori

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"reflect"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/basket"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func matrix(t *testing.T, baskets map[string][]string) *basket.Matrix {
	t.Helper()
	var lines []domain.TransactionLine
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for inv, items := range baskets {
		for _, code := range items {
			lines = append(lines, domain.TransactionLine{
				InvoiceID: inv, StockCode: code, Quantity: 1, UnitPrice: 1, InvoiceTime: ts,
			})
		}
	}
	m, err := basket.Build(lines, basket.Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return m
}

func supports(sets []domain.ItemSet) map[string]float64 {
	out := make(map[string]float64, len(sets))
	for _, s := range sets {
		out[fmt.Sprint(s.Items)] = s.Support
	}
	return out
}

func TestMine(t *testing.T) {
	m := matrix(t, map[string][]string{
		"I1": {"A", "B"},
		"I2": {"A", "C"},
		"I3": {"A", "B", "C"},
	})

	sets, err := Mine(context.Background(), m, Options{MinSupport: 0.6})
	if err != nil {
		t.Fatalf("Mine failed: %v", err)
	}

	got := supports(sets)
	want := map[string]float64{
		"[A]":   1,
		"[B]":   2.0 / 3,
		"[C]":   2.0 / 3,
		"[A B]": 2.0 / 3,
		"[A C]": 2.0 / 3,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d itemsets, got %v", len(want), got)
	}
	for k, v := range want {
		if math.Abs(got[k]-v) > 1e-12 {
			t.Errorf("%s: support %v, want %v", k, got[k], v)
		}
	}
	if _, ok := got["[B C]"]; ok {
		t.Error("{B,C} is below min support")
	}

	t.Run("OrderedBySizeThenItems", func(t *testing.T) {
		order := make([]string, len(sets))
		for i, s := range sets {
			order[i] = fmt.Sprint(s.Items)
		}
		want := []string{"[A]", "[B]", "[C]", "[A B]", "[A C]"}
		if !reflect.DeepEqual(order, want) {
			t.Errorf("expected order %v, got %v", want, order)
		}
	})
}

func TestMineOptions(t *testing.T) {
	m := matrix(t, map[string][]string{
		"I1": {"A", "B"},
		"I2": {"A", "C"},
		"I3": {"A", "B", "C"},
	})
	ctx := context.Background()

	t.Run("MaxLength", func(t *testing.T) {
		sets, err := Mine(ctx, m, Options{MinSupport: 0.3, MaxLength: 2})
		if err != nil {
			t.Fatalf("Mine failed: %v", err)
		}
		for _, s := range sets {
			if len(s.Items) > 2 {
				t.Errorf("unexpected itemset %v", s.Items)
			}
		}
		unbounded, _ := Mine(ctx, m, Options{MinSupport: 0.3})
		if _, ok := supports(unbounded)["[A B C]"]; !ok {
			t.Error("expected {A,B,C} without a length cap")
		}
	})

	t.Run("InvalidSupport", func(t *testing.T) {
		for _, s := range []float64{0, -0.1, 1.5} {
			if _, err := Mine(ctx, m, Options{MinSupport: s}); !errors.Is(err, ErrInvalidSupport) {
				t.Errorf("support %v: expected ErrInvalidSupport, got %v", s, err)
			}
		}
	})

	t.Run("CandidateBudget", func(t *testing.T) {
		_, err := Mine(ctx, m, Options{MinSupport: 0.3, MaxCandidates: 1})
		if !errors.Is(err, domain.ErrCapacityExceeded) {
			t.Errorf("expected ErrCapacityExceeded, got %v", err)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := Mine(cctx, m, Options{MinSupport: 0.3}); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestMineEmptyResult(t *testing.T) {
	m := matrix(t, map[string][]string{
		"I1": {"A", "B"},
		"I2": {"C", "D"},
	})
	sets, err := Mine(context.Background(), m, Options{MinSupport: 1})
	if err != nil {
		t.Fatalf("empty result must not be an error: %v", err)
	}
	if len(sets) != 0 {
		t.Errorf("expected no itemsets, got %v", sets)
	}
}

// TestMineMatchesBruteForce checks soundness and completeness against an
// exhaustive enumeration on random baskets.
func TestMineMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	items := []string{"A", "B", "C", "D", "E", "F", "G"}

	baskets := make(map[string][]string)
	for i := 0; i < 60; i++ {
		var b []string
		for _, it := range items {
			if rng.Float64() < 0.45 {
				b = append(b, it)
			}
		}
		if len(b) == 0 {
			b = append(b, items[i%len(items)])
		}
		baskets[fmt.Sprintf("I%03d", i)] = b
	}
	m := matrix(t, baskets)

	const minSupport = 0.1
	sets, err := Mine(context.Background(), m, Options{MinSupport: minSupport})
	if err != nil {
		t.Fatalf("Mine failed: %v", err)
	}
	got := supports(sets)

	cols := m.Items()
	want := make(map[string]float64)
	for mask := 1; mask < 1<<len(cols); mask++ {
		var subset []string
		var idx []int
		for j := range cols {
			if mask&(1<<j) != 0 {
				subset = append(subset, cols[j])
				idx = append(idx, j)
			}
		}
		count := 0
		for r := 0; r < m.Rows(); r++ {
			all := true
			for _, j := range idx {
				if !m.Contains(r, j) {
					all = false
					break
				}
			}
			if all {
				count++
			}
		}
		if s := float64(count) / float64(m.Rows()); s >= minSupport {
			want[fmt.Sprint(subset)] = s
		}
	}

	if len(got) != len(want) {
		t.Fatalf("expected %d itemsets, got %d", len(want), len(got))
	}
	for k, v := range want {
		if g, ok := got[k]; !ok || math.Abs(g-v) > 1e-12 {
			t.Errorf("%s: got %v (present=%v), want %v", k, g, ok, v)
		}
	}

	again, _ := Mine(context.Background(), m, Options{MinSupport: minSupport})
	if !reflect.DeepEqual(sets, again) {
		t.Error("mining must be deterministic")
	}
}
