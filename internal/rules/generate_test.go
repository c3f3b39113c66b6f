package rules

import (
	"math"
	"reflect"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestGenerate(t *testing.T) {
	itemsets := []domain.ItemSet{
		{Items: []string{"A"}, Support: 0.8},
		{Items: []string{"B"}, Support: 0.6},
		{Items: []string{"A", "B"}, Support: 0.5},
	}

	rules := Generate(itemsets, Options{MinConfidence: 0})
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}

	var ab *domain.AssociationRule
	for i := range rules {
		if reflect.DeepEqual(rules[i].Antecedent, []string{"A"}) {
			ab = &rules[i]
		}
	}
	if ab == nil {
		t.Fatal("expected rule A => B")
	}
	if !approx(ab.Confidence, 0.625) {
		t.Errorf("expected confidence 0.625, got %v", ab.Confidence)
	}
	if !approx(ab.Lift, 0.625/0.6) {
		t.Errorf("expected lift %.4f, got %v", 0.625/0.6, ab.Lift)
	}
	if !approx(ab.Leverage, 0.5-0.8*0.6) {
		t.Errorf("unexpected leverage %v", ab.Leverage)
	}

	for _, r := range rules {
		if r.Confidence <= 0 || r.Confidence > 1 {
			t.Errorf("confidence out of range: %v", r.Confidence)
		}
		for _, a := range r.Antecedent {
			for _, c := range r.Consequent {
				if a == c {
					t.Errorf("antecedent and consequent overlap on %s", a)
				}
			}
		}
	}
}

func TestGenerateMinConfidence(t *testing.T) {
	itemsets := []domain.ItemSet{
		{Items: []string{"A"}, Support: 0.8},
		{Items: []string{"B"}, Support: 0.6},
		{Items: []string{"A", "B"}, Support: 0.5},
	}

	rules := Generate(itemsets, Options{MinConfidence: 0.7})
	if len(rules) != 1 {
		t.Fatalf("expected only B => A to clear 0.7, got %d rules", len(rules))
	}
	if rules[0].Antecedent[0] != "B" {
		t.Errorf("expected B => A, got %v => %v", rules[0].Antecedent, rules[0].Consequent)
	}
}

func TestGenerateAllSplits(t *testing.T) {
	itemsets := []domain.ItemSet{
		{Items: []string{"A"}, Support: 0.9},
		{Items: []string{"B"}, Support: 0.8},
		{Items: []string{"C"}, Support: 0.7},
		{Items: []string{"A", "B"}, Support: 0.6},
		{Items: []string{"A", "C"}, Support: 0.6},
		{Items: []string{"B", "C"}, Support: 0.5},
		{Items: []string{"A", "B", "C"}, Support: 0.4},
	}

	rules := Generate(itemsets, Options{})
	// 3 pairs × 2 directions + 6 proper splits of the triple.
	if len(rules) != 12 {
		t.Errorf("expected 12 rules, got %d", len(rules))
	}
}

func TestRank(t *testing.T) {
	rules := []domain.AssociationRule{
		{Antecedent: []string{"A"}, Consequent: []string{"B"}, Confidence: 0.5, Lift: 2, Support: 0.1},
		{Antecedent: []string{"C"}, Consequent: []string{"D"}, Confidence: 0.25, Lift: 4, Support: 0.1},
		{Antecedent: []string{"E"}, Consequent: []string{"F"}, Confidence: 0.25, Lift: 4, Support: 0.3},
		{Antecedent: []string{"G"}, Consequent: []string{"H"}, Confidence: 0.9, Lift: 3, Support: 0.05},
	}
	Rank(rules)

	// G: 2.7; E, C: 1.0 tie on score and lift, E has higher support; A: 1.0 with lower lift.
	want := []string{"G", "E", "C", "A"}
	for i, w := range want {
		if rules[i].Antecedent[0] != w {
			t.Errorf("position %d: got %s, want %s", i, rules[i].Antecedent[0], w)
		}
	}
}

func TestFromSourceAndTop(t *testing.T) {
	rules := []domain.AssociationRule{
		{Antecedent: []string{"A"}, Consequent: []string{"B"}},
		{Antecedent: []string{"B"}, Consequent: []string{"A"}},
		{Antecedent: []string{"A", "C"}, Consequent: []string{"D"}},
		{Antecedent: []string{"C"}, Consequent: []string{"A"}},
	}

	got := FromSource(rules, "A")
	if len(got) != 2 {
		t.Fatalf("expected 2 rules with A in the antecedent, got %d", len(got))
	}
	for _, r := range got {
		if !r.HasAntecedent("A") {
			t.Errorf("rule %v does not contain A", r.Antecedent)
		}
	}

	if n := len(Top(rules, 3)); n != 3 {
		t.Errorf("expected 3 rules, got %d", n)
	}
	if n := len(Top(rules, 0)); n != 4 {
		t.Errorf("expected all rules for n=0, got %d", n)
	}
}
