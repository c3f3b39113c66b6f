package rules

import (
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type mapCatalog map[string]domain.Product

func (m mapCatalog) Product(code string) (domain.Product, bool) {
	p, ok := m[code]
	return p, ok
}

func testCatalog() mapCatalog {
	return mapCatalog{
		"B": {StockCode: "B", Description: "Blue Mug", AvgUnitPrice: 2, Lines: 4, TotalRevenue: 40},
		"C": {StockCode: "C", Description: "Candle", AvgUnitPrice: 5, Lines: 2, TotalRevenue: 10},
		"D": {StockCode: "D", Description: "Doormat", AvgUnitPrice: 8, Lines: 1, TotalRevenue: 8},
	}
}

func TestRecommend(t *testing.T) {
	ranked := []domain.AssociationRule{
		{Antecedent: []string{"A"}, Consequent: []string{"B"}, Support: 0.1, Confidence: 0.8, Lift: 4},
		{Antecedent: []string{"A"}, Consequent: []string{"B", "C"}, Support: 0.05, Confidence: 0.75, Lift: 2},
		{Antecedent: []string{"A"}, Consequent: []string{"X"}, Support: 0.05, Confidence: 0.5, Lift: 2},
		{Antecedent: []string{"A"}, Consequent: []string{"D"}, Support: 0.02, Confidence: 0.3, Lift: 1.5},
	}

	recs := Recommend(ranked, testCatalog(), 10)
	if len(recs) != 3 {
		t.Fatalf("expected 3 recommendations, got %d", len(recs))
	}

	wantCodes := []string{"B", "C", "D"}
	wantReasons := []string{ReasonStrong, ReasonConfident, ReasonOpportunity}
	for i, r := range recs {
		if r.Rank != i+1 {
			t.Errorf("rec %d: rank %d", i, r.Rank)
		}
		if r.StockCode != wantCodes[i] {
			t.Errorf("rec %d: got %s, want %s", i, r.StockCode, wantCodes[i])
		}
		if r.Reason != wantReasons[i] {
			t.Errorf("rec %d: got reason %q", i, r.Reason)
		}
	}

	// 0.8 × 2 × 0.1 × 1000
	if math.Abs(recs[0].ExpectedImpact-160) > 1e-9 {
		t.Errorf("expected impact 160, got %v", recs[0].ExpectedImpact)
	}

	if got := Recommend(ranked, testCatalog(), 1); len(got) != 1 {
		t.Errorf("expected topN to cap at 1, got %d", len(got))
	}
}

func TestAssessBundle(t *testing.T) {
	tests := []struct {
		name string
		recs []domain.Recommendation
		want domain.BundleStrength
	}{
		{"empty", nil, domain.BundleWeak},
		{"single", []domain.Recommendation{{Description: "x", Lift: 5, Confidence: 0.9}}, domain.BundleWeak},
		{
			"strong",
			[]domain.Recommendation{
				{Description: "x", Lift: 5, Confidence: 0.9},
				{Description: "y", Lift: 3.5, Confidence: 0.7},
			},
			domain.BundleStrong,
		},
		{
			"moderate",
			[]domain.Recommendation{
				{Description: "x", Lift: 5, Confidence: 0.9},
				{Description: "y", Lift: 1.5, Confidence: 0.7},
			},
			domain.BundleModerate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssessBundle("Source", tt.recs)
			if got.Strength != tt.want {
				t.Errorf("got %s, want %s", got.Strength, tt.want)
			}
			if got.Message == "" {
				t.Error("expected a message")
			}
			if tt.want != domain.BundleWeak && len(got.SuggestedProducts) != 2 {
				t.Errorf("expected 2 suggested products, got %v", got.SuggestedProducts)
			}
		})
	}
}

func TestEstimateImpact(t *testing.T) {
	recs := []domain.Recommendation{
		{Confidence: 0.5, Lift: 2},
		{Confidence: 0.7, Lift: 4},
	}

	got := EstimateImpact(recs, 100)
	// conf 0.6, lift 3: min 6.0, max (0.6+0.3)×15 = 13.5
	if got.MinPercent != 6 {
		t.Errorf("expected min 6, got %v", got.MinPercent)
	}
	if got.MaxPercent != 13.5 {
		t.Errorf("expected max 13.5, got %v", got.MaxPercent)
	}
	if math.Abs(got.EstimatedUplift-9.75) > 1e-9 {
		t.Errorf("expected uplift 9.75, got %v", got.EstimatedUplift)
	}

	empty := EstimateImpact(nil, 100)
	if empty.MinPercent != 0 || empty.Message == "" {
		t.Errorf("unexpected empty impact: %+v", empty)
	}
}

func TestBundles(t *testing.T) {
	ranked := []domain.AssociationRule{
		{Antecedent: []string{"A"}, Consequent: []string{"B", "C"}, Support: 0.1, Confidence: 0.5},
		{Antecedent: []string{"A"}, Consequent: []string{"X"}, Support: 0.1, Confidence: 0.5},
	}

	got := Bundles(ranked, testCatalog(), 100)
	if len(got) != 2 {
		t.Fatalf("expected 2 bundles, got %d", len(got))
	}
	// pooled mean (40+10)/(4+2) × 0.5 × 0.1 × 100
	want := 50.0 / 6 * 0.5 * 0.1 * 100
	if math.Abs(got[0].ExpectedRevenue-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, got[0].ExpectedRevenue)
	}
	if got[1].ExpectedRevenue != 0 {
		t.Errorf("expected 0 for unknown consequent, got %v", got[1].ExpectedRevenue)
	}
}
