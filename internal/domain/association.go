package domain

import "strings"

// ItemSet is a frequent set of stock codes. Items are sorted.
type ItemSet struct {
	Items   []string `json:"items"`
	Support float64  `json:"support"`
	Count   int      `json:"count"`
}

// Key returns a stable identifier for the item set.
func (s ItemSet) Key() string {
	return ItemKey(s.Items)
}

// ItemKey joins sorted stock codes into a map key.
func ItemKey(items []string) string {
	return strings.Join(items, "\x1f")
}

// AssociationRule is an implication Antecedent ⇒ Consequent between
// disjoint item sets.
type AssociationRule struct {
	Antecedent        []string `json:"antecedent"`
	Consequent        []string `json:"consequent"`
	Support           float64  `json:"support"`
	AntecedentSupport float64  `json:"antecedentSupport"`
	ConsequentSupport float64  `json:"consequentSupport"`
	Confidence        float64  `json:"confidence"`
	Lift              float64  `json:"lift"`
	Leverage          float64  `json:"leverage"`
}

// Score returns confidence × lift, the primary ranking key.
func (r AssociationRule) Score() float64 {
	return r.Confidence * r.Lift
}

// HasAntecedent reports whether item is part of the antecedent.
func (r AssociationRule) HasAntecedent(item string) bool {
	for _, a := range r.Antecedent {
		if a == item {
			return true
		}
	}
	return false
}

// Product is a catalog entry derived from the ledger.
type Product struct {
	StockCode     string  `json:"stockCode"`
	Description   string  `json:"description"`
	AvgUnitPrice  float64 `json:"avgUnitPrice"`
	AvgLineValue  float64 `json:"avgLineValue"`
	Invoices      int     `json:"invoices"`
	Lines         int     `json:"lines"`
	TotalQuantity int     `json:"totalQuantity"`
	TotalRevenue  float64 `json:"totalRevenue"`
}

// Recommendation is one cross-sell suggestion for a source item.
type Recommendation struct {
	Rank           int     `json:"rank"`
	StockCode      string  `json:"stockCode"`
	Description    string  `json:"description"`
	Support        float64 `json:"support"`
	Confidence     float64 `json:"confidence"`
	Lift           float64 `json:"lift"`
	ExpectedImpact float64 `json:"expectedImpact"`
	Reason         string  `json:"reason"`
}

// BundleStrength grades a set of recommendations.
type BundleStrength string

// Bundle strengths.
const (
	BundleStrong   BundleStrength = "Strong"
	BundleModerate BundleStrength = "Moderate"
	BundleWeak     BundleStrength = "Weak"
)

// BundleOpportunity grades how well recommendations bundle with their source.
type BundleOpportunity struct {
	Strength          BundleStrength `json:"strength"`
	Message           string         `json:"message"`
	SuggestedProducts []string       `json:"suggestedProducts"`
}

// RevenueImpact estimates the basket uplift of acting on recommendations.
type RevenueImpact struct {
	MinPercent      float64 `json:"minPercent"`
	MaxPercent      float64 `json:"maxPercent"`
	AvgBasketValue  float64 `json:"avgBasketValue"`
	EstimatedUplift float64 `json:"estimatedUplift"`
	Message         string  `json:"message"`
}

// TimingStrategy suggests when to surface recommendations.
type TimingStrategy struct {
	PeakQuarter   string `json:"peakQuarter"`
	TargetProfile string `json:"targetProfile"`
	Message       string `json:"message"`
}

// Bundle pairs a mined rule with its expected revenue.
type Bundle struct {
	Rule            AssociationRule `json:"rule"`
	ExpectedRevenue float64         `json:"expectedRevenue"`
}
