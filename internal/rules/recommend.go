package rules

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Catalog looks up product details by stock code.
type Catalog interface {
	Product(code string) (domain.Product, bool)
}

// Recommendation reasons.
const (
	ReasonStrong      = "Strong association - frequently bought together"
	ReasonConfident   = "High confidence - customers who buy this often buy that"
	ReasonOpportunity = "Good cross-sell opportunity"
)

// Recommend expands ranked rules into one recommendation per consequent
// item, skipping items already recommended or missing from the catalog,
// until topN recommendations are collected.
func Recommend(ranked []domain.AssociationRule, catalog Catalog, topN int) []domain.Recommendation {
	var (
		out  []domain.Recommendation
		seen = make(map[string]struct{})
	)
	for _, r := range ranked {
		for _, code := range r.Consequent {
			if topN > 0 && len(out) >= topN {
				return out
			}
			if _, dup := seen[code]; dup {
				continue
			}
			p, ok := catalog.Product(code)
			if !ok {
				continue
			}
			seen[code] = struct{}{}
			out = append(out, domain.Recommendation{
				Rank:           len(out) + 1,
				StockCode:      code,
				Description:    p.Description,
				Support:        r.Support,
				Confidence:     r.Confidence,
				Lift:           r.Lift,
				ExpectedImpact: r.Confidence * p.AvgUnitPrice * r.Support * 1000,
				Reason:         reason(r),
			})
		}
	}
	return out
}

func reason(r domain.AssociationRule) string {
	switch {
	case r.Lift > 3:
		return ReasonStrong
	case r.Confidence > 0.7:
		return ReasonConfident
	default:
		return ReasonOpportunity
	}
}

// AssessBundle grades recommendations for a source product. Two or more
// items with lift above 3 and confidence above 0.6 make a strong bundle;
// any two recommendations make a moderate one.
func AssessBundle(source string, recs []domain.Recommendation) domain.BundleOpportunity {
	if len(recs) == 0 {
		return domain.BundleOpportunity{
			Strength: domain.BundleWeak,
			Message:  "Insufficient data for bundle analysis",
		}
	}

	var strong []string
	for _, r := range recs {
		if r.Lift > 3 && r.Confidence > 0.6 {
			strong = append(strong, r.Description)
		}
	}

	switch {
	case len(strong) >= 2:
		if len(strong) > 3 {
			strong = strong[:3]
		}
		return domain.BundleOpportunity{
			Strength:          domain.BundleStrong,
			SuggestedProducts: strong,
			Message: fmt.Sprintf("Product '%s' has strong associations with %s. Create gift bundles or themed packages.",
				source, strings.Join(strong, ", ")),
		}
	case len(recs) >= 2:
		products := []string{recs[0].Description, recs[1].Description}
		return domain.BundleOpportunity{
			Strength:          domain.BundleModerate,
			SuggestedProducts: products,
			Message: fmt.Sprintf("Product '%s' shows moderate association with %s. Consider promotional bundling.",
				source, strings.Join(products, ", ")),
		}
	default:
		return domain.BundleOpportunity{
			Strength: domain.BundleWeak,
			Message:  "Weak bundle signal. Focus on individual cross-sells.",
		}
	}
}

// EstimateImpact projects the basket uplift of recommendations given the
// mean basket value.
func EstimateImpact(recs []domain.Recommendation, avgBasket float64) domain.RevenueImpact {
	if len(recs) == 0 {
		return domain.RevenueImpact{
			AvgBasketValue: avgBasket,
			Message:        "No recommendations available for impact analysis",
		}
	}

	var conf, lift float64
	for _, r := range recs {
		conf += r.Confidence
		lift += r.Lift
	}
	conf /= float64(len(recs))
	lift /= float64(len(recs))

	minPct := domain.Round(conf*10, 1)
	maxPct := domain.Round((conf+lift/10)*15, 1)
	return domain.RevenueImpact{
		MinPercent:      minPct,
		MaxPercent:      maxPct,
		AvgBasketValue:  avgBasket,
		EstimatedUplift: avgBasket * (minPct + maxPct) / 200,
		Message: fmt.Sprintf("Implementing these recommendations could increase basket size by %.1f-%.1f%%.",
			minPct, maxPct),
	}
}

// Bundles attaches an expected revenue to each rule: the pooled mean line
// revenue of its consequent items × confidence × support × lines.
func Bundles(ranked []domain.AssociationRule, catalog Catalog, lines int) []domain.Bundle {
	out := make([]domain.Bundle, 0, len(ranked))
	for _, r := range ranked {
		var revenue float64
		var count int
		for _, code := range r.Consequent {
			if p, ok := catalog.Product(code); ok {
				revenue += p.TotalRevenue
				count += p.Lines
			}
		}
		var mean float64
		if count > 0 {
			mean = revenue / float64(count)
		}
		out = append(out, domain.Bundle{
			Rule:            r,
			ExpectedRevenue: mean * r.Confidence * r.Support * float64(lines),
		})
	}
	return out
}
