package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/apriori"
	"github.com/opensource-finance/kestrel/internal/basket"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ledger"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// RuleReport is the outcome of mining one basket selection.
type RuleReport struct {
	Rules []domain.AssociationRule `json:"rules"`

	// TotalRules counts rules before truncation to the requested top N.
	TotalRules     int  `json:"totalRules"`
	Itemsets       int  `json:"itemsets"`
	Invoices       int  `json:"invoices"`
	Items          int  `json:"items"`
	SourceInvoices int  `json:"sourceInvoices"`
	Lines          int  `json:"lines"`
	Sampled        bool `json:"sampled"`
}

// RecommendationReport bundles cross-sell suggestions for one product
// with their bundle grade, revenue impact and timing.
type RecommendationReport struct {
	Source          domain.Product           `json:"source"`
	Customer        *domain.CustomerProfile  `json:"customer,omitempty"`
	Recommendations []domain.Recommendation  `json:"recommendations"`
	Bundle          domain.BundleOpportunity `json:"bundle"`
	Impact          domain.RevenueImpact     `json:"impact"`
	Timing          domain.TimingStrategy    `json:"timing"`
}

// MineRules builds the basket matrix for the selected lines, mines
// frequent itemsets and returns the ranked rules. No rule clearing the
// thresholds yields an empty list, not an error.
func (s *Service) MineRules(ctx context.Context, dataset string, req MineRequest) (*RuleReport, error) {
	ctx, span := startSpan(ctx, "analytics.rules", dataset)
	defer span.End()

	req = s.mineDefaults(req)
	if req.Screen != "" {
		if err := s.screener.Validate(req.Screen); err != nil {
			return nil, spanError(span, fmt.Errorf("%w: screen: %v", ErrInvalidRequest, err))
		}
	}

	t, err := s.Table(ctx, dataset)
	if err != nil {
		return nil, spanError(span, err)
	}

	filter := ledger.Filter{Window: req.Window, Country: req.Country}
	if req.Segment != "" {
		_, seg, err := s.Segments(ctx, dataset, req.Window)
		if err != nil {
			return nil, spanError(span, err)
		}
		filter.Customers = seg.Customers(req.Segment)
		filter.RequireCustomer = true
	}

	report, err := cached(ctx, s, "rules", dataset, t.Version(), req, func(ctx context.Context) (*RuleReport, error) {
		bopts := basket.Options{
			VocabularySize: s.cfg.VocabularySize,
			MaxInvoices:    s.cfg.MaxBasketInvoices,
			MaxCells:       s.cfg.MaxMatrixCells,
		}
		if req.Source != "" {
			bopts.Force = []string{req.Source}
		}
		r, err := s.mine(ctx, t.Select(filter), bopts, apriori.Options{
			MinSupport:    req.MinSupport,
			MaxLength:     req.MaxLength,
			MaxCandidates: s.cfg.MaxCandidates,
		}, req.MinConfidence)
		if err != nil {
			return nil, err
		}

		if req.Source != "" {
			r.Rules = rules.FromSource(r.Rules, req.Source)
		}
		if r.Rules, err = s.screener.Filter(ctx, req.Screen, r.Rules); err != nil {
			return nil, err
		}
		r.TotalRules = len(r.Rules)
		r.Rules = rules.Top(r.Rules, req.TopN)
		if r.Rules == nil {
			r.Rules = []domain.AssociationRule{}
		}
		return r, nil
	})
	if err != nil {
		return nil, spanError(span, err)
	}

	span.SetAttributes(
		attribute.Int("rules", len(report.Rules)),
		attribute.Int("invoices", report.Invoices),
		attribute.Bool("sampled", report.Sampled),
	)
	return report, nil
}

func (s *Service) mineDefaults(req MineRequest) MineRequest {
	if req.MinSupport == 0 {
		req.MinSupport = s.cfg.DefaultMinSupport
	}
	if req.MinConfidence == 0 {
		req.MinConfidence = s.cfg.DefaultMinConf
	}
	if req.MaxLength == 0 {
		req.MaxLength = s.cfg.DefaultMaxLength
	}
	if req.TopN == 0 {
		req.TopN = s.cfg.DefaultTopN
	}
	return req
}

func (s *Service) mine(ctx context.Context, lines []domain.TransactionLine, bopts basket.Options, aopts apriori.Options, minConf float64) (*RuleReport, error) {
	m, err := basket.Build(lines, bopts)
	if errors.Is(err, domain.ErrEmptyBasket) {
		return &RuleReport{Rules: []domain.AssociationRule{}, Lines: len(lines)}, nil
	}
	if err != nil {
		return nil, err
	}
	itemsets, err := apriori.Mine(ctx, m, aopts)
	if err != nil {
		return nil, err
	}
	ruleset := rules.Generate(itemsets, rules.Options{MinConfidence: minConf})
	return &RuleReport{
		Rules:          ruleset,
		TotalRules:     len(ruleset),
		Itemsets:       len(itemsets),
		Invoices:       m.Rows(),
		Items:          m.Cols(),
		SourceInvoices: m.SourceInvoices,
		Lines:          m.Lines,
		Sampled:        m.Sampled,
	}, nil
}

// Recommend suggests products bought together with the requested one,
// mining pairs over the most recent invoices.
func (s *Service) Recommend(ctx context.Context, dataset string, p RecommendParams) (*RecommendationReport, error) {
	ctx, span := startSpan(ctx, "analytics.recommend", dataset)
	defer span.End()

	t, err := s.Table(ctx, dataset)
	if err != nil {
		return nil, spanError(span, err)
	}

	source, ok := findProduct(t, p.Product)
	if !ok {
		return nil, spanError(span, fmt.Errorf("%w: %q", ErrUnknownProduct, p.Product))
	}
	span.SetAttributes(attribute.String("stock_code", source.StockCode))

	if p.MinSupport == 0 {
		p.MinSupport = s.cfg.RecommendMinSupp
	}
	if p.MinConfidence == 0 {
		p.MinConfidence = s.cfg.DefaultMinConf
	}
	if p.TopN == 0 {
		p.TopN = 5
	}

	report, err := cached(ctx, s, "recommend", dataset, t.Version(), p, func(ctx context.Context) (*RecommendationReport, error) {
		mined, err := s.mine(ctx, t.Lines(), basket.Options{
			VocabularySize: s.cfg.RecommendVocab,
			Force:          []string{source.StockCode},
			MaxInvoices:    s.cfg.RecommendInvoices,
			MaxCells:       s.cfg.MaxMatrixCells,
		}, apriori.Options{
			MinSupport:    p.MinSupport,
			MaxLength:     2,
			MaxCandidates: s.cfg.MaxCandidates,
		}, p.MinConfidence)
		if err != nil {
			return nil, err
		}

		recs := rules.Recommend(rules.FromSource(mined.Rules, source.StockCode), t, p.TopN)
		r := &RecommendationReport{
			Source:          source,
			Recommendations: recs,
			Bundle:          rules.AssessBundle(source.Description, recs),
			Impact:          rules.EstimateImpact(recs, averageBasket(t.Lines())),
		}
		tier := ""
		if p.CustomerID != "" {
			if profile, ok := t.CustomerProfile(p.CustomerID); ok {
				r.Customer = &profile
				tier = profile.ValueTier
			}
		}
		r.Timing = Timing(t.Lines(), tier)
		return r, nil
	})
	if err != nil {
		return nil, spanError(span, err)
	}
	span.SetAttributes(attribute.Int("recommendations", len(report.Recommendations)))
	return report, nil
}

// TopBundles mines rules without a source filter and prices each one.
func (s *Service) TopBundles(ctx context.Context, dataset string, p BundleParams) ([]domain.Bundle, error) {
	report, err := s.MineRules(ctx, dataset, MineRequest{
		MinSupport:    p.MinSupport,
		MinConfidence: p.MinConfidence,
		TopN:          p.TopN,
	})
	if err != nil {
		return nil, err
	}
	t, err := s.Table(ctx, dataset)
	if err != nil {
		return nil, err
	}
	return rules.Bundles(report.Rules, t, report.Lines), nil
}

// findProduct resolves query as a stock code first, then as a
// description fragment.
func findProduct(t *ledger.Table, query string) (domain.Product, bool) {
	q := strings.TrimSpace(query)
	if q == "" {
		return domain.Product{}, false
	}
	if p, ok := t.Product(q); ok {
		return p, true
	}
	if p, ok := t.Product(strings.ToUpper(q)); ok {
		return p, true
	}
	if found := t.SearchProducts(q, 1); len(found) > 0 {
		return found[0], true
	}
	return domain.Product{}, false
}

// averageBasket returns the mean invoice revenue over valid sale lines.
func averageBasket(lines []domain.TransactionLine) float64 {
	totals := make(map[string]float64)
	for _, l := range lines {
		if l.IsReturn() || !l.IsValid() {
			continue
		}
		totals[l.InvoiceID] += l.Revenue()
	}
	if len(totals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range totals {
		sum += v
	}
	return sum / float64(len(totals))
}

var quarterNames = [4]string{"Q1", "Q2", "Q3", "Q4 (Holiday Season)"}

// Timing picks the quarter with the highest sales revenue and a target
// profile for the customer's value tier.
func Timing(lines []domain.TransactionLine, valueTier string) domain.TimingStrategy {
	var (
		revenue [4]float64
		seen    bool
	)
	for _, l := range lines {
		if l.IsReturn() || !l.IsValid() {
			continue
		}
		revenue[quarter(l.InvoiceTime)] += l.Revenue()
		seen = true
	}

	var profile string
	switch valueTier {
	case "High-value":
		profile = "premium gift-oriented customers"
	case "Medium-value":
		profile = "regular customers looking for value bundles"
	default:
		profile = "price-sensitive customers during promotional periods"
	}

	if !seen {
		return domain.TimingStrategy{
			PeakQuarter:   "N/A",
			TargetProfile: profile,
			Message:       "Unable to determine optimal timing",
		}
	}

	peak := 0
	for q := 1; q < 4; q++ {
		if revenue[q] > revenue[peak] {
			peak = q
		}
	}
	return domain.TimingStrategy{
		PeakQuarter:   quarterNames[peak],
		TargetProfile: profile,
		Message: fmt.Sprintf("Deploy recommendations during %s for maximum effectiveness with %s.",
			quarterNames[peak], profile),
	}
}

func quarter(t time.Time) int {
	return (int(t.Month()) - 1) / 3
}
