package analytics

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rfm"
	"github.com/opensource-finance/kestrel/internal/segment"
)

// Report views render analytic results at the service boundary: money,
// percentages and scores with two decimals, rule metrics with four.

// RFMRow is one customer's RFM values.
type RFMRow struct {
	CustomerID  string        `json:"customerId"`
	RecencyDays int           `json:"recencyDays"`
	Frequency   int           `json:"frequency"`
	Monetary    domain.Fixed2 `json:"monetary"`
	RScore      int           `json:"rScore"`
	FScore      int           `json:"fScore"`
	MScore      int           `json:"mScore"`
	Score       int           `json:"rfmScore"`
	Code        string        `json:"rfmCode"`
}

// RFMSummary averages an RFM batch.
type RFMSummary struct {
	Customers    int           `json:"customers"`
	AvgRecency   domain.Fixed2 `json:"avgRecency"`
	AvgFrequency domain.Fixed2 `json:"avgFrequency"`
	AvgMonetary  domain.Fixed2 `json:"avgMonetary"`
}

// RFMReport is the response of an RFM run.
type RFMReport struct {
	Summary   RFMSummary `json:"summary"`
	Customers []RFMRow   `json:"customers"`
}

// NewRFMReport renders rows.
func NewRFMReport(rows []domain.CustomerRFM) RFMReport {
	sum := rfm.Summarize(rows)
	out := RFMReport{
		Summary: RFMSummary{
			Customers:    sum.Customers,
			AvgRecency:   domain.Fixed2(sum.AvgRecency),
			AvgFrequency: domain.Fixed2(sum.AvgFrequency),
			AvgMonetary:  domain.Fixed2(sum.AvgMonetary),
		},
		Customers: make([]RFMRow, len(rows)),
	}
	for i, r := range rows {
		out.Customers[i] = RFMRow{
			CustomerID:  r.CustomerID,
			RecencyDays: r.RecencyDays,
			Frequency:   r.Frequency,
			Monetary:    domain.Fixed2(r.Monetary),
			RScore:      r.RScore,
			FScore:      r.FScore,
			MScore:      r.MScore,
			Score:       r.Score(),
			Code:        r.Code(),
		}
	}
	return out
}

// SegmentView summarizes one segment.
type SegmentView struct {
	Segment         domain.Segment `json:"segment"`
	CustomerCount   int            `json:"customerCount"`
	Share           domain.Fixed2  `json:"sharePercent"`
	TotalMonetary   domain.Fixed2  `json:"totalMonetary"`
	MeanRecency     domain.Fixed2  `json:"meanRecency"`
	MeanFrequency   domain.Fixed2  `json:"meanFrequency"`
	MeanMonetary    domain.Fixed2  `json:"meanMonetary"`
	Characteristics string         `json:"characteristics"`
	Actions         []string       `json:"actions"`
}

// SegmentReport is the response of a segmentation run.
type SegmentReport struct {
	Customers   int                        `json:"customers"`
	Thresholds  segment.Thresholds         `json:"thresholds"`
	Segments    []SegmentView              `json:"segments"`
	Assignments []domain.SegmentAssignment `json:"assignments"`
}

// NewSegmentReport renders a classification.
func NewSegmentReport(res segment.Result) SegmentReport {
	out := SegmentReport{
		Customers:   len(res.Assignments),
		Thresholds:  res.Thresholds,
		Segments:    make([]SegmentView, len(res.Summaries)),
		Assignments: res.Assignments,
	}
	for i, s := range res.Summaries {
		var share float64
		if out.Customers > 0 {
			share = 100 * float64(s.CustomerCount) / float64(out.Customers)
		}
		out.Segments[i] = SegmentView{
			Segment:         s.Segment,
			CustomerCount:   s.CustomerCount,
			Share:           domain.Fixed2(share),
			TotalMonetary:   domain.Fixed2(s.TotalMonetary),
			MeanRecency:     domain.Fixed2(s.MeanRecency),
			MeanFrequency:   domain.Fixed2(s.MeanFrequency),
			MeanMonetary:    domain.Fixed2(s.MeanMonetary),
			Characteristics: s.Characteristics,
			Actions:         s.Actions,
		}
	}
	return out
}

// RuleView is one association rule.
type RuleView struct {
	Antecedent      []string       `json:"antecedent"`
	Consequent      []string       `json:"consequent"`
	Support         domain.Fixed4  `json:"support"`
	Confidence      domain.Fixed4  `json:"confidence"`
	Lift            domain.Fixed4  `json:"lift"`
	Leverage        domain.Fixed4  `json:"leverage"`
	Score           domain.Fixed4  `json:"score"`
	ExpectedRevenue *domain.Fixed2 `json:"expectedRevenue,omitempty"`
}

func newRuleView(r domain.AssociationRule) RuleView {
	return RuleView{
		Antecedent: r.Antecedent,
		Consequent: r.Consequent,
		Support:    domain.Fixed4(r.Support),
		Confidence: domain.Fixed4(r.Confidence),
		Lift:       domain.Fixed4(r.Lift),
		Leverage:   domain.Fixed4(r.Leverage),
		Score:      domain.Fixed4(r.Score()),
	}
}

// RuleReportView is the response of a mining run.
type RuleReportView struct {
	Rules          []RuleView `json:"rules"`
	TotalRules     int        `json:"totalRules"`
	Itemsets       int        `json:"itemsets"`
	Invoices       int        `json:"invoices"`
	Items          int        `json:"items"`
	SourceInvoices int        `json:"sourceInvoices"`
	Sampled        bool       `json:"sampled"`
}

// NewRuleReportView renders a mining report.
func NewRuleReportView(r *RuleReport) RuleReportView {
	out := RuleReportView{
		Rules:          make([]RuleView, len(r.Rules)),
		TotalRules:     r.TotalRules,
		Itemsets:       r.Itemsets,
		Invoices:       r.Invoices,
		Items:          r.Items,
		SourceInvoices: r.SourceInvoices,
		Sampled:        r.Sampled,
	}
	for i, rule := range r.Rules {
		out.Rules[i] = newRuleView(rule)
	}
	return out
}

// NewBundleViews renders priced bundles.
func NewBundleViews(bundles []domain.Bundle) []RuleView {
	out := make([]RuleView, len(bundles))
	for i, b := range bundles {
		v := newRuleView(b.Rule)
		rev := domain.Fixed2(b.ExpectedRevenue)
		v.ExpectedRevenue = &rev
		out[i] = v
	}
	return out
}

// RecommendationView is one cross-sell suggestion.
type RecommendationView struct {
	Rank           int           `json:"rank"`
	StockCode      string        `json:"stockCode"`
	Description    string        `json:"description"`
	Support        domain.Fixed4 `json:"support"`
	Confidence     domain.Fixed4 `json:"confidence"`
	Lift           domain.Fixed4 `json:"lift"`
	ExpectedImpact domain.Fixed2 `json:"expectedImpact"`
	Reason         string        `json:"reason"`
}

// ImpactView is the revenue impact of a set of recommendations.
type ImpactView struct {
	MinPercent      domain.Fixed2 `json:"minPercent"`
	MaxPercent      domain.Fixed2 `json:"maxPercent"`
	AvgBasketValue  domain.Fixed2 `json:"avgBasketValue"`
	EstimatedUplift domain.Fixed2 `json:"estimatedUplift"`
	Message         string        `json:"message"`
}

// RecommendationReportView is the response of a cross-sell request.
type RecommendationReportView struct {
	Source struct {
		StockCode   string `json:"stockCode"`
		Description string `json:"description"`
	} `json:"source"`
	Customer        *domain.CustomerProfile  `json:"customer,omitempty"`
	Recommendations []RecommendationView     `json:"recommendations"`
	Bundle          domain.BundleOpportunity `json:"bundle"`
	Impact          ImpactView               `json:"impact"`
	Timing          domain.TimingStrategy    `json:"timing"`
	Total           int                      `json:"totalRecommendations"`
}

// NewRecommendationReportView renders a cross-sell report.
func NewRecommendationReportView(r *RecommendationReport) RecommendationReportView {
	var out RecommendationReportView
	out.Source.StockCode = r.Source.StockCode
	out.Source.Description = r.Source.Description
	out.Customer = r.Customer
	out.Bundle = r.Bundle
	out.Timing = r.Timing
	out.Total = len(r.Recommendations)
	out.Impact = ImpactView{
		MinPercent:      domain.Fixed2(r.Impact.MinPercent),
		MaxPercent:      domain.Fixed2(r.Impact.MaxPercent),
		AvgBasketValue:  domain.Fixed2(r.Impact.AvgBasketValue),
		EstimatedUplift: domain.Fixed2(r.Impact.EstimatedUplift),
		Message:         r.Impact.Message,
	}
	out.Recommendations = make([]RecommendationView, len(r.Recommendations))
	for i, rec := range r.Recommendations {
		out.Recommendations[i] = RecommendationView{
			Rank:           rec.Rank,
			StockCode:      rec.StockCode,
			Description:    rec.Description,
			Support:        domain.Fixed4(rec.Support),
			Confidence:     domain.Fixed4(rec.Confidence),
			Lift:           domain.Fixed4(rec.Lift),
			ExpectedImpact: domain.Fixed2(rec.ExpectedImpact),
			Reason:         rec.Reason,
		}
	}
	return out
}

// RiskScoreView is a scored order.
type RiskScoreView struct {
	Score            domain.Fixed2    `json:"riskScore"`
	Level            domain.RiskLevel `json:"riskLevel"`
	CustomerRate     domain.Fixed2    `json:"customerReturnRate"`
	ProductRate      domain.Fixed2    `json:"productReturnRate"`
	QuantityAnomaly  domain.Fixed2    `json:"quantityAnomaly"`
	ValueAnomaly     domain.Fixed2    `json:"valueAnomaly"`
	CustomerObserved bool             `json:"customerObserved"`
	ProductObserved  bool             `json:"productObserved"`
}

// NewRiskScoreView renders a risk score.
func NewRiskScoreView(s domain.RiskScore) RiskScoreView {
	return RiskScoreView{
		Score:            domain.Fixed2(s.Score),
		Level:            s.Level,
		CustomerRate:     domain.Fixed2(s.CustomerRate),
		ProductRate:      domain.Fixed2(s.ProductRate),
		QuantityAnomaly:  domain.Fixed2(s.QuantityAnomaly),
		ValueAnomaly:     domain.Fixed2(s.ValueAnomaly),
		CustomerObserved: s.CustomerObserved,
		ProductObserved:  s.ProductObserved,
	}
}

// DistributionView is a bucketed risk sample.
type DistributionView struct {
	Buckets []domain.RiskBucket `json:"buckets"`
	Mean    domain.Fixed2       `json:"mean"`
	Median  domain.Fixed2       `json:"median"`
	StdDev  domain.Fixed2       `json:"stdDev"`
	Samples int                 `json:"samples"`
}

// NewDistributionView renders a risk distribution.
func NewDistributionView(d domain.RiskDistribution) DistributionView {
	return DistributionView{
		Buckets: d.Buckets,
		Mean:    domain.Fixed2(d.Mean),
		Median:  domain.Fixed2(d.Median),
		StdDev:  domain.Fixed2(d.StdDev),
		Samples: d.Samples,
	}
}

// CandidateView is one evaluated threshold.
type CandidateView struct {
	Tau            domain.Fixed2 `json:"tau"`
	ExpectedProfit domain.Fixed2 `json:"expectedProfit"`
	OrdersBlocked  int           `json:"ordersBlocked"`
	OrdersAllowed  int           `json:"ordersAllowed"`
}

func newCandidateView(c domain.PolicyCandidate) CandidateView {
	return CandidateView{
		Tau:            domain.Fixed2(c.Tau),
		ExpectedProfit: domain.Fixed2(c.ExpectedProfit),
		OrdersBlocked:  c.OrdersBlocked,
		OrdersAllowed:  c.OrdersAllowed,
	}
}

// PolicyView is the response of a policy optimization.
type PolicyView struct {
	Optimal    CandidateView   `json:"optimal"`
	Candidates []CandidateView `json:"candidates"`
	Refined    bool            `json:"refined"`
	Samples    int             `json:"samples"`
}

// NewPolicyView renders an optimal policy.
func NewPolicyView(p *domain.OptimalPolicy) PolicyView {
	out := PolicyView{
		Optimal:    newCandidateView(p.PolicyCandidate),
		Candidates: make([]CandidateView, len(p.Candidates)),
		Refined:    p.Refined,
		Samples:    p.Samples,
	}
	for i, c := range p.Candidates {
		out.Candidates[i] = newCandidateView(c)
	}
	return out
}

// SimulationView is the response of a policy simulation.
type SimulationView struct {
	CandidateView
	TotalOrders    int           `json:"totalOrders"`
	BlockedPercent domain.Fixed2 `json:"blockedPercent"`
	AvgRiskBlocked domain.Fixed2 `json:"avgRiskBlocked"`
	AvgRiskAllowed domain.Fixed2 `json:"avgRiskAllowed"`
	Recommendation string        `json:"recommendation"`
}

// NewSimulationView renders a policy simulation.
func NewSimulationView(s *domain.PolicySimulation) SimulationView {
	return SimulationView{
		CandidateView:  newCandidateView(s.PolicyCandidate),
		TotalOrders:    s.TotalOrders,
		BlockedPercent: domain.Fixed2(s.BlockedPercent),
		AvgRiskBlocked: domain.Fixed2(s.AvgRiskBlocked),
		AvgRiskAllowed: domain.Fixed2(s.AvgRiskAllowed),
		Recommendation: s.Recommendation,
	}
}
