package domain

import "fmt"

// CustomerRFM holds one customer's recency, frequency and monetary values
// with their quintile scores. Rows are recomputed per request.
type CustomerRFM struct {
	CustomerID  string  `json:"customerId"`
	RecencyDays int     `json:"recencyDays"`
	Frequency   int     `json:"frequency"`
	Monetary    float64 `json:"monetary"`
	RScore      int     `json:"rScore"`
	FScore      int     `json:"fScore"`
	MScore      int     `json:"mScore"`
}

// Score returns R+F+M.
func (c CustomerRFM) Score() int {
	return c.RScore + c.FScore + c.MScore
}

// Code returns the "R-F-M" score code.
func (c CustomerRFM) Code() string {
	return fmt.Sprintf("%d-%d-%d", c.RScore, c.FScore, c.MScore)
}

// Segment is a heuristic customer class.
type Segment string

// Segments in classification priority order.
const (
	SegmentChampions   Segment = "Champions"
	SegmentLoyal       Segment = "Loyal"
	SegmentAtRisk      Segment = "At-Risk"
	SegmentHibernating Segment = "Hibernating"
	SegmentRegulars    Segment = "Regulars"
)

// Segments lists every segment in classification priority order.
var Segments = []Segment{
	SegmentChampions,
	SegmentLoyal,
	SegmentAtRisk,
	SegmentHibernating,
	SegmentRegulars,
}

// Valid reports whether s is a known segment.
func (s Segment) Valid() bool {
	for _, v := range Segments {
		if v == s {
			return true
		}
	}
	return false
}

// SegmentAssignment maps a customer to its segment.
type SegmentAssignment struct {
	CustomerID string  `json:"customerId"`
	Segment    Segment `json:"segment"`
}

// SegmentSummary aggregates the customers of one segment.
type SegmentSummary struct {
	Segment         Segment  `json:"segment"`
	CustomerCount   int      `json:"customerCount"`
	TotalMonetary   float64  `json:"totalMonetary"`
	MeanRecency     float64  `json:"meanRecency"`
	MeanFrequency   float64  `json:"meanFrequency"`
	MeanMonetary    float64  `json:"meanMonetary"`
	Characteristics string   `json:"characteristics"`
	Actions         []string `json:"actions"`
}

// CustomerProfile summarizes one customer's purchase history.
type CustomerProfile struct {
	CustomerID    string   `json:"customerId"`
	Country       string   `json:"country"`
	Invoices      int      `json:"invoices"`
	TotalSpent    float64  `json:"totalSpent"`
	AvgOrderValue float64  `json:"avgOrderValue"`
	FirstPurchase string   `json:"firstPurchase"`
	LastPurchase  string   `json:"lastPurchase"`
	ValueTier     string   `json:"valueTier"`
	DistinctItems int      `json:"distinctItems"`
	TopStockCodes []string `json:"topStockCodes"`
}
