package domain

// Order is a prospective order line to score for return risk.
type Order struct {
	CustomerID string  `json:"customerId"`
	StockCode  string  `json:"stockCode"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unitPrice"`
}

// Value returns quantity × unit price.
func (o Order) Value() float64 {
	return float64(o.Quantity) * o.UnitPrice
}

// RiskLevel is a coarse risk band.
type RiskLevel string

// Risk levels.
const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// LevelFor maps a score in [0,100] to its band.
func LevelFor(score float64) RiskLevel {
	switch {
	case score < 33:
		return RiskLow
	case score < 67:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// RiskScore is the outcome of scoring one order.
type RiskScore struct {
	Score            float64   `json:"score"`
	Level            RiskLevel `json:"level"`
	CustomerRate     float64   `json:"customerRate"`
	ProductRate      float64   `json:"productRate"`
	QuantityAnomaly  float64   `json:"quantityAnomaly"`
	ValueAnomaly     float64   `json:"valueAnomaly"`
	CustomerObserved bool      `json:"customerObserved"`
	ProductObserved  bool      `json:"productObserved"`
}

// ScoredOrder is a historical or modeled order with its risk score.
type ScoredOrder struct {
	Revenue float64 `json:"revenue"`
	Risk    float64 `json:"risk"`
}

// PolicyCandidate is the evaluation of one blocking threshold.
type PolicyCandidate struct {
	Tau            float64 `json:"tau"`
	ExpectedProfit float64 `json:"expectedProfit"`
	OrdersBlocked  int     `json:"ordersBlocked"`
	OrdersAllowed  int     `json:"ordersAllowed"`
}

// OptimalPolicy is the profit-maximizing candidate plus the grid it was
// chosen from.
type OptimalPolicy struct {
	PolicyCandidate
	Candidates []PolicyCandidate `json:"candidates"`
	Refined    bool              `json:"refined"`
	Samples    int               `json:"samples"`
}

// PolicySimulation describes the outcome of applying one threshold.
type PolicySimulation struct {
	PolicyCandidate
	TotalOrders    int     `json:"totalOrders"`
	BlockedPercent float64 `json:"blockedPercent"`
	AvgRiskBlocked float64 `json:"avgRiskBlocked"`
	AvgRiskAllowed float64 `json:"avgRiskAllowed"`
	Recommendation string  `json:"recommendation"`
}

// RiskBucket counts scores in a half-open range [Low, High).
type RiskBucket struct {
	Label string  `json:"label"`
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int     `json:"count"`
}

// RiskDistribution summarizes a sample of risk scores.
type RiskDistribution struct {
	Buckets []RiskBucket `json:"buckets"`
	Mean    float64      `json:"mean"`
	Median  float64      `json:"median"`
	StdDev  float64      `json:"stdDev"`
	Samples int          `json:"samples"`
}
