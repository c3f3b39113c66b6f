// Package risk scores prospective orders for return risk from the
// historical return behavior of their customer and product.
package risk

import (
	"log/slog"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// entity tracks the distinct invoices an entity appears on and which of
// them were returns or cancellations.
type entity struct {
	invoices map[string]struct{}
	returned map[string]struct{}
}

func (e *entity) add(invoice string, isReturn bool) {
	e.invoices[invoice] = struct{}{}
	if isReturn {
		e.returned[invoice] = struct{}{}
	}
}

func (e *entity) rate() float64 {
	if len(e.invoices) == 0 {
		return 0
	}
	return 100 * float64(len(e.returned)) / float64(len(e.invoices))
}

// History is the return profile of a transaction ledger. It is immutable
// once built and safe for concurrent use.
type History struct {
	customers map[string]*entity
	products  map[string]*entity

	positiveLines int
	meanQuantity  float64
	meanValue     float64
}

// NewHistory indexes lines, including returns and cancellations.
func NewHistory(lines []domain.TransactionLine) *History {
	h := &History{
		customers: make(map[string]*entity),
		products:  make(map[string]*entity),
	}

	var qty, value float64
	for _, l := range lines {
		ret := l.IsReturn()
		if l.HasCustomer() {
			track(h.customers, l.CustomerID).add(l.InvoiceID, ret)
		}
		if l.StockCode != "" {
			track(h.products, l.StockCode).add(l.InvoiceID, ret)
		}
		if !ret && l.IsValid() {
			h.positiveLines++
			qty += float64(l.Quantity)
			value += l.Revenue()
		}
	}
	if h.positiveLines > 0 {
		h.meanQuantity = qty / float64(h.positiveLines)
		h.meanValue = value / float64(h.positiveLines)
	}
	return h
}

func track(m map[string]*entity, key string) *entity {
	e, ok := m[key]
	if !ok {
		e = &entity{
			invoices: make(map[string]struct{}),
			returned: make(map[string]struct{}),
		}
		m[key] = e
	}
	return e
}

// CustomerRate returns the customer's return rate in percent and whether
// the customer appears in the history.
func (h *History) CustomerRate(id string) (float64, bool) {
	e, ok := h.customers[id]
	if !ok {
		return 0, false
	}
	return e.rate(), true
}

// ProductRate returns the product's return rate in percent and whether the
// product appears in the history.
func (h *History) ProductRate(code string) (float64, bool) {
	e, ok := h.products[code]
	if !ok {
		return 0, false
	}
	return e.rate(), true
}

// MeanQuantity is the mean quantity of positive sale lines.
func (h *History) MeanQuantity() float64 { return h.meanQuantity }

// MeanValue is the mean revenue of positive sale lines.
func (h *History) MeanValue() float64 { return h.meanValue }

// Scorer computes RiskScores against a History.
type Scorer struct {
	history *History
	cfg     domain.RiskConfig
}

// NewScorer creates a scorer. Zero weights, default rates and neutral
// score in cfg fall back to the defaults.
func NewScorer(history *History, cfg domain.RiskConfig) *Scorer {
	def := domain.DefaultAnalyticsConfig().Risk
	if cfg.CustomerWeight == 0 && cfg.ProductWeight == 0 && cfg.QuantityWeight == 0 && cfg.ValueWeight == 0 {
		cfg.CustomerWeight = def.CustomerWeight
		cfg.ProductWeight = def.ProductWeight
		cfg.QuantityWeight = def.QuantityWeight
		cfg.ValueWeight = def.ValueWeight
	}
	if cfg.DefaultCustomer == 0 {
		cfg.DefaultCustomer = def.DefaultCustomer
	}
	if cfg.DefaultProduct == 0 {
		cfg.DefaultProduct = def.DefaultProduct
	}
	if cfg.NeutralScore == 0 {
		cfg.NeutralScore = def.NeutralScore
	}
	return &Scorer{history: history, cfg: cfg}
}

// Score never fails: unseen customers and products take the configured
// default rates, and an empty history yields the neutral score.
func (s *Scorer) Score(o domain.Order) domain.RiskScore {
	h := s.history
	if h.positiveLines == 0 {
		return domain.RiskScore{
			Score: s.cfg.NeutralScore,
			Level: domain.LevelFor(s.cfg.NeutralScore),
		}
	}

	out := domain.RiskScore{}
	var ok bool
	if out.CustomerRate, ok = h.CustomerRate(o.CustomerID); ok {
		out.CustomerObserved = true
	} else {
		out.CustomerRate = s.cfg.DefaultCustomer
		slog.Debug("unseen customer, using default return rate",
			"customer_id", o.CustomerID,
			"rate", s.cfg.DefaultCustomer,
		)
	}
	if out.ProductRate, ok = h.ProductRate(o.StockCode); ok {
		out.ProductObserved = true
	} else {
		out.ProductRate = s.cfg.DefaultProduct
		slog.Debug("unseen product, using default return rate",
			"stock_code", o.StockCode,
			"rate", s.cfg.DefaultProduct,
		)
	}

	out.QuantityAnomaly = clamp(30 * float64(o.Quantity) / h.meanQuantity)
	out.ValueAnomaly = clamp(50 * math.Abs(o.Value()-h.meanValue) / h.meanValue)

	out.Score = clamp(s.cfg.CustomerWeight*out.CustomerRate +
		s.cfg.ProductWeight*out.ProductRate +
		s.cfg.QuantityWeight*out.QuantityAnomaly +
		s.cfg.ValueWeight*out.ValueAnomaly)
	out.Level = domain.LevelFor(out.Score)
	return out
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
