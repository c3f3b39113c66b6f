package analytics

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// WindowParams is an optional inclusive date range in YYYY-MM-DD form.
type WindowParams struct {
	StartDate string `json:"startDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// Window parses the range.
func (p WindowParams) Window() (domain.Window, error) {
	w, err := domain.NewWindow(p.StartDate, p.EndDate)
	if err != nil {
		return w, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !w.Start.IsZero() && !w.End.IsZero() && w.End.Before(w.Start) {
		return w, fmt.Errorf("%w: end date %s before start date %s", ErrInvalidRequest, p.EndDate, p.StartDate)
	}
	return w, nil
}

// RuleParams selects baskets and thresholds for rule mining. Zero
// thresholds fall back to the configured defaults.
type RuleParams struct {
	WindowParams
	Country       string  `json:"country,omitempty"`
	Segment       string  `json:"segment,omitempty"`
	MinSupport    float64 `json:"minSupport,omitempty" validate:"gte=0,lte=1"`
	MinConfidence float64 `json:"minConfidence,omitempty" validate:"gte=0,lte=1"`
	MaxLength     int     `json:"maxLength,omitempty" validate:"gte=0,lte=6"`
	TopN          int     `json:"topN,omitempty" validate:"gte=0,lte=1000"`
	Source        string  `json:"source,omitempty"`
	Screen        string  `json:"screen,omitempty"`
}

// MineRequest is the parsed form of RuleParams.
type MineRequest struct {
	Window        domain.Window
	Country       string
	Segment       domain.Segment
	MinSupport    float64
	MinConfidence float64
	MaxLength     int
	TopN          int
	Source        string
	Screen        string
}

// Request parses p.
func (p RuleParams) Request() (MineRequest, error) {
	w, err := p.Window()
	if err != nil {
		return MineRequest{}, err
	}
	seg := domain.Segment(p.Segment)
	if seg != "" && !seg.Valid() {
		return MineRequest{}, fmt.Errorf("%w: unknown segment %q", ErrInvalidRequest, p.Segment)
	}
	return MineRequest{
		Window:        w,
		Country:       p.Country,
		Segment:       seg,
		MinSupport:    p.MinSupport,
		MinConfidence: p.MinConfidence,
		MaxLength:     p.MaxLength,
		TopN:          p.TopN,
		Source:        p.Source,
		Screen:        p.Screen,
	}, nil
}

// RecommendParams asks for cross-sell suggestions for one product, given
// by stock code or a description fragment.
type RecommendParams struct {
	Product       string  `json:"product" validate:"required"`
	CustomerID    string  `json:"customerId,omitempty"`
	MinSupport    float64 `json:"minSupport,omitempty" validate:"gte=0,lte=1"`
	MinConfidence float64 `json:"minConfidence,omitempty" validate:"gte=0,lte=1"`
	TopN          int     `json:"topN,omitempty" validate:"gte=0,lte=100"`
}

// Order sample sources.
const (
	SampleHistorical = "historical"
	SampleModeled    = "modeled"
)

// SampleParams selects the order sample a policy is evaluated on. Zero
// values fall back to the configured sample size and seed.
type SampleParams struct {
	Source string  `json:"source,omitempty" validate:"omitempty,oneof=historical modeled"`
	Size   int     `json:"size,omitempty" validate:"gte=0"`
	Seed   *uint64 `json:"seed,omitempty"`
}

// PolicyParams overrides the cost model for one policy run.
type PolicyParams struct {
	SampleParams
	ReturnCost       *float64 `json:"returnCost,omitempty" validate:"omitempty,gte=0"`
	ConversionImpact *float64 `json:"conversionImpact,omitempty" validate:"omitempty,gte=0,lte=1"`
	CostRatio        *float64 `json:"costRatio,omitempty" validate:"omitempty,gte=0,lt=1"`

	// Tau is the threshold to simulate. Ignored by optimization.
	Tau *float64 `json:"tau,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// BundleParams tunes the top bundles listing.
type BundleParams struct {
	MinSupport    float64 `json:"minSupport,omitempty" validate:"gte=0,lte=1"`
	MinConfidence float64 `json:"minConfidence,omitempty" validate:"gte=0,lte=1"`
	TopN          int     `json:"topN,omitempty" validate:"gte=0,lte=100"`
}
