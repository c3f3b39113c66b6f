// Package segment assigns RFM rows to heuristic customer segments.
package segment

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Breakpoints are the batch quartiles of one metric.
type Breakpoints struct {
	Q25 float64 `json:"q25"`
	Q50 float64 `json:"q50"`
	Q75 float64 `json:"q75"`
}

func breakpoints(values []float64) Breakpoints {
	sorted := stats.Sorted(values)
	return Breakpoints{
		Q25: stats.Quantile(sorted, 0.25),
		Q50: stats.Quantile(sorted, 0.50),
		Q75: stats.Quantile(sorted, 0.75),
	}
}

// Thresholds holds the breakpoints of a batch.
type Thresholds struct {
	Recency   Breakpoints `json:"recency"`
	Frequency Breakpoints `json:"frequency"`
	Monetary  Breakpoints `json:"monetary"`
}

// NewThresholds computes quartile breakpoints over rows.
func NewThresholds(rows []domain.CustomerRFM) Thresholds {
	r := make([]float64, len(rows))
	f := make([]float64, len(rows))
	m := make([]float64, len(rows))
	for i, row := range rows {
		r[i] = float64(row.RecencyDays)
		f[i] = float64(row.Frequency)
		m[i] = row.Monetary
	}
	return Thresholds{
		Recency:   breakpoints(r),
		Frequency: breakpoints(f),
		Monetary:  breakpoints(m),
	}
}

// Assign returns the first segment whose rule matches row.
func (t Thresholds) Assign(row domain.CustomerRFM) domain.Segment {
	r := float64(row.RecencyDays)
	f := float64(row.Frequency)
	m := row.Monetary

	switch {
	case r <= t.Recency.Q25 && f >= t.Frequency.Q75 && m >= t.Monetary.Q75:
		return domain.SegmentChampions
	case r <= t.Recency.Q50 && f >= t.Frequency.Q50:
		return domain.SegmentLoyal
	case r >= t.Recency.Q75 && f <= t.Frequency.Q25:
		return domain.SegmentAtRisk
	case r >= t.Recency.Q50 && f <= t.Frequency.Q50:
		return domain.SegmentHibernating
	default:
		return domain.SegmentRegulars
	}
}

// Result is the outcome of classifying a batch.
type Result struct {
	Thresholds  Thresholds                 `json:"thresholds"`
	Assignments []domain.SegmentAssignment `json:"assignments"`
	Summaries   []domain.SegmentSummary    `json:"summaries"`
}

// Customers returns the customer ids assigned to s.
func (r Result) Customers(s domain.Segment) map[string]struct{} {
	out := make(map[string]struct{})
	for _, a := range r.Assignments {
		if a.Segment == s {
			out[a.CustomerID] = struct{}{}
		}
	}
	return out
}

// Classify assigns every row to exactly one segment and summarizes each
// non-empty segment in priority order. Breakpoints are computed once for
// the batch.
func Classify(rows []domain.CustomerRFM) Result {
	if len(rows) == 0 {
		return Result{}
	}

	t := NewThresholds(rows)
	res := Result{
		Thresholds:  t,
		Assignments: make([]domain.SegmentAssignment, len(rows)),
	}

	type acc struct {
		n       int
		r, f, m float64
	}
	accs := make(map[domain.Segment]*acc, len(domain.Segments))
	for i, row := range rows {
		s := t.Assign(row)
		res.Assignments[i] = domain.SegmentAssignment{CustomerID: row.CustomerID, Segment: s}

		a, ok := accs[s]
		if !ok {
			a = &acc{}
			accs[s] = a
		}
		a.n++
		a.r += float64(row.RecencyDays)
		a.f += float64(row.Frequency)
		a.m += row.Monetary
	}

	for _, s := range domain.Segments {
		a, ok := accs[s]
		if !ok {
			continue
		}
		n := float64(a.n)
		p := Playbook(s)
		res.Summaries = append(res.Summaries, domain.SegmentSummary{
			Segment:         s,
			CustomerCount:   a.n,
			TotalMonetary:   a.m,
			MeanRecency:     a.r / n,
			MeanFrequency:   a.f / n,
			MeanMonetary:    a.m / n,
			Characteristics: p.Characteristics,
			Actions:         append([]string(nil), p.Actions...),
		})
	}
	return res
}
