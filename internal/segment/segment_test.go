package segment

import (
	"fmt"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestAssign(t *testing.T) {
	th := Thresholds{
		Recency:   Breakpoints{Q25: 5, Q50: 20, Q75: 60},
		Frequency: Breakpoints{Q25: 1, Q50: 3, Q75: 8},
		Monetary:  Breakpoints{Q25: 100, Q50: 500, Q75: 3000},
	}

	tests := []struct {
		name string
		row  domain.CustomerRFM
		want domain.Segment
	}{
		{"champion", domain.CustomerRFM{RecencyDays: 3, Frequency: 10, Monetary: 5000}, domain.SegmentChampions},
		{"recent frequent low spender is loyal", domain.CustomerRFM{RecencyDays: 3, Frequency: 10, Monetary: 50}, domain.SegmentLoyal},
		{"loyal", domain.CustomerRFM{RecencyDays: 15, Frequency: 4, Monetary: 400}, domain.SegmentLoyal},
		{"at risk", domain.CustomerRFM{RecencyDays: 90, Frequency: 1, Monetary: 80}, domain.SegmentAtRisk},
		{"hibernating", domain.CustomerRFM{RecencyDays: 30, Frequency: 2, Monetary: 200}, domain.SegmentHibernating},
		{"regular", domain.CustomerRFM{RecencyDays: 40, Frequency: 5, Monetary: 900}, domain.SegmentRegulars},
		{"ties resolve by priority", domain.CustomerRFM{RecencyDays: 20, Frequency: 3, Monetary: 500}, domain.SegmentLoyal},
		{"at risk wins over hibernating", domain.CustomerRFM{RecencyDays: 60, Frequency: 1, Monetary: 500}, domain.SegmentAtRisk},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := th.Assign(tt.row); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func batch() []domain.CustomerRFM {
	rows := make([]domain.CustomerRFM, 0, 20)
	for i := 0; i < 20; i++ {
		rows = append(rows, domain.CustomerRFM{
			CustomerID:  fmt.Sprintf("C%02d", i),
			RecencyDays: 1 + (i*37)%120,
			Frequency:   1 + (i*7)%11,
			Monetary:    float64(50 + (i*131)%2000),
		})
	}
	return rows
}

func TestClassify(t *testing.T) {
	rows := batch()
	res := Classify(rows)

	t.Run("Totality", func(t *testing.T) {
		if len(res.Assignments) != len(rows) {
			t.Fatalf("expected %d assignments, got %d", len(rows), len(res.Assignments))
		}
		seen := make(map[string]bool)
		for _, a := range res.Assignments {
			if seen[a.CustomerID] {
				t.Errorf("customer %s assigned twice", a.CustomerID)
			}
			seen[a.CustomerID] = true
			if !a.Segment.Valid() {
				t.Errorf("customer %s has unknown segment %q", a.CustomerID, a.Segment)
			}
		}

		total := 0
		for _, s := range res.Summaries {
			total += s.CustomerCount
		}
		if total != len(rows) {
			t.Errorf("summary counts sum to %d, want %d", total, len(rows))
		}
	})

	t.Run("SummaryOrderAndActions", func(t *testing.T) {
		last := -1
		for _, s := range res.Summaries {
			idx := -1
			for i, known := range domain.Segments {
				if known == s.Segment {
					idx = i
				}
			}
			if idx <= last {
				t.Errorf("summaries out of priority order at %s", s.Segment)
			}
			last = idx
			if len(s.Actions) == 0 || s.Characteristics == "" {
				t.Errorf("segment %s missing playbook", s.Segment)
			}
		}
	})

	t.Run("SummaryMeans", func(t *testing.T) {
		for _, s := range res.Summaries {
			members := res.Customers(s.Segment)
			var sum float64
			for _, r := range rows {
				if _, ok := members[r.CustomerID]; ok {
					sum += r.Monetary
				}
			}
			if sum != s.TotalMonetary {
				t.Errorf("%s: total monetary %.2f, want %.2f", s.Segment, s.TotalMonetary, sum)
			}
			if got := s.TotalMonetary / float64(s.CustomerCount); got != s.MeanMonetary {
				t.Errorf("%s: mean monetary %.2f, want %.2f", s.Segment, s.MeanMonetary, got)
			}
		}
	})
}

func TestClassifyEmpty(t *testing.T) {
	res := Classify(nil)
	if len(res.Assignments) != 0 || len(res.Summaries) != 0 {
		t.Error("expected empty result for empty input")
	}
}
