package risk

import (
	"fmt"
	"math/rand/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Sample draws up to n positive sale lines without replacement using a
// generator seeded with seed, and scores each as an order. The same lines
// and seed always produce the same sample.
func Sample(lines []domain.TransactionLine, s *Scorer, n int, seed uint64) []domain.ScoredOrder {
	idx := make([]int, 0, len(lines))
	for i, l := range lines {
		if !l.IsReturn() && l.IsValid() {
			idx = append(idx, i)
		}
	}
	if n <= 0 || n > len(idx) {
		n = len(idx)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	// Partial Fisher-Yates: the first n positions are the sample.
	for i := 0; i < n; i++ {
		j := i + rng.IntN(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
	}

	out := make([]domain.ScoredOrder, n)
	for i := 0; i < n; i++ {
		l := lines[idx[i]]
		score := s.Score(domain.Order{
			CustomerID: l.CustomerID,
			StockCode:  l.StockCode,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
		})
		out[i] = domain.ScoredOrder{Revenue: l.Revenue(), Risk: score.Score}
	}
	return out
}

var bucketEdges = []float64{0, 20, 40, 60, 80, 100}

// Distribute summarizes risk scores in five 20-point buckets. The last
// bucket includes 100.
func Distribute(scores []float64) (domain.RiskDistribution, error) {
	if len(scores) == 0 {
		return domain.RiskDistribution{}, domain.ErrEmptySample
	}

	buckets := make([]domain.RiskBucket, len(bucketEdges)-1)
	for i := range buckets {
		lo, hi := bucketEdges[i], bucketEdges[i+1]
		buckets[i] = domain.RiskBucket{
			Label: fmt.Sprintf("%.0f-%.0f", lo, hi),
			Low:   lo,
			High:  hi,
		}
	}
	last := len(buckets) - 1
	for _, v := range scores {
		for i, b := range buckets {
			if v >= b.Low && (v < b.High || (i == last && v <= b.High)) {
				buckets[i].Count++
				break
			}
		}
	}

	return domain.RiskDistribution{
		Buckets: buckets,
		Mean:    stats.Mean(scores),
		Median:  stats.Median(scores),
		StdDev:  stats.StdDev(scores),
		Samples: len(scores),
	}, nil
}

// Scores extracts the risk column of a sample.
func Scores(orders []domain.ScoredOrder) []float64 {
	out := make([]float64, len(orders))
	for i, o := range orders {
		out[i] = o.Risk
	}
	return out
}
