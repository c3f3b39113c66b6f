package policy

import (
	"math/rand/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ModeledSample pairs each revenue with a risk drawn from Beta(2,5)×100.
// The draw is deterministic for a given seed.
func ModeledSample(revenues []float64, seed uint64) []domain.ScoredOrder {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]domain.ScoredOrder, len(revenues))
	for i, r := range revenues {
		out[i] = domain.ScoredOrder{Revenue: r, Risk: 100 * beta(rng, 2, 5)}
	}
	return out
}

// beta draws from Beta(a,b) for integer shapes as Gamma(a)/(Gamma(a)+Gamma(b)),
// each gamma a sum of unit exponentials.
func beta(rng *rand.Rand, a, b int) float64 {
	x := gamma(rng, a)
	y := gamma(rng, b)
	return x / (x + y)
}

func gamma(rng *rand.Rand, k int) float64 {
	var s float64
	for i := 0; i < k; i++ {
		s += rng.ExpFloat64()
	}
	return s
}

// Revenues extracts the revenue column of a sample.
func Revenues(orders []domain.ScoredOrder) []float64 {
	out := make([]float64, len(orders))
	for i, o := range orders {
		out[i] = o.Revenue
	}
	return out
}
