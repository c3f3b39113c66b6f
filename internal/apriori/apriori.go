// Package apriori mines frequent itemsets from a basket matrix with the
// level-wise Apriori algorithm.
package apriori

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/basket"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrInvalidSupport is returned for a minimum support outside (0,1].
var ErrInvalidSupport = errors.New("min support must be in (0,1]")

// Options tunes Mine.
type Options struct {
	MinSupport float64

	// MaxLength caps itemset size. Zero means unbounded.
	MaxLength int

	// MaxCandidates fails mining once this many candidates have been
	// generated across all levels. Zero disables the check.
	MaxCandidates int
}

type frequent struct {
	items []int
	bits  basket.Bitset
	count int
}

// Mine returns every itemset whose support is at least MinSupport, ordered
// by size and then lexicographically by stock code. An empty result is not
// an error.
func Mine(ctx context.Context, m *basket.Matrix, opts Options) ([]domain.ItemSet, error) {
	if opts.MinSupport <= 0 || opts.MinSupport > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidSupport, opts.MinSupport)
	}

	n := m.Rows()
	if n == 0 {
		return nil, nil
	}
	isFrequent := func(count int) bool {
		return float64(count)/float64(n) >= opts.MinSupport
	}

	var level []frequent
	for j := 0; j < m.Cols(); j++ {
		col := m.Column(j)
		if c := col.Count(); isFrequent(c) {
			level = append(level, frequent{items: []int{j}, bits: col, count: c})
		}
	}

	out := collect(m, level, n, nil)
	candidates := 0
	for k := 2; len(level) > 1 && (opts.MaxLength <= 0 || k <= opts.MaxLength); k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		known := make(map[string]struct{}, len(level))
		for _, f := range level {
			known[key(f.items)] = struct{}{}
		}

		var next []frequent
		for a := 0; a < len(level); a++ {
			for b := a + 1; b < len(level); b++ {
				if !samePrefix(level[a].items, level[b].items) {
					// Level is sorted, so no later b shares a's prefix.
					break
				}
				cand := make([]int, k)
				copy(cand, level[a].items)
				cand[k-1] = level[b].items[k-2]

				candidates++
				if opts.MaxCandidates > 0 && candidates > opts.MaxCandidates {
					return nil, fmt.Errorf("%w: more than %d candidate itemsets",
						domain.ErrCapacityExceeded, opts.MaxCandidates)
				}
				if candidates%1024 == 0 {
					if err := ctx.Err(); err != nil {
						return nil, err
					}
				}

				if !closed(cand, known) {
					continue
				}
				bits := basket.NewBitset(n)
				c := level[a].bits.AndInto(bits, m.Column(cand[k-1]))
				if isFrequent(c) {
					next = append(next, frequent{items: cand, bits: bits, count: c})
				}
			}
		}
		out = collect(m, next, n, out)
		level = next
	}
	return out, nil
}

func collect(m *basket.Matrix, level []frequent, n int, out []domain.ItemSet) []domain.ItemSet {
	for _, f := range level {
		items := make([]string, len(f.items))
		for i, j := range f.items {
			items[i] = m.Item(j)
		}
		out = append(out, domain.ItemSet{
			Items:   items,
			Support: float64(f.count) / float64(n),
			Count:   f.count,
		})
	}
	return out
}

// samePrefix reports whether a and b agree on all but their last item.
func samePrefix(a, b []int) bool {
	for i := 0; i < len(a)-1; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// closed reports whether every (k-1)-subset of cand is frequent. The two
// subsets dropping one of the last two items are the joined parents and
// are skipped.
func closed(cand []int, known map[string]struct{}) bool {
	sub := make([]int, 0, len(cand)-1)
	for drop := 0; drop < len(cand)-2; drop++ {
		sub = sub[:0]
		sub = append(sub, cand[:drop]...)
		sub = append(sub, cand[drop+1:]...)
		if _, ok := known[key(sub)]; !ok {
			return false
		}
	}
	return true
}

func key(items []int) string {
	buf := make([]byte, 0, len(items)*4)
	for i, v := range items {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendInt(buf, int64(v), 10)
	}
	return string(buf)
}
