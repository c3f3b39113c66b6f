// Package rules derives, ranks and screens association rules from frequent
// itemsets and turns them into cross-sell recommendations.
package rules

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Options tunes Generate.
type Options struct {
	MinConfidence float64
}

// Generate derives every rule A ⇒ C from the non-empty proper splits of
// each frequent itemset of size two or more, keeps those whose confidence
// reaches MinConfidence and returns them ranked.
func Generate(itemsets []domain.ItemSet, opts Options) []domain.AssociationRule {
	support := make(map[string]float64, len(itemsets))
	for _, s := range itemsets {
		support[s.Key()] = s.Support
	}

	var out []domain.AssociationRule
	for _, s := range itemsets {
		n := len(s.Items)
		if n < 2 {
			continue
		}
		full := uint64(1)<<uint(n) - 1
		for mask := uint64(1); mask < full; mask++ {
			ant := make([]string, 0, n)
			cons := make([]string, 0, n)
			for i, item := range s.Items {
				if mask&(1<<uint(i)) != 0 {
					ant = append(ant, item)
				} else {
					cons = append(cons, item)
				}
			}

			supA, okA := support[domain.ItemKey(ant)]
			supC, okC := support[domain.ItemKey(cons)]
			if !okA || !okC || supA == 0 || supC == 0 {
				continue
			}
			conf := s.Support / supA
			if conf < opts.MinConfidence {
				continue
			}
			out = append(out, domain.AssociationRule{
				Antecedent:        ant,
				Consequent:        cons,
				Support:           s.Support,
				AntecedentSupport: supA,
				ConsequentSupport: supC,
				Confidence:        conf,
				Lift:              conf / supC,
				Leverage:          s.Support - supA*supC,
			})
		}
	}
	Rank(out)
	return out
}

// Rank orders rules by score, then lift, then support, all descending.
// Remaining ties are broken by antecedent and consequent codes.
func Rank(rules []domain.AssociationRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if sa, sb := a.Score(), b.Score(); sa != sb {
			return sa > sb
		}
		if a.Lift != b.Lift {
			return a.Lift > b.Lift
		}
		if a.Support != b.Support {
			return a.Support > b.Support
		}
		if ka, kb := domain.ItemKey(a.Antecedent), domain.ItemKey(b.Antecedent); ka != kb {
			return ka < kb
		}
		return domain.ItemKey(a.Consequent) < domain.ItemKey(b.Consequent)
	})
}

// FromSource keeps the rules whose antecedent contains item, preserving
// their order.
func FromSource(rules []domain.AssociationRule, item string) []domain.AssociationRule {
	var out []domain.AssociationRule
	for _, r := range rules {
		if r.HasAntecedent(item) {
			out = append(out, r)
		}
	}
	return out
}

// Top truncates rules to the first n. n <= 0 keeps all.
func Top(rules []domain.AssociationRule, n int) []domain.AssociationRule {
	if n > 0 && len(rules) > n {
		return rules[:n]
	}
	return rules
}
