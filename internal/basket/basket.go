// Package basket turns transaction lines into an invoice × item presence
// matrix for itemset mining.
package basket

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Options tunes Build.
type Options struct {
	// VocabularySize keeps the N stock codes present in the most invoices.
	// Zero keeps every stock code.
	VocabularySize int

	// Force adds stock codes to the vocabulary regardless of rank.
	Force []string

	// MaxInvoices keeps only the most recent invoices. Zero keeps all.
	MaxInvoices int

	// MaxCells fails the build when invoices × items exceeds it. Zero
	// disables the check.
	MaxCells int
}

// Matrix is a boolean invoice × item presence matrix stored column-wise.
type Matrix struct {
	invoices []string
	items    []string
	columns  []Bitset

	// Sampled is true when MaxInvoices dropped older invoices.
	Sampled bool

	// SourceInvoices counts invoices before vocabulary and sampling.
	SourceInvoices int

	// Lines counts the sale lines of the kept invoices.
	Lines int
}

// Rows returns the number of invoices.
func (m *Matrix) Rows() int { return len(m.invoices) }

// Cols returns the number of items.
func (m *Matrix) Cols() int { return len(m.items) }

// Items returns the sorted stock codes of the columns.
func (m *Matrix) Items() []string { return append([]string(nil), m.items...) }

// Item returns the stock code of column j.
func (m *Matrix) Item(j int) string { return m.items[j] }

// Invoices returns the invoice ids of the rows, oldest first.
func (m *Matrix) Invoices() []string { return append([]string(nil), m.invoices...) }

// Column returns the presence bitset of item j. Callers must not modify it.
func (m *Matrix) Column(j int) Bitset { return m.columns[j] }

// Contains reports whether invoice row i holds item column j.
func (m *Matrix) Contains(i, j int) bool { return m.columns[j].Has(i) }

type invoiceAgg struct {
	id    string
	last  time.Time
	qty   map[string]int
	lines int
}

// Build constructs the basket matrix from sale lines. Returns and invalid
// lines are ignored. An item is present in an invoice when its summed
// quantity there is positive.
func Build(lines []domain.TransactionLine, opts Options) (*Matrix, error) {
	invoices := make(map[string]*invoiceAgg)
	for _, l := range lines {
		if l.IsReturn() || !l.IsValid() {
			continue
		}
		inv, ok := invoices[l.InvoiceID]
		if !ok {
			inv = &invoiceAgg{id: l.InvoiceID, qty: make(map[string]int)}
			invoices[l.InvoiceID] = inv
		}
		inv.qty[l.StockCode] += l.Quantity
		inv.lines++
		if l.InvoiceTime.After(inv.last) {
			inv.last = l.InvoiceTime
		}
	}

	vocab := vocabulary(invoices, opts.VocabularySize, opts.Force)

	kept := make([]*invoiceAgg, 0, len(invoices))
	for _, inv := range invoices {
		for code, q := range inv.qty {
			if _, ok := vocab[code]; ok && q > 0 {
				kept = append(kept, inv)
				break
			}
		}
	}

	// Most recent first for sampling.
	sort.Slice(kept, func(i, j int) bool {
		if !kept[i].last.Equal(kept[j].last) {
			return kept[i].last.After(kept[j].last)
		}
		return kept[i].id > kept[j].id
	})
	m := &Matrix{SourceInvoices: len(invoices)}
	if opts.MaxInvoices > 0 && len(kept) > opts.MaxInvoices {
		kept = kept[:opts.MaxInvoices]
		m.Sampled = true
	}
	// Rows run oldest first.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	present := make(map[string]struct{}, len(vocab))
	for _, inv := range kept {
		for code, q := range inv.qty {
			if _, ok := vocab[code]; ok && q > 0 {
				present[code] = struct{}{}
			}
		}
	}
	items := make([]string, 0, len(present))
	for code := range present {
		items = append(items, code)
	}
	sort.Strings(items)

	if len(kept) < 2 || len(items) < 2 {
		return nil, fmt.Errorf("%w: %d invoices and %d items after filtering",
			domain.ErrEmptyBasket, len(kept), len(items))
	}
	if opts.MaxCells > 0 && len(kept)*len(items) > opts.MaxCells {
		return nil, fmt.Errorf("%w: basket matrix %d×%d exceeds %d cells",
			domain.ErrCapacityExceeded, len(kept), len(items), opts.MaxCells)
	}

	col := make(map[string]int, len(items))
	m.items = items
	m.columns = make([]Bitset, len(items))
	for j, code := range items {
		col[code] = j
		m.columns[j] = NewBitset(len(kept))
	}
	m.invoices = make([]string, len(kept))
	for i, inv := range kept {
		m.invoices[i] = inv.id
		m.Lines += inv.lines
		for code, q := range inv.qty {
			if j, ok := col[code]; ok && q > 0 {
				m.columns[j].Set(i)
			}
		}
	}
	return m, nil
}

// vocabulary returns the top n stock codes by distinct invoice count, ties
// broken by code, plus the forced codes.
func vocabulary(invoices map[string]*invoiceAgg, n int, force []string) map[string]struct{} {
	counts := make(map[string]int)
	for _, inv := range invoices {
		for code, q := range inv.qty {
			if q > 0 {
				counts[code]++
			}
		}
	}

	codes := make([]string, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		if counts[codes[i]] != counts[codes[j]] {
			return counts[codes[i]] > counts[codes[j]]
		}
		return codes[i] < codes[j]
	})
	if n > 0 && len(codes) > n {
		codes = codes[:n]
	}

	vocab := make(map[string]struct{}, len(codes)+len(force))
	for _, code := range codes {
		vocab[code] = struct{}{}
	}
	for _, code := range force {
		if _, ok := counts[code]; ok {
			vocab[code] = struct{}{}
		}
	}
	return vocab
}
