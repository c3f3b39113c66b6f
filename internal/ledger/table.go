// Package ledger holds the immutable transaction table, the loader
// strategies that produce it and the snapshot cache that shares it.
package ledger

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Table is an immutable snapshot of cleaned transaction lines.
// Accessors return copies; the backing slice is never exposed.
type Table struct {
	lines    []domain.TransactionLine
	version  string
	source   string
	loadedAt time.Time

	catalogOnce sync.Once
	catalog     map[string]domain.Product
}

// NewTable copies lines into a new table.
func NewTable(lines []domain.TransactionLine, version, source string, loadedAt time.Time) *Table {
	return &Table{
		lines:    slices.Clone(lines),
		version:  version,
		source:   source,
		loadedAt: loadedAt,
	}
}

// Len returns the number of lines.
func (t *Table) Len() int { return len(t.lines) }

// Version identifies the load that produced the table.
func (t *Table) Version() string { return t.version }

// Source names the loader strategy that produced the table.
func (t *Table) Source() string { return t.source }

// LoadedAt returns when the table was built.
func (t *Table) LoadedAt() time.Time { return t.loadedAt }

// Lines returns a copy of every line.
func (t *Table) Lines() []domain.TransactionLine {
	return slices.Clone(t.lines)
}

// Select returns a copy of the lines matching f.
func (t *Table) Select(f Filter) []domain.TransactionLine {
	out := make([]domain.TransactionLine, 0, len(t.lines)/2)
	for _, l := range t.lines {
		if f.Match(l) {
			out = append(out, l)
		}
	}
	return out
}

// Product returns the catalog entry for a stock code.
func (t *Table) Product(code string) (domain.Product, bool) {
	p, ok := t.products()[code]
	return p, ok
}

// SearchProducts returns catalog entries whose stock code or description
// contains query, case-insensitively, ordered by invoice count.
func (t *Table) SearchProducts(query string, limit int) []domain.Product {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []domain.Product
	for _, p := range t.products() {
		if q == "" ||
			strings.Contains(strings.ToLower(p.StockCode), q) ||
			strings.Contains(strings.ToLower(p.Description), q) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Invoices != out[j].Invoices {
			return out[i].Invoices > out[j].Invoices
		}
		return out[i].StockCode < out[j].StockCode
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// products builds the catalog from valid sale lines on first use.
func (t *Table) products() map[string]domain.Product {
	t.catalogOnce.Do(func() {
		type agg struct {
			desc     string
			price    float64
			value    float64
			lines    int
			qty      int
			invoices map[string]struct{}
		}
		aggs := make(map[string]*agg)
		for _, l := range t.lines {
			if l.IsReturn() || !l.IsValid() {
				continue
			}
			a, ok := aggs[l.StockCode]
			if !ok {
				a = &agg{desc: l.Description, invoices: make(map[string]struct{})}
				aggs[l.StockCode] = a
			}
			a.price += l.UnitPrice
			a.value += l.Revenue()
			a.lines++
			a.qty += l.Quantity
			a.invoices[l.InvoiceID] = struct{}{}
		}
		t.catalog = make(map[string]domain.Product, len(aggs))
		for code, a := range aggs {
			t.catalog[code] = domain.Product{
				StockCode:     code,
				Description:   a.desc,
				AvgUnitPrice:  a.price / float64(a.lines),
				AvgLineValue:  a.value / float64(a.lines),
				Invoices:      len(a.invoices),
				Lines:         a.lines,
				TotalQuantity: a.qty,
				TotalRevenue:  a.value,
			}
		}
	})
	return t.catalog
}

// CustomerProfile summarizes one customer's valid purchases.
func (t *Table) CustomerProfile(customerID string) (domain.CustomerProfile, bool) {
	var (
		p        = domain.CustomerProfile{CustomerID: customerID}
		invoices = make(map[string]struct{})
		items    = make(map[string]int)
		first    time.Time
		last     time.Time
	)
	for _, l := range t.lines {
		if l.CustomerID != customerID || l.IsReturn() || !l.IsValid() {
			continue
		}
		invoices[l.InvoiceID] = struct{}{}
		items[l.StockCode] += l.Quantity
		p.TotalSpent += l.Revenue()
		p.Country = l.Country
		if first.IsZero() || l.InvoiceTime.Before(first) {
			first = l.InvoiceTime
		}
		if l.InvoiceTime.After(last) {
			last = l.InvoiceTime
		}
	}
	if len(invoices) == 0 {
		return p, false
	}

	p.Invoices = len(invoices)
	p.AvgOrderValue = p.TotalSpent / float64(p.Invoices)
	p.FirstPurchase = first.Format(domain.DateLayout)
	p.LastPurchase = last.Format(domain.DateLayout)
	p.DistinctItems = len(items)
	p.ValueTier = valueTier(p.AvgOrderValue)

	codes := make([]string, 0, len(items))
	for code := range items {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		if items[codes[i]] != items[codes[j]] {
			return items[codes[i]] > items[codes[j]]
		}
		return codes[i] < codes[j]
	})
	if len(codes) > 5 {
		codes = codes[:5]
	}
	p.TopStockCodes = codes
	return p, true
}

func valueTier(aov float64) string {
	switch {
	case aov > 500:
		return "High-value"
	case aov > 200:
		return "Medium-value"
	default:
		return "Low-value"
	}
}

// Filter selects lines from a table. The zero value keeps every valid sale.
type Filter struct {
	Window  domain.Window
	Country string

	// Customers restricts lines to a customer set when non-nil.
	Customers map[string]struct{}

	// IncludeReturns keeps cancellation and negative-quantity lines.
	IncludeReturns bool

	// RequireCustomer drops lines without a customer.
	RequireCustomer bool
}

// Match reports whether l passes the filter.
func (f Filter) Match(l domain.TransactionLine) bool {
	if l.IsReturn() {
		if !f.IncludeReturns {
			return false
		}
	} else if !l.IsValid() {
		return false
	}
	if f.RequireCustomer && !l.HasCustomer() {
		return false
	}
	if f.Country != "" && !strings.EqualFold(l.Country, f.Country) {
		return false
	}
	if f.Customers != nil {
		if _, ok := f.Customers[l.CustomerID]; !ok {
			return false
		}
	}
	return f.Window.Contains(l.InvoiceTime)
}
