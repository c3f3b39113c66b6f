// Package rfm computes recency, frequency and monetary scores per customer.
package rfm

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Quintiles is the number of score buckets.
const Quintiles = 5

// Options tunes Compute.
type Options struct {
	// MinCustomers is the fewest customers that can be scored. Defaults to 5.
	MinCustomers int
}

type aggregate struct {
	last     time.Time
	invoices map[string]struct{}
	monetary float64
}

// Compute scores every customer with a valid purchase inside the window.
// Returns, cancellations, non-positive lines and lines without a customer
// are ignored. Rows are ordered by customer id.
func Compute(lines []domain.TransactionLine, window domain.Window, opts Options) ([]domain.CustomerRFM, error) {
	if opts.MinCustomers <= 0 {
		opts.MinCustomers = 5
	}

	var (
		byCustomer = make(map[string]*aggregate)
		maxTime    time.Time
	)
	for _, l := range lines {
		if l.IsReturn() || !l.IsValid() || !l.HasCustomer() || !window.Contains(l.InvoiceTime) {
			continue
		}
		a, ok := byCustomer[l.CustomerID]
		if !ok {
			a = &aggregate{invoices: make(map[string]struct{})}
			byCustomer[l.CustomerID] = a
		}
		if l.InvoiceTime.After(a.last) {
			a.last = l.InvoiceTime
		}
		a.invoices[l.InvoiceID] = struct{}{}
		a.monetary += l.Revenue()
		if l.InvoiceTime.After(maxTime) {
			maxTime = l.InvoiceTime
		}
	}

	if len(byCustomer) < opts.MinCustomers {
		return nil, fmt.Errorf("%w: %d customers in window, need at least %d",
			domain.ErrInsufficientData, len(byCustomer), opts.MinCustomers)
	}

	reference := maxTime.Add(24 * time.Hour)

	ids := make([]string, 0, len(byCustomer))
	for id := range byCustomer {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]domain.CustomerRFM, len(ids))
	recency := make([]float64, len(ids))
	frequency := make([]float64, len(ids))
	monetary := make([]float64, len(ids))
	for i, id := range ids {
		a := byCustomer[id]
		rows[i] = domain.CustomerRFM{
			CustomerID:  id,
			RecencyDays: int(reference.Sub(a.last) / (24 * time.Hour)),
			Frequency:   len(a.invoices),
			Monetary:    a.monetary,
		}
		recency[i] = float64(rows[i].RecencyDays)
		frequency[i] = float64(rows[i].Frequency)
		monetary[i] = a.monetary
	}

	rBins, rk := stats.EqualFrequencyBins(recency, Quintiles)
	fBins, _ := stats.EqualFrequencyBins(frequency, Quintiles)
	mBins, _ := stats.EqualFrequencyBins(monetary, Quintiles)
	for i := range rows {
		// Lower recency scores higher.
		rows[i].RScore = rk + 1 - rBins[i]
		rows[i].FScore = fBins[i]
		rows[i].MScore = mBins[i]
	}
	return rows, nil
}

// Summary holds batch averages of an RFM run.
type Summary struct {
	Customers    int     `json:"customers"`
	AvgRecency   float64 `json:"avgRecency"`
	AvgFrequency float64 `json:"avgFrequency"`
	AvgMonetary  float64 `json:"avgMonetary"`
}

// Summarize averages the raw values of rows.
func Summarize(rows []domain.CustomerRFM) Summary {
	s := Summary{Customers: len(rows)}
	if len(rows) == 0 {
		return s
	}
	for _, r := range rows {
		s.AvgRecency += float64(r.RecencyDays)
		s.AvgFrequency += float64(r.Frequency)
		s.AvgMonetary += r.Monetary
	}
	n := float64(len(rows))
	s.AvgRecency /= n
	s.AvgFrequency /= n
	s.AvgMonetary /= n
	return s
}
