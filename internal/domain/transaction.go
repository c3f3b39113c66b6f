package domain

import (
	"strings"
	"time"
)

// DateLayout is the calendar date format used at every boundary.
const DateLayout = "2006-01-02"

// TransactionLine is one product line of an invoice in the ledger.
// Lines are immutable once loaded.
type TransactionLine struct {
	InvoiceID   string    `json:"invoiceId"`
	StockCode   string    `json:"stockCode"`
	Description string    `json:"description"`
	Quantity    int       `json:"quantity"`
	UnitPrice   float64   `json:"unitPrice"`
	InvoiceTime time.Time `json:"invoiceTime"`

	// CustomerID is empty when the line has no customer attached.
	CustomerID string `json:"customerId,omitempty"`
	Country    string `json:"country"`
}

// Revenue returns quantity × unit price.
func (l TransactionLine) Revenue() float64 {
	return float64(l.Quantity) * l.UnitPrice
}

// IsReturn reports whether the line belongs to a cancellation invoice
// or carries a negative quantity.
func (l TransactionLine) IsReturn() bool {
	return strings.HasPrefix(l.InvoiceID, "C") || l.Quantity < 0
}

// IsValid reports whether the line has a positive quantity and price.
func (l TransactionLine) IsValid() bool {
	return l.Quantity > 0 && l.UnitPrice > 0
}

// HasCustomer reports whether a customer is attached to the line.
func (l TransactionLine) HasCustomer() bool {
	return l.CustomerID != ""
}

// Window is an inclusive calendar date range. Zero bounds are open.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow parses YYYY-MM-DD bounds. Empty strings leave the bound open.
func NewWindow(start, end string) (Window, error) {
	var w Window
	if start != "" {
		t, err := time.Parse(DateLayout, start)
		if err != nil {
			return w, err
		}
		w.Start = t
	}
	if end != "" {
		t, err := time.Parse(DateLayout, end)
		if err != nil {
			return w, err
		}
		w.End = t
	}
	return w, nil
}

// Contains reports whether t falls inside the window. The end date is
// extended to 23:59:59 of that day.
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.EndOfDay()) {
		return false
	}
	return true
}

// EndOfDay returns the last second covered by the window's end date.
func (w Window) EndOfDay() time.Time {
	y, m, d := w.End.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, w.End.Location())
}
