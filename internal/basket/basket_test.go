package basket

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var base = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func invoice(id string, offset int, items ...string) []domain.TransactionLine {
	lines := make([]domain.TransactionLine, len(items))
	for i, code := range items {
		lines[i] = domain.TransactionLine{
			InvoiceID:   id,
			StockCode:   code,
			Quantity:    1,
			UnitPrice:   1.5,
			InvoiceTime: base.Add(time.Duration(offset) * time.Hour),
			CustomerID:  "17850",
		}
	}
	return lines
}

func concat(parts ...[]domain.TransactionLine) []domain.TransactionLine {
	var out []domain.TransactionLine
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestBuild(t *testing.T) {
	lines := concat(
		invoice("I1", 0, "A", "B"),
		invoice("I2", 1, "A", "C"),
		invoice("I3", 2, "A", "B", "C"),
	)

	m, err := Build(lines, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if m.Rows() != 3 || m.Cols() != 3 {
		t.Fatalf("expected 3×3 matrix, got %d×%d", m.Rows(), m.Cols())
	}

	want := map[string][]bool{
		"I1": {true, true, false},
		"I2": {true, false, true},
		"I3": {true, true, true},
	}
	for i, inv := range m.Invoices() {
		for j := 0; j < m.Cols(); j++ {
			if got := m.Contains(i, j); got != want[inv][j] {
				t.Errorf("%s × %s: got %v, want %v", inv, m.Item(j), got, want[inv][j])
			}
		}
	}
	if m.Sampled {
		t.Error("expected no sampling")
	}
	if m.Lines != 7 {
		t.Errorf("expected 7 lines, got %d", m.Lines)
	}
}

func TestBuildIgnoresReturnsAndSumsQuantities(t *testing.T) {
	lines := concat(
		invoice("I1", 0, "A", "B"),
		invoice("I2", 1, "A", "C"),
		[]domain.TransactionLine{
			{InvoiceID: "C9", StockCode: "B", Quantity: -1, UnitPrice: 1, InvoiceTime: base},
			{InvoiceID: "I2", StockCode: "A", Quantity: 2, UnitPrice: 1, InvoiceTime: base},
		},
	)
	m, err := Build(lines, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, inv := range m.Invoices() {
		if inv == "C9" {
			t.Error("cancellation invoice must not become a basket")
		}
	}
	if m.Column(0).Count() != 2 {
		t.Errorf("expected A present in 2 invoices, got %d", m.Column(0).Count())
	}
}

func TestBuildVocabulary(t *testing.T) {
	var parts [][]domain.TransactionLine
	for i := 0; i < 10; i++ {
		parts = append(parts, invoice(fmt.Sprintf("I%02d", i), i, "A", "B"))
	}
	parts = append(parts, invoice("I10", 10, "A", "RARE"))
	lines := concat(parts...)

	t.Run("TopN", func(t *testing.T) {
		m, err := Build(lines, Options{VocabularySize: 2})
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if got := m.Items(); len(got) != 2 || got[0] != "A" || got[1] != "B" {
			t.Errorf("expected [A B], got %v", got)
		}
	})

	t.Run("ForcedItem", func(t *testing.T) {
		m, err := Build(lines, Options{VocabularySize: 2, Force: []string{"RARE", "MISSING"}})
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if got := m.Items(); len(got) != 3 || got[2] != "RARE" {
			t.Errorf("expected RARE forced into vocabulary, got %v", got)
		}
	})

	t.Run("MostRecentInvoices", func(t *testing.T) {
		m, err := Build(lines, Options{MaxInvoices: 3})
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if !m.Sampled {
			t.Error("expected Sampled to be set")
		}
		got := m.Invoices()
		want := []string{"I08", "I09", "I10"}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("row %d: got %s, want %s", i, got[i], want[i])
			}
		}
		if m.SourceInvoices != 11 {
			t.Errorf("expected 11 source invoices, got %d", m.SourceInvoices)
		}
	})
}

func TestBuildErrors(t *testing.T) {
	t.Run("SingleInvoice", func(t *testing.T) {
		_, err := Build(invoice("I1", 0, "A", "B"), Options{})
		if !errors.Is(err, domain.ErrEmptyBasket) {
			t.Errorf("expected ErrEmptyBasket, got %v", err)
		}
	})

	t.Run("SingleItem", func(t *testing.T) {
		_, err := Build(concat(invoice("I1", 0, "A"), invoice("I2", 1, "A")), Options{})
		if !errors.Is(err, domain.ErrEmptyBasket) {
			t.Errorf("expected ErrEmptyBasket, got %v", err)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if _, err := Build(nil, Options{}); !errors.Is(err, domain.ErrEmptyBasket) {
			t.Errorf("expected ErrEmptyBasket, got %v", err)
		}
	})

	t.Run("Capacity", func(t *testing.T) {
		lines := concat(invoice("I1", 0, "A", "B"), invoice("I2", 1, "A", "C"))
		_, err := Build(lines, Options{MaxCells: 5})
		if !errors.Is(err, domain.ErrCapacityExceeded) {
			t.Errorf("expected ErrCapacityExceeded, got %v", err)
		}
	})
}

func TestBitset(t *testing.T) {
	a := NewBitset(130)
	b := NewBitset(130)
	for _, i := range []int{0, 5, 64, 129} {
		a.Set(i)
	}
	for _, i := range []int{5, 64, 100} {
		b.Set(i)
	}
	if a.Count() != 4 {
		t.Errorf("expected 4, got %d", a.Count())
	}
	if got := a.AndCount(b); got != 2 {
		t.Errorf("expected intersection 2, got %d", got)
	}
	dst := NewBitset(130)
	if n := a.AndInto(dst, b); n != 2 || !dst.Has(64) || dst.Has(0) {
		t.Errorf("unexpected AndInto result %d", n)
	}
}
