package main

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func line(invoice, customer, stock string, qty int, day int) domain.TransactionLine {
	return domain.TransactionLine{
		InvoiceID:   invoice,
		CustomerID:  customer,
		StockCode:   stock,
		Quantity:    qty,
		UnitPrice:   2.5,
		InvoiceTime: time.Date(2011, 1, day, 10, 0, 0, 0, time.UTC),
	}
}

func TestLabelOrders(t *testing.T) {
	lines := []domain.TransactionLine{
		line("1001", "c1", "A", 2, 1),
		line("1001", "c1", "B", 1, 1),
		line("C1002", "c1", "A", -1, 5),
		line("1003", "c2", "A", 1, 2),
		line("1004", "c1", "A", 3, 9),
		line("1005", "", "A", 1, 3),
	}

	orders := labelOrders(lines, 0)
	if len(orders) != 4 {
		t.Fatalf("expected 4 sale lines, got %d", len(orders))
	}

	want := []bool{true, false, false, false}
	for i, o := range orders {
		if o.Returned != want[i] {
			t.Errorf("order %d (%s/%s): expected returned=%v", i, o.InvoiceID, o.StockCode, want[i])
		}
	}

	if got := labelOrders(lines, 2); len(got) != 2 {
		t.Errorf("expected limit to cap orders at 2, got %d", len(got))
	}
}

func TestMetrics(t *testing.T) {
	m := &Metrics{}
	m.record(true, true)
	m.record(true, false)
	m.record(false, true)
	m.record(false, false)
	m.record(false, false)

	if m.TotalReturned != 2 || m.TotalKept != 3 {
		t.Errorf("unexpected totals %d/%d", m.TotalReturned, m.TotalKept)
	}
	if m.Precision() != 0.5 || m.Recall() != 0.5 {
		t.Errorf("expected precision and recall 0.5, got %.2f %.2f", m.Precision(), m.Recall())
	}
	if math.Abs(m.F1()-0.5) > 1e-9 {
		t.Errorf("expected F1 0.5, got %.4f", m.F1())
	}
	if m.Accuracy() != 0.6 {
		t.Errorf("expected accuracy 0.6, got %.2f", m.Accuracy())
	}

	empty := &Metrics{}
	if empty.Precision() != 0 || empty.F1() != 0 {
		t.Error("expected zero metrics without predictions")
	}
}

func TestRunBenchmark(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/risk/score" || r.Header.Get("X-Dataset-ID") != "bench" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req ScoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		score := 10.0
		if req.StockCode == "A" {
			score = 80
		}
		if req.StockCode == "X" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(ScoreResponse{Score: score, Level: "Low"})
	}))
	defer srv.Close()

	orders := []Order{
		{InvoiceID: "1", StockCode: "A", Quantity: 1, Returned: true},
		{InvoiceID: "2", StockCode: "A", Quantity: 1, Returned: false},
		{InvoiceID: "3", StockCode: "B", Quantity: 1, Returned: true},
		{InvoiceID: "4", StockCode: "B", Quantity: 1, Returned: false},
		{InvoiceID: "5", StockCode: "X", Quantity: 1, Returned: false},
	}

	m := runBenchmark(orders, srv.URL, "bench", 2, 50, true)
	if m.TotalProcessed != 5 || m.TotalErrors != 1 {
		t.Fatalf("expected 5 processed with 1 error, got %d/%d", m.TotalProcessed, m.TotalErrors)
	}
	if m.TruePositives != 1 || m.FalsePositives != 1 || m.FalseNegatives != 1 || m.TrueNegatives != 1 {
		t.Errorf("unexpected confusion matrix %+v", m)
	}
}
