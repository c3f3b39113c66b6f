package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const ledgerCSV = `InvoiceNo,StockCode,Description,Quantity,InvoiceDate,UnitPrice,CustomerID,Country
1001,A,RED HEART,2,2011-01-10 10:00:00,5,c1,United Kingdom
1001,B,BLUE MUG,1,2011-01-10 10:00:00,10,c1,United Kingdom
1002,A,RED HEART,1,2011-02-10 10:00:00,5,c2,United Kingdom
1002,B,BLUE MUG,2,2011-02-10 10:00:00,10,c2,United Kingdom
1003,A,RED HEART,3,2011-04-10 10:00:00,5,c3,United Kingdom
1003,B,BLUE MUG,1,2011-04-10 10:00:00,10,c3,United Kingdom
1003,C,GREEN LANTERN,1,2011-04-10 10:00:00,20,c3,United Kingdom
1004,A,RED HEART,1,2011-11-10 10:00:00,5,c4,United Kingdom
1004,C,GREEN LANTERN,1,2011-11-10 10:00:00,20,c4,United Kingdom
1005,B,BLUE MUG,1,2011-11-20 10:00:00,10,c5,United Kingdom
1005,D,PAPER CHAIN,4,2011-11-20 10:00:00,2,c5,United Kingdom
1006,A,RED HEART,2,2011-12-01 10:00:00,5,c6,United Kingdom
1006,B,BLUE MUG,2,2011-12-01 10:00:00,10,c6,United Kingdom
C1007,A,RED HEART,-1,2011-12-02 10:00:00,5,c1,United Kingdom
1008,B,BLUE MUG,1,not-a-date,10,c2,United Kingdom
`

func TestRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	if err := os.WriteFile(path, []byte(ledgerCSV), 0o600); err != nil {
		t.Fatalf("failed to write ledger: %v", err)
	}

	report, err := run(context.Background(), options{
		csvPath:    path,
		minSupport: 0.3,
		topN:       20,
		seed:       42,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(report.Errors) != 0 {
		t.Fatalf("unexpected section errors: %v", report.Errors)
	}
	if report.Cleaning.Read != 15 || report.Cleaning.Kept != 14 {
		t.Errorf("expected 15 read and 14 kept, got %+v", report.Cleaning)
	}
	if report.RFM == nil || report.RFM.Customers != 6 {
		t.Errorf("expected 6 RFM customers, got %+v", report.RFM)
	}
	if len(report.Segments) == 0 {
		t.Error("expected segment summaries")
	}
	if report.Rules == nil || len(report.Rules.Rules) != 4 {
		t.Errorf("expected 4 rules, got %+v", report.Rules)
	}
	if report.Risk == nil || report.Risk.Samples != 13 {
		t.Errorf("expected 13 risk samples, got %+v", report.Risk)
	}
	if report.Policy == nil || report.Policy.Tau < 0 || report.Policy.Tau > 100 {
		t.Errorf("expected a threshold in [0,100], got %+v", report.Policy)
	}
}

func TestRunMissingFile(t *testing.T) {
	if _, err := run(context.Background(), options{csvPath: filepath.Join(t.TempDir(), "absent.csv")}); err == nil {
		t.Error("expected error for a missing ledger")
	}
}
