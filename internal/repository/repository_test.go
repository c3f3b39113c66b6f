package repository

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newSQLite(t *testing.T) domain.Repository {
	t.Helper()

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-test.db"),
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testLines() []domain.TransactionLine {
	ts := time.Date(2011, 12, 9, 12, 50, 0, 0, time.UTC)
	return []domain.TransactionLine{
		{InvoiceID: "581587", StockCode: "22613", Description: "PACK OF 20 SPACEBOY NAPKINS", Quantity: 12, UnitPrice: 0.85, InvoiceTime: ts, CustomerID: "12680", Country: "France"},
		{InvoiceID: "581587", StockCode: "22899", Description: "CHILDREN'S APRON DOLLY GIRL", Quantity: 6, UnitPrice: 2.1, InvoiceTime: ts, CustomerID: "12680", Country: "France"},
		{InvoiceID: "C581569", StockCode: "20979", Description: "36 PENCILS TUBE RED RETROSPOT", Quantity: -5, UnitPrice: 1.25, InvoiceTime: ts.Add(-time.Hour), CustomerID: "17315", Country: "United Kingdom"},
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newSQLite(t)
	ctx := context.Background()
	dataset := "retail-uk"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndListLines", func(t *testing.T) {
		n, err := repo.SaveLines(ctx, dataset, testLines())
		if err != nil {
			t.Fatalf("SaveLines failed: %v", err)
		}
		if n != 3 {
			t.Errorf("expected 3 lines saved, got %d", n)
		}

		lines, err := repo.ListLines(ctx, dataset)
		if err != nil {
			t.Fatalf("ListLines failed: %v", err)
		}
		if len(lines) != 3 {
			t.Fatalf("expected 3 lines, got %d", len(lines))
		}

		want := testLines()
		for i := range want {
			if lines[i].InvoiceID != want[i].InvoiceID || lines[i].Quantity != want[i].Quantity {
				t.Errorf("line %d: got %+v, want %+v", i, lines[i], want[i])
			}
			if !lines[i].InvoiceTime.Equal(want[i].InvoiceTime) {
				t.Errorf("line %d: time %v, want %v", i, lines[i].InvoiceTime, want[i].InvoiceTime)
			}
		}
	})

	t.Run("AppendKeepsOrder", func(t *testing.T) {
		extra := testLines()[:1]
		extra[0].InvoiceID = "581588"
		if _, err := repo.SaveLines(ctx, dataset, extra); err != nil {
			t.Fatalf("SaveLines failed: %v", err)
		}

		n, err := repo.CountLines(ctx, dataset)
		if err != nil {
			t.Fatalf("CountLines failed: %v", err)
		}
		if n != 4 {
			t.Errorf("expected 4 lines, got %d", n)
		}

		lines, _ := repo.ListLines(ctx, dataset)
		if lines[3].InvoiceID != "581588" {
			t.Errorf("expected appended line last, got %s", lines[3].InvoiceID)
		}
	})

	t.Run("DatasetIsolation", func(t *testing.T) {
		lines, err := repo.ListLines(ctx, "retail-de")
		if err != nil {
			t.Fatalf("ListLines failed: %v", err)
		}
		if len(lines) != 0 {
			t.Errorf("expected no lines for other dataset, got %d", len(lines))
		}
	})

	t.Run("DeleteLines", func(t *testing.T) {
		if err := repo.DeleteLines(ctx, dataset); err != nil {
			t.Fatalf("DeleteLines failed: %v", err)
		}
		if n, _ := repo.CountLines(ctx, dataset); n != 0 {
			t.Errorf("expected 0 lines after delete, got %d", n)
		}
	})

	t.Run("RequiresDataset", func(t *testing.T) {
		if _, err := repo.SaveLines(ctx, "", testLines()); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.ListLines(ctx, ""); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestAnalysisRuns(t *testing.T) {
	repo := newSQLite(t)
	ctx := context.Background()
	dataset := "retail-uk"

	run := &domain.AnalysisRun{
		ID:      "run-001",
		Dataset: dataset,
		Kind:    domain.AnalysisRFM,
		Status:  domain.RunPending,
		Params:  json.RawMessage(`{"start":"2011-01-01"}`),
	}

	t.Run("SaveAndGet", func(t *testing.T) {
		if err := repo.SaveAnalysisRun(ctx, run); err != nil {
			t.Fatalf("SaveAnalysisRun failed: %v", err)
		}

		got, err := repo.GetAnalysisRun(ctx, dataset, run.ID)
		if err != nil {
			t.Fatalf("GetAnalysisRun failed: %v", err)
		}
		if got.Status != domain.RunPending || got.Kind != domain.AnalysisRFM {
			t.Errorf("unexpected run: %+v", got)
		}
		if string(got.Params) != string(run.Params) {
			t.Errorf("expected params %s, got %s", run.Params, got.Params)
		}
		if got.Result != nil {
			t.Errorf("expected no result yet, got %s", got.Result)
		}
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		created := run.CreatedAt
		run.Status = domain.RunSucceeded
		run.Result = json.RawMessage(`{"customers":5}`)
		run.DurationMs = 42
		if err := repo.SaveAnalysisRun(ctx, run); err != nil {
			t.Fatalf("SaveAnalysisRun failed: %v", err)
		}

		got, err := repo.GetAnalysisRun(ctx, dataset, run.ID)
		if err != nil {
			t.Fatalf("GetAnalysisRun failed: %v", err)
		}
		if got.Status != domain.RunSucceeded || got.DurationMs != 42 {
			t.Errorf("expected updated run, got %+v", got)
		}
		if string(got.Result) != `{"customers":5}` {
			t.Errorf("unexpected result %s", got.Result)
		}
		if !got.CreatedAt.Equal(created) {
			t.Errorf("created_at changed from %v to %v", created, got.CreatedAt)
		}
	})

	t.Run("List", func(t *testing.T) {
		other := &domain.AnalysisRun{ID: "run-002", Dataset: dataset, Kind: domain.AnalysisPolicy, Status: domain.RunFailed, Error: "empty order sample"}
		if err := repo.SaveAnalysisRun(ctx, other); err != nil {
			t.Fatalf("SaveAnalysisRun failed: %v", err)
		}

		all, err := repo.ListAnalysisRuns(ctx, dataset, "", 10)
		if err != nil {
			t.Fatalf("ListAnalysisRuns failed: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("expected 2 runs, got %d", len(all))
		}

		policy, _ := repo.ListAnalysisRuns(ctx, dataset, domain.AnalysisPolicy, 10)
		if len(policy) != 1 || policy[0].Error != "empty order sample" {
			t.Errorf("unexpected policy runs: %+v", policy)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetAnalysisRun(ctx, dataset, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetAnalysisRun(ctx, "retail-de", run.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other dataset, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "oracle",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestMySQLRequiresDSN(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSchemas(t *testing.T) {
	for _, driver := range []string{"sqlite", "postgres", "mysql"} {
		if len(Schemas(driver)) == 0 {
			t.Errorf("no schema for %s", driver)
		}
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	mysqlRepo := &SQLRepository{driver: "mysql"}
	if got := mysqlRepo.rebind(tests[0].input); got != tests[0].input {
		t.Errorf("mysql rebind changed query: %q", got)
	}
}

func TestSQLiteInMemory(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{
		Driver:       "sqlite",
		SQLitePath:   ":memory:",
		MaxOpenConns: 8,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if _, err := repo.SaveLines(ctx, "memory", testLines()); err != nil {
		t.Fatalf("SaveLines failed: %v", err)
	}

	// A second connection would see an empty database.
	for i := 0; i < 3; i++ {
		n, err := repo.CountLines(ctx, "memory")
		if err != nil {
			t.Fatalf("CountLines failed: %v", err)
		}
		if n != 3 {
			t.Fatalf("expected 3 lines, got %d", n)
		}
	}
}

func TestDSN(t *testing.T) {
	t.Run("SQLite", func(t *testing.T) {
		if got := sqliteDSN(":memory:"); strings.Contains(got, "journal_mode") {
			t.Errorf("in-memory dsn should not set WAL: %s", got)
		}
		if got := sqliteDSN("/data/kestrel.db"); !strings.Contains(got, "journal_mode(WAL)") {
			t.Errorf("file dsn should use WAL: %s", got)
		}
	})

	t.Run("PostgresDefaults", func(t *testing.T) {
		got := postgresDSN(domain.RepositoryConfig{})
		want := "host='localhost' port=5432 dbname='kestrel' sslmode='disable' application_name=kestrel"
		if got != want {
			t.Errorf("postgresDSN = %q, want %q", got, want)
		}
	})

	t.Run("PostgresQuoting", func(t *testing.T) {
		got := postgresDSN(domain.RepositoryConfig{
			PostgresHost:     "db.internal",
			PostgresUser:     "analyst",
			PostgresPassword: `it's a \secret`,
			PostgresSSLMode:  "require",
		})
		if !strings.Contains(got, `password='it\'s a \\secret'`) {
			t.Errorf("password not quoted: %s", got)
		}
		if !strings.Contains(got, "user='analyst'") || !strings.Contains(got, "sslmode='require'") {
			t.Errorf("unexpected dsn: %s", got)
		}
	})
}
