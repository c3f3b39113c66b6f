package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// UnknownDescription replaces empty product descriptions.
const UnknownDescription = "Unknown Product"

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"1/2/2006 15:04",
	"01/02/2006 15:04",
	"1/2/2006 15:04:05",
	domain.DateLayout,
}

// column aliases accepted in the CSV header, lower-cased.
var columnAliases = map[string][]string{
	"invoice":     {"invoiceno", "invoice_no", "invoice_id", "invoice"},
	"stock":       {"stockcode", "stock_code"},
	"description": {"description"},
	"quantity":    {"quantity"},
	"time":        {"invoicedate", "invoice_date", "invoice_time"},
	"price":       {"unitprice", "unit_price", "price"},
	"customer":    {"customerid", "customer_id", "customer"},
	"country":     {"country"},
}

var requiredColumns = []string{"invoice", "stock", "quantity", "time", "price"}

// CleanReport counts what the cleaning step kept and dropped.
type CleanReport struct {
	Read       int `json:"read"`
	Kept       int `json:"kept"`
	Malformed  int `json:"malformed"`
	BadPrice   int `json:"badPrice"`
	ZeroQty    int `json:"zeroQuantity"`
	Duplicates int `json:"duplicates"`
}

// CSVLoader reads <dir>/<dataset>.csv files.
type CSVLoader struct {
	dir string
}

// NewCSVLoader creates a loader over a directory of CSV files.
func NewCSVLoader(dir string) *CSVLoader {
	return &CSVLoader{dir: dir}
}

// Name implements Loader.
func (c *CSVLoader) Name() string { return "csv" }

// Load implements Loader.
func (c *CSVLoader) Load(ctx context.Context, dataset string) ([]domain.TransactionLine, error) {
	if dataset == "" || strings.ContainsAny(dataset, `/\`) || strings.Contains(dataset, "..") {
		return nil, fmt.Errorf("invalid dataset name %q", dataset)
	}

	path := filepath.Join(c.dir, dataset+".csv")
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrDatasetNotFound
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	lines, report, err := ReadCSV(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	slog.Info("csv ledger cleaned",
		"dataset", dataset,
		"read", report.Read,
		"kept", report.Kept,
		"malformed", report.Malformed,
		"bad_price", report.BadPrice,
		"zero_quantity", report.ZeroQty,
		"duplicates", report.Duplicates,
	)
	if len(lines) == 0 {
		return nil, ErrDatasetNotFound
	}
	return lines, nil
}

// ReadCSV parses and cleans transaction lines. Strings are trimmed, lines
// with a non-positive price or zero quantity are dropped, exact duplicates
// are dropped and missing descriptions get a placeholder. Cancellations and
// negative quantities are kept as returns.
func ReadCSV(ctx context.Context, r io.Reader) ([]domain.TransactionLine, CleanReport, error) {
	var report CleanReport

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, report, fmt.Errorf("failed to read header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, report, err
	}

	seen := make(map[domain.TransactionLine]struct{})
	var lines []domain.TransactionLine
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, report, err
		}
		report.Read++
		if report.Read%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, report, err
			}
		}

		line, ok := parseRecord(record, cols)
		if !ok {
			report.Malformed++
			continue
		}
		if line.UnitPrice <= 0 {
			report.BadPrice++
			continue
		}
		if line.Quantity == 0 {
			report.ZeroQty++
			continue
		}
		if _, dup := seen[line]; dup {
			report.Duplicates++
			continue
		}
		seen[line] = struct{}{}
		lines = append(lines, line)
	}
	report.Kept = len(lines)
	return lines, report, nil
}

func mapColumns(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}

	cols := make(map[string]int, len(columnAliases))
	for field, aliases := range columnAliases {
		for _, a := range aliases {
			if i, ok := index[a]; ok {
				cols[field] = i
				break
			}
		}
	}
	for _, field := range requiredColumns {
		if _, ok := cols[field]; !ok {
			return nil, fmt.Errorf("missing required column %q", field)
		}
	}
	return cols, nil
}

func parseRecord(record []string, cols map[string]int) (domain.TransactionLine, bool) {
	get := func(field string) string {
		i, ok := cols[field]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	line := domain.TransactionLine{
		InvoiceID:   get("invoice"),
		StockCode:   strings.ToUpper(get("stock")),
		Description: get("description"),
		CustomerID:  normalizeCustomerID(get("customer")),
		Country:     get("country"),
	}
	if line.InvoiceID == "" || line.StockCode == "" {
		return line, false
	}
	if line.Description == "" {
		line.Description = UnknownDescription
	}

	qty, err := strconv.ParseFloat(get("quantity"), 64)
	if err != nil {
		return line, false
	}
	line.Quantity = int(qty)

	price, err := strconv.ParseFloat(get("price"), 64)
	if err != nil {
		return line, false
	}
	line.UnitPrice = price

	ts, ok := parseTime(get("time"))
	if !ok {
		return line, false
	}
	line.InvoiceTime = ts
	return line, true
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// normalizeCustomerID turns float-formatted ids such as "17850.0" into "17850".
func normalizeCustomerID(s string) string {
	if s == "" || strings.EqualFold(s, "nan") {
		return ""
	}
	if whole, frac, ok := strings.Cut(s, "."); ok && strings.Trim(frac, "0") == "" {
		return whole
	}
	return s
}
