// Kestrel - Retail analytics over transaction ledgers.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command kestrel-bench replays a labeled ledger against a running Kestrel
// server and measures how well the return risk score separates orders that
// were later returned.
//
// Usage:
//
//	kestrel-bench -csv /path/to/online_retail.csv -url http://localhost:8080
//
// The tool:
//  1. Reads the ledger and labels every sale line that the same customer
//     later returned
//  2. Sends each sale line to POST /risk/score
//  3. Flags lines whose risk score reaches the threshold
//  4. Reports precision, recall, F1-score and the confusion matrix
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ledger"
)

// Order is one sale line with its return label.
type Order struct {
	InvoiceID  string
	CustomerID string
	StockCode  string
	Quantity   int
	UnitPrice  float64
	Returned   bool
}

// ScoreRequest is the POST /risk/score body.
type ScoreRequest struct {
	CustomerID string  `json:"customerId"`
	StockCode  string  `json:"stockCode"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unitPrice"`
}

// ScoreResponse holds the fields of the risk score the bench reads.
type ScoreResponse struct {
	Score float64 `json:"riskScore"`
	Level string  `json:"riskLevel"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Returned and flagged
	FalsePositives int64 // Kept and flagged
	TrueNegatives  int64 // Kept and not flagged
	FalseNegatives int64 // Returned and missed

	TotalProcessed int64
	TotalReturned  int64
	TotalKept      int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to the transactions CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	dataset := flag.String("dataset", "default", "Dataset sent in X-Dataset-ID")
	limit := flag.Int("limit", 10000, "Maximum sale lines to score (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	threshold := flag.Float64("threshold", 50, "Risk score at or above which a line is flagged")
	verbose := flag.Bool("verbose", false, "Print each scored line")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: kestrel-bench -csv /path/to/transactions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║           KESTREL BENCHMARK - Return Risk Scoring             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Dataset:     %s\n", *dataset)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Threshold:   %.2f\n", *threshold)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading ledger from %s...\n", *csvPath)
	orders, err := readOrders(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(orders) == 0 {
		fmt.Println("ERROR: no sale lines with a customer in the ledger")
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d sale lines\n", len(orders))

	returned := 0
	for _, o := range orders {
		if o.Returned {
			returned++
		}
	}
	fmt.Printf("  - Returned: %d (%.2f%%)\n", returned, 100*float64(returned)/float64(len(orders)))
	fmt.Printf("  - Kept:     %d (%.2f%%)\n", len(orders)-returned, 100*float64(len(orders)-returned)/float64(len(orders)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(orders, *baseURL, *dataset, *workers, *threshold, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readOrders(path string, limit int) ([]Order, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	lines, _, err := ledger.ReadCSV(context.Background(), file)
	if err != nil {
		return nil, err
	}
	return labelOrders(lines, limit), nil
}

type returnKey struct {
	customer string
	stock    string
}

// labelOrders turns sale lines with a customer into orders. A sale is
// labeled returned when the same customer returned the same product at or
// after the sale time.
func labelOrders(lines []domain.TransactionLine, limit int) []Order {
	lastReturn := make(map[returnKey]time.Time)
	for _, l := range lines {
		if !l.IsReturn() || !l.HasCustomer() {
			continue
		}
		k := returnKey{l.CustomerID, l.StockCode}
		if l.InvoiceTime.After(lastReturn[k]) {
			lastReturn[k] = l.InvoiceTime
		}
	}

	var orders []Order
	for _, l := range lines {
		if l.IsReturn() || !l.IsValid() || !l.HasCustomer() {
			continue
		}
		ret, ok := lastReturn[returnKey{l.CustomerID, l.StockCode}]
		orders = append(orders, Order{
			InvoiceID:  l.InvoiceID,
			CustomerID: l.CustomerID,
			StockCode:  l.StockCode,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
			Returned:   ok && !ret.Before(l.InvoiceTime),
		})
		if limit > 0 && len(orders) >= limit {
			break
		}
	}
	return orders
}

func runBenchmark(orders []Order, baseURL, dataset string, numWorkers int, threshold float64, verbose bool) *Metrics {
	metrics := &Metrics{}

	var bar *progressbar.ProgressBar
	if !verbose {
		bar = progressbar.Default(int64(len(orders)), "scoring")
	}

	work := make(chan Order, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for o := range work {
				start := time.Now()
				result, err := scoreOrder(client, baseURL, dataset, o)
				elapsed := time.Since(start).Milliseconds()
				if bar != nil {
					bar.Add(1)
				}

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s/%s -> %v\n", o.InvoiceID, o.StockCode, err)
					}
					continue
				}

				predicted := result.Score >= threshold
				metrics.record(predicted, o.Returned)

				if verbose {
					status := "✓"
					if predicted != o.Returned {
						status = "✗"
					}
					fmt.Printf("%s %-8s | %-8s | Qty: %5d | Price: %8.2f | Returned: %-5v | Risk: %6.2f (%s)\n",
						status,
						o.InvoiceID,
						o.StockCode,
						o.Quantity,
						o.UnitPrice,
						o.Returned,
						result.Score,
						result.Level,
					)
				}
			}
		}()
	}

	for _, o := range orders {
		work <- o
	}
	close(work)

	wg.Wait()
	if bar != nil {
		bar.Finish()
	}

	return metrics
}

func scoreOrder(client *http.Client, baseURL, dataset string, o Order) (*ScoreResponse, error) {
	body, err := json.Marshal(ScoreRequest{
		CustomerID: o.CustomerID,
		StockCode:  o.StockCode,
		Quantity:   o.Quantity,
		UnitPrice:  o.UnitPrice,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/risk/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Dataset-ID", dataset)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (m *Metrics) record(predicted, actual bool) {
	if actual {
		atomic.AddInt64(&m.TotalReturned, 1)
	} else {
		atomic.AddInt64(&m.TotalKept, 1)
	}

	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

// Precision is the share of flagged lines that were returned.
func (m *Metrics) Precision() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
}

// Recall is the share of returned lines that were flagged.
func (m *Metrics) Recall() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (m *Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of correct predictions.
func (m *Metrics) Accuracy() float64 {
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	return ratio(m.TruePositives+m.TrueNegatives, total)
}

func ratio(a, b int64) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Returned:   %d\n", m.TotalReturned)
	fmt.Printf("   Total Kept:       %d\n", m.TotalKept)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    FLAG        PASS")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  R  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           K  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision, recall := m.Precision(), m.Recall()

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flags, how many were returned)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of returns, how many were flagged)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", m.F1())
	fmt.Printf("   Accuracy:   %.4f\n", m.Accuracy())

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f req/sec\n", tps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	switch {
	case recall >= 0.7:
		fmt.Println("   ✅ Good recall - most returns are flagged")
	case recall >= 0.4:
		fmt.Println("   ⚠️  Moderate recall - many returns slip through")
	default:
		fmt.Println("   ❌ Poor recall - consider a lower threshold")
	}
	if precision >= 0.3 {
		fmt.Println("   ✅ Useful precision - flags are meaningful")
	} else {
		fmt.Println("   ⚠️  Low precision - blocking would cost many good orders")
	}

	fmt.Println()
}
